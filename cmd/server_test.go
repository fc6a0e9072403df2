package cmd_test

// This test boots a whole bridge server on a local port and pokes it
// over http, the same way an operator-facing client would.

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashbridge-io/bridge-go/cmd"
	"github.com/flashbridge-io/bridge-go/common"
	"github.com/flashbridge-io/bridge-go/reporter"
)

const (
	TEST_HTTP_IP   = "127.0.0.1"
	TEST_HTTP_PORT = "18099"
	RETRY_TIMES    = 10
)

func TestBridgeServerBootsAndServes(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	seed := common.RandBytes32()
	master, err := hdkeychain.NewMaster(seed[:], params)
	require.NoError(t, err)
	neutered, err := master.Neuter()
	require.NoError(t, err)

	bsc := &cmd.BridgeServerConfig{
		DbFilePath:        filepath.Join(t.TempDir(), "bridge.db"),
		BtcXpub:           neutered.String(),
		BtcChainConfig:    params,
		PoolID:            "btc-main",
		PoolBootstrapSats: 100_000_000,
		WorkerName:        "server-test",
		MpcKey:            common.RandBytes32(),
		HttpIp:            TEST_HTTP_IP,
		HttpPort:          TEST_HTTP_PORT,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	server, err := cmd.NewBridgeServer(bsc, ctx, &wg)
	require.NoError(t, err)
	require.NotNil(t, server.MyEngine)

	reader := reporter.NewHttpReader(TEST_HTTP_IP, TEST_HTTP_PORT)

	var hello string
	for i := 0; i < RETRY_TIMES; i++ {
		hello, err = reader.GetHello()
		if err == nil {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}
	require.NoError(t, err)
	assert.Contains(t, hello, "world")

	// Pool registered at boot and visible over http.
	status, err := reader.GetPoolStatus("btc-main")
	require.NoError(t, err)
	assert.Contains(t, status, "\"capacity_sats\":100000000")

	quote, err := reader.GetFeeQuote("1000", "standard", "")
	require.NoError(t, err)
	assert.Contains(t, quote, "\"total_fee_usd\":\"3\"")
}
