package main

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/flashbridge-io/bridge-go/cmd"
	"github.com/flashbridge-io/bridge-go/common"
	"github.com/flashbridge-io/bridge-go/logconfig"
	"github.com/spf13/viper"
)

const (
	ENV_CONFIG_FILE_PATH = "BRIDGE_CONFIG"
)

func main() {
	logconfig.ConfigInfoLogger()

	// Tool to read environment variables
	viper.AutomaticEnv()

	// Accessing an environment variable of configuration file location.
	_config_file := viper.GetString(ENV_CONFIG_FILE_PATH)
	fmt.Printf("Bridge server configuration file = %s\n", _config_file)

	// See if file exists
	if !cmd.FileExists(_config_file) {
		fmt.Printf("Bridge server configuration file not found: %s\n", _config_file)
		return
	}

	// Read from config file.
	success := initializeViper(_config_file)
	if !success {
		return
	}

	// Make the configuration
	bsc := PrepareBridgeServerConfig()
	if bsc == nil {
		fmt.Printf("Error loading bridge server configuration\n")
		return
	}

	fmt.Println("Starting bridge server... press Ctrl+C to kill the server")
	// Start server and block.
	cmd.StartBridgeServerAndWait(bsc)
}

func initializeViper(filePath string) bool {
	viper.SetConfigFile(filePath)
	if err := viper.ReadInConfig(); err != nil {
		fmt.Printf("Error reading configuration file, %s", err)
		return false
	}
	return true
}

// PrepareBridgeServerConfig reads configuration variables and returns a BridgeServerConfig.
func PrepareBridgeServerConfig() *cmd.BridgeServerConfig {

	// *** prepare objects that aren't string type ***

	// Parse the BTC chain config (e.g., "regtest", "testnet", or "mainnet").
	var btcParams *chaincfg.Params
	switch viper.GetString("BTC_CHAIN_CONFIG") {
	case "testnet":
		btcParams = &chaincfg.TestNet3Params
	case "mainnet":
		btcParams = &chaincfg.MainNetParams
	case "regtest":
		btcParams = &chaincfg.RegressionNetParams
	default:
		// default to regtest
		btcParams = &chaincfg.RegressionNetParams
	}

	rawKey := common.HexStrToByteSlice(viper.GetString("MPC_KEY"))
	if len(rawKey) != 32 {
		fmt.Printf("MPC_KEY must be 32 bytes of hex\n")
		return nil
	}
	var mpcKey [32]byte
	copy(mpcKey[:], rawKey)

	// *** end of preparing objects ***

	return &cmd.BridgeServerConfig{
		// state side
		DbFilePath: viper.GetString("DB_FILE_PATH"),
		// btc side
		BtcXpub:        viper.GetString("BTC_XPUB"),
		BtcChainConfig: btcParams,
		// reserve pool
		PoolID:            viper.GetString("POOL_ID"),
		PoolBootstrapSats: viper.GetInt64("POOL_BOOTSTRAP_SATS"),
		PoolMaxPayoutSats: viper.GetInt64("POOL_MAX_PAYOUT_SATS"),
		// coordination
		WorkerName:     viper.GetString("WORKER_NAME"),
		LockStaleAfter: parseDuration("LOCK_STALE_AFTER"),
		AllocationTTL:  parseDuration("ALLOCATION_TTL"),
		SweepInterval:  parseDuration("SWEEP_INTERVAL"),
		AuditInterval:  parseDuration("AUDIT_INTERVAL"),
		// mpc side
		MpcKey: mpcKey,
		// Http side
		HttpIp:   viper.GetString("HTTP_IP"),
		HttpPort: viper.GetString("HTTP_PORT"),
	}
}

// parseDuration reads a viper key like "5m" or "24h". Zero on absence;
// the server substitutes its defaults.
func parseDuration(key string) time.Duration {
	raw := viper.GetString(key)
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		fmt.Printf("ignoring bad duration for %s: %s\n", key, raw)
		return 0
	}
	return d
}
