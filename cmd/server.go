// Server = deposit allocator + reserve ledger + redemption engine + http reporter.
// All components are configured via environment variables (strings!).

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	logger "github.com/sirupsen/logrus"

	"github.com/flashbridge-io/bridge-go/agreement"
	"github.com/flashbridge-io/bridge-go/allocator"
	"github.com/flashbridge-io/bridge-go/btcderiver"
	"github.com/flashbridge-io/bridge-go/classification"
	"github.com/flashbridge-io/bridge-go/coordlock"
	"github.com/flashbridge-io/bridge-go/database"
	"github.com/flashbridge-io/bridge-go/fees"
	"github.com/flashbridge-io/bridge-go/funding"
	"github.com/flashbridge-io/bridge-go/redemption"
	"github.com/flashbridge-io/bridge-go/reporter"
	"github.com/flashbridge-io/bridge-go/reserve"
)

// Default params for server.
// More often we don't recommend users to tweak those.
// So we list them here.
const (
	defaultAllocationTTL = 24 * time.Hour
	defaultSweepInterval = 1 * time.Minute
	defaultLockStale     = 5 * time.Minute
	defaultAuditInterval = 5 * time.Minute
)

// Keep the configuration's fields as "text" as possible.
// Its easier to load it from env vars or a config file.
type BridgeServerConfig struct {
	// state side
	DbFilePath string // db file path

	// btc side
	BtcXpub        string           // public-only extended key the deposit addresses derive from
	BtcChainConfig *chaincfg.Params // regtest, testnet, mainnet?

	// reserve pool
	PoolID            string
	PoolBootstrapSats int64 // initial operator-funded backing
	PoolMaxPayoutSats int64 // 0 = no per-tx cap

	// coordination
	WorkerName     string // identity recorded on coordination locks
	LockStaleAfter time.Duration
	AllocationTTL  time.Duration
	SweepInterval  time.Duration
	AuditInterval  time.Duration

	// mpc side
	// The decryptor behind the redemption engine is an opaque service:
	// ciphertext in, plaintext out. The local implementation is keyed by
	// this secret; a remote MPC endpoint drops in behind the same
	// interface.
	MpcKey [32]byte

	// Http side
	HttpIp   string // eg. 0.0.0.0
	HttpPort string // eg. 8080
}

// BridgeServer holds the objects that consists of the bridge server.
type BridgeServer struct {
	MyAllocator *allocator.Allocator
	MyClassDb   *classification.ClassDB
	MyLockDb    *coordlock.LockDB
	MyLedger    *reserve.Ledger
	MyFeeDb     *fees.FeeDB
	MyEngine    *redemption.Engine
	MyIntake    *funding.Intake
	MyReporter  *reporter.HttpReporter
}

// NewBridgeServer creates a new bridge server.
// ctx is used for parental context to cancel the operation of bridge server.
// wg is used to wait for all the goroutines inside the server (sweeper, auditor) to finish.
func NewBridgeServer(bsc *BridgeServerConfig, ctx context.Context, wg *sync.WaitGroup) (*BridgeServer, error) {
	// Create sql db shared by every component.
	sqldb, err := database.OpenSQLite(bsc.DbFilePath)
	if err != nil {
		logger.Fatalf("failed to open db file: %v", err)
		return nil, err
	}

	// 1) Create the <address deriver> over the public-only xpub.
	deriver, err := btcderiver.NewDeriver(bsc.BtcXpub, bsc.BtcChainConfig)
	if err != nil {
		logger.Fatalf("cannot create address deriver: %v", err)
		return nil, err
	}

	// 2) Create the <deposit allocator> over the deriver.
	ttl := bsc.AllocationTTL
	if ttl <= 0 {
		ttl = defaultAllocationTTL
	}
	sweep := bsc.SweepInterval
	if sweep <= 0 {
		sweep = defaultSweepInterval
	}
	myAllocator, err := allocator.NewAllocator(sqldb, deriver, &allocator.Config{
		TTL:           ttl,
		SweepInterval: sweep,
	})
	if err != nil {
		logger.Fatalf("cannot create allocator: %v", err)
		return nil, err
	}

	// 3) Create the <classification store>.
	myClassDb, err := classification.NewClassDB(sqldb)
	if err != nil {
		logger.Fatalf("cannot create classification store: %v", err)
		return nil, err
	}

	// 4) Create the <coordination lock store>.
	stale := bsc.LockStaleAfter
	if stale <= 0 {
		stale = defaultLockStale
	}
	myLockDb, err := coordlock.NewLockDB(sqldb, &coordlock.Config{StaleAfter: stale})
	if err != nil {
		logger.Fatalf("cannot create coordination lock store: %v", err)
		return nil, err
	}

	// 5) Create the <reserve ledger> and register the pool (idempotent
	// across restarts).
	myLedger, err := reserve.NewLedger(sqldb)
	if err != nil {
		logger.Fatalf("cannot create reserve ledger: %v", err)
		return nil, err
	}
	err = myLedger.CreatePool(ctx, bsc.PoolID, bsc.PoolBootstrapSats, bsc.PoolMaxPayoutSats)
	if err != nil && err != reserve.ErrorPoolExists {
		logger.Fatalf("cannot register reserve pool: %v", err)
		return nil, err
	}

	// 6) Create the <fee ledger>.
	myFeeDb, err := fees.NewFeeDB(sqldb)
	if err != nil {
		logger.Fatalf("cannot create fee ledger: %v", err)
		return nil, err
	}

	// 7) Create the <redemption engine> over the lot.
	myEngine := redemption.NewEngine(&redemption.Config{
		PoolID:     bsc.PoolID,
		WorkerName: bsc.WorkerName,
		BtcParams:  bsc.BtcChainConfig,
	},
		myClassDb,
		myLockDb,
		myLedger,
		agreement.NewSimulatedEncryptionService(bsc.MpcKey),
		agreement.NewSimulatedBroadcaster(),
	)

	// 8) Create the <funding intake> that settles verified deposits into
	// both the allocator and the pool. The simulated verifier stands in
	// for the chain-watching service.
	myIntake := funding.NewIntake(&funding.Config{
		PoolID: bsc.PoolID,
	}, sqldb, myAllocator, myLedger, agreement.NewSimulatedDepositVerifier())

	// Important: turn on the background loops!
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := myAllocator.Start(ctx); err != nil { // expiry sweeper
			logger.Fatalf("allocator sweep loop failed: %v", err)
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		auditLoop(ctx, myLedger, bsc.PoolID, bsc.AuditInterval) // reserve auditor
	}()
	// Don't forget to call wg.Wait() in the main routine.

	// *** Setup a http server to report status & accept commands ***
	httpServer := reporter.NewHttpReporter(
		bsc.HttpIp,
		bsc.HttpPort,
		myAllocator,
		myEngine,
		myLedger,
		myClassDb,
		myFeeDb,
	)
	// Turn on the http server
	go httpServer.Run()

	// Give it some time to start the http server
	time.Sleep(1 * time.Second)
	// *** End the setup of http server ***

	return &BridgeServer{
		MyAllocator: myAllocator,
		MyClassDb:   myClassDb,
		MyLockDb:    myLockDb,
		MyLedger:    myLedger,
		MyFeeDb:     myFeeDb,
		MyEngine:    myEngine,
		MyIntake:    myIntake,
		MyReporter:  httpServer,
	}, nil
}

// auditLoop re-checks the reserve invariant on a timer. Audit halts the
// pool by itself if committed ever exceeds capacity; this loop only has
// to keep calling it.
func auditLoop(ctx context.Context, ledger *reserve.Ledger, poolID string, interval time.Duration) {
	if interval <= 0 {
		interval = defaultAuditInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ledger.Audit(ctx, poolID); err != nil {
				logger.Errorf("reserve audit failed: %v", err)
			}
		}
	}
}

// Create, then start the bridge server and wait.
// It contains a prepared bridge server and context + waitgroup.
// Press Ctrl-C to kill the server.
func StartBridgeServerAndWait(bsc *BridgeServerConfig) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up a signal channel to listen for Ctrl-C (SIGINT) or SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	// Launch a new goroutine to handle the signal
	go func() {
		sig := <-sigCh
		fmt.Printf("Received signal: %v, cancelling context...\n", sig)
		cancel()
	}()

	var wg sync.WaitGroup

	_, err := NewBridgeServer(bsc, ctx, &wg)
	if err != nil {
		logger.Fatalf("failed to create bridge server: %v", err)
		return
	}

	// wait for all routines to finish
	wg.Wait()
}
