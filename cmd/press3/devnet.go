package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"Press3/internal/api"
	"Press3/internal/blob"
	"Press3/internal/blobnet"
	"Press3/internal/ledger"
	"Press3/internal/logger"
	"Press3/internal/state"
	"Press3/internal/storage"
)

// devnetConfig holds the devnet node flags.
type devnetConfig struct {
	DataPath        string        // DataPath is the directory for persistent storage
	HTTPAddress     string        // HTTPAddress is the HTTP API listen address
	Memory          bool          // Memory keeps everything in memory
	CommitteeSize   int           // CommitteeSize is the number of storage nodes
	Seed            string        // Seed derives the committee keys
	VisibilityDelay time.Duration // VisibilityDelay hides fresh objects from reads
	CacheEntries    int           // CacheEntries bounds the decoded blob cache
	Budget          ledger.BudgetParams
}

// cachedBlobs serves blob reads through a coalescing cache.
type cachedBlobs struct {
	*blobnet.Network
	cache *blob.Cache
}

// Read returns decoded content, decoding each ref at most once while cached.
func (c cachedBlobs) Read(ctx context.Context, ref string) ([]byte, error) {
	return c.cache.Read(ctx, ref)
}

// Node is a running devnet: reference ledger and blob network behind the HTTP API.
type Node struct {
	cfg     *devnetConfig
	storage *storage.Storage
	state   *state.State
	blobs   *blobnet.Network
	api     *api.Server
}

func devnetCommand() *command {
	cfg := &devnetConfig{Budget: ledger.DefaultBudgetParams()}

	return &command{
		name:    "devnet",
		summary: "run a local ledger and blob network",
		flags: func() *pflag.FlagSet {
			fs := newFlagSet("devnet")
			fs.StringVar(&cfg.DataPath, "data", "./data", "data directory path")
			fs.StringVar(&cfg.HTTPAddress, "http", ":8080", "HTTP API address")
			fs.BoolVar(&cfg.Memory, "memory", false, "keep state in memory only")
			fs.IntVar(&cfg.CommitteeSize, "committee", 4, "storage committee size")
			fs.StringVar(&cfg.Seed, "seed", "press3-devnet", "committee key seed")
			fs.DurationVar(&cfg.VisibilityDelay, "visibility-delay", 0, "delay before deployed objects become readable")
			fs.IntVar(&cfg.CacheEntries, "cache", 256, "decoded blobs kept in memory")
			fs.Uint64Var(&cfg.Budget.PerCall, "budget-per-call", cfg.Budget.PerCall, "required budget per call")
			fs.Uint64Var(&cfg.Budget.Base, "budget-base", cfg.Budget.Base, "required base budget")
			return fs
		},
		run: func(*pflag.FlagSet) error {
			node, err := NewNode(cfg)
			if err != nil {
				return fmt.Errorf("create devnet:\n%w", err)
			}

			logger.Info("starting press3 devnet",
				"http", cfg.HTTPAddress,
				"data", cfg.DataPath,
				"memory", cfg.Memory,
				"committee", cfg.CommitteeSize,
				"quorum", node.blobs.Committee().Quorum(),
			)

			return node.Run()
		},
	}
}

// NewNode opens storage and builds the ledger and blob network.
func NewNode(cfg *devnetConfig) (*Node, error) {
	n := &Node{cfg: cfg}

	if err := n.initStorage(); err != nil {
		return nil, err
	}

	committee, err := blobnet.NewCommittee([]byte(cfg.Seed), cfg.CommitteeSize)
	if err != nil {
		n.Close()
		return nil, fmt.Errorf("init committee:\n%w", err)
	}

	n.state = state.New(n.storage, cfg.Budget)
	n.state.VisibilityDelay = cfg.VisibilityDelay
	n.blobs = blobnet.New(n.storage, committee)

	return n, nil
}

// initStorage opens the Pebble storage on disk or in memory.
func (n *Node) initStorage() error {
	if n.cfg.Memory {
		db, err := storage.NewInMemory()
		if err != nil {
			return fmt.Errorf("init storage:\n%w", err)
		}

		n.storage = db
		return nil
	}

	if err := os.MkdirAll(n.cfg.DataPath, 0755); err != nil {
		return fmt.Errorf("create data directory:\n%w", err)
	}

	db, err := storage.New(filepath.Join(n.cfg.DataPath, "db"))
	if err != nil {
		return fmt.Errorf("init storage:\n%w", err)
	}

	n.storage = db

	return nil
}

// newServer builds the HTTP API over the node's ledger and blob network.
func (n *Node) newServer() *api.Server {
	blobs := cachedBlobs{Network: n.blobs, cache: blob.NewCache(n.blobs, n.cfg.CacheEntries)}

	return api.New(n.cfg.HTTPAddress, n.state, blobs)
}

// Run starts the HTTP API and blocks until a shutdown signal.
func (n *Node) Run() error {
	n.api = n.newServer()
	if err := n.api.Start(); err != nil {
		return fmt.Errorf("start api:\n%w", err)
	}

	return n.waitForShutdown()
}

// waitForShutdown blocks until SIGINT or SIGTERM, then closes the node.
func (n *Node) waitForShutdown() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")

	return n.Close()
}

// Close stops the API and closes storage.
func (n *Node) Close() error {
	if n.api != nil {
		if err := n.api.Stop(); err != nil {
			logger.Warn("stop api", "error", err)
		}
	}

	if n.storage != nil {
		return n.storage.Close()
	}

	return nil
}
