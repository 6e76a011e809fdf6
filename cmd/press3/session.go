package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"Press3/client"
	"Press3/internal/config"
	"Press3/internal/ledger"
	"Press3/internal/publish"
	"Press3/internal/readiness"
	"Press3/internal/reconcile"
)

// session is the state shared by commands that talk to a node.
type session struct {
	cfg    *config.Config
	client *client.Client
	signer *ledger.Ed25519Signer
}

// configFlags are the flags every node command accepts.
type configFlags struct {
	path string // path is the project config file
	node string // node overrides the configured node address
}

// add registers the flags on fs.
func (f *configFlags) add(fs *pflag.FlagSet) {
	fs.StringVar(&f.path, "config", config.DefaultFile, "project config file")
	fs.StringVar(&f.node, "node", "", "node address (overrides config and PRESS3_NODE)")
}

// open loads the config and key and connects the client.
func (f *configFlags) open() (*session, error) {
	cfg, err := config.Load(f.path)
	if err != nil {
		return nil, err
	}

	if f.node != "" {
		cfg.Node = f.node
	}

	signer, err := cfg.Signer()
	if err != nil {
		return nil, err
	}

	return &session{cfg: cfg, client: client.NewClient(cfg.Node), signer: signer}, nil
}

// publisher builds a publisher over the configured registry object.
func (s *session) publisher(epochs uint64, duplicates reconcile.DuplicatePolicy) (*publish.Publisher, error) {
	program, err := s.cfg.Program()
	if err != nil {
		return nil, err
	}

	object, err := s.cfg.Object()
	if err != nil {
		return nil, err
	}

	if epochs == 0 {
		epochs = s.cfg.Epochs
	}

	return publish.New(publish.Options{
		Ledger:      s.client,
		Blobs:       s.client,
		Signer:      s.signer,
		Program:     program,
		Object:      object,
		Budget:      s.cfg.Budget,
		Epochs:      epochs,
		Concurrency: s.cfg.Concurrency,
		Duplicates:  duplicates,
		Readiness:   readiness.New(s.client),
	})
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output:\n%w", err)
	}

	return nil
}
