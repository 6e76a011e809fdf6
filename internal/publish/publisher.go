// Package publish orchestrates blob uploads, registry reconciliation and
// atomic batch commits.
package publish

import (
	"context"
	"fmt"
	"sync"
	"time"

	"Press3/internal/blob"
	"Press3/internal/fault"
	"Press3/internal/ledger"
	"Press3/internal/logger"
	"Press3/internal/readiness"
	"Press3/internal/reconcile"
	"Press3/internal/registry"
)

const (
	// DefaultConcurrency is the number of uploads run in parallel.
	DefaultConcurrency = 4

	// DefaultEpochs is the storage retention requested for new blobs.
	DefaultEpochs = 5

	// maxReconcileRounds bounds how often a plan is rebuilt when the
	// registry changes between the snapshot and the verification read.
	maxReconcileRounds = 3
)

// Page is one logical page to publish.
type Page struct {
	Path string // Path is the logical page path, normalized on publish
	Data []byte // Data is the page content
}

// BatchResult is the outcome of a committed batch publish.
type BatchResult struct {
	Digest  string             `json:"digest"`  // Digest identifies the commit transaction
	Plan    *reconcile.Plan    `json:"plan"`    // Plan is the committed mutation plan
	Uploads []reconcile.Upload `json:"uploads"` // Uploads are the per-page upload records
}

// Options configures a Publisher.
type Options struct {
	Ledger  ledger.Client       // Ledger reads the registry and accepts transactions
	Blobs   blob.Network        // Blobs stores page content
	Signer  ledger.Signer       // Signer signs blob and ledger transactions
	Program registry.ObjectID   // Program is the registry program id
	Object  registry.ObjectID   // Object is the shared registry object id
	Budget  ledger.BudgetParams // Budget scales the batch resource budget

	Epochs      uint64                    // Epochs is the blob retention, DefaultEpochs when zero
	Concurrency int                       // Concurrency bounds parallel uploads, DefaultConcurrency when zero
	Duplicates  reconcile.DuplicatePolicy // Duplicates decides how a batch naming a path twice is handled
	Encoder     blob.Encoder              // Encoder overrides the default shard encoder
	Readiness   *readiness.Waiter         // Readiness guards calls after a fresh deployment, nil to skip
}

// Publisher runs publish workflows against one registry object.
type Publisher struct {
	ledger      ledger.Client
	uploader    *blob.Uploader
	builder     *ledger.Builder
	signer      ledger.Signer
	object      registry.ObjectID
	epochs      uint64
	concurrency int
	reconciler  reconcile.Reconciler
	readiness   *readiness.Waiter
}

// New creates a publisher from opts.
func New(opts Options) (*Publisher, error) {
	if opts.Ledger == nil || opts.Blobs == nil || opts.Signer == nil {
		return nil, fault.Validationf("publisher needs a ledger, a blob network and a signer")
	}

	if opts.Object.IsZero() {
		return nil, fault.Validationf("registry object id is not set")
	}

	if opts.Epochs == 0 {
		opts.Epochs = DefaultEpochs
	}

	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}

	uploader := blob.NewUploader(opts.Blobs, opts.Signer)
	if opts.Encoder != nil {
		uploader = uploader.WithEncoder(opts.Encoder)
	}

	return &Publisher{
		ledger:      opts.Ledger,
		uploader:    uploader,
		builder:     ledger.NewBuilder(opts.Ledger, opts.Program, opts.Object, opts.Budget),
		signer:      opts.Signer,
		object:      opts.Object,
		epochs:      opts.Epochs,
		concurrency: opts.Concurrency,
		reconciler:  reconcile.Reconciler{Duplicates: opts.Duplicates},
		readiness:   opts.Readiness,
	}, nil
}

// Uploader returns the blob uploader, for resuming partial uploads.
func (p *Publisher) Uploader() *blob.Uploader {
	return p.uploader
}

// Publish uploads every page, reconciles against a fresh registry read
// and commits one transaction. Either every page mutation lands or none does.
func (p *Publisher) Publish(ctx context.Context, pages []Page) (*BatchResult, error) {
	start := time.Now()

	normalized, err := p.normalize(pages)
	if err != nil {
		return nil, err
	}

	if err := p.awaitReady(ctx); err != nil {
		return nil, err
	}

	uploads, err := p.uploadAll(ctx, normalized)
	if err != nil {
		return nil, err
	}

	plan, err := p.plan(ctx, uploads)
	if err != nil {
		return nil, err
	}

	sub, err := p.builder.BuildAndSubmit(ctx, plan.Entries, p.signer)
	if err != nil {
		return nil, fmt.Errorf("commit plan for %d pages:\n%w", plan.Len(), err)
	}

	registers, updates := plan.Counts()

	logger.Info("batch published",
		"digest", sub.Digest,
		"registered", registers,
		"updated", updates,
		logger.Timed(start),
	)

	return &BatchResult{Digest: sub.Digest, Plan: plan, Uploads: uploads}, nil
}

// normalize validates pages and rewrites their paths to canonical form.
// Duplicates are refused here under RejectDuplicates so no blob is uploaded for a doomed batch.
func (p *Publisher) normalize(pages []Page) ([]Page, error) {
	if len(pages) == 0 {
		return nil, fault.Validationf("no pages to publish")
	}

	out := make([]Page, len(pages))
	seen := make(map[string]bool, len(pages))

	for i, pg := range pages {
		path := registry.NormalizePath(pg.Path)
		if err := registry.ValidatePath(path); err != nil {
			return nil, err
		}

		if seen[path] && p.reconciler.Duplicates == reconcile.RejectDuplicates {
			return nil, fault.Validationf("duplicate path in batch: %s", path)
		}

		seen[path] = true
		out[i] = Page{Path: path, Data: pg.Data}
	}

	return out, nil
}

// uploadAll uploads pages with bounded parallelism. The first failure
// cancels the remaining uploads. Results keep input order.
func (p *Publisher) uploadAll(ctx context.Context, pages []Page) ([]reconcile.Upload, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	uploads := make([]reconcile.Upload, len(pages))
	sem := make(chan struct{}, p.concurrency)

	var wg sync.WaitGroup
	var firstErr error
	var errMu sync.Mutex

	for i, pg := range pages {
		wg.Add(1)

		go func(idx int, page Page) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				return
			}

			rcpt, err := p.uploader.Upload(ctx, page.Data, page.Path, p.signer.Address(), p.epochs)
			if err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("upload %s:\n%w", page.Path, err)
					cancel()
				}
				errMu.Unlock()

				return
			}

			uploads[idx] = uploadRecord(rcpt)

			logger.Debug("page uploaded", "path", page.Path, "ref", rcpt.ContentRef)
		}(i, pg)
	}

	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return uploads, nil
}

// plan reads the registry, reconciles, then re-reads and verifies the plan.
// A plan invalidated by a concurrent writer is rebuilt from a new read.
func (p *Publisher) plan(ctx context.Context, uploads []reconcile.Upload) (*reconcile.Plan, error) {
	var lastErr error

	for round := 1; round <= maxReconcileRounds; round++ {
		snap, err := p.readRegistry(ctx)
		if err != nil {
			return nil, err
		}

		plan, err := p.reconciler.Reconcile(snap, uploads)
		if err != nil {
			return nil, err
		}

		fresh, err := p.readRegistry(ctx)
		if err != nil {
			return nil, err
		}

		if lastErr = reconcile.Verify(plan, fresh); lastErr == nil {
			return plan, nil
		}

		logger.Warn("registry changed during reconciliation", "round", round, "error", lastErr)
	}

	return nil, fault.New(fault.ExternalUnavailable, "reconcile",
		fmt.Errorf("plan still stale after %d rounds:\n%w", maxReconcileRounds, lastErr))
}

// readRegistry reads a fresh snapshot of the registry object.
func (p *Publisher) readRegistry(ctx context.Context) (*registry.Snapshot, error) {
	snap, err := p.ledger.ReadRegistry(ctx, p.object)
	if err != nil {
		return nil, fault.New(fault.ExternalUnavailable, "read-registry", err)
	}

	return snap, nil
}

// awaitReady runs the readiness guard when one is configured.
func (p *Publisher) awaitReady(ctx context.Context) error {
	if p.readiness == nil {
		return nil
	}

	return p.readiness.AwaitReady(ctx, p.object)
}

// uploadRecord converts an uploader receipt into a reconciler input.
func uploadRecord(r *blob.Receipt) reconcile.Upload {
	return reconcile.Upload{
		Path:       r.Path,
		ContentRef: r.ContentRef,
		Size:       r.Size,
		RegisterTx: r.RegisterTx,
		CertifyTx:  r.CertifyTx,
	}
}
