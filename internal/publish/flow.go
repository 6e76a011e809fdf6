package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Press3/internal/blob"
	"Press3/internal/fault"
	"Press3/internal/ledger"
	"Press3/internal/logger"
	"Press3/internal/reconcile"
	"Press3/internal/registry"
)

// ErrFlowDone is returned by Step on a flow that already succeeded or failed.
var ErrFlowDone = errors.New("flow already finished")

// State is the position of a single-page flow.
type State int

const (
	StateIdle State = iota
	StateUploading
	StateAwaitingSignature
	StateCommitting
	StateSuccess
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateUploading:
		return "uploading"
	case StateAwaitingSignature:
		return "awaiting-signature"
	case StateCommitting:
		return "committing"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Phase names the signature a flow in StateAwaitingSignature waits for.
type Phase string

const (
	PhaseNone     Phase = ""
	PhaseRegister Phase = "register"
	PhaseCertify  Phase = "certify"
	PhaseCommit   Phase = "commit"
)

// ProgressStep is reported to a Progress callback at phase transitions.
type ProgressStep string

const (
	StepRegistering ProgressStep = "registering"
	StepCertifying  ProgressStep = "certifying"
	StepCommitting  ProgressStep = "committing"
	StepSuccess     ProgressStep = "success"
	StepFailed      ProgressStep = "failed"
)

// Progress receives phase transitions of a flow.
type Progress func(step ProgressStep)

// SaveResult is the outcome of a single-page flow.
type SaveResult struct {
	Success    bool   `json:"success"`
	Digest     string `json:"digest,omitempty"`     // Digest identifies the commit transaction
	ContentRef string `json:"contentRef,omitempty"` // ContentRef addresses the uploaded content
	RegisterTx string `json:"registerTx,omitempty"` // RegisterTx is the storage registration tx id
	CertifyTx  string `json:"certifyTx,omitempty"`  // CertifyTx is the certification tx id
	Err        error  `json:"-"`
	Error      string `json:"error,omitempty"`      // Error is the message of Err
	FailedStep string `json:"failedStep,omitempty"` // FailedStep names the phase that failed
}

// Flow saves one page: upload its content, then register or update the
// page in one transaction. The caller advances it with Step.
//
//	Idle -> Uploading -> AwaitingSignature(register|certify|commit) -> Committing -> Success
//
// Any step may move the flow to Failed. Retry rewinds a failed flow to
// the phase that failed, reusing whatever already landed.
type Flow struct {
	pub      *Publisher
	path     string
	data     []byte
	progress Progress

	state      State
	phase      Phase
	registered bool // registered is set once the storage registration landed

	handle    *blob.Handle
	certifyTx string
	plan      *reconcile.Plan
	tx        []byte
	sub       *ledger.Submission

	err         error
	failedState State
	failedPhase Phase
}

// NewFlow creates a save flow for one page. progress may be nil.
func (p *Publisher) NewFlow(path string, data []byte, progress Progress) (*Flow, error) {
	path = registry.NormalizePath(path)
	if err := registry.ValidatePath(path); err != nil {
		return nil, err
	}

	if progress == nil {
		progress = func(ProgressStep) {}
	}

	return &Flow{
		pub:      p,
		path:     path,
		data:     data,
		progress: progress,
	}, nil
}

// Save runs a save flow to completion.
func (p *Publisher) Save(ctx context.Context, path string, data []byte, progress Progress) SaveResult {
	f, err := p.NewFlow(path, data, progress)
	if err != nil {
		return SaveResult{Err: err, Error: err.Error(), FailedStep: "validate"}
	}

	return f.Run(ctx)
}

// State returns the current state.
func (f *Flow) State() State {
	return f.state
}

// Phase returns the awaited signature while in StateAwaitingSignature.
func (f *Flow) Phase() Phase {
	return f.phase
}

// Path returns the normalized page path.
func (f *Flow) Path() string {
	return f.path
}

// Done reports whether the flow reached Success or Failed.
func (f *Flow) Done() bool {
	return f.state == StateSuccess || f.state == StateFailed
}

// Step performs the work of the current state and advances the flow.
// A failure moves the flow to Failed and is returned.
func (f *Flow) Step(ctx context.Context) error {
	var err error

	switch f.state {
	case StateIdle:
		err = f.pub.awaitReady(ctx)
		if err == nil {
			f.state = StateUploading
		}

	case StateUploading:
		err = f.encode()

	case StateAwaitingSignature:
		switch f.phase {
		case PhaseRegister:
			err = f.register(ctx)
		case PhaseCertify:
			err = f.certify(ctx)
		case PhaseCommit:
			err = f.sign(ctx)
		}

	case StateCommitting:
		err = f.commit(ctx)

	default:
		return ErrFlowDone
	}

	if err != nil {
		f.fail(err)
		return err
	}

	return nil
}

// Run steps the flow until it finishes and returns the result.
func (f *Flow) Run(ctx context.Context) SaveResult {
	start := time.Now()

	for !f.Done() {
		if err := f.Step(ctx); err != nil {
			break
		}
	}

	if f.state == StateSuccess {
		logger.Info("page saved", "path", f.path, "digest", f.sub.Digest, logger.Timed(start))
	}

	return f.Result()
}

// Retry rewinds a failed flow to the state and phase that failed.
func (f *Flow) Retry() error {
	if f.state != StateFailed {
		return fmt.Errorf("cannot retry a %s flow", f.state)
	}

	f.state = f.failedState
	f.phase = f.failedPhase
	f.err = nil

	// A rejected or stale commit needs a new plan from a fresh read.
	if f.state == StateCommitting {
		f.state = StateAwaitingSignature
		f.phase = PhaseCommit
	}

	return nil
}

// Result reports the flow outcome so far.
func (f *Flow) Result() SaveResult {
	res := SaveResult{
		Success:   f.state == StateSuccess,
		CertifyTx: f.certifyTx,
		Err:       f.err,
	}

	if f.handle != nil {
		res.ContentRef = f.handle.ContentRef
		res.RegisterTx = f.handle.RegisterTx
	}

	if f.sub != nil {
		res.Digest = f.sub.Digest
	}

	if f.err != nil {
		res.Error = f.err.Error()
		res.FailedStep = fault.StepOf(f.err)
		if res.FailedStep == "" {
			res.FailedStep = f.stepName()
		}
	}

	return res
}

// Handle returns the blob handle once content is encoded, for manual resumes.
func (f *Flow) Handle() *blob.Handle {
	return f.handle
}

// encode turns the content into a blob handle.
func (f *Flow) encode() error {
	h, err := f.pub.uploader.Encode(f.data)
	if err != nil {
		return err
	}

	f.handle = h
	f.await(PhaseRegister, StepRegistering)

	return nil
}

// register reserves storage and stores the shards.
func (f *Flow) register(ctx context.Context) error {
	if !f.registered {
		if err := f.pub.uploader.Register(ctx, f.handle, f.pub.signer.Address(), f.pub.epochs); err != nil {
			return err
		}

		f.registered = true
	}

	if err := f.pub.uploader.Store(ctx, f.handle); err != nil {
		return err
	}

	f.await(PhaseCertify, StepCertifying)

	return nil
}

// certify collects the storage certificate.
func (f *Flow) certify(ctx context.Context) error {
	txID, err := f.pub.uploader.Certify(ctx, f.handle)
	if err != nil {
		return err
	}

	f.certifyTx = txID
	f.await(PhaseCommit, StepCommitting)

	return nil
}

// sign reconciles the page against a fresh read and signs the transaction.
func (f *Flow) sign(ctx context.Context) error {
	snap, err := f.pub.readRegistry(ctx)
	if err != nil {
		return err
	}

	upload := reconcile.Upload{
		Path:       f.path,
		ContentRef: f.handle.ContentRef,
		Size:       f.handle.Size,
		RegisterTx: f.handle.RegisterTx,
		CertifyTx:  f.certifyTx,
	}

	plan, err := f.pub.reconciler.Reconcile(snap, []reconcile.Upload{upload})
	if err != nil {
		return err
	}

	tx, sub, err := f.pub.builder.Build(ctx, plan.Entries, f.pub.signer)
	if err != nil {
		return err
	}

	f.plan = plan
	f.tx = tx
	f.sub = sub
	f.state = StateCommitting
	f.phase = PhaseNone

	return nil
}

// commit re-verifies the plan and submits the signed transaction.
func (f *Flow) commit(ctx context.Context) error {
	fresh, err := f.pub.readRegistry(ctx)
	if err != nil {
		return err
	}

	if err := reconcile.Verify(f.plan, fresh); err != nil {
		return fault.New(fault.ExternalUnavailable, "reconcile", err)
	}

	sub, err := f.pub.builder.Submit(ctx, f.tx, f.sub)
	if err != nil {
		return err
	}

	f.sub = sub
	f.state = StateSuccess
	f.progress(StepSuccess)

	return nil
}

// await moves the flow to AwaitingSignature(phase) and reports step.
func (f *Flow) await(phase Phase, step ProgressStep) {
	f.state = StateAwaitingSignature
	f.phase = phase
	f.progress(step)
}

// fail records err and moves the flow to Failed.
func (f *Flow) fail(err error) {
	f.err = err
	f.failedState = f.state
	f.failedPhase = f.phase
	f.state = StateFailed

	logger.Warn("save flow failed", "path", f.path, "step", f.stepName(), "error", err)

	f.progress(StepFailed)
}

// stepName names the phase the flow is in, or failed in.
func (f *Flow) stepName() string {
	state, phase := f.state, f.phase
	if state == StateFailed {
		state, phase = f.failedState, f.failedPhase
	}

	if state == StateAwaitingSignature {
		return string(phase)
	}

	return state.String()
}
