package ledger

import (
	"context"
	"errors"
	"fmt"

	"Press3/internal/fault"
	"Press3/internal/logger"
	"Press3/internal/registry"
)

// Submission is the outcome of a committed batch.
type Submission struct {
	Digest string   // Digest is the ledger's identifier of the committed transaction
	Hash   [32]byte // Hash is the signed transaction hash
	Calls  []Call   // Calls are the entrypoint calls in plan order
	Budget uint64   // Budget is the resource budget attached to the batch
}

// Builder compiles mutation plans into single signed transactions.
type Builder struct {
	client  Client            // client submits the signed bytes
	program registry.ObjectID // program is the registry program id
	object  registry.ObjectID // object is the shared registry object id
	budget  BudgetParams      // budget scales the batch budget with its size
}

// NewBuilder creates a builder targeting one registry object.
func NewBuilder(client Client, program, object registry.ObjectID, budget BudgetParams) *Builder {
	return &Builder{
		client:  client,
		program: program,
		object:  object,
		budget:  budget,
	}
}

// Build compiles mutations into signed transaction bytes without submitting.
func (b *Builder) Build(ctx context.Context, mutations []registry.Mutation, signer Signer) ([]byte, *Submission, error) {
	if len(mutations) == 0 {
		return nil, nil, fault.Validationf("empty mutation plan")
	}

	calls := make([]Call, 0, len(mutations))
	for i, m := range mutations {
		c, err := EncodeMutation(m)
		if err != nil {
			return nil, nil, fault.New(fault.Validation, "build", fmt.Errorf("entry %d:\n%w", i, err))
		}

		calls = append(calls, c)
	}

	budget := b.budget.For(len(calls))

	data, hash, err := SignTransaction(ctx, signer, b.program, b.object, budget, calls)
	if err != nil {
		return nil, nil, fault.New(fault.ExternalUnavailable, "sign", err)
	}

	return data, &Submission{Hash: hash, Calls: calls, Budget: budget}, nil
}

// BuildAndSubmit compiles the plan into one transaction and submits it.
// The ledger applies every call or none of them.
func (b *Builder) BuildAndSubmit(ctx context.Context, mutations []registry.Mutation, signer Signer) (*Submission, error) {
	data, sub, err := b.Build(ctx, mutations, signer)
	if err != nil {
		return nil, err
	}

	return b.Submit(ctx, data, sub)
}

// Submit sends transaction bytes produced by Build and fills in the digest.
func (b *Builder) Submit(ctx context.Context, data []byte, sub *Submission) (*Submission, error) {
	digest, err := b.client.Submit(ctx, data)
	if err != nil {
		if errors.Is(err, ErrRejected) {
			return nil, fault.New(fault.AtomicRejection, "commit", err)
		}

		return nil, fault.New(fault.ExternalUnavailable, "commit", err)
	}

	sub.Digest = digest

	logger.Info("batch committed",
		"digest", digest,
		"calls", len(sub.Calls),
		"budget", sub.Budget,
	)

	return sub, nil
}
