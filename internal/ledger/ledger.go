// Package ledger compiles registry mutations into one signed multi-call
// transaction and submits it to the ledger as a single atomic unit.
package ledger

import (
	"context"
	"errors"

	"Press3/internal/registry"
)

var (
	// ErrRejected is returned by a Client when the ledger refused or reverted
	// a transaction. Nothing from a rejected transaction is applied.
	ErrRejected = errors.New("transaction rejected")

	// ErrNotFound is returned by a Client when the requested object does not exist.
	ErrNotFound = errors.New("object not found")
)

// Client is the ledger surface the publish core consumes.
type Client interface {
	// ReadRegistry reads the current state of a registry object.
	ReadRegistry(ctx context.Context, id registry.ObjectID) (*registry.Snapshot, error)

	// Submit sends a signed transaction and returns its digest.
	// A ledger-side refusal must wrap ErrRejected.
	Submit(ctx context.Context, tx []byte) (string, error)

	// ObjectExists reports whether an object is visible to reads.
	ObjectExists(ctx context.Context, id registry.ObjectID) (bool, error)
}

// Deployment is the result of deploying the registry program.
type Deployment struct {
	Program  registry.ObjectID `json:"program"`  // Program is the deployed program id
	Registry registry.ObjectID `json:"registry"` // Registry is the shared registry object id
	Digest   string            `json:"digest"`   // Digest is the deploy transaction digest
}

// Deployer deploys a fresh registry program owned by admin.
// Objects created by a deployment may not be readable immediately.
type Deployer interface {
	Deploy(ctx context.Context, admin registry.Identity) (*Deployment, error)
}
