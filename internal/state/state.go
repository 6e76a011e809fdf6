// Package state is an in-process reference ledger. It stores registry
// objects in pebble and applies multi-call transactions atomically.
package state

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"Press3/internal/ledger"
	"Press3/internal/logger"
	"Press3/internal/registry"
	"Press3/internal/storage"
)

// State manages registry objects and transaction execution.
type State struct {
	objects  *objectStore
	receipts *receiptStore
	db       *storage.Storage
	budget   ledger.BudgetParams

	mu        sync.Mutex                      // mu serializes transaction execution
	nonce     uint64                          // nonce makes deployment ids unique
	visibleAt map[registry.ObjectID]time.Time // visibleAt hides fresh objects from reads

	// VisibilityDelay is how long a deployed object stays invisible to reads.
	VisibilityDelay time.Duration

	// Now returns the current time. Tests replace it.
	Now func() time.Time
}

// New creates a State over db. Transactions must carry at least
// budget.For(len(calls)).
func New(db *storage.Storage, budget ledger.BudgetParams) *State {
	return &State{
		objects:   newObjectStore(db),
		receipts:  newReceiptStore(db),
		db:        db,
		budget:    budget,
		visibleAt: make(map[registry.ObjectID]time.Time),
		Now:       time.Now,
	}
}

// Deploy creates a registry program and its shared registry object with
// admin as the only admin. The objects are invisible to reads for
// VisibilityDelay.
func (s *State) Deploy(_ context.Context, admin registry.Identity) (*ledger.Deployment, error) {
	admin, err := registry.NormalizeIdentity(admin)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nonce++
	seed := deploySeed(admin, s.nonce, s.Now())

	program := &Object{
		ID:      computeObjectID(seed, 0),
		Version: 1,
		Kind:    KindProgram,
		Owner:   admin,
	}

	reg := &Object{
		ID:      computeObjectID(seed, 1),
		Version: 1,
		Kind:    KindRegistry,
		Owner:   admin,
		Registry: &RegistryContent{
			Program: program.ID,
			Admins:  []registry.Identity{admin},
			Pages:   []registry.PageRecord{},
		},
	}

	ops := make([]storage.Op, 0, 2)
	for _, obj := range []*Object{program, reg} {
		op, err := s.objects.op(obj)
		if err != nil {
			return nil, err
		}

		ops = append(ops, op)
	}

	if err := s.db.Apply(ops); err != nil {
		return nil, fmt.Errorf("write deployment:\n%w", err)
	}

	if s.VisibilityDelay > 0 {
		at := s.Now().Add(s.VisibilityDelay)
		s.visibleAt[program.ID] = at
		s.visibleAt[reg.ID] = at
	}

	dep := &ledger.Deployment{
		Program:  program.ID,
		Registry: reg.ID,
		Digest:   ledger.DigestOf(seed),
	}

	logger.Info("registry deployed", "program", dep.Program, "registry", dep.Registry, "admin", admin)

	return dep, nil
}

// ObjectExists reports whether an object is visible to reads.
func (s *State) ObjectExists(_ context.Context, id registry.ObjectID) (bool, error) {
	obj, err := s.visible(id)
	if err != nil {
		return false, err
	}

	return obj != nil, nil
}

// ReadRegistry returns a snapshot of a registry object.
func (s *State) ReadRegistry(_ context.Context, id registry.ObjectID) (*registry.Snapshot, error) {
	obj, err := s.visible(id)
	if err != nil {
		return nil, err
	}

	if obj == nil || obj.Kind != KindRegistry || obj.Registry == nil {
		return nil, fmt.Errorf("registry %s:\n%w", id, ledger.ErrNotFound)
	}

	content := obj.Registry.clone()

	return &registry.Snapshot{
		ObjectID: obj.ID,
		Version:  obj.Version,
		Admins:   content.Admins,
		Pages:    content.Pages,
	}, nil
}

// Submit decodes, verifies and executes a transaction. Every call is
// applied to a working copy of the registry; the copy, the version bump
// and the receipt are written in one batch only when every call succeeds.
// Any refusal wraps ledger.ErrRejected and leaves state untouched.
func (s *State) Submit(_ context.Context, data []byte) (string, error) {
	tx, err := ledger.DecodeTransaction(data)
	if err != nil {
		return "", reject("decode", err)
	}

	if err := tx.Verify(); err != nil {
		return "", reject("verify", err)
	}

	if len(tx.Calls) == 0 {
		return "", reject("verify", fmt.Errorf("no calls"))
	}

	if required := s.budget.For(len(tx.Calls)); tx.Budget < required {
		return "", reject("budget", fmt.Errorf("budget %d below required %d", tx.Budget, required))
	}

	digest := tx.Digest()

	s.mu.Lock()
	defer s.mu.Unlock()

	replayed, err := s.receipts.exists(digest)
	if err != nil {
		return "", fmt.Errorf("check replay:\n%w", err)
	}

	if replayed {
		return "", reject("replay", fmt.Errorf("transaction %s already executed", digest))
	}

	obj, err := s.objects.get(tx.Object)
	if err != nil {
		return "", err
	}

	if obj == nil || obj.Kind != KindRegistry || obj.Registry == nil {
		return "", reject("load", fmt.Errorf("registry %s not found", tx.Object))
	}

	if obj.Registry.Program != tx.Program {
		return "", reject("load", fmt.Errorf("registry %s does not belong to program %s", tx.Object, tx.Program))
	}

	working := obj.Registry.clone()
	sender := tx.SenderAddress()

	names := make([]string, len(tx.Calls))
	for i, c := range tx.Calls {
		m, err := ledger.DecodeCall(c)
		if err != nil {
			return "", reject(fmt.Sprintf("call %d", i), err)
		}

		if err := apply(working, sender, m); err != nil {
			return "", reject(fmt.Sprintf("call %d (%s)", i, c.Function), err)
		}

		names[i] = c.Function
	}

	updated := *obj
	updated.Version++
	updated.Registry = working

	objOp, err := s.objects.op(&updated)
	if err != nil {
		return "", err
	}

	rcptOp, err := s.receipts.op(&Receipt{
		Digest:  digest,
		Sender:  string(sender),
		Object:  tx.Object.String(),
		Calls:   names,
		Budget:  tx.Budget,
		Version: updated.Version,
	})
	if err != nil {
		return "", err
	}

	if err := s.db.Apply([]storage.Op{objOp, rcptOp}); err != nil {
		return "", fmt.Errorf("commit transaction:\n%w", err)
	}

	logger.Debug("transaction executed", "digest", digest, "calls", len(names), "version", updated.Version)

	return digest, nil
}

// Receipt returns the receipt of a committed transaction, nil if unknown.
func (s *State) Receipt(digest string) (*Receipt, error) {
	return s.receipts.get(digest)
}

// Receipts returns every committed transaction receipt.
func (s *State) Receipts() ([]*Receipt, error) {
	return s.receipts.export()
}

// ObjectCount returns the number of stored objects.
func (s *State) ObjectCount() (int, error) {
	return s.objects.count()
}

// visible loads an object, hiding it while it is still propagating.
func (s *State) visible(id registry.ObjectID) (*Object, error) {
	s.mu.Lock()
	at, hidden := s.visibleAt[id]
	if hidden && !s.Now().Before(at) {
		delete(s.visibleAt, id)
		hidden = false
	}
	s.mu.Unlock()

	if hidden {
		return nil, nil
	}

	return s.objects.get(id)
}

// reject wraps a refusal reason with ledger.ErrRejected.
func reject(step string, err error) error {
	return fmt.Errorf("%w at %s:\n%v", ledger.ErrRejected, step, err)
}

// deploySeed derives the id seed of a deployment.
func deploySeed(admin registry.Identity, nonce uint64, now time.Time) [32]byte {
	h := blake3.New()
	h.Write([]byte("press3-deploy"))
	h.Write([]byte(admin))

	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], nonce)
	binary.LittleEndian.PutUint64(buf[8:], uint64(now.UnixNano()))
	h.Write(buf[:])

	var seed [32]byte
	h.Sum(seed[:0])

	return seed
}

// computeObjectID derives a deterministic object ID: blake3(seed || index_u32_LE).
func computeObjectID(seed [32]byte, index uint32) registry.ObjectID {
	var buf [36]byte
	copy(buf[:32], seed[:])
	binary.LittleEndian.PutUint32(buf[32:], index)

	return blake3.Sum256(buf[:])
}
