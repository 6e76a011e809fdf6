// Package reconcile turns a registry snapshot and a set of fresh uploads
// into the mutation plan that brings the registry up to date.
package reconcile

import (
	"errors"
	"fmt"

	"Press3/internal/fault"
	"Press3/internal/registry"
)

// ErrStalePlan is returned by Verify when the registry moved under a plan.
var ErrStalePlan = errors.New("stale mutation plan")

// DuplicatePolicy decides what happens when one batch names a path twice.
type DuplicatePolicy int

const (
	// RejectDuplicates fails the whole batch with a validation error.
	RejectDuplicates DuplicatePolicy = iota

	// KeepLast keeps the last upload for a path, at the first occurrence's position.
	KeepLast
)

// Upload is the uploader's output for one page, consumed once by Reconcile.
type Upload struct {
	Path       string `json:"path"`       // Path is the normalized page path
	ContentRef string `json:"contentRef"` // ContentRef addresses the uploaded bytes
	Size       int    `json:"size"`       // Size is the source byte count, kept for reporting
	RegisterTx string `json:"registerTx"` // RegisterTx is the storage registration tx id
	CertifyTx  string `json:"certifyTx"`  // CertifyTx is the certification tx id
}

// Plan is an ordered list of mutations bound to the snapshot it was built from.
type Plan struct {
	ObjectID registry.ObjectID   `json:"objectId"` // ObjectID is the registry the plan targets
	Version  uint64              `json:"version"`  // Version is the snapshot version the indexes refer to
	Entries  []registry.Mutation `json:"entries"`  // Entries are applied in order
}

// Len returns the number of entries.
func (p *Plan) Len() int {
	return len(p.Entries)
}

// Counts returns how many entries register new pages and how many update existing ones.
func (p *Plan) Counts() (registers, updates int) {
	for _, e := range p.Entries {
		switch e.Kind {
		case registry.Register:
			registers++
		case registry.Update:
			updates++
		}
	}

	return registers, updates
}

// Reconciler builds plans under a duplicate-path policy.
type Reconciler struct {
	Duplicates DuplicatePolicy // Duplicates is the duplicate-path policy
}

// Reconcile builds a plan with the default policy (RejectDuplicates).
func Reconcile(snap *registry.Snapshot, uploads []Upload) (*Plan, error) {
	return Reconciler{}.Reconcile(snap, uploads)
}

// Reconcile maps each upload to an Update when its path exists in the
// snapshot and to a Register otherwise, preserving upload order.
// The snapshot is not modified.
func (r Reconciler) Reconcile(snap *registry.Snapshot, uploads []Upload) (*Plan, error) {
	if snap == nil {
		return nil, fault.Validationf("nil registry snapshot")
	}

	deduped, err := r.dedupe(uploads)
	if err != nil {
		return nil, err
	}

	index := make(map[string]uint64, len(snap.Pages))
	for i, p := range snap.Pages {
		index[p.Path] = uint64(i)
	}

	plan := &Plan{
		ObjectID: snap.ObjectID,
		Version:  snap.Version,
		Entries:  make([]registry.Mutation, 0, len(deduped)),
	}

	for _, u := range deduped {
		if i, ok := index[u.Path]; ok {
			plan.Entries = append(plan.Entries, registry.UpdatePage(i, u.Path, u.ContentRef))
			continue
		}

		plan.Entries = append(plan.Entries, registry.RegisterPage(u.Path, u.ContentRef, nil))
	}

	return plan, nil
}

// dedupe validates and normalizes paths, then applies the duplicate policy.
func (r Reconciler) dedupe(uploads []Upload) ([]Upload, error) {
	pos := make(map[string]int, len(uploads))
	out := make([]Upload, 0, len(uploads))

	for _, u := range uploads {
		if err := registry.ValidatePath(u.Path); err != nil {
			return nil, err
		}

		u.Path = registry.NormalizePath(u.Path)

		i, seen := pos[u.Path]
		if !seen {
			pos[u.Path] = len(out)
			out = append(out, u)
			continue
		}

		if r.Duplicates != KeepLast {
			return nil, fault.Validationf("duplicate path in batch: %s", u.Path)
		}

		out[i] = u
	}

	return out, nil
}

// Verify checks a plan against a freshly read snapshot. A plan built from
// the same version is always valid. Otherwise every Update index must still
// hold its path and no Register path may exist yet.
func Verify(plan *Plan, fresh *registry.Snapshot) error {
	if plan.ObjectID != fresh.ObjectID {
		return fmt.Errorf("%w: plan targets %s, snapshot is %s", ErrStalePlan, plan.ObjectID, fresh.ObjectID)
	}

	if plan.Version == fresh.Version {
		return nil
	}

	for _, e := range plan.Entries {
		switch e.Kind {
		case registry.Register:
			if fresh.IndexOf(e.Path) >= 0 {
				return fmt.Errorf("%w: %s was registered concurrently", ErrStalePlan, e.Path)
			}

		case registry.Update, registry.SetEditors:
			if e.Index >= uint64(len(fresh.Pages)) || fresh.Pages[e.Index].Path != e.Path {
				return fmt.Errorf("%w: index %d no longer holds %s", ErrStalePlan, e.Index, e.Path)
			}
		}
	}

	return nil
}
