package publish

import (
	"context"
	"fmt"

	"Press3/internal/editors"
	"Press3/internal/fault"
	"Press3/internal/reconcile"
	"Press3/internal/registry"
)

// EditorsResult is the outcome of an editor-set update.
type EditorsResult struct {
	Path    string              `json:"path"`             // Path is the page whose editors changed
	Index   uint64              `json:"index"`            // Index is the page position at commit time
	Editors []registry.Identity `json:"editors"`          // Editors is the resulting editor set
	Changed bool                `json:"changed"`          // Changed is false when the set was already as requested
	Digest  string              `json:"digest,omitempty"` // Digest identifies the commit transaction
}

// UpdateEditors adds and removes editors of one page in a single
// SetEditors transaction. Identities are normalized to the ledger's
// canonical form before the set is computed. Nothing is submitted when
// the set does not change.
func (p *Publisher) UpdateEditors(ctx context.Context, path string, add, remove []registry.Identity) (*EditorsResult, error) {
	path = registry.NormalizePath(path)
	if err := registry.ValidatePath(path); err != nil {
		return nil, err
	}

	addN, err := normalizeIdentities(add)
	if err != nil {
		return nil, err
	}

	removeN, err := normalizeIdentities(remove)
	if err != nil {
		return nil, err
	}

	if err := p.awaitReady(ctx); err != nil {
		return nil, err
	}

	snap, err := p.readRegistry(ctx)
	if err != nil {
		return nil, err
	}

	idx := snap.IndexOf(path)
	if idx < 0 {
		return nil, fault.Validationf("page %s is not registered", path)
	}

	current := snap.Pages[idx].Editors

	next, err := editors.Mutate(current, addN, removeN)
	if err != nil {
		return nil, err
	}

	res := &EditorsResult{Path: path, Index: uint64(idx), Editors: next}

	if !editors.Changed(current, next) {
		return res, nil
	}

	plan := &reconcile.Plan{
		ObjectID: snap.ObjectID,
		Version:  snap.Version,
		Entries:  []registry.Mutation{registry.ReplaceEditors(uint64(idx), path, next)},
	}

	fresh, err := p.readRegistry(ctx)
	if err != nil {
		return nil, err
	}

	if err := reconcile.Verify(plan, fresh); err != nil {
		return nil, fault.New(fault.ExternalUnavailable, "reconcile", err)
	}

	sub, err := p.builder.BuildAndSubmit(ctx, plan.Entries, p.signer)
	if err != nil {
		return nil, fmt.Errorf("set editors of %s:\n%w", path, err)
	}

	res.Changed = true
	res.Digest = sub.Digest

	return res, nil
}

// normalizeIdentities validates and canonicalizes identities, failing on the first bad one.
func normalizeIdentities(ids []registry.Identity) ([]registry.Identity, error) {
	out := make([]registry.Identity, 0, len(ids))

	for _, id := range ids {
		n, err := registry.NormalizeIdentity(id)
		if err != nil {
			return nil, err
		}

		out = append(out, n)
	}

	return out, nil
}
