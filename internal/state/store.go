package state

import (
	"fmt"

	"Press3/internal/codec"
	"Press3/internal/registry"
	"Press3/internal/storage"
)

// objectKeyPrefix is the Pebble key prefix for ledger objects.
var objectKeyPrefix = []byte("ledger/o/")

// ObjectKind tags what an object holds.
type ObjectKind int

const (
	// KindProgram is a deployed registry program.
	KindProgram ObjectKind = iota + 1

	// KindRegistry is a shared page registry.
	KindRegistry
)

// Object is the stored form of a ledger object.
type Object struct {
	ID       registry.ObjectID `cbor:"id"`
	Version  uint64            `cbor:"version"`
	Kind     ObjectKind        `cbor:"kind"`
	Owner    registry.Identity `cbor:"owner"`
	Registry *RegistryContent  `cbor:"registry,omitempty"`
}

// RegistryContent is the content of a registry object.
type RegistryContent struct {
	Program registry.ObjectID     `cbor:"program"`
	Admins  []registry.Identity   `cbor:"admins"`
	Pages   []registry.PageRecord `cbor:"pages"`
}

// clone returns a deep copy so a transaction can mutate it freely.
func (r *RegistryContent) clone() *RegistryContent {
	out := &RegistryContent{
		Program: r.Program,
		Admins:  append([]registry.Identity(nil), r.Admins...),
		Pages:   make([]registry.PageRecord, len(r.Pages)),
	}

	for i, p := range r.Pages {
		p.Editors = append([]registry.Identity{}, p.Editors...)
		out.Pages[i] = p
	}

	return out
}

// objectStore holds objects indexed by ID, backed by persistent storage.
type objectStore struct {
	db *storage.Storage
}

// newObjectStore creates an object store backed by the given storage.
func newObjectStore(db *storage.Storage) *objectStore {
	return &objectStore{db: db}
}

// get retrieves an object by ID. Returns nil if not found.
func (s *objectStore) get(id registry.ObjectID) (*Object, error) {
	data, err := s.db.Get(makeObjectKey(id))
	if err != nil {
		return nil, fmt.Errorf("read object %s:\n%w", id, err)
	}

	if data == nil {
		return nil, nil
	}

	var obj Object
	if err := codec.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("decode object %s:\n%w", id, err)
	}

	return &obj, nil
}

// op encodes obj as a storage write for an atomic Apply.
func (s *objectStore) op(obj *Object) (storage.Op, error) {
	data, err := codec.Marshal(obj)
	if err != nil {
		return storage.Op{}, fmt.Errorf("encode object %s:\n%w", obj.ID, err)
	}

	return storage.Op{Key: makeObjectKey(obj.ID), Value: data}, nil
}

// count returns the number of stored objects.
func (s *objectStore) count() (int, error) {
	n := 0

	err := s.db.IteratePrefix(objectKeyPrefix, func(_, _ []byte) error {
		n++
		return nil
	})

	return n, err
}

// makeObjectKey builds the Pebble key for an object: prefix + id bytes.
func makeObjectKey(id registry.ObjectID) []byte {
	key := make([]byte, len(objectKeyPrefix)+len(id))
	copy(key, objectKeyPrefix)
	copy(key[len(objectKeyPrefix):], id[:])

	return key
}
