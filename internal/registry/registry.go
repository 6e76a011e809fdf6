// Package registry holds the page registry data model shared by the
// reconciler, the transaction builder and the reference ledger.
package registry

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ObjectID identifies a ledger object (a registry or a deployed program).
type ObjectID [32]byte

// String renders the id as 0x-prefixed lowercase hex.
func (id ObjectID) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

// IsZero reports whether the id is unset.
func (id ObjectID) IsZero() bool {
	return id == ObjectID{}
}

// ParseObjectID parses a 0x-prefixed 64-digit hex object id.
func ParseObjectID(s string) (ObjectID, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(s), "0x")

	b, err := hex.DecodeString(raw)
	if err != nil || len(b) != 32 {
		return ObjectID{}, fmt.Errorf("invalid object id: %q", s)
	}

	var id ObjectID
	copy(id[:], b)

	return id, nil
}

// MarshalText renders the id as hex in JSON and YAML.
func (id ObjectID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses a hex id.
func (id *ObjectID) UnmarshalText(text []byte) error {
	parsed, err := ParseObjectID(string(text))
	if err != nil {
		return err
	}

	*id = parsed

	return nil
}

// PageRecord is one entry of the on-chain page sequence.
type PageRecord struct {
	Path       string     `cbor:"path" json:"path"`              // Path is the normalized page path (unique key)
	ContentRef string     `cbor:"content_ref" json:"contentRef"` // ContentRef addresses the page bytes in the blob network
	Editors    []Identity `cbor:"editors" json:"editors"`        // Editors may update the page content
}

// Snapshot is a point-in-time read of a registry object.
// It is never mutated locally; the ledger is the only writer.
type Snapshot struct {
	ObjectID ObjectID     `json:"objectId"` // ObjectID is the registry object read
	Version  uint64       `json:"version"`  // Version is the object version at read time
	Admins   []Identity   `json:"admins"`   // Admins may register pages and set editors
	Pages    []PageRecord `json:"pages"`    // Pages is the ordered page sequence; position is the index
}

// IndexOf returns the index of path in the snapshot, or -1.
func (s *Snapshot) IndexOf(path string) int {
	for i, p := range s.Pages {
		if p.Path == path {
			return i
		}
	}

	return -1
}

// IsAdmin reports whether id is in the admin set.
func (s *Snapshot) IsAdmin(id Identity) bool {
	for _, a := range s.Admins {
		if a == id {
			return true
		}
	}

	return false
}
