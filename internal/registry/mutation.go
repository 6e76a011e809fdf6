package registry

import "fmt"

// MutationKind tags a Mutation variant.
type MutationKind int

const (
	// Register appends a new page to the registry.
	Register MutationKind = iota + 1

	// Update replaces the content reference of the page at Index.
	Update

	// SetEditors replaces the editor list of the page at Index.
	SetEditors
)

// String returns the variant name.
func (k MutationKind) String() string {
	switch k {
	case Register:
		return "register"
	case Update:
		return "update"
	case SetEditors:
		return "set-editors"
	default:
		return fmt.Sprintf("mutation(%d)", int(k))
	}
}

// Mutation is one entry of a mutation plan. Which fields are meaningful
// depends on Kind:
//
//	Register:   Path, ContentRef, Editors (initial editors)
//	Update:     Index, Path, ContentRef
//	SetEditors: Index, Path, Editors
//
// Index is only valid against the snapshot the plan was built from.
type Mutation struct {
	Kind       MutationKind `json:"kind"`
	Index      uint64       `json:"index,omitempty"`
	Path       string       `json:"path"`
	ContentRef string       `json:"contentRef,omitempty"`
	Editors    []Identity   `json:"editors,omitempty"`
}

// RegisterPage builds a Register mutation.
func RegisterPage(path, ref string, editors []Identity) Mutation {
	if editors == nil {
		editors = []Identity{}
	}

	return Mutation{Kind: Register, Path: path, ContentRef: ref, Editors: editors}
}

// UpdatePage builds an Update mutation.
func UpdatePage(index uint64, path, ref string) Mutation {
	return Mutation{Kind: Update, Index: index, Path: path, ContentRef: ref}
}

// ReplaceEditors builds a SetEditors mutation.
func ReplaceEditors(index uint64, path string, editors []Identity) Mutation {
	return Mutation{Kind: SetEditors, Index: index, Path: path, Editors: editors}
}

// String renders the mutation for logs.
func (m Mutation) String() string {
	switch m.Kind {
	case Register:
		return fmt.Sprintf("Register(%s, %s, %d editors)", m.Path, m.ContentRef, len(m.Editors))
	case Update:
		return fmt.Sprintf("Update(%d, %s, %s)", m.Index, m.Path, m.ContentRef)
	case SetEditors:
		return fmt.Sprintf("SetEditors(%d, %s, %d editors)", m.Index, m.Path, len(m.Editors))
	default:
		return m.Kind.String()
	}
}
