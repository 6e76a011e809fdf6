package ledger

import (
	"encoding/binary"
	"fmt"

	"Press3/internal/registry"
)

// Registry program entrypoints.
const (
	FnRegisterPage      = "register_page"
	FnUpdatePageContent = "update_page_content"
	FnSetEditors        = "set_editors"
)

// Call is one entrypoint invocation inside a transaction.
type Call struct {
	Function string // Function is the entrypoint name
	Args     []byte // Args is the Borsh-encoded argument tuple
}

// EncodeMutation compiles a mutation into its entrypoint call.
//
//	register_page(path: String, content_ref: String, editors: Vec<String>)
//	update_page_content(index: u64, path: String, content_ref: String)
//	set_editors(index: u64, path: String, editors: Vec<String>)
func EncodeMutation(m registry.Mutation) (Call, error) {
	var buf []byte

	switch m.Kind {
	case registry.Register:
		buf = appendString(buf, m.Path)
		buf = appendString(buf, m.ContentRef)
		buf = appendIdentities(buf, m.Editors)

		return Call{Function: FnRegisterPage, Args: buf}, nil

	case registry.Update:
		buf = binary.LittleEndian.AppendUint64(buf, m.Index)
		buf = appendString(buf, m.Path)
		buf = appendString(buf, m.ContentRef)

		return Call{Function: FnUpdatePageContent, Args: buf}, nil

	case registry.SetEditors:
		buf = binary.LittleEndian.AppendUint64(buf, m.Index)
		buf = appendString(buf, m.Path)
		buf = appendIdentities(buf, m.Editors)

		return Call{Function: FnSetEditors, Args: buf}, nil

	default:
		return Call{}, fmt.Errorf("unknown mutation kind %d", m.Kind)
	}
}

// DecodeCall reverses EncodeMutation.
func DecodeCall(c Call) (registry.Mutation, error) {
	r := &argReader{data: c.Args}
	var m registry.Mutation

	switch c.Function {
	case FnRegisterPage:
		m.Kind = registry.Register
		m.Path = r.string()
		m.ContentRef = r.string()
		m.Editors = r.identities()

	case FnUpdatePageContent:
		m.Kind = registry.Update
		m.Index = r.u64()
		m.Path = r.string()
		m.ContentRef = r.string()

	case FnSetEditors:
		m.Kind = registry.SetEditors
		m.Index = r.u64()
		m.Path = r.string()
		m.Editors = r.identities()

	default:
		return registry.Mutation{}, fmt.Errorf("unknown entrypoint %q", c.Function)
	}

	if r.err != nil {
		return registry.Mutation{}, fmt.Errorf("decode %s args:\n%w", c.Function, r.err)
	}

	if len(r.data) != 0 {
		return registry.Mutation{}, fmt.Errorf("decode %s args: %d trailing bytes", c.Function, len(r.data))
	}

	return m, nil
}

// appendString appends a Borsh String: u32 LE length + UTF-8 bytes.
func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// appendIdentities appends a Borsh Vec<String>: u32 LE count + strings.
func appendIdentities(buf []byte, ids []registry.Identity) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(ids)))

	for _, id := range ids {
		buf = appendString(buf, string(id))
	}

	return buf
}

// argReader consumes Borsh values, recording the first error.
type argReader struct {
	data []byte
	err  error
}

func (r *argReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}

	if len(r.data) < n {
		r.err = fmt.Errorf("short args: need %d bytes, have %d", n, len(r.data))
		return nil
	}

	out := r.data[:n]
	r.data = r.data[n:]

	return out
}

func (r *argReader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}

	return binary.LittleEndian.Uint32(b)
}

func (r *argReader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}

	return binary.LittleEndian.Uint64(b)
}

func (r *argReader) string() string {
	n := r.u32()
	return string(r.take(int(n)))
}

func (r *argReader) identities() []registry.Identity {
	n := r.u32()
	if r.err != nil {
		return nil
	}

	// Each element needs at least its 4-byte length prefix.
	if int(n) > len(r.data)/4 {
		r.err = fmt.Errorf("vector length %d exceeds args", n)
		return nil
	}

	ids := make([]registry.Identity, 0, n)
	for i := uint32(0); i < n && r.err == nil; i++ {
		ids = append(ids, registry.Identity(r.string()))
	}

	return ids
}
