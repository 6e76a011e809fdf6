// Package blob uploads page content to the blob network in four phases:
// encode, register, store and certify.
package blob

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/zeebo/blake3"

	"Press3/internal/ledger"
	"Press3/internal/registry"
)

var (
	// ErrNotFound is returned when a content reference is unknown to the network.
	ErrNotFound = errors.New("blob not found")

	// ErrNotRegistered is returned when storing or certifying an unregistered blob.
	ErrNotRegistered = errors.New("blob not registered")
)

// Shard is one fixed-size piece of an encoded blob.
type Shard struct {
	ID   [32]byte `json:"id"`   // ID is blake3 of Data
	Data []byte   `json:"data"` // Data is the shard payload
}

// Handle is an encoded blob moving through the upload phases.
// The same handle must be reused to resume a failed phase.
type Handle struct {
	ContentRef string  // ContentRef is the content-derived blob identifier
	Size       int     // Size is the unencoded byte count
	Shards     []Shard // Shards hold the encoded bytes in order
	BlobObject string  // BlobObject is set by a successful Register
	RegisterTx string  // RegisterTx is set by a successful Register
	Epochs     uint64  // Epochs is the retention requested at Register
}

// EncodedSize returns the total shard byte count.
func (h *Handle) EncodedSize() int {
	n := 0
	for _, s := range h.Shards {
		n += len(s.Data)
	}

	return n
}

// ShardIDs returns the shard ids in order.
func (h *Handle) ShardIDs() [][32]byte {
	ids := make([][32]byte, len(h.Shards))
	for i, s := range h.Shards {
		ids[i] = s.ID
	}

	return ids
}

// Registration is the result of registering storage for a blob.
type Registration struct {
	TxID       string `json:"txId"`       // TxID identifies the register transaction
	BlobObject string `json:"blobObject"` // BlobObject is the on-ledger storage record
	EndEpoch   uint64 `json:"endEpoch"`   // EndEpoch is the last epoch the blob is stored for
}

// Network is the blob network surface the uploader and health checker use.
type Network interface {
	// RegisterStorage reserves storage for a blob for the given number of epochs. Signed.
	RegisterStorage(ctx context.Context, h *Handle, epochs uint64, owner registry.Identity, signer ledger.Signer) (*Registration, error)

	// Store uploads the shards of a registered blob. Idempotent.
	Store(ctx context.Context, h *Handle) error

	// Certify marks a stored blob as available. Signed. Returns the certify tx id.
	Certify(ctx context.Context, h *Handle, signer ledger.Signer) (string, error)

	// Expiry returns the end epoch of a blob's storage, nil when no record exists.
	Expiry(ctx context.Context, ref string) (*uint64, error)

	// CurrentEpoch returns the network's current epoch.
	CurrentEpoch(ctx context.Context) (uint64, error)

	// Read returns the content bytes of a certified blob.
	Read(ctx context.Context, ref string) ([]byte, error)
}

// Domain tags keep register and certify signatures from being interchangeable.
const (
	registerDomain = "press3/blob/register"
	certifyDomain  = "press3/blob/certify"
)

// RegisterPayload returns the digest an owner signs to register storage.
func RegisterPayload(ref string, size int, epochs uint64, owner registry.Identity) [32]byte {
	h := blake3.New()
	writeField(h, []byte(registerDomain))
	writeField(h, []byte(ref))
	writeUint(h, uint64(size))
	writeUint(h, epochs)
	writeField(h, []byte(owner))

	var sum [32]byte
	h.Sum(sum[:0])

	return sum
}

// CertifyPayload returns the digest signed to certify a registered blob.
func CertifyPayload(blobObject, ref string) [32]byte {
	h := blake3.New()
	writeField(h, []byte(certifyDomain))
	writeField(h, []byte(blobObject))
	writeField(h, []byte(ref))

	var sum [32]byte
	h.Sum(sum[:0])

	return sum
}

// writeField writes a u32 length prefix then the bytes.
func writeField(h *blake3.Hasher, b []byte) {
	writeUint32(h, uint32(len(b)))
	h.Write(b)
}

func writeUint32(h *blake3.Hasher, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	h.Write(buf[:])
}

func writeUint(h *blake3.Hasher, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	h.Write(buf[:])
}
