// Package blobnet is an in-process blob network: registered blobs are stored
// as shards in pebble and certified by a BLS committee of storage nodes.
package blobnet

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/zeebo/blake3"

	"Press3/internal/blob"
	"Press3/internal/codec"
	"Press3/internal/ledger"
	"Press3/internal/logger"
	"Press3/internal/registry"
	"Press3/internal/storage"
)

// Key prefixes in the shared storage.
var (
	prefixBlob  = []byte("blob/b/")
	prefixShard = []byte("blob/s/")
	keyEpoch    = []byte("blob/m/epoch")
)

var (
	// ErrBadSignature is returned when a register or certify signature does not verify.
	ErrBadSignature = errors.New("invalid signature")

	// ErrIncomplete is returned when certifying a blob whose shards are not all stored.
	ErrIncomplete = errors.New("blob shards incomplete")

	// ErrNotCertified is returned when reading a blob that was never certified.
	ErrNotCertified = errors.New("blob not certified")
)

// record is the stored state of one blob.
type record struct {
	Ref         string       `cbor:"ref"`
	Size        int          `cbor:"size"`
	Owner       string       `cbor:"owner"`
	Registrant  []byte       `cbor:"registrant"`
	BlobObject  string       `cbor:"blob_object"`
	StartEpoch  uint64       `cbor:"start_epoch"`
	EndEpoch    uint64       `cbor:"end_epoch"`
	Shards      [][32]byte   `cbor:"shards"`
	Certificate *Certificate `cbor:"certificate"`
}

// RegisterRequest is a signed storage registration.
type RegisterRequest struct {
	ContentRef string            `json:"contentRef"`
	Size       int               `json:"size"`
	Epochs     uint64            `json:"epochs"`
	Owner      registry.Identity `json:"owner"`
	PublicKey  []byte            `json:"publicKey"`
	Signature  []byte            `json:"signature"`
}

// CertifyRequest is a signed certification of a registered blob.
type CertifyRequest struct {
	ContentRef string `json:"contentRef"`
	BlobObject string `json:"blobObject"`
	PublicKey  []byte `json:"publicKey"`
	Signature  []byte `json:"signature"`
}

// Network is the reference blob network.
type Network struct {
	db        *storage.Storage
	committee *Committee
	encoder   blob.Encoder

	mu sync.Mutex // mu serializes read-modify-write of records and the epoch
}

// New creates a network over db certified by committee.
func New(db *storage.Storage, committee *Committee) *Network {
	return &Network{
		db:        db,
		committee: committee,
		encoder:   blob.ShardEncoder{},
	}
}

// Committee returns the certifying committee.
func (n *Network) Committee() *Committee {
	return n.committee
}

// =============================================================================
// Signed operations
// =============================================================================

// Register verifies and records a storage registration. Registering a known
// blob again keeps its object and extends its end epoch when later.
func (n *Network) Register(req RegisterRequest) (*blob.Registration, error) {
	if _, err := blob.ParseRef(req.ContentRef); err != nil {
		return nil, err
	}

	if req.Epochs == 0 {
		return nil, fmt.Errorf("epochs must be positive")
	}

	if err := registry.ValidateIdentity(req.Owner); err != nil {
		return nil, err
	}

	payload := blob.RegisterPayload(req.ContentRef, req.Size, req.Epochs, req.Owner)
	if !verifySignature(req.PublicKey, payload[:], req.Signature) {
		return nil, ErrBadSignature
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	epoch, err := n.currentEpoch()
	if err != nil {
		return nil, err
	}

	rec, err := n.load(req.ContentRef)
	if err != nil {
		return nil, err
	}

	end := epoch + req.Epochs

	if rec == nil {
		rec = &record{
			Ref:        req.ContentRef,
			Size:       req.Size,
			Owner:      string(req.Owner),
			Registrant: req.PublicKey,
			BlobObject: blobObjectID(req.ContentRef, req.Owner, epoch),
			StartEpoch: epoch,
			EndEpoch:   end,
		}
	} else {
		rec.EndEpoch = max(rec.EndEpoch, end)
		rec.Registrant = req.PublicKey
	}

	if err := n.save(rec); err != nil {
		return nil, err
	}

	txID := txDigest(payload[:], req.Signature)

	logger.Debug("blob registered", "ref", req.ContentRef, "object", rec.BlobObject, "end", rec.EndEpoch)

	return &blob.Registration{TxID: txID, BlobObject: rec.BlobObject, EndEpoch: rec.EndEpoch}, nil
}

// StoreShards writes shards of a registered blob. Shards are verified
// against their ids. Storing the same shards again changes nothing.
func (n *Network) StoreShards(ref string, shards []blob.Shard) error {
	for i, s := range shards {
		if blake3.Sum256(s.Data) != s.ID {
			return fmt.Errorf("shard %d: id mismatch", i)
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	rec, err := n.load(ref)
	if err != nil {
		return err
	}

	if rec == nil {
		return blob.ErrNotRegistered
	}

	ids := make([][32]byte, len(shards))
	ops := make([]storage.Op, 0, len(shards)+1)

	for i, s := range shards {
		ids[i] = s.ID
		ops = append(ops, storage.Op{Key: shardKey(s.ID), Value: s.Data})
	}

	rec.Shards = ids

	data, err := codec.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record:\n%w", err)
	}

	ops = append(ops, storage.Op{Key: blobKey(ref), Value: data})

	return n.db.Apply(ops)
}

// Certify verifies the registrant's signature, checks every shard is
// present and collects a committee certificate. Returns the certify tx id.
func (n *Network) Certify(req CertifyRequest) (string, error) {
	payload := blob.CertifyPayload(req.BlobObject, req.ContentRef)
	if !verifySignature(req.PublicKey, payload[:], req.Signature) {
		return "", ErrBadSignature
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	rec, err := n.load(req.ContentRef)
	if err != nil {
		return "", err
	}

	if rec == nil || rec.BlobObject != req.BlobObject {
		return "", blob.ErrNotRegistered
	}

	if !ed25519.PublicKey(rec.Registrant).Equal(ed25519.PublicKey(req.PublicKey)) {
		return "", fmt.Errorf("%w: certifier is not the registrant", ErrBadSignature)
	}

	if err := n.checkShards(rec); err != nil {
		return "", err
	}

	cert, err := n.committee.Attest(attestation(rec))
	if err != nil {
		return "", fmt.Errorf("certify %s:\n%w", rec.Ref, err)
	}

	rec.Certificate = cert

	if err := n.save(rec); err != nil {
		return "", err
	}

	logger.Debug("blob certified", "ref", rec.Ref, "signers", len(parseSignerBitmap(cert.Signers)))

	return txDigest(payload[:], req.Signature), nil
}

// =============================================================================
// Reads
// =============================================================================

// Expiry returns the end epoch of a blob, nil when it was never registered.
func (n *Network) Expiry(_ context.Context, ref string) (*uint64, error) {
	rec, err := n.load(ref)
	if err != nil || rec == nil {
		return nil, err
	}

	end := rec.EndEpoch

	return &end, nil
}

// CurrentEpoch returns the current epoch.
func (n *Network) CurrentEpoch(context.Context) (uint64, error) {
	return n.currentEpoch()
}

// Read reassembles and decodes a certified blob. The certificate is
// checked against the committee before any shard is read.
func (n *Network) Read(_ context.Context, ref string) ([]byte, error) {
	rec, err := n.load(ref)
	if err != nil {
		return nil, err
	}

	if rec == nil {
		return nil, blob.ErrNotFound
	}

	if !n.committee.Verify(rec.Certificate, attestation(rec)) {
		return nil, ErrNotCertified
	}

	shards := make([]blob.Shard, len(rec.Shards))
	for i, id := range rec.Shards {
		data, err := n.db.Get(shardKey(id))
		if err != nil {
			return nil, fmt.Errorf("read shard %d:\n%w", i, err)
		}

		if data == nil {
			return nil, fmt.Errorf("%w: shard %d missing", ErrIncomplete, i)
		}

		shards[i] = blob.Shard{ID: id, Data: data}
	}

	return n.encoder.Decode(ref, shards)
}

// AdvanceEpoch moves the network forward by delta epochs and returns the new epoch.
func (n *Network) AdvanceEpoch(delta uint64) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	epoch, err := n.currentEpoch()
	if err != nil {
		return 0, err
	}

	epoch += delta

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], epoch)

	if err := n.db.Set(keyEpoch, buf[:]); err != nil {
		return 0, fmt.Errorf("write epoch:\n%w", err)
	}

	return epoch, nil
}

// =============================================================================
// In-process blob.Network
// =============================================================================

// Local adapts the network to blob.Network for in-process callers,
// signing requests with the caller's signer.
type Local struct {
	*Network
}

// RegisterStorage signs and submits a registration.
func (l Local) RegisterStorage(ctx context.Context, h *blob.Handle, epochs uint64, owner registry.Identity, signer ledger.Signer) (*blob.Registration, error) {
	payload := blob.RegisterPayload(h.ContentRef, h.Size, epochs, owner)

	sig, err := signer.Sign(ctx, payload[:])
	if err != nil {
		return nil, fmt.Errorf("sign registration:\n%w", err)
	}

	return l.Register(RegisterRequest{
		ContentRef: h.ContentRef,
		Size:       h.Size,
		Epochs:     epochs,
		Owner:      owner,
		PublicKey:  signer.PublicKey(),
		Signature:  sig,
	})
}

// Store writes the handle's shards.
func (l Local) Store(_ context.Context, h *blob.Handle) error {
	return l.StoreShards(h.ContentRef, h.Shards)
}

// Certify signs and submits a certification.
func (l Local) Certify(ctx context.Context, h *blob.Handle, signer ledger.Signer) (string, error) {
	payload := blob.CertifyPayload(h.BlobObject, h.ContentRef)

	sig, err := signer.Sign(ctx, payload[:])
	if err != nil {
		return "", fmt.Errorf("sign certification:\n%w", err)
	}

	return l.Network.Certify(CertifyRequest{
		ContentRef: h.ContentRef,
		BlobObject: h.BlobObject,
		PublicKey:  signer.PublicKey(),
		Signature:  sig,
	})
}

// =============================================================================
// Helpers
// =============================================================================

// load reads a blob record, nil when absent.
func (n *Network) load(ref string) (*record, error) {
	data, err := n.db.Get(blobKey(ref))
	if err != nil {
		return nil, fmt.Errorf("read record:\n%w", err)
	}

	if data == nil {
		return nil, nil
	}

	var rec record
	if err := codec.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record:\n%w", err)
	}

	return &rec, nil
}

// save writes a blob record.
func (n *Network) save(rec *record) error {
	data, err := codec.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record:\n%w", err)
	}

	return n.db.Set(blobKey(rec.Ref), data)
}

// checkShards verifies every shard of rec is stored.
func (n *Network) checkShards(rec *record) error {
	if len(rec.Shards) == 0 {
		return ErrIncomplete
	}

	for i, id := range rec.Shards {
		ok, err := n.db.Has(shardKey(id))
		if err != nil {
			return fmt.Errorf("check shard %d:\n%w", i, err)
		}

		if !ok {
			return fmt.Errorf("%w: shard %d missing", ErrIncomplete, i)
		}
	}

	return nil
}

// currentEpoch reads the stored epoch, 0 before the first advance.
func (n *Network) currentEpoch() (uint64, error) {
	data, err := n.db.Get(keyEpoch)
	if err != nil {
		return 0, fmt.Errorf("read epoch:\n%w", err)
	}

	if len(data) != 8 {
		return 0, nil
	}

	return binary.BigEndian.Uint64(data), nil
}

// attestation is the message storage nodes sign for a blob:
// blake3(ref || blob object || shard ids).
func attestation(rec *record) []byte {
	h := blake3.New()
	h.Write([]byte(rec.Ref))
	h.Write([]byte(rec.BlobObject))

	for _, id := range rec.Shards {
		h.Write(id[:])
	}

	return h.Sum(nil)
}

// blobObjectID derives the storage record id of a registration.
func blobObjectID(ref string, owner registry.Identity, epoch uint64) string {
	h := blake3.New()
	h.Write([]byte("press3-blob-object"))
	h.Write([]byte(ref))
	h.Write([]byte(owner))

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], epoch)
	h.Write(buf[:])

	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// txDigest derives a transaction id from a signed payload.
func txDigest(payload, sig []byte) string {
	h := blake3.New()
	h.Write(payload)
	h.Write(sig)

	var sum [32]byte
	h.Sum(sum[:0])

	return ledger.DigestOf(sum)
}

func verifySignature(pub, msg, sig []byte) bool {
	return len(pub) == ed25519.PublicKeySize && ed25519.Verify(pub, msg, sig)
}

func blobKey(ref string) []byte {
	return append(append([]byte(nil), prefixBlob...), ref...)
}

func shardKey(id [32]byte) []byte {
	return append(append([]byte(nil), prefixShard...), id[:]...)
}
