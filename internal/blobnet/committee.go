package blobnet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	blst "github.com/supranational/blst/bindings/go"
	"github.com/zeebo/blake3"
)

const (
	// BLSPublicKeySize is the size of a compressed BLS public key.
	BLSPublicKeySize = 48

	// BLSSignatureSize is the size of a compressed BLS signature.
	BLSSignatureSize = 96
)

// ErrNoQuorum is returned when too few storage nodes are online to certify.
var ErrNoQuorum = errors.New("quorum not reached")

// blsDST is the domain separation tag for storage attestations.
var blsDST = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_")

// nodeKey is one storage node's BLS key pair.
type nodeKey struct {
	secret *blst.SecretKey
	public *blst.P1Affine
}

// Committee is the set of storage nodes that attest to stored blobs.
// A blob is certified once a quorum of nodes has signed its attestation.
type Committee struct {
	keys []*nodeKey

	mu      sync.RWMutex
	offline map[int]bool // offline nodes refuse to attest
}

// NewCommittee derives size node keys from seed. Equal seeds give equal committees.
func NewCommittee(seed []byte, size int) (*Committee, error) {
	if size <= 0 {
		return nil, fmt.Errorf("committee size must be positive")
	}

	c := &Committee{offline: make(map[int]bool)}

	for i := 0; i < size; i++ {
		h := blake3.New()
		h.Write([]byte("press3-storage-node-keygen"))
		h.Write(seed)

		var idx [4]byte
		binary.LittleEndian.PutUint32(idx[:], uint32(i))
		h.Write(idx[:])

		var ikm [32]byte
		h.Sum(ikm[:0])

		secret := blst.KeyGen(ikm[:])
		if secret == nil {
			return nil, fmt.Errorf("failed to generate key for node %d", i)
		}

		c.keys = append(c.keys, &nodeKey{
			secret: secret,
			public: new(blst.P1Affine).From(secret),
		})
	}

	return c, nil
}

// Size returns the number of nodes.
func (c *Committee) Size() int {
	return len(c.keys)
}

// Quorum returns the number of attestations a certificate needs: 2f+1 of 3f+1.
func (c *Committee) Quorum() int {
	n := len(c.keys)
	return n - (n-1)/3
}

// SetOffline marks a node unavailable (or back online).
func (c *Committee) SetOffline(node int, offline bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.offline[node] = offline
}

// PublicKeys returns the compressed node public keys in node order.
func (c *Committee) PublicKeys() [][]byte {
	out := make([][]byte, len(c.keys))
	for i, k := range c.keys {
		out[i] = k.public.Compress()
	}

	return out
}

// Certificate is an aggregated attestation over a blob's storage message.
type Certificate struct {
	Signature []byte `cbor:"signature" json:"signature"` // Signature is the aggregated BLS signature
	Signers   []byte `cbor:"signers" json:"signers"`     // Signers is a bitmap of attesting nodes
}

// Attest collects signatures from online nodes and aggregates them.
// Fails when fewer than a quorum of nodes are online.
func (c *Committee) Attest(message []byte) (*Certificate, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var (
		sigs    []*blst.P2Affine
		signers []int
	)

	for i, k := range c.keys {
		if c.offline[i] {
			continue
		}

		sigs = append(sigs, new(blst.P2Affine).Sign(k.secret, message, blsDST))
		signers = append(signers, i)
	}

	if len(sigs) < c.Quorum() {
		return nil, fmt.Errorf("%w: %d of %d attestations", ErrNoQuorum, len(sigs), c.Quorum())
	}

	agg := new(blst.P2Aggregate)
	if !agg.Aggregate(sigs, false) {
		return nil, fmt.Errorf("signature aggregation failed")
	}

	return &Certificate{
		Signature: agg.ToAffine().Compress(),
		Signers:   buildSignerBitmap(signers, len(c.keys)),
	}, nil
}

// Verify checks a certificate against message: the signers must form a
// quorum and the aggregated signature must match their aggregated keys.
func (c *Committee) Verify(cert *Certificate, message []byte) bool {
	if cert == nil || len(cert.Signature) != BLSSignatureSize {
		return false
	}

	signers := parseSignerBitmap(cert.Signers)
	if len(signers) < c.Quorum() {
		return false
	}

	sig := new(blst.P2Affine).Uncompress(cert.Signature)
	if sig == nil {
		return false
	}

	pks := make([]*blst.P1Affine, 0, len(signers))
	for _, idx := range signers {
		if idx >= len(c.keys) {
			return false
		}

		pks = append(pks, c.keys[idx].public)
	}

	aggPk := new(blst.P1Aggregate)
	if !aggPk.Aggregate(pks, false) {
		return false
	}

	return sig.Verify(true, aggPk.ToAffine(), true, message, blsDST)
}

// buildSignerBitmap sets bit i for each signing node index.
func buildSignerBitmap(indices []int, total int) []byte {
	bitmap := make([]byte, (total+7)/8)

	for _, idx := range indices {
		if idx >= 0 && idx < total {
			bitmap[idx/8] |= 1 << (idx % 8)
		}
	}

	return bitmap
}

// parseSignerBitmap returns the node indices set in bitmap.
func parseSignerBitmap(bitmap []byte) []int {
	var indices []int

	for byteIdx, b := range bitmap {
		for bit := 0; bit < 8; bit++ {
			if b&(1<<bit) != 0 {
				indices = append(indices, byteIdx*8+bit)
			}
		}
	}

	return indices
}
