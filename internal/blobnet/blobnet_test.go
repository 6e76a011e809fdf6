package blobnet

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"Press3/internal/blob"
	"Press3/internal/fault"
	"Press3/internal/ledger"
	"Press3/internal/storage"
)

// newTestNetwork creates a network over in-memory storage with a 4-node committee.
func newTestNetwork(t *testing.T) *Network {
	t.Helper()

	db, err := storage.NewInMemory()
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	committee, err := NewCommittee([]byte("test-seed"), 4)
	if err != nil {
		t.Fatalf("committee: %v", err)
	}

	return New(db, committee)
}

func newSigner(t *testing.T) *ledger.Ed25519Signer {
	t.Helper()

	s, err := ledger.GenerateSigner()
	if err != nil {
		t.Fatalf("signer: %v", err)
	}

	return s
}

// =============================================================================
// Committee Tests
// =============================================================================

// TestCommittee_Quorum verifies the 2f+1 quorum for common sizes.
func TestCommittee_Quorum(t *testing.T) {
	cases := map[int]int{1: 1, 4: 3, 7: 5, 10: 7}

	for size, want := range cases {
		c, err := NewCommittee([]byte("seed"), size)
		if err != nil {
			t.Fatalf("committee %d: %v", size, err)
		}

		if c.Quorum() != want {
			t.Errorf("size %d: expected quorum %d, got %d", size, want, c.Quorum())
		}
	}
}

// TestCommittee_AttestVerify verifies an aggregated certificate verifies for its message only.
func TestCommittee_AttestVerify(t *testing.T) {
	c, _ := NewCommittee([]byte("seed"), 4)
	msg := []byte("blob attestation")

	cert, err := c.Attest(msg)
	if err != nil {
		t.Fatalf("attest: %v", err)
	}

	if len(cert.Signature) != BLSSignatureSize {
		t.Errorf("signature size: got %d", len(cert.Signature))
	}

	if !c.Verify(cert, msg) {
		t.Error("certificate should verify")
	}

	if c.Verify(cert, []byte("other")) {
		t.Error("certificate should not verify a different message")
	}
}

// TestCommittee_Deterministic verifies equal seeds derive equal keys.
func TestCommittee_Deterministic(t *testing.T) {
	a, _ := NewCommittee([]byte("seed"), 3)
	b, _ := NewCommittee([]byte("seed"), 3)

	for i, pk := range a.PublicKeys() {
		if !bytes.Equal(pk, b.PublicKeys()[i]) {
			t.Errorf("node %d key differs", i)
		}
	}
}

// TestCommittee_NoQuorum verifies attestation fails with too many offline nodes.
func TestCommittee_NoQuorum(t *testing.T) {
	c, _ := NewCommittee([]byte("seed"), 4)
	c.SetOffline(0, true)

	if _, err := c.Attest([]byte("m")); err != nil {
		t.Fatalf("one offline node should still reach quorum: %v", err)
	}

	c.SetOffline(1, true)

	if _, err := c.Attest([]byte("m")); err == nil {
		t.Error("expected quorum failure with two offline nodes")
	}
}

// TestCommittee_ForgedSigners verifies a certificate with too few signers is rejected.
func TestCommittee_ForgedSigners(t *testing.T) {
	c, _ := NewCommittee([]byte("seed"), 4)
	cert, _ := c.Attest([]byte("m"))

	cert.Signers = buildSignerBitmap([]int{0}, 4)

	if c.Verify(cert, []byte("m")) {
		t.Error("sub-quorum certificate should not verify")
	}
}

// =============================================================================
// Network Tests
// =============================================================================

// TestNetwork_UploadAndRead verifies the uploader round trip through the network.
func TestNetwork_UploadAndRead(t *testing.T) {
	n := newTestNetwork(t)
	signer := newSigner(t)
	u := blob.NewUploader(Local{n}, signer)
	u.WithEncoder(blob.ShardEncoder{ShardSize: 64})

	content := bytes.Repeat([]byte("press3 page "), 100)

	rcpt, err := u.Upload(context.Background(), content, "/index.html", signer.Address(), 3)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	got, err := n.Read(context.Background(), rcpt.ContentRef)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if !bytes.Equal(got, content) {
		t.Error("content mismatch")
	}

	end, err := n.Expiry(context.Background(), rcpt.ContentRef)
	if err != nil || end == nil || *end != 3 {
		t.Errorf("expected end epoch 3, got %v (%v)", end, err)
	}
}

// TestNetwork_StoreIdempotent verifies storing twice leaves the same readable content.
func TestNetwork_StoreIdempotent(t *testing.T) {
	n := newTestNetwork(t)
	signer := newSigner(t)
	local := Local{n}
	u := blob.NewUploader(local, signer)

	h, _ := u.Encode([]byte("twice"))
	if err := u.Register(context.Background(), h, signer.Address(), 2); err != nil {
		t.Fatalf("register: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := local.Store(context.Background(), h); err != nil {
			t.Fatalf("store %d: %v", i, err)
		}
	}

	if _, err := u.Certify(context.Background(), h); err != nil {
		t.Fatalf("certify: %v", err)
	}

	got, err := n.Read(context.Background(), h.ContentRef)
	if err != nil || string(got) != "twice" {
		t.Errorf("unexpected read: %q (%v)", got, err)
	}
}

// TestNetwork_StoreUnregistered verifies shards of an unknown blob are refused.
func TestNetwork_StoreUnregistered(t *testing.T) {
	n := newTestNetwork(t)
	h, _ := blob.ShardEncoder{}.Encode([]byte("x"))

	if err := n.StoreShards(h.ContentRef, h.Shards); !errors.Is(err, blob.ErrNotRegistered) {
		t.Errorf("expected ErrNotRegistered, got %v", err)
	}
}

// TestNetwork_CertifyWithoutQuorum verifies a certify failure is a resumable partial commit.
func TestNetwork_CertifyWithoutQuorum(t *testing.T) {
	n := newTestNetwork(t)
	signer := newSigner(t)
	u := blob.NewUploader(Local{n}, signer)

	n.Committee().SetOffline(0, true)
	n.Committee().SetOffline(1, true)

	_, err := u.Upload(context.Background(), []byte("page"), "/a", signer.Address(), 2)
	if !fault.Is(err, fault.PartialCommit) {
		t.Fatalf("expected partial commit, got %v", err)
	}

	h, ok := blob.HandleOf(err)
	if !ok {
		t.Fatal("expected resumable handle")
	}

	if _, err := n.Read(context.Background(), h.ContentRef); !errors.Is(err, ErrNotCertified) {
		t.Errorf("uncertified blob should not be readable, got %v", err)
	}

	n.Committee().SetOffline(1, false)

	if _, err := u.ResumeCertify(context.Background(), h, "/a"); err != nil {
		t.Fatalf("resume: %v", err)
	}

	if _, err := n.Read(context.Background(), h.ContentRef); err != nil {
		t.Errorf("read after resume: %v", err)
	}
}

// TestNetwork_CertifyWrongSigner verifies only the registrant may certify.
func TestNetwork_CertifyWrongSigner(t *testing.T) {
	n := newTestNetwork(t)
	owner := newSigner(t)
	other := newSigner(t)
	local := Local{n}

	u := blob.NewUploader(local, owner)
	h, _ := u.Encode([]byte("x"))
	u.Register(context.Background(), h, owner.Address(), 1)
	local.Store(context.Background(), h)

	if _, err := local.Certify(context.Background(), h, other); !errors.Is(err, ErrBadSignature) {
		t.Errorf("expected ErrBadSignature, got %v", err)
	}
}

// TestNetwork_RegisterBadSignature verifies a forged registration is refused.
func TestNetwork_RegisterBadSignature(t *testing.T) {
	n := newTestNetwork(t)
	signer := newSigner(t)
	h, _ := blob.ShardEncoder{}.Encode([]byte("x"))

	_, err := n.Register(RegisterRequest{
		ContentRef: h.ContentRef,
		Size:       h.Size,
		Epochs:     1,
		Owner:      signer.Address(),
		PublicKey:  signer.PublicKey(),
		Signature:  make([]byte, 64),
	})

	if !errors.Is(err, ErrBadSignature) {
		t.Errorf("expected ErrBadSignature, got %v", err)
	}
}

// TestNetwork_Epochs verifies epochs advance and re-registration extends expiry.
func TestNetwork_Epochs(t *testing.T) {
	n := newTestNetwork(t)
	signer := newSigner(t)
	local := Local{n}
	u := blob.NewUploader(local, signer)

	h, _ := u.Encode([]byte("x"))
	u.Register(context.Background(), h, signer.Address(), 2)

	epoch, err := n.AdvanceEpoch(5)
	if err != nil || epoch != 5 {
		t.Fatalf("advance: %d, %v", epoch, err)
	}

	cur, _ := n.CurrentEpoch(context.Background())
	if cur != 5 {
		t.Errorf("expected epoch 5, got %d", cur)
	}

	u.Register(context.Background(), h, signer.Address(), 2)

	end, _ := n.Expiry(context.Background(), h.ContentRef)
	if end == nil || *end != 7 {
		t.Errorf("expected extended end epoch 7, got %v", end)
	}

	missing, err := n.Expiry(context.Background(), "unknown")
	if err != nil || missing != nil {
		t.Errorf("unknown ref should have nil expiry, got %v (%v)", missing, err)
	}
}
