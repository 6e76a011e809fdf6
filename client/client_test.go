package client

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"Press3/internal/api"
	"Press3/internal/blob"
	"Press3/internal/blobnet"
	"Press3/internal/fault"
	"Press3/internal/ledger"
	"Press3/internal/registry"
	"Press3/internal/state"
	"Press3/internal/storage"
)

var testBudget = ledger.BudgetParams{PerCall: 10, Base: 100}

// newTestNode starts an HTTP node over in-memory storage and returns a client for it.
func newTestNode(t *testing.T) (*Client, *blobnet.Network) {
	t.Helper()

	db, err := storage.NewInMemory()
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	committee, err := blobnet.NewCommittee([]byte("client-test"), 4)
	if err != nil {
		t.Fatalf("committee: %v", err)
	}

	net := blobnet.New(db, committee)
	srv := httptest.NewServer(api.New("", state.New(db, testBudget), net).Handler())
	t.Cleanup(srv.Close)

	return NewClient(srv.URL), net
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
// Construction Tests
// =============================================================================

// TestNewClient_Scheme verifies bare addresses get an http scheme.
func TestNewClient_Scheme(t *testing.T) {
	cases := map[string]string{
		"127.0.0.1:8080":       "http://127.0.0.1:8080",
		"http://node:9000/":    "http://node:9000",
		"https://node.example": "https://node.example",
	}

	for in, want := range cases {
		if got := NewClient(in).baseURL; got != want {
			t.Errorf("%s: expected %s, got %s", in, want, got)
		}
	}
}

// =============================================================================
// Ledger Tests
// =============================================================================

// TestLedgerRoundTrip verifies deploy, batch submit, registry read and receipt over HTTP.
func TestLedgerRoundTrip(t *testing.T) {
	c, _ := newTestNode(t)
	ctx := context.Background()
	admin := newSigner(t)

	dep, err := c.Deploy(ctx, admin.Address())
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}

	exists, err := c.ObjectExists(ctx, dep.Registry)
	if err != nil || !exists {
		t.Fatalf("registry should exist: %v, %v", exists, err)
	}

	b := ledger.NewBuilder(c, dep.Program, dep.Registry, testBudget)

	sub, err := b.BuildAndSubmit(ctx, []registry.Mutation{
		registry.RegisterPage("/index.html", "uref-a", nil),
		registry.RegisterPage("/about.html", "uref-b", nil),
	}, admin)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	snap, err := c.ReadRegistry(ctx, dep.Registry)
	if err != nil {
		t.Fatalf("read registry: %v", err)
	}

	if len(snap.Pages) != 2 || snap.Version != 2 {
		t.Errorf("unexpected snapshot: version %d, %d pages", snap.Version, len(snap.Pages))
	}

	rcpt, err := c.Receipt(ctx, sub.Digest)
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}

	if rcpt.Digest != sub.Digest || len(rcpt.Calls) != 2 {
		t.Errorf("unexpected receipt: %+v", rcpt)
	}

	st, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}

	if st.Objects != 2 {
		t.Errorf("expected 2 objects, got %d", st.Objects)
	}
}

// TestSubmit_Rejected verifies a ledger refusal surfaces as ErrRejected and AtomicRejection.
func TestSubmit_Rejected(t *testing.T) {
	c, _ := newTestNode(t)
	ctx := context.Background()

	dep, err := c.Deploy(ctx, newSigner(t).Address())
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}

	b := ledger.NewBuilder(c, dep.Program, dep.Registry, testBudget)

	_, err = b.BuildAndSubmit(ctx, []registry.Mutation{registry.RegisterPage("/x.html", "uref", nil)}, newSigner(t))
	if !errors.Is(err, ledger.ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}

	if !fault.Is(err, fault.AtomicRejection) {
		t.Errorf("expected atomic-rejection, got %s", fault.KindOf(err))
	}
}

// TestReadRegistry_NotFound verifies unknown ids map to ledger.ErrNotFound.
func TestReadRegistry_NotFound(t *testing.T) {
	c, _ := newTestNode(t)

	var unknown registry.ObjectID
	unknown[31] = 7

	_, err := c.ReadRegistry(context.Background(), unknown)
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestReceipt_NotFound verifies unknown digests map to ledger.ErrNotFound.
func TestReceipt_NotFound(t *testing.T) {
	c, _ := newTestNode(t)

	_, err := c.Receipt(context.Background(), "zMissing")
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// =============================================================================
// Blob Tests
// =============================================================================

// TestUploadAndRead verifies the uploader runs every phase against a remote node.
func TestUploadAndRead(t *testing.T) {
	c, _ := newTestNode(t)
	ctx := context.Background()
	signer := newSigner(t)

	content := bytes.Repeat([]byte("press3 "), 20000)

	u := blob.NewUploader(c, signer).WithEncoder(blob.ShardEncoder{ShardSize: 4096})

	rcpt, err := u.Upload(ctx, content, "/big.html", signer.Address(), 3)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if rcpt.RegisterTx == "" || rcpt.CertifyTx == "" {
		t.Errorf("receipt missing tx ids: %+v", rcpt)
	}

	got, err := c.Read(ctx, rcpt.ContentRef)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if !bytes.Equal(got, content) {
		t.Error("content mismatch")
	}

	end, err := c.Expiry(ctx, rcpt.ContentRef)
	if err != nil || end == nil || *end != 3 {
		t.Errorf("expected end epoch 3, got %v, %v", end, err)
	}
}

// TestRead_NotFound verifies unknown refs map to blob.ErrNotFound.
func TestRead_NotFound(t *testing.T) {
	c, _ := newTestNode(t)

	ref, err := blob.ComputeRef([]byte("never stored"))
	if err != nil {
		t.Fatalf("ref: %v", err)
	}

	if _, err := c.Read(context.Background(), ref); !errors.Is(err, blob.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	end, err := c.Expiry(context.Background(), ref)
	if err != nil || end != nil {
		t.Errorf("expected nil expiry, got %v, %v", end, err)
	}
}

// TestStore_Unregistered verifies storing before registration maps to ErrNotRegistered.
func TestStore_Unregistered(t *testing.T) {
	c, _ := newTestNode(t)

	h, err := blob.ShardEncoder{}.Encode([]byte("orphan"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if err := c.Store(context.Background(), h); !errors.Is(err, blob.ErrNotRegistered) {
		t.Errorf("expected ErrNotRegistered, got %v", err)
	}
}

// TestEpochs verifies epoch reads and advances.
func TestEpochs(t *testing.T) {
	c, _ := newTestNode(t)
	ctx := context.Background()

	epoch, err := c.AdvanceEpoch(ctx, 2)
	if err != nil || epoch != 2 {
		t.Fatalf("advance: %d, %v", epoch, err)
	}

	current, err := c.CurrentEpoch(ctx)
	if err != nil || current != 2 {
		t.Errorf("expected epoch 2, got %d, %v", current, err)
	}
}
