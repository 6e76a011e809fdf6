package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"Press3/internal/fault"
	"Press3/internal/registry"
)

// fakeClient records submitted transactions and optionally rejects them.
type fakeClient struct {
	mu        sync.Mutex
	submitted [][]byte
	rejectErr error
}

func (f *fakeClient) ReadRegistry(_ context.Context, id registry.ObjectID) (*registry.Snapshot, error) {
	return &registry.Snapshot{ObjectID: id}, nil
}

func (f *fakeClient) Submit(_ context.Context, tx []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.rejectErr != nil {
		return "", f.rejectErr
	}

	f.submitted = append(f.submitted, tx)

	decoded, err := DecodeTransaction(tx)
	if err != nil {
		return "", err
	}

	return decoded.Digest(), nil
}

func (f *fakeClient) ObjectExists(context.Context, registry.ObjectID) (bool, error) {
	return true, nil
}

// failingSigner always fails to sign.
type failingSigner struct {
	*Ed25519Signer
}

func (failingSigner) Sign(context.Context, []byte) ([]byte, error) {
	return nil, errors.New("user rejected")
}

func newTestSigner(t *testing.T) *Ed25519Signer {
	t.Helper()

	s, err := GenerateSigner()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}

	return s
}

func testIDs() (registry.ObjectID, registry.ObjectID) {
	var program, object registry.ObjectID
	program[0] = 0x01
	object[0] = 0x02

	return program, object
}

// =============================================================================
// Call Encoding Tests
// =============================================================================

// TestEncodeMutation_Update verifies update args: u64 LE index then two Borsh strings.
func TestEncodeMutation_Update(t *testing.T) {
	c, err := EncodeMutation(registry.UpdatePage(3, "/about.html", "ref"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if c.Function != FnUpdatePageContent {
		t.Errorf("expected %s, got %s", FnUpdatePageContent, c.Function)
	}

	// 8 (index) + 4+11 (path) + 4+3 (ref)
	if len(c.Args) != 30 {
		t.Fatalf("expected 30 bytes, got %d", len(c.Args))
	}

	if c.Args[0] != 3 {
		t.Errorf("expected index byte 3, got %d", c.Args[0])
	}
}

// TestDecodeCall_RoundTrip verifies all three entrypoints decode to their mutation.
func TestDecodeCall_RoundTrip(t *testing.T) {
	editors := []registry.Identity{"0xa", "0xb"}

	cases := []registry.Mutation{
		registry.RegisterPage("/index.html", "ref1", nil),
		registry.UpdatePage(7, "/a", "ref2"),
		registry.ReplaceEditors(2, "/b", editors),
	}

	for _, m := range cases {
		c, err := EncodeMutation(m)
		if err != nil {
			t.Fatalf("encode %s: %v", m, err)
		}

		got, err := DecodeCall(c)
		if err != nil {
			t.Fatalf("decode %s: %v", m, err)
		}

		if got.String() != m.String() {
			t.Errorf("round trip: got %s, want %s", got, m)
		}
	}
}

// TestDecodeCall_Truncated verifies short args are rejected.
func TestDecodeCall_Truncated(t *testing.T) {
	c, _ := EncodeMutation(registry.UpdatePage(1, "/x", "ref"))
	c.Args = c.Args[:len(c.Args)-2]

	if _, err := DecodeCall(c); err == nil {
		t.Error("expected error for truncated args")
	}
}

// TestDecodeCall_UnknownEntrypoint verifies unknown functions are rejected.
func TestDecodeCall_UnknownEntrypoint(t *testing.T) {
	if _, err := DecodeCall(Call{Function: "drain"}); err == nil {
		t.Error("expected error for unknown entrypoint")
	}
}

// =============================================================================
// Budget Tests
// =============================================================================

// TestBudget_ScalesWithCalls verifies base + per-call scaling.
func TestBudget_ScalesWithCalls(t *testing.T) {
	p := BudgetParams{PerCall: 10, Base: 100}

	if got := p.For(2); got != 120 {
		t.Errorf("expected 120, got %d", got)
	}
}

// TestBudget_Saturates verifies overflow saturates instead of wrapping.
func TestBudget_Saturates(t *testing.T) {
	p := BudgetParams{PerCall: ^uint64(0) / 2, Base: 10}

	if got := p.For(3); got != ^uint64(0) {
		t.Errorf("expected saturation, got %d", got)
	}
}

// =============================================================================
// Transaction Tests
// =============================================================================

// TestSignTransaction_RoundTrip verifies a signed transaction decodes and verifies.
func TestSignTransaction_RoundTrip(t *testing.T) {
	signer := newTestSigner(t)
	program, object := testIDs()

	calls := []Call{{Function: FnRegisterPage, Args: []byte{0, 0, 0, 0}}}

	data, hash, err := SignTransaction(context.Background(), signer, program, object, 42, calls)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tx, err := DecodeTransaction(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if tx.Hash != hash {
		t.Error("hash mismatch")
	}

	if tx.Program != program || tx.Object != object || tx.Budget != 42 {
		t.Errorf("header mismatch: %+v", tx)
	}

	if tx.SenderAddress() != signer.Address() {
		t.Errorf("sender mismatch: %s", tx.SenderAddress())
	}

	if len(tx.Calls) != 1 || tx.Calls[0].Function != FnRegisterPage {
		t.Fatalf("calls mismatch: %+v", tx.Calls)
	}

	if err := tx.Verify(); err != nil {
		t.Errorf("verify: %v", err)
	}
}

// TestVerify_Tampered verifies a modified budget breaks the hash.
func TestVerify_Tampered(t *testing.T) {
	signer := newTestSigner(t)
	program, object := testIDs()

	data, _, err := SignTransaction(context.Background(), signer, program, object, 42, nil)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tx, err := DecodeTransaction(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	tx.Budget = 1_000_000

	if err := tx.Verify(); err == nil {
		t.Error("expected verify failure after tampering")
	}
}

// TestDecodeTransaction_Garbage verifies random bytes do not panic.
func TestDecodeTransaction_Garbage(t *testing.T) {
	if _, err := DecodeTransaction([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for short input")
	}

	if _, err := DecodeTransaction([]byte{0xff, 0xff, 0xff, 0x7f, 0, 0, 0, 0, 1, 2}); err == nil {
		t.Error("expected error for garbage input")
	}
}

// TestDigestOf verifies digests are base58btc multibase strings.
func TestDigestOf(t *testing.T) {
	var hash [32]byte
	hash[0] = 1

	d := DigestOf(hash)
	if !strings.HasPrefix(d, "z") {
		t.Errorf("expected base58btc prefix z, got %q", d)
	}

	if DigestOf(hash) != d {
		t.Error("digest should be deterministic")
	}
}

// =============================================================================
// Builder Tests
// =============================================================================

// TestBuildAndSubmit_TwoCalls verifies a register + update plan becomes one two-call transaction.
func TestBuildAndSubmit_TwoCalls(t *testing.T) {
	client := &fakeClient{}
	program, object := testIDs()
	b := NewBuilder(client, program, object, BudgetParams{PerCall: 10, Base: 100})

	plan := []registry.Mutation{
		registry.RegisterPage("/index.html", "refA", nil),
		registry.UpdatePage(3, "/about.html", "refB"),
	}

	sub, err := b.BuildAndSubmit(context.Background(), plan, newTestSigner(t))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if len(client.submitted) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(client.submitted))
	}

	tx, err := DecodeTransaction(client.submitted[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if len(tx.Calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(tx.Calls))
	}

	if tx.Calls[0].Function != FnRegisterPage || tx.Calls[1].Function != FnUpdatePageContent {
		t.Errorf("unexpected call order: %s, %s", tx.Calls[0].Function, tx.Calls[1].Function)
	}

	m, err := DecodeCall(tx.Calls[1])
	if err != nil || m.Index != 3 {
		t.Errorf("expected update at index 3, got %+v (%v)", m, err)
	}

	if tx.Budget != 120 || sub.Budget != 120 {
		t.Errorf("expected budget 120, got tx=%d sub=%d", tx.Budget, sub.Budget)
	}

	if sub.Digest != tx.Digest() {
		t.Errorf("digest mismatch: %s vs %s", sub.Digest, tx.Digest())
	}
}

// TestBuildAndSubmit_EmptyPlan verifies an empty plan fails validation without submitting.
func TestBuildAndSubmit_EmptyPlan(t *testing.T) {
	client := &fakeClient{}
	program, object := testIDs()
	b := NewBuilder(client, program, object, DefaultBudgetParams())

	_, err := b.BuildAndSubmit(context.Background(), nil, newTestSigner(t))
	if !fault.Is(err, fault.Validation) {
		t.Errorf("expected validation error, got %v", err)
	}

	if len(client.submitted) != 0 {
		t.Error("nothing should be submitted")
	}
}

// TestBuildAndSubmit_Rejected verifies ledger rejection surfaces as an atomic rejection.
func TestBuildAndSubmit_Rejected(t *testing.T) {
	client := &fakeClient{rejectErr: fmt.Errorf("budget too low:\n%w", ErrRejected)}
	program, object := testIDs()
	b := NewBuilder(client, program, object, DefaultBudgetParams())

	_, err := b.BuildAndSubmit(context.Background(), []registry.Mutation{registry.UpdatePage(0, "/", "r")}, newTestSigner(t))

	if !fault.Is(err, fault.AtomicRejection) {
		t.Errorf("expected atomic rejection, got %v", err)
	}

	if fault.StepOf(err) != "commit" {
		t.Errorf("expected step commit, got %q", fault.StepOf(err))
	}
}

// TestBuildAndSubmit_Unavailable verifies transport errors are transient, not rejections.
func TestBuildAndSubmit_Unavailable(t *testing.T) {
	client := &fakeClient{rejectErr: errors.New("connection refused")}
	program, object := testIDs()
	b := NewBuilder(client, program, object, DefaultBudgetParams())

	_, err := b.BuildAndSubmit(context.Background(), []registry.Mutation{registry.UpdatePage(0, "/", "r")}, newTestSigner(t))

	if !fault.Is(err, fault.ExternalUnavailable) {
		t.Errorf("expected external-unavailable, got %v", err)
	}
}

// TestBuildAndSubmit_SignerFails verifies a refused signature aborts before submit.
func TestBuildAndSubmit_SignerFails(t *testing.T) {
	client := &fakeClient{}
	program, object := testIDs()
	b := NewBuilder(client, program, object, DefaultBudgetParams())

	signer := failingSigner{newTestSigner(t)}

	_, err := b.BuildAndSubmit(context.Background(), []registry.Mutation{registry.UpdatePage(0, "/", "r")}, signer)
	if fault.StepOf(err) != "sign" {
		t.Errorf("expected step sign, got %v", err)
	}

	if len(client.submitted) != 0 {
		t.Error("nothing should be submitted")
	}
}

// =============================================================================
// Key Parsing Tests
// =============================================================================

// TestParsePrivateKey_Forms verifies hex, prefixed and base64 secrets decode to the same key.
func TestParsePrivateKey_Forms(t *testing.T) {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i)
	}

	hexForm := "0x" + fmt.Sprintf("%x", seed)
	b64Form := "AAECAwQFBgcICQoLDA0ODxAREhMUFRYXGBkaGxwdHh8="

	for _, s := range []string{hexForm, "ed25519:" + hexForm, b64Form, "ed25519:" + b64Form} {
		k, err := ParsePrivateKey(s)
		if err != nil {
			t.Fatalf("parse %q: %v", s, err)
		}

		if string(k.Seed()) != string(seed) {
			t.Errorf("seed mismatch for %q", s)
		}
	}
}

// TestParsePrivateKey_Invalid verifies empty and wrong-size secrets fail.
func TestParsePrivateKey_Invalid(t *testing.T) {
	for _, s := range []string{"", "   ", "0x1234", "not base64!"} {
		if _, err := ParsePrivateKey(s); err == nil {
			t.Errorf("expected error for %q", s)
		}
	}
}
