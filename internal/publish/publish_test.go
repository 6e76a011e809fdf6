package publish

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"Press3/internal/blob"
	"Press3/internal/blobnet"
	"Press3/internal/fault"
	"Press3/internal/ledger"
	"Press3/internal/readiness"
	"Press3/internal/reconcile"
	"Press3/internal/registry"
	"Press3/internal/state"
	"Press3/internal/storage"
)

var testBudget = ledger.BudgetParams{PerCall: 10, Base: 100}

// countingNetwork wraps a blob network, counting registrations and
// injecting failures.
type countingNetwork struct {
	blob.Network

	mu              sync.Mutex
	registers       int
	registerErr     error
	certifyFailures int
}

func (n *countingNetwork) RegisterStorage(ctx context.Context, h *blob.Handle, epochs uint64, owner registry.Identity, signer ledger.Signer) (*blob.Registration, error) {
	n.mu.Lock()
	n.registers++
	err := n.registerErr
	n.mu.Unlock()

	if err != nil {
		return nil, err
	}

	return n.Network.RegisterStorage(ctx, h, epochs, owner, signer)
}

func (n *countingNetwork) Certify(ctx context.Context, h *blob.Handle, signer ledger.Signer) (string, error) {
	n.mu.Lock()
	fail := n.certifyFailures > 0
	if fail {
		n.certifyFailures--
	}
	n.mu.Unlock()

	if fail {
		return "", errors.New("committee timeout")
	}

	return n.Network.Certify(ctx, h, signer)
}

func (n *countingNetwork) registrations() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.registers
}

// racingLedger runs a hook after the first registry read, simulating a
// concurrent writer.
type racingLedger struct {
	ledger.Client

	once  sync.Once
	after func()
}

func (l *racingLedger) ReadRegistry(ctx context.Context, id registry.ObjectID) (*registry.Snapshot, error) {
	snap, err := l.Client.ReadRegistry(ctx, id)
	l.once.Do(l.after)

	return snap, err
}

// testEnv is a deployed registry with an in-process blob network.
type testEnv struct {
	state *state.State
	net   *countingNetwork
	dep   *ledger.Deployment
	admin *ledger.Ed25519Signer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := storage.NewInMemory()
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	committee, err := blobnet.NewCommittee([]byte("publish-test"), 4)
	if err != nil {
		t.Fatalf("committee: %v", err)
	}

	admin, err := ledger.GenerateSigner()
	if err != nil {
		t.Fatalf("signer: %v", err)
	}

	st := state.New(db, testBudget)

	dep, err := st.Deploy(context.Background(), admin.Address())
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}

	return &testEnv{
		state: st,
		net:   &countingNetwork{Network: blobnet.Local{Network: blobnet.New(db, committee)}},
		dep:   dep,
		admin: admin,
	}
}

// publisher builds a publisher signing with signer over client.
func (e *testEnv) publisher(t *testing.T, client ledger.Client, signer ledger.Signer, mod func(*Options)) *Publisher {
	t.Helper()

	opts := Options{
		Ledger:  client,
		Blobs:   e.net,
		Signer:  signer,
		Program: e.dep.Program,
		Object:  e.dep.Registry,
		Budget:  testBudget,
		Epochs:  3,
	}

	if mod != nil {
		mod(&opts)
	}

	p, err := New(opts)
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}

	p.uploader.RetryDelay = time.Millisecond

	return p
}

// seed registers pages directly on the ledger.
func (e *testEnv) seed(t *testing.T, paths ...string) {
	t.Helper()

	ms := make([]registry.Mutation, len(paths))
	for i, p := range paths {
		ms[i] = registry.RegisterPage(p, "useed", nil)
	}

	b := ledger.NewBuilder(e.state, e.dep.Program, e.dep.Registry, testBudget)
	if _, err := b.BuildAndSubmit(context.Background(), ms, e.admin); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func (e *testEnv) snapshot(t *testing.T) *registry.Snapshot {
	t.Helper()

	snap, err := e.state.ReadRegistry(context.Background(), e.dep.Registry)
	if err != nil {
		t.Fatalf("read registry: %v", err)
	}

	return snap
}

// =============================================================================
// Batch Publish Tests
// =============================================================================

// TestPublish_RegisterAndUpdate verifies a new page and an existing page at
// index 3 commit as exactly two calls in one transaction.
func TestPublish_RegisterAndUpdate(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "/a.html", "/b.html", "/c.html", "/about.html")

	p := env.publisher(t, env.state, env.admin, nil)

	res, err := p.Publish(context.Background(), []Page{
		{Path: "/index.html", Data: []byte("<h1>home</h1>")},
		{Path: "about.html", Data: []byte("<h1>about</h1>")},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	if res.Plan.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", res.Plan.Len())
	}

	first, second := res.Plan.Entries[0], res.Plan.Entries[1]
	if first.Kind != registry.Register || first.Path != "/index.html" {
		t.Errorf("unexpected first entry: %s", first)
	}

	if second.Kind != registry.Update || second.Index != 3 || second.Path != "/about.html" {
		t.Errorf("unexpected second entry: %s", second)
	}

	rcpt, err := env.state.Receipt(res.Digest)
	if err != nil || rcpt == nil {
		t.Fatalf("receipt: %v", err)
	}

	if len(rcpt.Calls) != 2 {
		t.Errorf("expected 2 calls, got %v", rcpt.Calls)
	}

	snap := env.snapshot(t)
	if len(snap.Pages) != 5 {
		t.Fatalf("expected 5 pages, got %d", len(snap.Pages))
	}

	if snap.Pages[3].ContentRef != res.Uploads[1].ContentRef {
		t.Error("about page should point at the new upload")
	}

	if snap.Pages[4].Path != "/index.html" || snap.Pages[4].ContentRef != res.Uploads[0].ContentRef {
		t.Errorf("unexpected new page: %+v", snap.Pages[4])
	}
}

// TestPublish_ContentReadable verifies published refs are readable from the blob network.
func TestPublish_ContentReadable(t *testing.T) {
	env := newTestEnv(t)
	p := env.publisher(t, env.state, env.admin, nil)

	res, err := p.Publish(context.Background(), []Page{{Path: "/x.md", Data: []byte("# x")}})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	data, err := env.net.Read(context.Background(), res.Uploads[0].ContentRef)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if string(data) != "# x" {
		t.Errorf("unexpected content %q", data)
	}
}

// TestPublish_Empty verifies an empty batch is a validation error.
func TestPublish_Empty(t *testing.T) {
	env := newTestEnv(t)
	p := env.publisher(t, env.state, env.admin, nil)

	_, err := p.Publish(context.Background(), nil)
	if !fault.Is(err, fault.Validation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

// TestPublish_DuplicateRejected verifies duplicates fail before any upload.
func TestPublish_DuplicateRejected(t *testing.T) {
	env := newTestEnv(t)
	p := env.publisher(t, env.state, env.admin, nil)

	_, err := p.Publish(context.Background(), []Page{
		{Path: "/a.html", Data: []byte("1")},
		{Path: "a.html", Data: []byte("2")},
	})
	if !fault.Is(err, fault.Validation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	if env.net.registrations() != 0 {
		t.Errorf("expected no uploads, got %d", env.net.registrations())
	}
}

// TestPublish_KeepLast verifies the last duplicate wins under KeepLast.
func TestPublish_KeepLast(t *testing.T) {
	env := newTestEnv(t)
	p := env.publisher(t, env.state, env.admin, func(o *Options) {
		o.Duplicates = reconcile.KeepLast
	})

	res, err := p.Publish(context.Background(), []Page{
		{Path: "/a.html", Data: []byte("first")},
		{Path: "/b.html", Data: []byte("b")},
		{Path: "/a.html", Data: []byte("last")},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	if res.Plan.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", res.Plan.Len())
	}

	want, err := blob.ComputeRef([]byte("last"))
	if err != nil {
		t.Fatalf("ref: %v", err)
	}

	snap := env.snapshot(t)
	if snap.Pages[0].Path != "/a.html" || snap.Pages[0].ContentRef != want {
		t.Errorf("expected /a.html with last content first, got %+v", snap.Pages[0])
	}
}

// TestPublish_UploadFailure verifies an upload failure aborts before any ledger write.
func TestPublish_UploadFailure(t *testing.T) {
	env := newTestEnv(t)
	env.net.registerErr = errors.New("insufficient balance")

	p := env.publisher(t, env.state, env.admin, func(o *Options) { o.Concurrency = 2 })

	_, err := p.Publish(context.Background(), []Page{
		{Path: "/a.html", Data: []byte("a")},
		{Path: "/b.html", Data: []byte("b")},
		{Path: "/c.html", Data: []byte("c")},
	})
	if !fault.Is(err, fault.ExternalUnavailable) || fault.StepOf(err) != "register" {
		t.Fatalf("expected external-unavailable at register, got %v", err)
	}

	if snap := env.snapshot(t); snap.Version != 1 {
		t.Errorf("registry should be untouched, version %d", snap.Version)
	}
}

// TestPublish_Rejected verifies a ledger rejection commits nothing.
func TestPublish_Rejected(t *testing.T) {
	env := newTestEnv(t)

	stranger, err := ledger.GenerateSigner()
	if err != nil {
		t.Fatalf("signer: %v", err)
	}

	p := env.publisher(t, env.state, stranger, nil)

	_, err = p.Publish(context.Background(), []Page{{Path: "/a.html", Data: []byte("a")}})
	if !fault.Is(err, fault.AtomicRejection) {
		t.Fatalf("expected atomic-rejection, got %v", err)
	}

	if !errors.Is(err, ledger.ErrRejected) {
		t.Error("error should wrap ErrRejected")
	}

	if snap := env.snapshot(t); len(snap.Pages) != 0 {
		t.Errorf("expected no pages, got %d", len(snap.Pages))
	}
}

// TestPublish_ConcurrentWriter verifies a plan invalidated between reads is rebuilt.
func TestPublish_ConcurrentWriter(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "/a.html")

	racer := &racingLedger{Client: env.state}
	racer.after = func() { env.seed(t, "/index.html") }

	p := env.publisher(t, racer, env.admin, nil)

	res, err := p.Publish(context.Background(), []Page{{Path: "/index.html", Data: []byte("home")}})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	e := res.Plan.Entries[0]
	if e.Kind != registry.Update || e.Index != 1 {
		t.Errorf("expected Update(1), got %s", e)
	}

	if res.Plan.Version != 3 {
		t.Errorf("plan should be built from version 3, got %d", res.Plan.Version)
	}
}

// TestPublish_ReadinessGuard verifies a fresh deployment is awaited before reads.
func TestPublish_ReadinessGuard(t *testing.T) {
	env := newTestEnv(t)

	var mu sync.Mutex
	now := time.Unix(1700000000, 0)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	env.state.Now = clock
	env.state.VisibilityDelay = 3 * time.Second

	dep, err := env.state.Deploy(context.Background(), env.admin.Address())
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}

	env.dep = dep

	// Without the guard the registry is not readable yet.
	p := env.publisher(t, env.state, env.admin, nil)
	if _, err := p.Publish(context.Background(), []Page{{Path: "/a", Data: []byte("a")}}); fault.StepOf(err) != "read-registry" {
		t.Fatalf("expected read-registry failure, got %v", err)
	}

	w := readiness.New(env.state)
	w.Delay = time.Second
	w.Sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
		return nil
	}

	p = env.publisher(t, env.state, env.admin, func(o *Options) { o.Readiness = w })
	if _, err := p.Publish(context.Background(), []Page{{Path: "/a", Data: []byte("a")}}); err != nil {
		t.Fatalf("publish with guard: %v", err)
	}
}

// TestNew_Validation verifies missing collaborators are refused.
func TestNew_Validation(t *testing.T) {
	if _, err := New(Options{}); !fault.Is(err, fault.Validation) {
		t.Errorf("expected validation error, got %v", err)
	}
}
