package registry

import (
	"encoding/json"
	"strings"
	"testing"

	"Press3/internal/fault"
)

// =============================================================================
// Path Tests
// =============================================================================

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"":                "/",
		".":               "/",
		"index.html":      "/index.html",
		"/about.html":     "/about.html",
		"docs\\guide.md":  "/docs/guide.md",
		"/Docs/Guide.md":  "/Docs/Guide.md",
		"wiki/press3.md":  "/wiki/press3.md",
	}

	for in, want := range cases {
		if got := NormalizePath(in); got != want {
			t.Errorf("NormalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidatePath(t *testing.T) {
	if err := ValidatePath("  "); !fault.Is(err, fault.Validation) {
		t.Errorf("blank path: expected validation error, got %v", err)
	}

	if err := ValidatePath("/ok"); err != nil {
		t.Errorf("valid path rejected: %v", err)
	}
}

// =============================================================================
// Identity Tests
// =============================================================================

func TestValidateIdentity_Valid(t *testing.T) {
	for _, id := range []Identity{"0xA", "0xb", "0x" + Identity(strings.Repeat("f", 64))} {
		if err := ValidateIdentity(id); err != nil {
			t.Errorf("%q rejected: %v", id, err)
		}
	}
}

func TestValidateIdentity_Invalid(t *testing.T) {
	for _, id := range []Identity{"", "A", "0x", "0xZZ", "0x" + Identity(strings.Repeat("a", 65))} {
		err := ValidateIdentity(id)
		if !fault.Is(err, fault.Validation) {
			t.Errorf("%q: expected validation error, got %v", id, err)
		}
	}
}

func TestNormalizeIdentity(t *testing.T) {
	got, err := NormalizeIdentity("0xAB")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	want := Identity("0x" + strings.Repeat("0", 62) + "ab")
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

// TestAddressFromPublicKey verifies derived addresses are canonical and stable.
func TestAddressFromPublicKey(t *testing.T) {
	pub := []byte("0123456789abcdef0123456789abcdef")

	a := AddressFromPublicKey(pub)
	b := AddressFromPublicKey(pub)

	if a != b {
		t.Error("derivation should be deterministic")
	}

	if norm, err := NormalizeIdentity(a); err != nil || norm != a {
		t.Errorf("derived address not canonical: %s (%v)", a, err)
	}
}

// =============================================================================
// Object ID and Snapshot Tests
// =============================================================================

func TestParseObjectID(t *testing.T) {
	id := ObjectID{0xAA, 0x01}

	parsed, err := ParseObjectID(id.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if parsed != id {
		t.Errorf("got %s, want %s", parsed, id)
	}

	if _, err := ParseObjectID("0x1234"); err == nil {
		t.Error("short id should be rejected")
	}
}

func TestSnapshot_IndexOf(t *testing.T) {
	s := &Snapshot{Pages: []PageRecord{{Path: "/a"}, {Path: "/b"}}}

	if s.IndexOf("/b") != 1 {
		t.Errorf("IndexOf(/b) = %d, want 1", s.IndexOf("/b"))
	}

	if s.IndexOf("/B") != -1 {
		t.Error("lookup must be case-sensitive")
	}
}

// TestObjectID_JSON verifies ids travel as hex strings in JSON.
func TestObjectID_JSON(t *testing.T) {
	snap := Snapshot{ObjectID: ObjectID{0x01}, Version: 2}

	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	if !strings.Contains(string(data), `"objectId":"0x01`) {
		t.Errorf("expected hex id, got %s", data)
	}

	var back Snapshot
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if back.ObjectID != snap.ObjectID {
		t.Errorf("round trip mismatch: %s", back.ObjectID)
	}
}
