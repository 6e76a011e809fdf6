package editors

import (
	"reflect"
	"strings"
	"testing"

	"Press3/internal/fault"
	"Press3/internal/registry"
)

func ids(s ...string) []registry.Identity {
	out := make([]registry.Identity, len(s))
	for i, v := range s {
		out[i] = registry.Identity(v)
	}

	return out
}

// TestMutate_AddAndRemove verifies removal then append in add order.
func TestMutate_AddAndRemove(t *testing.T) {
	got, err := Mutate(ids("0xA", "0xB"), ids("0xC"), ids("0xA"))
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}

	if !reflect.DeepEqual(got, ids("0xB", "0xC")) {
		t.Errorf("expected [0xB 0xC], got %v", got)
	}
}

// TestMutate_NoDuplicate verifies adding an existing editor is a no-op.
func TestMutate_NoDuplicate(t *testing.T) {
	got, err := Mutate(ids("0xA"), ids("0xA"), nil)
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}

	if !reflect.DeepEqual(got, ids("0xA")) {
		t.Errorf("expected [0xA], got %v", got)
	}
}

// TestMutate_DuplicateWithinAdd verifies repeated add entries appear once.
func TestMutate_DuplicateWithinAdd(t *testing.T) {
	got, err := Mutate(nil, ids("0x1", "0x2", "0x1"), nil)
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}

	if !reflect.DeepEqual(got, ids("0x1", "0x2")) {
		t.Errorf("expected [0x1 0x2], got %v", got)
	}
}

// TestMutate_InvalidAdd verifies validation fails before anything is computed.
func TestMutate_InvalidAdd(t *testing.T) {
	current := ids("0xA")

	_, err := Mutate(current, ids("0xB", "nothex"), nil)
	if !fault.Is(err, fault.Validation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	if !strings.Contains(err.Error(), "nothex") {
		t.Errorf("error should name the offending value: %v", err)
	}

	if !reflect.DeepEqual(current, ids("0xA")) {
		t.Error("current was modified")
	}
}

// TestMutate_InvalidRemove verifies remove entries are validated too.
func TestMutate_InvalidRemove(t *testing.T) {
	if _, err := Mutate(ids("0xA"), nil, ids("")); !fault.Is(err, fault.Validation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

// TestMutate_RemoveMissing verifies removing an absent editor is harmless.
func TestMutate_RemoveMissing(t *testing.T) {
	got, err := Mutate(ids("0xA"), nil, ids("0xF"))
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}

	if Changed(ids("0xA"), got) {
		t.Errorf("expected unchanged set, got %v", got)
	}
}

// TestParseList verifies comma lists are trimmed and blanks dropped.
func TestParseList(t *testing.T) {
	got := ParseList(" 0xA, 0xB ,,")

	if !reflect.DeepEqual(got, ids("0xA", "0xB")) {
		t.Errorf("unexpected list: %v", got)
	}

	if ParseList("") != nil {
		t.Error("empty input should give nil")
	}
}
