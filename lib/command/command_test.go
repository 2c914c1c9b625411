package command

import (
	"testing"
)

// TestAffectedKeys tests key extraction for the different command shapes
func TestAffectedKeys(t *testing.T) {
	tests := []struct {
		name string
		cmd  *Command
		want []string
	}{
		{"get", NewGet("k", 0), []string{"k"}},
		{"put", NewPut("k", []byte("v"), 0), []string{"k"}},
		{"getAll", NewGetAll([]string{"a", "b"}, 0), []string{"a", "b"}},
		{"prepare", NewPrepare("tx1", []string{"a"}, nil, 0), []string{"a"}},
		{"clear", NewClear(0), nil},
		{"keySet", NewKeySet(0), nil},
	}

	for _, tt := range tests {
		got := tt.cmd.AffectedKeys()
		if len(got) != len(tt.want) {
			t.Errorf("%s: AffectedKeys() = %v, want %v", tt.name, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("%s: AffectedKeys()[%d] = %q, want %q", tt.name, i, got[i], tt.want[i])
			}
		}
	}
}

// TestAffectedKeysPutMap tests that PutMap reports every entry key
func TestAffectedKeysPutMap(t *testing.T) {
	cmd := NewPutMap(map[string][]byte{"a": nil, "b": nil}, 0)
	keys := cmd.AffectedKeys()
	if len(keys) != 2 {
		t.Fatalf("AffectedKeys() returned %d keys, want 2", len(keys))
	}
	seen := map[string]bool{}
	for _, k := range keys {
		seen[k] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Errorf("AffectedKeys() = %v, want a and b", keys)
	}
}

// TestFlags tests the flag bitmask
func TestFlags(t *testing.T) {
	cmd := NewPut("k", nil, FlagForceSynchronous|FlagCacheModeLocal)

	if !cmd.HasFlag(FlagForceSynchronous) {
		t.Error("HasFlag(FlagForceSynchronous) should be true")
	}
	if !cmd.HasFlag(FlagCacheModeLocal) {
		t.Error("HasFlag(FlagCacheModeLocal) should be true")
	}
	if cmd.HasFlag(FlagForceAsynchronous) {
		t.Error("HasFlag(FlagForceAsynchronous) should be false")
	}
}

// TestClassification tests the IsWrite and IsTx predicates
func TestClassification(t *testing.T) {
	if !NewPut("k", nil, 0).IsWrite() {
		t.Error("put should be a write")
	}
	if !NewClear(0).IsWrite() {
		t.Error("clear should be a write")
	}
	if NewGet("k", 0).IsWrite() {
		t.Error("get should not be a write")
	}
	if !NewCommit("tx1", nil, 0).IsTx() {
		t.Error("commit should be transactional")
	}
	if NewPut("k", nil, 0).IsTx() {
		t.Error("put should not be transactional")
	}
}

// TestAllTypesCovered tests that every concrete type is listed and named
func TestAllTypesCovered(t *testing.T) {
	seen := map[Type]bool{}
	for _, typ := range AllTypes {
		if typ == TUnknown {
			t.Error("AllTypes must not contain TUnknown")
		}
		if seen[typ] {
			t.Errorf("AllTypes contains %v twice", typ)
		}
		seen[typ] = true
		if typ.String() == "unknown" {
			t.Errorf("type %d has no string representation", typ)
		}
	}
}
