package publisher

import "testing"

func TestGlobFilter_EmptyMatchesAll(t *testing.T) {
	f, err := NewGlobFilter(nil)
	if err != nil {
		t.Fatalf("NewGlobFilter failed: %v", err)
	}
	if !f.Match("anything") {
		t.Error("Empty filter should match everything")
	}
}

func TestGlobFilter_Patterns(t *testing.T) {
	f, err := NewGlobFilter([]string{"users", "audit_*"})
	if err != nil {
		t.Fatalf("NewGlobFilter failed: %v", err)
	}

	tests := []struct {
		table string
		want  bool
	}{
		{"users", true},
		{"audit_log", true},
		{"audit_trail", true},
		{"orders", false},
	}
	for _, tt := range tests {
		if got := f.Match(tt.table); got != tt.want {
			t.Errorf("Match(%q) = %v, want %v", tt.table, got, tt.want)
		}
	}
}

func TestGlobFilter_InvalidPattern(t *testing.T) {
	if _, err := NewGlobFilter([]string{"[unclosed"}); err == nil {
		t.Error("Invalid pattern should fail to compile")
	}
}
