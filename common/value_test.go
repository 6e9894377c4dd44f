package common

import "testing"

func TestValue_Equal(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"ints equal", Int(3), Int(3), true},
		{"ints unequal", Int(3), Int(4), false},
		{"int float promote", Int(3), Float(3.0), true},
		{"floats within epsilon", Float(0.1 + 0.2), Float(0.3), true},
		{"strings", String("a"), String("a"), true},
		{"null never equal", Null(), Null(), false},
		{"null vs int", Null(), Int(0), false},
		{"bool", Bool(true), Bool(true), true},
		{"string vs int", String("3"), Int(3), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestValue_Compare(t *testing.T) {
	if c, ok := Int(1).Compare(Int(2)); !ok || c != -1 {
		t.Errorf("Expected -1, got %d ok=%v", c, ok)
	}
	if c, ok := Float(2.5).Compare(Int(2)); !ok || c != 1 {
		t.Errorf("Expected 1, got %d ok=%v", c, ok)
	}
	if c, ok := String("abc").Compare(String("abd")); !ok || c != -1 {
		t.Errorf("Expected -1, got %d ok=%v", c, ok)
	}
	if _, ok := Null().Compare(Int(1)); ok {
		t.Error("Null should not be comparable")
	}
	if _, ok := String("a").Compare(Int(1)); ok {
		t.Error("String and int should not be comparable")
	}
}

func TestTuple_CanonicalJSON(t *testing.T) {
	tu := NewTuple()
	tu.Set("zeta", Int(1))
	tu.Set("alpha", String("x\"y"))
	tu.Set("mid", Null())

	got := tu.CanonicalJSON()
	want := `{"alpha":"x\"y","mid":null,"zeta":1}`
	if got != want {
		t.Errorf("CanonicalJSON = %s, want %s", got, want)
	}

	// Same contents inserted in a different order encode identically
	tu2 := NewTuple()
	tu2.Set("mid", Null())
	tu2.Set("alpha", String("x\"y"))
	tu2.Set("zeta", Int(1))
	if tu2.CanonicalJSON() != want {
		t.Error("Canonical encoding must be insertion-order independent")
	}
}

func TestTuple_GetUnqualified(t *testing.T) {
	tu := NewTuple()
	tu.Set("users.id", Int(7))

	v, ok := tu.Get("id")
	if !ok || v.I != 7 {
		t.Errorf("Suffix lookup failed, got %v ok=%v", v, ok)
	}

	if _, ok := tu.Get("missing"); ok {
		t.Error("Missing column should not resolve")
	}
}

func TestTuple_Merge(t *testing.T) {
	left := NewTuple()
	left.Set("a.x", Int(1))
	right := NewTuple()
	right.Set("b.y", Int(2))

	out := left.Merge(right)
	if out.Len() != 2 {
		t.Fatalf("Expected 2 columns, got %d", out.Len())
	}
	if v, _ := out.Get("a.x"); v.I != 1 {
		t.Error("Left column lost in merge")
	}
	if v, _ := out.Get("b.y"); v.I != 2 {
		t.Error("Right column lost in merge")
	}
}
