package value

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEqualScalarsAndStrings(t *testing.T) {
	cases := []struct {
		name string
		a, b V
		want bool
	}{
		{"equal strings", String("a"), String("a"), true},
		{"different strings", String("a"), String("b"), false},
		{"equal numbers", Number(1.5), Number(1.5), true},
		{"bool vs string", Bool(true), String("true"), false},
		{"both nil", nil, nil, true},
		{"one nil", nil, String("a"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Equal(c.a, c.b); got != c.want {
				t.Errorf("Equal(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
			}
		})
	}
}

func TestEqualListOrderMatters(t *testing.T) {
	a := StringList([]string{"x", "y"})
	b := StringList([]string{"y", "x"})
	if Equal(a, b) {
		t.Fatal("lists with different order must not be equal")
	}
	if !Equal(a, StringList([]string{"x", "y"})) {
		t.Fatal("identical lists must be equal")
	}
}

func TestEqualMapIgnoresOrder(t *testing.T) {
	a := Map(map[string]V{"k1": String("v1"), "k2": Number(2)})
	b := Map(map[string]V{"k2": Number(2), "k1": String("v1")})
	if !Equal(a, b) {
		t.Fatal("maps must compare equal regardless of field insertion order")
	}
	c := Map(map[string]V{"k1": String("v1")})
	if Equal(a, c) {
		t.Fatal("maps with different key sets must not be equal")
	}
}

func TestEqualBound(t *testing.T) {
	a := map[string]V{"src": Path("a.c"), "flags": StringList([]string{"-O2"})}
	b := map[string]V{"flags": StringList([]string{"-O2"}), "src": Path("a.c")}
	if !EqualBound(a, b) {
		t.Fatal("EqualBound must be insensitive to map key order")
	}
	b["flags"] = StringList([]string{"-O3"})
	if EqualBound(a, b) {
		t.Fatal("EqualBound must detect a changed value")
	}
}

func TestCanonicalDeterministicAcrossMapOrder(t *testing.T) {
	a := Map(map[string]V{"b": String("2"), "a": String("1")})
	b := Map(map[string]V{"a": String("1"), "b": String("2")})
	if !cmp.Equal(Canonical(a), Canonical(b)) {
		t.Fatal("Canonical must be stable regardless of Go map iteration order")
	}
}

func TestCanonicalDistinguishesAdjacentStrings(t *testing.T) {
	// "ab" + "c" must canonicalize differently from "a" + "bc", otherwise
	// length-unprefixed concatenation would make them collide.
	a := List([]V{String("ab"), String("c")})
	b := List([]V{String("a"), String("bc")})
	if cmp.Equal(Canonical(a), Canonical(b)) {
		t.Fatal("Canonical must not collide strings across element boundaries")
	}
}

func TestStringsRoundTrip(t *testing.T) {
	if got := Strings(Path("a.c")); !cmp.Equal(got, []string{"a.c"}) {
		t.Errorf("Strings(Path) = %v", got)
	}
	if got := Strings(StringList([]string{"a", "b"})); !cmp.Equal(got, []string{"a", "b"}) {
		t.Errorf("Strings(StringList) = %v", got)
	}
	if got := Strings(nil); got != nil {
		t.Errorf("Strings(nil) = %v, want nil", got)
	}
}
