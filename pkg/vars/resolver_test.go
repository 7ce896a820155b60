package vars

import (
	"strconv"
	"strings"
	"testing"

	"github.com/ormasoftchile/radproof/pkg/schema"
)

func TestResolverStatic(t *testing.T) {
	r := NewResolver([]schema.Variable{
		{Name: "user", Kind: schema.VarStatic, Value: "alice"},
	}, 1)

	v, ok := r.Get("user")
	if !ok || v != "alice" {
		t.Errorf("Get(user) = %q, %v", v, ok)
	}

	r.Redraw()
	if v, _ := r.Get("user"); v != "alice" {
		t.Errorf("static variable changed on Redraw: %q", v)
	}
}

func TestResolverRandomString(t *testing.T) {
	r := NewResolver([]schema.Variable{
		{Name: "sid", Kind: schema.VarRandomString, Length: 12},
	}, 42)

	v, _ := r.Get("sid")
	if len(v) != 12 {
		t.Fatalf("length = %d, want 12", len(v))
	}
	for _, c := range v {
		if !strings.ContainsRune(randomStringAlphabet, c) {
			t.Errorf("character %q outside alphabet", c)
		}
	}
}

func TestResolverRandomNumberRange(t *testing.T) {
	r := NewResolver([]schema.Variable{
		{Name: "port", Kind: schema.VarRandomNumber, Min: 1024, Max: 2048},
	}, 7)

	for i := 0; i < 100; i++ {
		v, _ := r.Get("port")
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			t.Fatalf("not a number: %q", v)
		}
		if n < 1024 || n > 2048 {
			t.Fatalf("value %d outside [1024, 2048]", n)
		}
		r.Redraw()
	}
}

func TestResolverListCyclesOnRedraw(t *testing.T) {
	r := NewResolver([]schema.Variable{
		{Name: "u", Kind: schema.VarList, Values: []string{"a", "b", "c"}},
	}, 1)

	var seen []string
	for i := 0; i < 5; i++ {
		v, _ := r.Get("u")
		seen = append(seen, v)
		r.Redraw()
	}
	want := []string{"a", "b", "c", "a", "b"}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("sequence = %v, want %v", seen, want)
		}
	}
}

func TestResolverSetOverrides(t *testing.T) {
	r := NewResolver(nil, 1)
	r.Set("extra", "value")
	if v, ok := r.Get("extra"); !ok || v != "value" {
		t.Errorf("Get(extra) = %q, %v", v, ok)
	}
}

func TestExpand(t *testing.T) {
	r := NewResolver([]schema.Variable{
		{Name: "user", Kind: schema.VarStatic, Value: "alice"},
		{Name: "host", Kind: schema.VarStatic, Value: "db.lab"},
	}, 1)

	out, unresolved := r.Expand("psql -h ${host} -U ${user} -c 'SELECT 1'")
	if out != "psql -h db.lab -U alice -c 'SELECT 1'" {
		t.Errorf("expanded = %q", out)
	}
	if len(unresolved) != 0 {
		t.Errorf("unresolved = %v", unresolved)
	}
}

func TestExpandLeavesUndefinedTokensVerbatim(t *testing.T) {
	r := NewResolver([]schema.Variable{
		{Name: "user", Kind: schema.VarStatic, Value: "alice"},
	}, 1)

	out, unresolved := r.Expand("login ${user} via ${gateway}")
	if out != "login alice via ${gateway}" {
		t.Errorf("expanded = %q", out)
	}
	if len(unresolved) != 1 || unresolved[0] != "gateway" {
		t.Errorf("unresolved = %v", unresolved)
	}
}

func TestExpandIdempotentWithoutTokens(t *testing.T) {
	r := NewResolver(nil, 1)
	in := "plain text with $dollar but no braces"
	out, unresolved := r.Expand(in)
	if out != in || unresolved != nil {
		t.Errorf("Expand(%q) = %q, %v", in, out, unresolved)
	}
}
