// Package vars implements scenario-scoped variable materialization and
// ${name} placeholder expansion.
package vars

import (
	"math/rand"
	"regexp"
	"strconv"

	"github.com/ormasoftchile/radproof/pkg/schema"
)

// tokenRe matches ${name} placeholders in command-like step fields.
var tokenRe = regexp.MustCompile(`\$\{([A-Za-z0-9_]+)\}`)

const randomStringAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Resolver holds the materialized name -> value mapping for one execution.
// Values are drawn once at construction; Redraw refreshes the per-iteration
// kinds (random_string, random_number, list) at loop boundaries.
type Resolver struct {
	decls   []schema.Variable
	values  map[string]string
	listPos map[string]int
	rng     *rand.Rand
}

// NewResolver materializes the declared variables into concrete values.
func NewResolver(decls []schema.Variable, seed int64) *Resolver {
	r := &Resolver{
		decls:   decls,
		values:  make(map[string]string, len(decls)),
		listPos: make(map[string]int),
		rng:     rand.New(rand.NewSource(seed)),
	}
	for _, d := range decls {
		r.values[d.Name] = r.draw(d)
	}
	return r
}

func (r *Resolver) draw(d schema.Variable) string {
	switch d.Kind {
	case schema.VarStatic:
		return d.Value
	case schema.VarRandomString:
		b := make([]byte, d.Length)
		for i := range b {
			b[i] = randomStringAlphabet[r.rng.Intn(len(randomStringAlphabet))]
		}
		return string(b)
	case schema.VarRandomNumber:
		span := d.Max - d.Min + 1
		if span <= 0 {
			return strconv.FormatInt(d.Min, 10)
		}
		return strconv.FormatInt(d.Min+r.rng.Int63n(span), 10)
	case schema.VarList:
		if len(d.Values) == 0 {
			return ""
		}
		v := d.Values[r.listPos[d.Name]%len(d.Values)]
		return v
	}
	return d.Value
}

// Redraw refreshes per-iteration variables: randoms are re-drawn and list
// variables advance to their next value (wrapping around). Static variables
// keep their value, as do values set explicitly via Set.
func (r *Resolver) Redraw() {
	for _, d := range r.decls {
		switch d.Kind {
		case schema.VarRandomString, schema.VarRandomNumber:
			r.values[d.Name] = r.draw(d)
		case schema.VarList:
			r.listPos[d.Name]++
			r.values[d.Name] = r.draw(d)
		}
	}
}

// Set overrides or defines a single variable value.
func (r *Resolver) Set(name, value string) {
	r.values[name] = value
}

// Get returns the current value of a variable.
func (r *Resolver) Get(name string) (string, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Values returns a copy of the current name -> value mapping.
func (r *Resolver) Values() map[string]string {
	out := make(map[string]string, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// Expand replaces every ${name} token whose name is defined. Undefined tokens
// are left verbatim and returned so the caller can log them; an unresolved
// variable never aborts a run. Expansion is idempotent on strings without
// ${} tokens.
func (r *Resolver) Expand(s string) (string, []string) {
	var unresolved []string
	out := tokenRe.ReplaceAllStringFunc(s, func(tok string) string {
		name := tokenRe.FindStringSubmatch(tok)[1]
		if v, ok := r.values[name]; ok {
			return v
		}
		unresolved = append(unresolved, name)
		return tok
	})
	return out, unresolved
}
