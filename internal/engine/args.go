package engine

import (
	"path/filepath"
	"strconv"
	"strings"
)

// Kind tags the payload carried by a Value.
type Kind uint8

const (
	// KindFlag is a bare flag with no argument token.
	KindFlag Kind = iota
	KindString
	KindInt
	KindFloat
	// KindExchange refers to an exchange file; it is resolved to a concrete
	// path once the invocation's exchange directory exists.
	KindExchange
)

func (k Kind) String() string {
	switch k {
	case KindFlag:
		return "flag"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindExchange:
		return "exchange"
	default:
		return "unknown"
	}
}

// Value is the argument paired with a flag.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	role Role
}

// Flag returns the no-argument value.
func Flag() Value { return Value{kind: KindFlag} }

// Str wraps a string argument.
func Str(s string) Value { return Value{kind: KindString, s: s} }

// Int wraps an integer argument.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float wraps a floating-point argument.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// ExchangeFile refers to the exchange file of the given role.
func ExchangeFile(role Role) Value { return Value{kind: KindExchange, role: role} }

// ParseValue infers a Value from text as it arrives from a command line or a
// request body: empty is a flag, then integer, then float, otherwise string.
// Numbers keep their original text as their token.
func ParseValue(s string) Value {
	if s == "" {
		return Flag()
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Value{kind: KindInt, i: i, s: s}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Value{kind: KindFloat, f: f, s: s}
	}
	return Str(s)
}

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsFlag() bool   { return v.kind == KindFlag }
func (v Value) Role() Role     { return v.role }
func (v Value) Int() int64     { return v.i }
func (v Value) Float() float64 { return v.f }

// String returns the token for the value: the original text for parsed
// numbers, the canonical form otherwise. Flags have no token;
// unresolved exchange references render as the bare file name, which the
// engine would look up relative to its working directory.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		if v.s != "" {
			return v.s
		}
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		if v.s != "" {
			return v.s
		}
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindExchange:
		return v.role.FileName()
	default:
		return ""
	}
}

// Entry is one flag/value pair.
type Entry struct {
	Flag  string
	Value Value
}

// Args is an ordered flag → value mapping. Insertion order is argument order.
// The zero value is empty and ready to use.
type Args struct {
	keys []string
	vals map[string]Value
}

// NewArgs builds Args from entries in order; a repeated flag keeps its first
// position and its last value.
func NewArgs(entries ...Entry) *Args {
	a := &Args{}
	for _, e := range entries {
		a.Set(e.Flag, e.Value)
	}
	return a
}

// Set assigns flag, replacing the value in place or appending a new entry.
func (a *Args) Set(flag string, v Value) *Args {
	if a.vals == nil {
		a.vals = make(map[string]Value)
	}
	if _, ok := a.vals[flag]; !ok {
		a.keys = append(a.keys, flag)
	}
	a.vals[flag] = v
	return a
}

// Delete removes flag if present.
func (a *Args) Delete(flag string) {
	if _, ok := a.vals[flag]; !ok {
		return
	}
	delete(a.vals, flag)
	for i, k := range a.keys {
		if k == flag {
			a.keys = append(a.keys[:i:i], a.keys[i+1:]...)
			break
		}
	}
}

func (a *Args) Get(flag string) (Value, bool) {
	if a == nil {
		return Value{}, false
	}
	v, ok := a.vals[flag]
	return v, ok
}

func (a *Args) Has(flag string) bool {
	_, ok := a.Get(flag)
	return ok
}

func (a *Args) Len() int {
	if a == nil {
		return 0
	}
	return len(a.keys)
}

// Entries returns a copy of the pairs in order.
func (a *Args) Entries() []Entry {
	if a == nil {
		return nil
	}
	out := make([]Entry, 0, len(a.keys))
	for _, k := range a.keys {
		out = append(out, Entry{Flag: k, Value: a.vals[k]})
	}
	return out
}

// Clone returns an independent copy.
func (a *Args) Clone() *Args {
	if a == nil {
		return &Args{}
	}
	return NewArgs(a.Entries()...)
}

// Merge returns a copy of a with overrides applied on top. Overridden flags
// keep their original position; new flags are appended in override order.
// Neither receiver nor overrides is modified.
func (a *Args) Merge(overrides *Args) *Args {
	out := a.Clone()
	for _, e := range overrides.Entries() {
		out.Set(e.Flag, e.Value)
	}
	return out
}

// Resolve returns a copy in which every exchange reference is replaced by the
// concrete path inside ex.
func (a *Args) Resolve(ex *Exchange) *Args {
	out := a.Clone()
	for _, k := range out.keys {
		if v := out.vals[k]; v.kind == KindExchange {
			out.vals[k] = Str(ex.Path(v.role))
		}
	}
	return out
}

// Anchor returns a copy in which the relative string values of flags are
// joined onto dir. Exchange references and absolute paths are unchanged.
func (a *Args) Anchor(dir string, flags ...string) *Args {
	out := a.Clone()
	if dir == "" {
		return out
	}
	for _, f := range flags {
		v, ok := out.vals[f]
		if !ok || v.kind != KindString || v.s == "" || filepath.IsAbs(v.s) {
			continue
		}
		out.vals[f] = Str(filepath.Join(dir, v.s))
	}
	return out
}

// Flatten converts args into the engine's argument vector: each flag, followed
// by its value's canonical token unless the value is a bare flag.
func Flatten(a *Args) []string {
	tokens := make([]string, 0, 2*a.Len())
	for _, e := range a.Entries() {
		tokens = append(tokens, e.Flag)
		if !e.Value.IsFlag() {
			tokens = append(tokens, e.Value.String())
		}
	}
	return tokens
}

// String renders args as a shell-like command line, for logs.
func (a *Args) String() string {
	return strings.Join(Flatten(a), " ")
}
