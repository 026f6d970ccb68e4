package jrpc

import (
	"bytes"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// ErrParamNotFound is returned by [ParamsView.Get] when the requested key
// has no corresponding value, whatever the reason: the request carried no
// params, the key kind does not match the container shape, the name is not
// present, or the index is out of range.
var ErrParamNotFound = errors.New("parameter not found")

// Params holds the decoded params member of a request: absent, a JSON
// array, or a JSON object. Object key order is preserved as it appeared on
// the wire. A Params is built once per request by [ParseParams] and is
// immutable afterwards.
type Params struct {
	kind  paramsKind
	elems []jsontext.Value // array elements, index order
	names []string         // object keys, insertion order
	byKey map[string]int   // object key -> slot in names/values
	vals  []jsontext.Value // object values, parallel to names
	raw   jsontext.Value
}

type paramsKind uint8

const (
	paramsNone paramsKind = iota
	paramsArray
	paramsObject
)

// ParseParams decodes the raw params member of a request. An empty or
// JSON-null value yields the "no parameters" container. Any JSON kind other
// than array or object is rejected with an invalid-params error, per the
// JSON-RPC 2.0 specification.
func ParseParams(raw jsontext.Value) (*Params, error) {
	if len(raw) == 0 {
		return &Params{}, nil
	}

	// Duplicate object names are handled here (last value wins) rather
	// than rejected by the decoder.
	dec := jsontext.NewDecoder(bytes.NewReader(raw), jsontext.AllowDuplicateNames(true))
	switch dec.PeekKind() {
	case 'n':
		return &Params{raw: raw}, nil

	case '[':
		p := &Params{kind: paramsArray, raw: raw}
		if _, err := dec.ReadToken(); err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		for dec.PeekKind() != ']' {
			val, err := dec.ReadValue()
			if err != nil {
				return nil, ErrInvalidParams(err.Error())
			}
			p.elems = append(p.elems, val.Clone())
		}
		return p, nil

	case '{':
		p := &Params{kind: paramsObject, raw: raw, byKey: make(map[string]int)}
		if _, err := dec.ReadToken(); err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		for dec.PeekKind() != '}' {
			tok, err := dec.ReadToken()
			if err != nil {
				return nil, ErrInvalidParams(err.Error())
			}
			name := tok.String()
			val, err := dec.ReadValue()
			if err != nil {
				return nil, ErrInvalidParams(err.Error())
			}
			if i, ok := p.byKey[name]; ok {
				// Duplicate wire key: the last value wins, the key keeps
				// its original position.
				p.vals[i] = val.Clone()
				continue
			}
			p.byKey[name] = len(p.names)
			p.names = append(p.names, name)
			p.vals = append(p.vals, val.Clone())
		}
		return p, nil

	default:
		return nil, ErrInvalidParams("params must be an array or an object")
	}
}

// View returns a read-only view over p.
func (p *Params) View() ParamsView {
	return ParamsView{params: p}
}

// ParamsView is a read-only accessor over the params of a single request.
// It borrows the underlying [Params]: it is cheap to copy, performs no
// mutation, and is safe for concurrent readers, but it must not be retained
// after the request it belongs to has completed.
type ParamsView struct {
	params *Params
}

// ParamKey selects a parameter either by name (for object params) or by
// position (for array params). Construct one with [Named] or [Positional].
type ParamKey struct {
	name  string
	index int
	named bool
}

// Named returns a key selecting the parameter with the given name. An empty
// name is a valid key; it simply only matches an empty object key.
func Named(name string) ParamKey {
	return ParamKey{name: name, named: true}
}

// Positional returns a key selecting the parameter at the given index.
// A negative index never matches anything.
func Positional(index int) ParamKey {
	return ParamKey{index: index}
}

// String renders a named key quoted and a positional key as a bare integer.
func (k ParamKey) String() string {
	if k.named {
		return strconv.Quote(k.name)
	}
	return strconv.Itoa(k.index)
}

// GetRaw returns the raw JSON value for the given key. A key kind that does
// not match the container shape, an unknown name, an out-of-range index, or
// an absent params member all uniformly report "not found"; none of them is
// an error. The returned value shares the container's backing storage and
// must not be modified.
func (v ParamsView) GetRaw(key ParamKey) (jsontext.Value, bool) {
	p := v.params
	if p == nil {
		return nil, false
	}
	switch p.kind {
	case paramsObject:
		if !key.named {
			return nil, false
		}
		if i, ok := p.byKey[key.name]; ok {
			return p.vals[i], true
		}
	case paramsArray:
		if key.named {
			return nil, false
		}
		if key.index >= 0 && key.index < len(p.elems) {
			return p.elems[key.index], true
		}
	}
	return nil, false
}

// Get locates the parameter for the given key and decodes it into out.
// Absence and decode failure are distinct outcomes: an absent parameter
// reports an error matching [ErrParamNotFound] via errors.Is, while a
// present but malformed parameter reports the wrapped decoding error.
func (v ParamsView) Get(key ParamKey, out any) error {
	raw, ok := v.GetRaw(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrParamNotFound, key)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode parameter %s: %w", key, err)
	}
	return nil
}

// GetParam locates the parameter for the given key and decodes it into a
// value of type T. See [ParamsView.Get] for the error contract.
func GetParam[T any](v ParamsView, key ParamKey) (T, error) {
	var out T
	err := v.Get(key, &out)
	return out, err
}

// Unmarshal decodes the whole params member into out. This is what typed
// handlers use to map an object onto a request struct, or an array onto a
// slice. Decoding a "no parameters" container leaves out untouched.
func (v ParamsView) Unmarshal(out any) error {
	if v.IsNone() {
		return nil
	}
	return json.Unmarshal(v.params.raw, out)
}

// IsNone reports whether the request carried no params member.
func (v ParamsView) IsNone() bool {
	return v.params == nil || v.params.kind == paramsNone
}

// Len returns the number of parameters: element count for arrays, key count
// for objects, zero for absent params.
func (v ParamsView) Len() int {
	if v.params == nil {
		return 0
	}
	switch v.params.kind {
	case paramsArray:
		return len(v.params.elems)
	case paramsObject:
		return len(v.params.names)
	}
	return 0
}

// Raw returns the raw params member as it appeared on the wire, or nil if
// the request carried none.
func (v ParamsView) Raw() jsontext.Value {
	if v.params == nil {
		return nil
	}
	return v.params.raw
}

// All returns the parameters in order as (key, raw value) pairs: object
// params yield named keys in insertion order, array params yield positional
// keys in index order, and absent params yield nothing. The sequence is
// restartable and [ParamsView.Len] is an exact bound for it.
func (v ParamsView) All() iter.Seq2[ParamKey, jsontext.Value] {
	return func(yield func(ParamKey, jsontext.Value) bool) {
		p := v.params
		if p == nil {
			return
		}
		switch p.kind {
		case paramsObject:
			for i, name := range p.names {
				if !yield(Named(name), p.vals[i]) {
					return
				}
			}
		case paramsArray:
			for i, val := range p.elems {
				if !yield(Positional(i), val) {
					return
				}
			}
		}
	}
}

// String renders the parameters as a key/value listing for diagnostics.
// It works for every container shape and never panics.
func (v ParamsView) String() string {
	var b strings.Builder
	b.WriteByte('{')
	first := true
	for key, val := range v.All() {
		if !first {
			b.WriteString(", ")
		}
		first = false
		b.WriteString(key.String())
		b.WriteString(": ")
		b.Write(val)
	}
	b.WriteByte('}')
	return b.String()
}
