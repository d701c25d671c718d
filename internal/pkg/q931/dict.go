package q931

import (
	"strconv"
	"strings"
)

// Token binds a wire value to its textual name.
type Token struct {
	Name  string
	Value int
}

// Dict is a read-only two-way dictionary between small wire codes and
// names. When several names share a value the first one is canonical and
// the others are accepted as aliases on lookup by name.
type Dict []Token

// Name returns the canonical name of v.
func (d Dict) Name(v int) (string, bool) {
	for _, t := range d {
		if t.Value == v {
			return t.Name, true
		}
	}
	return "", false
}

// Value returns the value bound to name.
func (d Dict) Value(name string) (int, bool) {
	for _, t := range d {
		if t.Name == name {
			return t.Value, true
		}
	}
	return 0, false
}

// NameOr returns the name of v or its decimal representation.
func (d Dict) NameOr(v int) string {
	if n, ok := d.Name(v); ok {
		return n
	}
	return strconv.Itoa(v)
}

// ValueOr resolves name either as a dictionary token or as a number.
// def is returned when neither works.
func (d Dict) ValueOr(name string, def int) int {
	if name == "" {
		return def
	}
	if v, ok := d.Value(name); ok {
		return v
	}
	if v, err := strconv.ParseInt(strings.TrimSpace(name), 0, 32); err == nil {
		return int(v)
	}
	return def
}

// field describes one bit field of an IE octet: the parameter it maps to,
// the mask applied to the octet and the optional value dictionary.
// Dictionary values are stored in place (already shifted by the mask).
type field struct {
	name string
	mask uint8
	dict Dict
}

func (f *field) decode(ie *IE, b byte) int {
	v := int(b & f.mask)
	if f.dict != nil {
		ie.Add(f.name, f.dict.NameOr(v))
	} else {
		ie.Add(f.name, strconv.Itoa(v))
	}
	return v
}

// encode returns the masked value of the field parameter, def if missing
// or unknown.
func (f *field) encode(ie *IE, def int) byte {
	v := def
	if s, ok := ie.Get(f.name); ok {
		v = f.dict.ValueOr(s, def)
	}
	return byte(v) & f.mask
}

// flagBits returns mask when the boolean parameter is set.
func flagBits(ie *IE, name string, mask byte, def bool) byte {
	if ie.Bool(name, def) {
		return mask
	}
	return 0
}
