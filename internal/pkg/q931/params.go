package q931

import (
	"strconv"
	"strings"
)

// Param is a single named value.
type Param struct {
	Name  string
	Value string
}

// Params is an ordered list of named values. Names may repeat.
type Params []Param

// Add appends a parameter.
func (p *Params) Add(name, value string) {
	*p = append(*p, Param{Name: name, Value: value})
}

// Set replaces the first parameter called name or appends it.
func (p *Params) Set(name, value string) {
	for i := range *p {
		if (*p)[i].Name == name {
			(*p)[i].Value = value
			return
		}
	}
	p.Add(name, value)
}

// Clear removes every parameter called name.
func (p *Params) Clear(name string) {
	out := (*p)[:0]
	for _, v := range *p {
		if v.Name != name {
			out = append(out, v)
		}
	}
	*p = out
}

// Get returns the first value of name.
func (p Params) Get(name string) (string, bool) {
	for _, v := range p {
		if v.Name == name {
			return v.Value, true
		}
	}
	return "", false
}

// Has reports whether name is present.
func (p Params) Has(name string) bool {
	_, ok := p.Get(name)
	return ok
}

// Value returns the first value of name or def.
func (p Params) Value(name, def string) string {
	if v, ok := p.Get(name); ok {
		return v
	}
	return def
}

// All returns every value of name in order.
func (p Params) All(name string) []string {
	var out []string
	for _, v := range p {
		if v.Name == name {
			out = append(out, v.Value)
		}
	}
	return out
}

// Bool interprets the value of name as a boolean.
func (p Params) Bool(name string, def bool) bool {
	v, ok := p.Get(name)
	if !ok {
		return def
	}
	return ParseBool(v, def)
}

// Int interprets the value of name as an integer.
func (p Params) Int(name string, def int) int {
	v, ok := p.Get(name)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 0, 64)
	if err != nil {
		return def
	}
	return int(n)
}

// Clone returns an independent copy.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	copy(out, p)
	return out
}

func (p Params) String() string {
	var sb strings.Builder
	for i, v := range p {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(v.Name)
		sb.WriteByte('=')
		sb.WriteString(v.Value)
	}
	return sb.String()
}

// ParseBool accepts the usual configuration spellings of true and false.
func ParseBool(s string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "on", "enable", "1":
		return true
	case "false", "no", "off", "disable", "0":
		return false
	}
	return def
}
