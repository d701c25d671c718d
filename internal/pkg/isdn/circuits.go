package isdn

import (
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// groupCircuit is a bearer channel of a CircuitGroup. It only tracks its
// connection state.
type groupCircuit struct {
	code      uint32
	format    string
	connected bool
}

func (c *groupCircuit) Code() uint32 { return c.code }

func (c *groupCircuit) Connect(format string) bool {
	c.format = format
	c.connected = true
	return true
}

func (c *groupCircuit) Disconnect() bool {
	c.connected = false
	return true
}

func (c *groupCircuit) Event(time.Time) *CircuitEvent { return nil }

// CircuitGroup is an in-memory CircuitSwitch over one or more spans.
type CircuitGroup struct {
	mu       sync.Mutex
	spans    [][]uint32
	order    []uint32
	circuits map[uint32]*groupCircuit
	busy     map[uint32]bool
}

// NewCircuitGroup builds a group whose spans list circuit codes in scan
// order.
func NewCircuitGroup(spans ...[]uint32) *CircuitGroup {
	g := &CircuitGroup{
		circuits: make(map[uint32]*groupCircuit),
		busy:     make(map[uint32]bool),
	}
	for _, span := range spans {
		g.spans = append(g.spans, slices.Clone(span))
		for _, code := range span {
			if _, dup := g.circuits[code]; dup {
				continue
			}
			g.order = append(g.order, code)
			g.circuits[code] = &groupCircuit{code: code}
		}
	}
	return g
}

// ParseCircuitRanges parses "1-15,17-31" style code lists. Spans are
// separated by ';'.
func ParseCircuitRanges(s string) ([][]uint32, error) {
	var spans [][]uint32
	for _, spanText := range strings.Split(s, ";") {
		var span []uint32
		for _, part := range strings.Split(spanText, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			lo, hi, isRange := strings.Cut(part, "-")
			first, err := strconv.ParseUint(strings.TrimSpace(lo), 10, 32)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid circuit %q", part)
			}
			last := first
			if isRange {
				if last, err = strconv.ParseUint(strings.TrimSpace(hi), 10, 32); err != nil {
					return nil, errors.Wrapf(err, "invalid circuit %q", part)
				}
			}
			if last < first {
				return nil, errors.Errorf("invalid circuit range %q", part)
			}
			for c := first; c <= last; c++ {
				span = append(span, uint32(c))
			}
		}
		if len(span) > 0 {
			spans = append(spans, span)
		}
	}
	if len(spans) == 0 {
		return nil, errors.New("no circuits")
	}
	return spans, nil
}

func (g *CircuitGroup) Reserve(codes string, mandatory bool) (Circuit, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	listed := false
	for _, s := range strings.Split(codes, ",") {
		n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
		if err != nil {
			continue
		}
		listed = true
		if c, ok := g.circuits[uint32(n)]; ok && !g.busy[c.code] {
			g.busy[c.code] = true
			return c, true
		}
	}
	if listed && mandatory {
		return nil, false
	}
	for _, code := range g.order {
		if !g.busy[code] {
			g.busy[code] = true
			return g.circuits[code], true
		}
	}
	return nil, false
}

func (g *CircuitGroup) Release(c Circuit) {
	if c == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.busy, c.Code())
}

func (g *CircuitGroup) Span(code uint32) ([]uint32, bool) {
	for _, span := range g.spans {
		if slices.Contains(span, code) {
			return span, true
		}
	}
	return nil, false
}

func (g *CircuitGroup) Codes() []uint32 { return g.order }

// Busy returns the reserved circuit codes in scan order.
func (g *CircuitGroup) Busy() []uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []uint32
	for _, code := range g.order {
		if g.busy[code] {
			out = append(out, code)
		}
	}
	return out
}
