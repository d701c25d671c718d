package isdn

import (
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/endorses/isdnq931/internal/pkg/q931"
	"github.com/stretchr/testify/require"
)

type sentFrame struct {
	data []byte
	tei  uint8
	ack  bool
}

type fakeLayer2 struct {
	mu          sync.Mutex
	sent        []sentFrame
	mtu         int
	autoRestart bool
	fail        bool
	establish   []uint8
}

func (l *fakeLayer2) SendData(data []byte, tei uint8, ack bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return false
	}
	l.sent = append(l.sent, sentFrame{data: append([]byte(nil), data...), tei: tei, ack: ack})
	return true
}

func (l *fakeLayer2) MaxUserData() int {
	if l.mtu == 0 {
		return DefaultMaxUserData
	}
	return l.mtu
}

func (l *fakeLayer2) AutoRestart() bool { return l.autoRestart }

func (l *fakeLayer2) MultipleFrame(tei uint8, establish, force bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if establish {
		l.establish = append(l.establish, tei)
	}
	return true
}

// messages decodes and clears the frames sent so far.
func (l *fakeLayer2) messages(t *testing.T) []*q931.Message {
	t.Helper()
	l.mu.Lock()
	sent := l.sent
	l.sent = nil
	l.mu.Unlock()
	out := make([]*q931.Message, 0, len(sent))
	for _, f := range sent {
		msg, _, err := q931.Decode(nil, f.data, true)
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

func (l *fakeLayer2) frames() []sentFrame {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]sentFrame(nil), l.sent...)
}

// lastOf returns the last sent message of type mt.
func lastOf(msgs []*q931.Message, mt q931.MsgType) *q931.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Type == mt {
			return msgs[i]
		}
	}
	return nil
}

func typesOf(msgs []*q931.Message) []q931.MsgType {
	out := make([]q931.MsgType, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Type)
	}
	return out
}

type fakeCircuit struct {
	code        uint32
	format      string
	connects    int
	disconnects int
	events      []*CircuitEvent
}

func (c *fakeCircuit) Code() uint32 { return c.code }

func (c *fakeCircuit) Connect(format string) bool {
	c.format = format
	c.connects++
	return true
}

func (c *fakeCircuit) Disconnect() bool {
	c.disconnects++
	return true
}

func (c *fakeCircuit) Event(time.Time) *CircuitEvent {
	if len(c.events) == 0 {
		return nil
	}
	ev := c.events[0]
	c.events = c.events[1:]
	return ev
}

type fakeCircuits struct {
	mu       sync.Mutex
	order    []uint32
	circuits map[uint32]*fakeCircuit
	busy     map[uint32]bool
	releases map[uint32]int
	spans    [][]uint32
}

func newFakeCircuits(spans ...[]uint32) *fakeCircuits {
	f := &fakeCircuits{
		circuits: make(map[uint32]*fakeCircuit),
		busy:     make(map[uint32]bool),
		releases: make(map[uint32]int),
		spans:    spans,
	}
	for _, span := range spans {
		for _, code := range span {
			f.order = append(f.order, code)
			f.circuits[code] = &fakeCircuit{code: code}
		}
	}
	return f
}

func (f *fakeCircuits) Reserve(codes string, mandatory bool) (Circuit, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range strings.Split(codes, ",") {
		n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
		if err != nil {
			continue
		}
		if c, ok := f.circuits[uint32(n)]; ok && !f.busy[c.code] {
			f.busy[c.code] = true
			return c, true
		}
	}
	if codes != "" && mandatory {
		return nil, false
	}
	for _, code := range f.order {
		if !f.busy[code] {
			f.busy[code] = true
			return f.circuits[code], true
		}
	}
	return nil, false
}

func (f *fakeCircuits) Release(c Circuit) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.busy[c.Code()] = false
	f.releases[c.Code()]++
}

func (f *fakeCircuits) Span(code uint32) ([]uint32, bool) {
	for _, span := range f.spans {
		for _, c := range span {
			if c == code {
				return span, true
			}
		}
	}
	return nil, false
}

func (f *fakeCircuits) Codes() []uint32 { return f.order }

func (f *fakeCircuits) isBusy(code uint32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy[code]
}

func (f *fakeCircuits) released(code uint32) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.releases[code]
}

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig returns a PRI network configuration without the periodic
// restart cycle.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ChannelSync = 0
	return cfg
}

type testEnv struct {
	ctrl     *Controller
	l2       *fakeLayer2
	circuits *fakeCircuits
	clock    *fakeClock
}

func newTestEnv(t *testing.T, cfg Config, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		l2:    &fakeLayer2{},
		clock: newFakeClock(),
	}
	if cfg.Primary {
		env.circuits = newFakeCircuits([]uint32{1, 2, 3, 4}, []uint32{5, 6, 7, 8})
	} else {
		env.circuits = newFakeCircuits([]uint32{1, 2})
	}
	opts = append([]Option{WithClock(env.clock.Now), WithLogger(discardLogger())}, opts...)
	env.ctrl = NewController(cfg, env.l2, env.circuits, opts...)
	env.ctrl.MultipleFrameEstablished(0, false, false)
	return env
}

// receive encodes msg and feeds it to the controller.
func (e *testEnv) receive(t *testing.T, msg *q931.Message, tei uint8) {
	t.Helper()
	bufs, err := q931.Encode(nil, msg)
	require.NoError(t, err)
	for _, b := range bufs {
		e.ctrl.ReceiveData(b, tei)
	}
}

// poll runs the controller until it returns an event or gives up.
func (e *testEnv) poll() *Event {
	for i := 0; i < 10; i++ {
		if ev := e.ctrl.GetEvent(e.clock.Now()); ev != nil {
			return ev
		}
	}
	return nil
}

// drain collects every pending event.
func (e *testEnv) drain() []*Event {
	var out []*Event
	for ev := e.poll(); ev != nil; ev = e.poll() {
		out = append(out, ev)
	}
	return out
}

func eventTypes(evs []*Event) []EventType {
	out := make([]EventType, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}

func bearerCaps(mode string) *q931.IE {
	return &q931.IE{Type: q931.IEBearerCaps, Params: q931.Params{
		{Name: "transfer-cap", Value: "speech"},
		{Name: "transfer-mode", Value: mode},
		{Name: "transfer-rate", Value: "64kbit"},
		{Name: "layer1-protocol", Value: "alaw"},
	}}
}

func priChannel(code string) *q931.IE {
	return &q931.IE{Type: q931.IEChannelID, Params: q931.Params{
		{Name: "interface-bri", Value: "false"},
		{Name: "channel-exclusive", Value: "true"},
		{Name: "channel-select", Value: "present"},
		{Name: "channel-by-number", Value: "true"},
		{Name: "type", Value: "B"},
		{Name: "channels", Value: code},
	}}
}

func briChannel(sel string, exclusive bool) *q931.IE {
	return &q931.IE{Type: q931.IEChannelID, Params: q931.Params{
		{Name: "interface-bri", Value: "true"},
		{Name: "channel-exclusive", Value: strconv.FormatBool(exclusive)},
		{Name: "channel-select", Value: sel},
	}}
}

func numberIE(t q931.IEType, number string) *q931.IE {
	return &q931.IE{Type: t, Params: q931.Params{
		{Name: "type", Value: "unknown"},
		{Name: "plan", Value: "isdn"},
		{Name: "number", Value: number},
	}}
}

// incomingSetup builds a SETUP from the peer on a PRI channel.
func incomingSetup(callRef uint32, channel string) *q931.Message {
	msg := q931.NewMessage(q931.MsgSetup, true, callRef, 2)
	msg.AppendIE(bearerCaps("circuit"))
	msg.AppendIE(priChannel(channel))
	msg.AppendIE(numberIE(q931.IECallingNo, "1234"))
	msg.AppendIE(numberIE(q931.IECalledNo, "5678"))
	return msg
}

// peerMsg builds a message from the peer on a call we own or answer.
func peerMsg(call *Call, t q931.MsgType, ies ...*q931.IE) *q931.Message {
	msg := q931.NewMessage(t, !call.Outgoing(), call.CallRef(), call.callRefLen)
	for _, ie := range ies {
		msg.AppendIE(ie)
	}
	return msg
}

func causeOf(msg *q931.Message) string {
	return msg.GetIEValue(q931.IECause, "cause", "")
}
