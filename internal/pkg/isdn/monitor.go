package isdn

import (
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/endorses/isdnq931/internal/pkg/q931"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type monitoredMsg struct {
	msg     *q931.Message
	fromNet bool
}

// CallMonitor follows one call seen on a passive tap. It reserves the
// matching circuit on both sides of the tap once the call is answered
// or proceeding.
type CallMonitor struct {
	id      string
	mon     *ControllerMonitor
	log     *slog.Logger
	callRef uint32
	netInit bool

	qmu   sync.Mutex
	queue []monitoredMsg

	mu            sync.Mutex
	state         CallState
	data          callData
	callerCircuit Circuit
	calledCircuit Circuit
	terminator    string
	events        []*Event
	releaseEvent  bool
	destroyed     bool
}

func newCallMonitor(mon *ControllerMonitor, callRef uint32, netInit bool) *CallMonitor {
	m := &CallMonitor{
		id:      uuid.NewString(),
		mon:     mon,
		callRef: callRef,
		netInit: netInit,
	}
	m.log = mon.log.With("call_id", m.id, "callref", callRef, "net_init", netInit)
	return m
}

// ID returns the correlation id of the monitored call.
func (m *CallMonitor) ID() string { return m.id }

func (m *CallMonitor) CallRef() uint32 { return m.callRef }

// NetInit reports whether the network side placed the call.
func (m *CallMonitor) NetInit() bool { return m.netInit }

func (m *CallMonitor) State() CallState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Destroyed reports whether the monitor saw the end of the call.
func (m *CallMonitor) Destroyed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroyed
}

func (m *CallMonitor) enqueue(msg *q931.Message, fromNet bool) {
	m.qmu.Lock()
	m.queue = append(m.queue, monitoredMsg{msg: msg, fromNet: fromNet})
	m.qmu.Unlock()
}

func (m *CallMonitor) dequeue() (monitoredMsg, bool) {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	if len(m.queue) == 0 {
		return monitoredMsg{}, false
	}
	item := m.queue[0]
	m.queue[0] = monitoredMsg{}
	m.queue = m.queue[1:]
	return item, true
}

// GetEvent processes at most one queued message.
func (m *CallMonitor) GetEvent(now time.Time) *Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev := m.nextEvent(); ev != nil {
		return ev
	}
	if m.destroyed {
		for _, ok := m.dequeue(); ok; _, ok = m.dequeue() {
		}
		return nil
	}
	if item, ok := m.dequeue(); ok {
		m.process(item.msg)
		if ev := m.nextEvent(); ev != nil {
			return ev
		}
	}
	m.checkCircuitEvent(now)
	return m.nextEvent()
}

func (m *CallMonitor) nextEvent() *Event {
	if len(m.events) == 0 {
		return nil
	}
	ev := m.events[0]
	m.events[0] = nil
	m.events = m.events[1:]
	return ev
}

func (m *CallMonitor) emit(t EventType, msg *q931.Message, params q931.Params) {
	if t == EventRelease {
		if m.releaseEvent {
			return
		}
		m.releaseEvent = true
	}
	m.events = append(m.events, &Event{Type: t, Params: params, Message: msg, Monitor: m})
}

func (m *CallMonitor) changeState(s CallState) {
	if m.state == s {
		return
	}
	m.log.Debug("Monitored call state changed", "from", m.state, "to", s)
	m.state = s
}

func (m *CallMonitor) process(msg *q931.Message) {
	switch msg.Type {
	case q931.MsgSetupAck, q931.MsgProceeding, q931.MsgAlerting, q931.MsgConnect:
		if msg.Initiator {
			m.log.Debug("Dropping response sent by the caller", "type", msg.Type)
			return
		}
	}
	switch msg.Type {
	case q931.MsgSetup:
		m.processSetup(msg)
	case q931.MsgSetupAck:
		m.updateChannel(msg)
		m.changeState(StateOverlapSend)
		m.emit(EventAccept, msg, q931.Params{{Name: "overlapped", Value: "true"}})
	case q931.MsgProceeding:
		m.processResponse(msg, StateOutgoingProceeding, EventAccept)
	case q931.MsgAlerting:
		m.processResponse(msg, StateCallDelivered, EventRinging)
	case q931.MsgConnect:
		m.processResponse(msg, StateActive, EventAnswer)
	case q931.MsgProgress:
		descr := msg.GetIEValue(q931.IEProgress, "description", "")
		m.emit(EventProgress, msg, q931.Params{{Name: "progress", Value: descr}})
	case q931.MsgInfo:
		tone := msg.GetIEValue(q931.IECalledNo, "number", "")
		if tone == "" {
			tone = msg.GetIEValue(q931.IEKeypad, "keypad", "")
		}
		if tone != "" {
			m.emit(EventInfo, msg, q931.Params{{Name: "tone", Value: tone}})
		}
	case q931.MsgDisconnect, q931.MsgRelease, q931.MsgReleaseComplete:
		m.processClearing(msg)
	default:
		m.log.Debug("Ignoring monitored message", "type", msg.Type)
	}
}

func (m *CallMonitor) processSetup(msg *q931.Message) {
	if m.state != StateNull {
		m.log.Debug("Dropping repeated SETUP")
		return
	}
	d := &m.data
	if ie := msg.GetIE(q931.IEBearerCaps, nil); ie != nil {
		d.readBearerCaps(ie)
	}
	m.updateChannel(msg)
	if ie := msg.GetIE(q931.IECallingNo, nil); ie != nil {
		d.readCallingNo(ie)
	}
	if ie := msg.GetIE(q931.IECalledNo, nil); ie != nil {
		d.readCalledNo(ie)
	}
	d.display = msg.GetIEValue(q931.IEDisplay, "display", "")
	m.changeState(StateCallPresent)
	m.mon.metrics.callStarted("monitor")
	p := q931.Params{}
	p.Add("caller", d.callerNo)
	p.Add("called", d.calledNo)
	if d.format != "" {
		p.Add("format", d.format)
	}
	if d.display != "" {
		p.Add("callername", d.display)
	}
	if d.channels != "" {
		p.Add("channel", d.channels)
	}
	m.emit(EventNewCall, msg, p)
}

func (m *CallMonitor) updateChannel(msg *q931.Message) {
	if ie := msg.GetIE(q931.IEChannelID, nil); ie != nil {
		m.data.readChannelID(ie, m.mon.cfg.Primary)
	}
}

func (m *CallMonitor) processResponse(msg *q931.Message, s CallState, t EventType) {
	m.updateChannel(msg)
	if !m.reserveCircuits() {
		m.log.Debug("Failed to reserve monitored circuits", "channels", m.data.channels)
	}
	m.changeState(s)
	p := q931.Params{}
	if m.callerCircuit != nil {
		p.Add("channel", strconv.FormatUint(uint64(m.callerCircuit.Code()), 10))
	}
	if s == StateActive {
		m.connectCircuits()
	}
	m.emit(t, msg, p)
}

// reserveCircuits reserves the same circuit code on both sides of the
// tap: the caller circuit on the initiator side, the called circuit on
// the other.
func (m *CallMonitor) reserveCircuits() bool {
	if m.callerCircuit != nil {
		return true
	}
	callerSwitch, calledSwitch := m.mon.cpeSwitch, m.mon.netSwitch
	if m.netInit {
		callerSwitch, calledSwitch = m.mon.netSwitch, m.mon.cpeSwitch
	}
	if callerSwitch == nil || calledSwitch == nil {
		return false
	}
	caller, ok := callerSwitch.Reserve(m.data.channels, true)
	if !ok {
		return false
	}
	called, ok := calledSwitch.Reserve(strconv.FormatUint(uint64(caller.Code()), 10), true)
	if !ok {
		callerSwitch.Release(caller)
		return false
	}
	m.callerCircuit, m.calledCircuit = caller, called
	return true
}

func (m *CallMonitor) connectCircuits() {
	format := valueOr(m.data.format, "alaw")
	if m.callerCircuit != nil {
		m.callerCircuit.Connect(format)
	}
	if m.calledCircuit != nil {
		m.calledCircuit.Connect(format)
	}
}

func (m *CallMonitor) releaseCircuits() {
	callerSwitch, calledSwitch := m.mon.cpeSwitch, m.mon.netSwitch
	if m.netInit {
		callerSwitch, calledSwitch = m.mon.netSwitch, m.mon.cpeSwitch
	}
	if m.callerCircuit != nil {
		m.callerCircuit.Disconnect()
		callerSwitch.Release(m.callerCircuit)
		m.callerCircuit = nil
	}
	if m.calledCircuit != nil {
		m.calledCircuit.Disconnect()
		calledSwitch.Release(m.calledCircuit)
		m.calledCircuit = nil
	}
}

func (m *CallMonitor) processClearing(msg *q931.Message) {
	m.data.readCause(msg)
	if m.terminator == "" {
		m.terminator = "called"
		if msg.Initiator {
			m.terminator = "caller"
		}
	}
	reason := valueOr(m.data.reason, "normal-clearing")
	m.emit(EventRelease, msg, q931.Params{
		{Name: "reason", Value: reason},
		{Name: "terminator", Value: m.terminator},
	})
	if msg.Type == q931.MsgDisconnect {
		m.changeState(StateDisconnectIndication)
		return
	}
	m.releaseCircuits()
	m.changeState(StateNull)
	if !m.destroyed {
		m.destroyed = true
		m.mon.metrics.callReleased(reason, true)
	}
}

func (m *CallMonitor) checkCircuitEvent(now time.Time) {
	for _, circuit := range []Circuit{m.callerCircuit, m.calledCircuit} {
		if circuit == nil {
			continue
		}
		if ev := circuit.Event(now); ev != nil && ev.Type == "dtmf" && ev.Tone != "" {
			m.emit(EventInfo, nil, q931.Params{{Name: "tone", Value: ev.Tone}, {Name: "inband", Value: "true"}})
			return
		}
	}
}

// ControllerMonitor decodes both directions of a passive D channel tap
// and tracks the calls seen on it.
type ControllerMonitor struct {
	cfg       Config
	name      string
	log       *slog.Logger
	metrics   *Metrics
	dumper    Dumper
	netSwitch CircuitSwitch
	cpeSwitch CircuitSwitch
	pd        q931.ParserData

	mu       sync.Mutex
	monitors []*CallMonitor
	cursor   int
}

// NewControllerMonitor creates a monitor. netSwitch holds the circuits on
// the network side of the tap, cpeSwitch those on the user side.
func NewControllerMonitor(cfg Config, netSwitch, cpeSwitch CircuitSwitch, opts ...Option) *ControllerMonitor {
	o := buildOptions(opts)
	return &ControllerMonitor{
		cfg:       cfg,
		name:      o.name,
		log:       o.log,
		metrics:   o.metrics,
		dumper:    o.dumper,
		netSwitch: netSwitch,
		cpeSwitch: cpeSwitch,
		pd:        cfg.ParserData(0),
	}
}

// ReceiveData processes a message seen on the tap. fromNet is set for
// messages sent by the network side.
func (c *ControllerMonitor) ReceiveData(data []byte, fromNet bool) {
	if c.dumper != nil {
		if err := c.dumper.WriteMessage(data, 0, fromNet); err != nil {
			c.log.Debug("Failed to dump message", "error", err)
		}
	}
	msg, _, err := q931.Decode(&c.pd, data, false)
	if err != nil {
		if errors.Is(err, q931.ErrSegmentDropped) {
			c.log.Debug("Dropping monitored segment")
			c.metrics.segment("dropped")
			return
		}
		c.log.Debug("Failed to decode monitored message", "error", err)
		c.metrics.decodeError()
		return
	}
	direction := "cpe"
	if fromNet {
		direction = "net"
	}
	c.metrics.message(direction, msg.Type)
	if c.cfg.PrintMessages {
		c.log.Debug("Monitored message", "from_net", fromNet, "message", msg.Dump(data))
	}
	if msg.Dummy || msg.CallRef == 0 {
		c.log.Debug("Ignoring global message", "type", msg.Type)
		return
	}

	netInit := fromNet == msg.Initiator
	m := c.findMonitor(msg.CallRef, netInit)
	if m == nil {
		if msg.Type != q931.MsgSetup || !msg.Initiator {
			c.log.Debug("Message for unknown monitored call", "type", msg.Type, "callref", msg.CallRef)
			return
		}
		m = newCallMonitor(c, msg.CallRef, netInit)
		c.mu.Lock()
		c.monitors = append(c.monitors, m)
		c.mu.Unlock()
	}
	m.enqueue(msg, fromNet)
}

func (c *ControllerMonitor) findMonitor(callRef uint32, netInit bool) *CallMonitor {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.monitors {
		if m.callRef == callRef && m.netInit == netInit {
			return m
		}
	}
	return nil
}

// Monitors returns the calls being followed.
func (c *ControllerMonitor) Monitors() []*CallMonitor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.monitors)
}

// GetEvent advances monitored calls and returns at most one event.
func (c *ControllerMonitor) GetEvent(now time.Time) *Event {
	c.mu.Lock()
	monitors := slices.Clone(c.monitors)
	start := c.cursor
	c.mu.Unlock()

	var ev *Event
	for i := range monitors {
		m := monitors[(start+i)%len(monitors)]
		if ev = m.GetEvent(now); ev != nil {
			c.mu.Lock()
			c.cursor = start + i + 1
			c.mu.Unlock()
			break
		}
	}

	c.mu.Lock()
	c.monitors = slices.DeleteFunc(c.monitors, func(m *CallMonitor) bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.qmu.Lock()
		defer m.qmu.Unlock()
		return m.destroyed && len(m.events) == 0 && len(m.queue) == 0
	})
	if len(c.monitors) > 0 {
		c.cursor %= len(c.monitors)
	} else {
		c.cursor = 0
	}
	c.mu.Unlock()
	return ev
}
