package isdn

import (
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/endorses/isdnq931/internal/pkg/q931"
	"github.com/google/uuid"
)

// Call is one Q.931 call owned by a Controller. Inbound messages are
// queued by the controller and processed from GetEvent.
type Call struct {
	id         string
	ctrl       *Controller
	log        *slog.Logger
	callRef    uint32
	callRefLen uint8
	outgoing   bool
	tei        atomic.Uint32

	qmu   sync.Mutex
	queue []*q931.Message

	mu            sync.Mutex
	state         CallState
	data          callData
	circuit       Circuit
	circuitChange bool
	channelIDSent bool
	inband        bool
	// broadcast marks the terminals that answered a SETUP sent to the
	// broadcast TEI.
	broadcast    [BroadcastTEI]bool
	events       []*Event
	releaseEvent bool
	counted      bool
	reason       string
	terminate    bool
	destroy      bool
	destroyed    bool

	t302, t303, t304, t305, t308, t313 protoTimer
}

func newCall(ctrl *Controller, outgoing bool, callRef uint32, tei uint8) *Call {
	c := &Call{
		id:         uuid.NewString(),
		ctrl:       ctrl,
		callRef:    callRef,
		callRefLen: ctrl.callRefLen,
		outgoing:   outgoing,
		t302:       newTimer(ctrl.cfg.T302),
		t303:       newTimer(ctrl.cfg.T303),
		t304:       newTimer(ctrl.cfg.T304),
		t305:       newTimer(ctrl.cfg.T305),
		t308:       newTimer(ctrl.cfg.T308),
		t313:       newTimer(ctrl.cfg.T313),
	}
	c.tei.Store(uint32(tei))
	c.data.bri = !ctrl.cfg.Primary
	c.log = ctrl.log.With("call_id", c.id, "callref", callRef, "outgoing", outgoing)
	c.log.Debug("Call created", "tei", tei)
	return c
}

// ID returns the correlation id of the call.
func (c *Call) ID() string { return c.id }

func (c *Call) CallRef() uint32 { return c.callRef }

// Outgoing reports whether the call reference was allocated locally.
func (c *Call) Outgoing() bool { return c.outgoing }

func (c *Call) TEI() uint8 { return uint8(c.tei.Load()) }

func (c *Call) State() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Destroyed reports whether the call reached its final release.
func (c *Call) Destroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

// Reason returns the last clearing reason.
func (c *Call) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// CircuitCode returns the code of the reserved circuit.
func (c *Call) CircuitCode() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.circuit == nil {
		return 0, false
	}
	return c.circuit.Code(), true
}

func (c *Call) enqueue(msg *q931.Message) {
	c.qmu.Lock()
	c.queue = append(c.queue, msg)
	c.qmu.Unlock()
}

func (c *Call) dequeue() *q931.Message {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	if len(c.queue) == 0 {
		return nil
	}
	msg := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	return msg
}

// GetEvent advances the call and returns at most one event.
func (c *Call) GetEvent(now time.Time) *Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev := c.nextEvent(); ev != nil {
		return ev
	}
	if c.destroyed {
		return nil
	}
	if c.terminate {
		for msg := c.dequeue(); msg != nil && !c.destroyed; msg = c.dequeue() {
			if msg.Type == q931.MsgRelease || msg.Type == q931.MsgReleaseComplete {
				c.processMessage(msg)
				continue
			}
			c.log.Debug("Dropping message of terminating call", "type", msg.Type)
		}
		if !c.destroyed {
			c.processTerminate()
		}
		return c.nextEvent()
	}
	if msg := c.dequeue(); msg != nil {
		c.processMessage(msg)
		if ev := c.nextEvent(); ev != nil {
			return ev
		}
	}
	c.checkTimeout(now)
	if ev := c.nextEvent(); ev != nil {
		return ev
	}
	c.checkCircuitEvent(now)
	return c.nextEvent()
}

func (c *Call) nextEvent() *Event {
	if len(c.events) == 0 {
		return nil
	}
	ev := c.events[0]
	c.events[0] = nil
	c.events = c.events[1:]
	return ev
}

// emit queues an event for the upper layer. Only the first Release event
// of a call is delivered.
func (c *Call) emit(t EventType, msg *q931.Message, params q931.Params) {
	if t == EventRelease {
		if c.releaseEvent {
			return
		}
		c.releaseEvent = true
	}
	c.events = append(c.events, &Event{Type: t, Params: params, Message: msg, Call: c})
}

// SendEvent translates an upper layer request into Q.931 messages.
func (c *Call) SendEvent(ev *Event) bool {
	if ev == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return false
	}
	switch ev.Type {
	case EventNewCall:
		return c.sendSetup(ev.Params)
	case EventProgress:
		return c.sendProgress(ev.Params)
	case EventRinging:
		return c.sendAlerting(ev.Params)
	case EventAccept:
		if ev.Params.Bool("overlapped", false) {
			return c.sendSetupAck()
		}
		return c.sendCallProceeding()
	case EventAnswer:
		return c.sendConnect(ev.Params)
	case EventInfo:
		return c.sendInfo(ev.Params)
	case EventRelease:
		reason := ev.Params.Value("reason", "normal-clearing")
		if sendAllowed(c.state, q931.MsgDisconnect) {
			return c.sendDisconnect(reason, "")
		}
		c.setTerminate(true, reason)
		return true
	}
	c.log.Debug("Unsupported event", "event", ev.Type)
	return false
}

// SetTerminate asks the call to clear. With destroy set the call is
// removed after the final release.
func (c *Call) SetTerminate(destroy bool, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setTerminate(destroy, reason)
}

func (c *Call) setTerminate(destroy bool, reason string) {
	if c.destroyed {
		return
	}
	if c.terminate && (c.destroy || !destroy) {
		return
	}
	c.terminate = true
	c.destroy = c.destroy || destroy
	if reason != "" {
		c.reason = reason
	}
}

// DataLinkState reacts to a link change. A down link clears every call
// that is not already active.
func (c *Call) DataLinkState(up bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if up {
		if c.state != StateNull && !c.terminate {
			c.sendStatus("normal", "")
		}
		return
	}
	if c.state != StateActive {
		c.setTerminate(true, "net-out-of-order")
	}
}

func (c *Call) processTerminate() {
	switch c.state {
	case StateReleaseReq, StateDisconnectReq:
		if c.destroy {
			c.releaseComplete(c.reason, "")
			return
		}
		c.terminate = false
	case StateNull:
		c.releaseComplete(c.reason, "")
	default:
		c.sendRelease(c.reason, "")
		if !c.destroy {
			c.terminate = false
		}
	}
}

// releaseComplete clears the call for good. It runs at most once.
func (c *Call) releaseComplete(reason, diagnostic string) {
	if c.destroyed {
		return
	}
	if reason == "" {
		reason = valueOr(c.reason, "normal-clearing")
	}
	c.reason = reason
	c.stopTimers()
	c.sendReleaseComplete(reason, diagnostic)
	c.releaseCircuit()
	c.changeState(StateNull)
	c.terminate, c.destroy, c.destroyed = true, true, true
	params := q931.Params{{Name: "reason", Value: reason}}
	if diagnostic != "" {
		params.Add("diagnostic", diagnostic)
	}
	c.emit(EventRelease, nil, params)
	c.ctrl.metrics.callReleased(reason, c.counted)
	c.log.Info("Call released", "reason", reason)
}

func (c *Call) started(kind string) {
	c.counted = true
	c.ctrl.metrics.callStarted(kind)
}

func (c *Call) changeState(s CallState) {
	if c.state == s {
		return
	}
	c.log.Debug("Call state changed", "from", c.state, "to", s)
	c.state = s
}

func (c *Call) stopTimers() {
	c.t302.Stop()
	c.t303.Stop()
	c.t304.Stop()
	c.t305.Stop()
	c.t308.Stop()
	c.t313.Stop()
}

func (c *Call) checkTimeout(now time.Time) {
	switch c.state {
	case StateDisconnectReq:
		if c.t305.Timeout(now) {
			c.log.Debug("T305 expired")
			c.t305.Stop()
			c.sendRelease(c.reason, "")
		}
	case StateReleaseReq:
		if c.t308.Timeout(now) {
			c.log.Debug("T308 expired")
			c.t308.Stop()
			c.changeState(StateNull)
			c.releaseComplete("timeout", "")
		}
	case StateConnectReq:
		if c.t313.Timeout(now) {
			c.log.Debug("T313 expired")
			c.t313.Stop()
			c.sendDisconnect("timeout", "")
		}
	case StateCallInitiated:
		if c.t303.Timeout(now) {
			c.log.Debug("T303 expired")
			c.releaseComplete("timeout", "")
		}
	case StateOverlapSend:
		if c.t304.Timeout(now) {
			c.t304.Start(now)
		}
	case StateOverlapRecv:
		if c.t302.Timeout(now) {
			c.log.Debug("T302 expired")
			c.t302.Stop()
			c.setTerminate(false, "invalid-number-format")
		}
	}
}

func (c *Call) checkCircuitEvent(now time.Time) {
	if c.circuit == nil || c.state == StateNull {
		return
	}
	ev := c.circuit.Event(now)
	if ev == nil || ev.Type != "dtmf" || ev.Tone == "" {
		return
	}
	c.emit(EventInfo, nil, q931.Params{{Name: "tone", Value: ev.Tone}, {Name: "inband", Value: "true"}})
}

// reserveCircuit reserves the circuit requested by the call data.
func (c *Call) reserveCircuit() bool {
	d := &c.data
	if !c.outgoing && !c.ctrl.cfg.Primary {
		if c.circuit != nil {
			return true
		}
		return c.reserve(d.channels, d.channelMandatory)
	}
	if d.channels == "" {
		if c.circuit != nil {
			return true
		}
		if d.channelMandatory {
			c.reason = "channel-unacceptable"
			return false
		}
		return c.reserve("", false)
	}
	if c.circuit != nil && strconv.FormatUint(uint64(c.circuit.Code()), 10) == d.channels {
		return true
	}
	mandatory := d.channelMandatory || c.circuit != nil
	old := c.circuit
	c.circuit = nil
	if !c.reserve(d.channels, mandatory) {
		c.circuit = old
		return false
	}
	if old != nil {
		c.ctrl.circuits.Release(old)
		c.circuitChange = true
	}
	return true
}

func (c *Call) reserve(codes string, mandatory bool) bool {
	circuit, ok := c.ctrl.circuits.Reserve(codes, mandatory)
	if !ok {
		if codes == "" {
			c.reason = "congestion"
		} else {
			c.reason = "channel-unacceptable"
		}
		c.log.Debug("Circuit reservation failed", "codes", codes, "mandatory", mandatory)
		return false
	}
	c.circuit = circuit
	c.log.Debug("Circuit reserved", "code", circuit.Code())
	return true
}

func (c *Call) connectCircuit() {
	if c.circuit != nil {
		c.circuit.Connect(valueOr(c.data.format, "alaw"))
	}
}

func (c *Call) releaseCircuit() {
	if c.circuit == nil {
		return
	}
	c.circuit.Disconnect()
	c.ctrl.circuits.Release(c.circuit)
	c.circuit = nil
}

func (c *Call) circuitCode() (uint32, bool) {
	if c.circuit == nil {
		return 0, false
	}
	return c.circuit.Code(), true
}

// callParams describes the call to the upper layer.
func (c *Call) callParams() q931.Params {
	d := &c.data
	var p q931.Params
	add := func(name, value string) {
		if value != "" {
			p.Add(name, value)
		}
	}
	add("caller", d.callerNo)
	add("caller-type", d.callerType)
	add("caller-plan", d.callerPlan)
	add("caller-pres", d.callerPres)
	add("caller-screening", d.callerScreening)
	add("called", d.calledNo)
	add("called-type", d.calledType)
	add("called-plan", d.calledPlan)
	add("callername", d.display)
	add("format", d.format)
	add("transfer-cap", d.transferCap)
	if code, ok := c.circuitCode(); ok {
		p.Add("channel", strconv.FormatUint(uint64(code), 10))
	}
	p.Add("overlapped", strconv.FormatBool(d.overlap))
	p.Add("complete", strconv.FormatBool(d.complete))
	return p
}

// broadcastResponse tracks the terminals answering a broadcast SETUP.
// It reports whether msg should be processed by the call.
func (c *Call) broadcastResponse(msg *q931.Message, tei uint8) bool {
	if c.TEI() != BroadcastTEI || tei >= BroadcastTEI {
		return true
	}
	switch msg.Type {
	case q931.MsgConnect:
		for i := range c.broadcast {
			if c.broadcast[i] && uint8(i) != tei {
				c.sendReleaseTo(uint8(i), "non-sel-user-clearing")
			}
			c.broadcast[i] = false
		}
		c.tei.Store(uint32(tei))
		c.log.Debug("Broadcast call answered", "tei", tei)
		return true
	case q931.MsgDisconnect, q931.MsgReleaseComplete:
		c.broadcast[tei] = false
		for _, v := range c.broadcast {
			if !v {
				continue
			}
			if msg.Type == q931.MsgDisconnect {
				c.sendReleaseTo(tei, "")
			}
			return false
		}
		c.tei.Store(uint32(tei))
		return true
	}
	c.broadcast[tei] = true
	return true
}
