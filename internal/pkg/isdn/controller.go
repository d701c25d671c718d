package isdn

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/endorses/isdnq931/internal/pkg/logger"
	"github.com/endorses/isdnq931/internal/pkg/q931"
	"github.com/pkg/errors"
)

var (
	ErrCallRejected = errors.New("isdn: call rejected")
	ErrNoCallRef    = errors.New("isdn: no free call reference")
)

// Dumper records raw Q.931 messages.
type Dumper interface {
	WriteMessage(data []byte, tei uint8, outgoing bool) error
}

type options struct {
	name    string
	clock   func() time.Time
	log     *slog.Logger
	metrics *Metrics
	dumper  Dumper
}

// Option configures a Controller or ControllerMonitor.
type Option func(*options)

// WithName names the controller in logs.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithClock replaces time.Now for timer arming.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithDumper records every message sent and received.
func WithDumper(d Dumper) Option {
	return func(o *options) { o.dumper = d }
}

func buildOptions(opts []Option) options {
	o := options{name: "q931", clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Get()
	}
	o.log = o.log.With("controller", o.name)
	return o
}

// Status is a snapshot of a controller.
type Status struct {
	Name          string
	Network       bool
	Primary       bool
	LinkUp        bool
	Calls         int
	Restarting    bool
	RestartCursor int
	Reassembling  bool
	Flags         string
}

// Controller runs the Q.931 call control procedures of one D channel.
//
// The controller lock may be held while taking a call lock, never the
// reverse. Calls only reach the controller through sendMessage, which
// uses no controller lock.
type Controller struct {
	cfg        Config
	name       string
	l2         Layer2
	circuits   CircuitSwitch
	log        *slog.Logger
	clock      func() time.Time
	metrics    *Metrics
	dumper     Dumper
	pd         q931.ParserData
	callRefLen uint8

	linkUp  atomic.Bool
	exiting atomic.Bool

	mu          sync.Mutex
	calls       []*Call
	cursor      int
	lastCallRef uint32
	segments    *reassembly
	t309        protoTimer
	restart     restartState
}

// NewController creates a controller sending through l2 and reserving
// bearer channels from circuits.
func NewController(cfg Config, l2 Layer2, circuits CircuitSwitch, opts ...Option) *Controller {
	o := buildOptions(opts)
	c := &Controller{
		cfg:        cfg,
		name:       o.name,
		l2:         l2,
		circuits:   circuits,
		log:        o.log,
		clock:      o.clock,
		metrics:    o.metrics,
		dumper:     o.dumper,
		pd:         cfg.ParserData(l2.MaxUserData()),
		callRefLen: cfg.callRefLen(),
		t309:       newTimer(cfg.T309),
	}
	c.restart = newRestartState(cfg)
	c.log.Info("Q.931 controller created",
		"network", cfg.Network,
		"primary", cfg.Primary,
		"callreflen", c.callRefLen,
		"flags", c.pd.Flags.String(),
		"max_msg_len", c.pd.MaxMsgLen)
	return c
}

func (c *Controller) now() time.Time { return c.clock() }

// Name returns the controller name.
func (c *Controller) Name() string { return c.name }

func (c *Controller) Flags() q931.Flags { return c.pd.Flags }

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Name:          c.name,
		Network:       c.cfg.Network,
		Primary:       c.cfg.Primary,
		LinkUp:        c.linkUp.Load(),
		Calls:         len(c.calls),
		Restarting:    c.restart.circuit != nil,
		RestartCursor: c.restart.cursor,
		Reassembling:  c.segments != nil,
		Flags:         c.pd.Flags.String(),
	}
}

// sendMessage encodes msg and hands it to layer 2. On failure it returns
// the clearing reason.
func (c *Controller) sendMessage(msg *q931.Message, tei uint8) (bool, string) {
	if !c.linkUp.Load() && tei != BroadcastTEI {
		c.log.Debug("Cannot send message, data link down", "type", msg.Type)
		return false, "net-out-of-order"
	}
	bufs, err := q931.Encode(&c.pd, msg)
	if err != nil {
		c.log.Warn("Failed to encode message", "type", msg.Type, "error", err)
		return false, "invalid-message"
	}
	if c.cfg.PrintMessages {
		c.log.Debug("Sending message", "tei", tei, "message", msg.Dump(nil))
	}
	for _, b := range bufs {
		if !c.l2.SendData(b, tei, tei != BroadcastTEI) {
			return false, "net-out-of-order"
		}
		c.dump(b, tei, true)
	}
	if len(bufs) > 1 {
		c.metrics.segment("sent")
	}
	c.metrics.message("out", msg.Type)
	return true, ""
}

func (c *Controller) dump(data []byte, tei uint8, outgoing bool) {
	if c.dumper == nil {
		return
	}
	if err := c.dumper.WriteMessage(data, tei, outgoing); err != nil {
		c.log.Debug("Failed to dump message", "error", err)
	}
}

// reply builds a message answering msg on its call reference.
func reply(msg *q931.Message, t q931.MsgType) *q931.Message {
	if msg.Dummy {
		return q931.NewDummyMessage(t)
	}
	return q931.NewMessage(t, !msg.Initiator, msg.CallRef, msg.CallRefLen)
}

func (c *Controller) sendStatus(msg *q931.Message, cause, diagnostic string, tei uint8) bool {
	st := reply(msg, q931.MsgStatus)
	st.AppendIE(causeIE(cause, diagnostic, c.cfg.Network))
	st.AppendIEValue(q931.IECallState, "state", StateNull.String())
	ok, _ := c.sendMessage(st, tei)
	return ok
}

func (c *Controller) sendRelease(msg *q931.Message, t q931.MsgType, cause string, tei uint8) bool {
	rel := reply(msg, t)
	if cause != "" {
		rel.AppendIE(causeIE(cause, "", c.cfg.Network))
	}
	ok, _ := c.sendMessage(rel, tei)
	return ok
}

// ReceiveData processes a message received from layer 2.
func (c *Controller) ReceiveData(data []byte, tei uint8) {
	c.dump(data, tei, false)
	msg := c.getMsg(data, tei)
	if msg == nil {
		return
	}
	c.metrics.message("in", msg.Type)
	if c.cfg.PrintMessages {
		c.log.Debug("Received message", "tei", tei, "message", msg.Dump(data))
	}

	if msg.Dummy {
		if c.pd.Flag(q931.FlagAllowDummyRestart) &&
			(msg.Type == q931.MsgRestart || msg.Type == q931.MsgRestartAck) {
			c.processGlobalMsg(msg, tei)
			return
		}
		c.log.Debug("Dummy call reference not supported", "type", msg.Type)
		c.sendStatus(msg, "service-not-implemented", "", tei)
		return
	}
	if msg.CallRef == 0 || msg.Type == q931.MsgRestart || msg.Type == q931.MsgRestartAck {
		c.processGlobalMsg(msg, tei)
		return
	}

	if call := c.findCall(msg.CallRef, !msg.Initiator, tei); call != nil {
		call.mu.Lock()
		deliver := call.broadcastResponse(msg, tei)
		call.mu.Unlock()
		if deliver {
			call.enqueue(msg)
		}
		return
	}

	if msg.Type == q931.MsgSetup && msg.Initiator {
		call, reason := c.acceptNewCall(msg.CallRef, tei)
		if call == nil {
			c.log.Info("Rejecting incoming call", "callref", msg.CallRef, "reason", reason)
			c.sendRelease(msg, q931.MsgReleaseComplete, reason, tei)
			return
		}
		call.enqueue(msg)
		return
	}
	c.processInvalidMsg(msg, tei)
}

// findCall returns the call owning callRef in the given direction. A call
// addressed to the broadcast TEI matches any terminal.
func (c *Controller) findCall(callRef uint32, outgoing bool, tei uint8) *Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, call := range c.calls {
		if call.callRef != callRef || call.outgoing != outgoing {
			continue
		}
		if t := call.TEI(); t == tei || t == BroadcastTEI || !c.cfg.Network {
			return call
		}
	}
	return nil
}

func (c *Controller) acceptNewCall(callRef uint32, tei uint8) (*Call, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if reason, ok := c.canAccept(); !ok {
		return nil, reason
	}
	call := newCall(c, false, callRef, tei)
	c.calls = append(c.calls, call)
	return call, ""
}

func (c *Controller) canAccept() (string, bool) {
	if c.exiting.Load() {
		return "net-out-of-order", false
	}
	if !c.linkUp.Load() && (c.cfg.Primary || !c.cfg.Network) {
		return "net-out-of-order", false
	}
	return "", true
}

// processInvalidMsg answers a message for an unknown call reference.
func (c *Controller) processInvalidMsg(msg *q931.Message, tei uint8) {
	c.log.Debug("Message for unknown call", "type", msg.Type, "callref", msg.CallRef)
	switch msg.Type {
	case q931.MsgReleaseComplete, q931.MsgResume:
	case q931.MsgSetup:
		// A SETUP carrying the responder flag is ignored.
	case q931.MsgRelease:
		c.sendRelease(msg, q931.MsgReleaseComplete, "invalid-callref", tei)
	case q931.MsgStatus:
		if msg.GetIEValue(q931.IECallState, "state", StateNull.String()) != StateNull.String() {
			c.sendRelease(msg, q931.MsgReleaseComplete, "wrong-state-message", tei)
		}
	case q931.MsgStatusEnquiry:
		c.sendStatus(msg, "status-enquiry-rsp", "", tei)
	default:
		c.sendRelease(msg, q931.MsgRelease, "invalid-callref", tei)
	}
}

// Call starts an outgoing call. params are the NewCall event parameters:
// caller, called, format, channel, callername, complete and friends.
func (c *Controller) Call(params q931.Params) (*Call, error) {
	c.mu.Lock()
	if reason, ok := c.canAccept(); !ok {
		c.mu.Unlock()
		return nil, errors.Wrap(ErrCallRejected, reason)
	}
	ref, ok := c.nextCallRef()
	if !ok {
		c.mu.Unlock()
		return nil, ErrNoCallRef
	}
	var tei uint8
	if c.cfg.Network && !c.cfg.Primary {
		tei = BroadcastTEI
	}
	call := newCall(c, true, ref, tei)
	c.calls = append(c.calls, call)
	c.mu.Unlock()

	if !call.SendEvent(&Event{Type: EventNewCall, Params: params}) {
		call.SetTerminate(true, "")
	}
	return call, nil
}

// nextCallRef allocates a call reference. Callers hold c.mu.
func (c *Controller) nextCallRef() (uint32, bool) {
	mask := uint32(1)<<(8*uint32(c.callRefLen)-1) - 1
	for i := uint32(0); i <= mask; i++ {
		c.lastCallRef = (c.lastCallRef + 1) & mask
		if c.lastCallRef == 0 {
			continue
		}
		inUse := false
		for _, call := range c.calls {
			if call.outgoing && call.callRef == c.lastCallRef {
				inUse = true
				break
			}
		}
		if !inUse {
			return c.lastCallRef, true
		}
	}
	return 0, false
}

// GetEvent advances timers and calls and returns at most one event.
func (c *Controller) GetEvent(now time.Time) *Event {
	c.TimerTick(now)

	c.mu.Lock()
	calls := slices.Clone(c.calls)
	start := c.cursor
	c.mu.Unlock()

	var ev *Event
	for i := range calls {
		call := calls[(start+i)%len(calls)]
		if ev = call.GetEvent(now); ev != nil {
			c.mu.Lock()
			c.cursor = start + i + 1
			c.mu.Unlock()
			break
		}
	}
	c.removeDestroyed()
	return ev
}

func (c *Controller) removeDestroyed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = slices.DeleteFunc(c.calls, func(call *Call) bool {
		call.mu.Lock()
		defer call.mu.Unlock()
		return call.destroyed && len(call.events) == 0
	})
	if len(c.calls) > 0 {
		c.cursor %= len(c.calls)
	} else {
		c.cursor = 0
	}
}

// Calls returns the live calls.
func (c *Controller) Calls() []*Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.calls)
}

// TimerTick runs the controller level timers.
func (c *Controller) TimerTick(now time.Time) {
	c.mu.Lock()
	if c.segments != nil && c.segments.t314.Timeout(now) {
		c.log.Debug("Segment reassembly timed out")
		c.metrics.segment("timeout")
		c.segments = nil
	}
	c.checkRestart(now)
	expired := c.t309.Timeout(now)
	if expired {
		c.t309.Stop()
	}
	c.mu.Unlock()

	if expired {
		c.log.Warn("T309 expired, clearing calls")
		c.Cleanup("dest-out-of-order")
	}
}

// Cleanup clears every call with reason.
func (c *Controller) Cleanup(reason string) {
	for _, call := range c.Calls() {
		call.SetTerminate(true, reason)
	}
}

// Exit stops accepting calls and clears the existing ones.
func (c *Controller) Exit() {
	if c.exiting.Swap(true) {
		return
	}
	c.log.Info("Q.931 controller exiting")
	c.Cleanup("net-out-of-order")
}

// MultipleFrameEstablished notifies the controller that the data link to
// tei came up.
func (c *Controller) MultipleFrameEstablished(tei uint8, confirm, timeout bool) {
	c.log.Info("Data link established", "tei", tei, "confirm", confirm, "timeout", timeout)
	c.linkUp.Store(true)
	c.mu.Lock()
	c.segments = nil
	c.t309.Stop()
	c.startRestartCycle(c.now())
	c.mu.Unlock()
	if confirm {
		return
	}
	for _, call := range c.Calls() {
		call.DataLinkState(true)
	}
}

// MultipleFrameReleased notifies the controller that the data link to
// tei went down.
func (c *Controller) MultipleFrameReleased(tei uint8, confirm, timeout bool) {
	c.log.Info("Data link released", "tei", tei, "confirm", confirm, "timeout", timeout)
	c.linkUp.Store(false)
	c.mu.Lock()
	c.segments = nil
	if c.cfg.Primary {
		c.t309.Start(c.now())
	}
	c.stopRestartCycle()
	c.mu.Unlock()
	if !confirm {
		for _, call := range c.Calls() {
			call.DataLinkState(false)
		}
	}
	if !c.l2.AutoRestart() && !c.exiting.Load() {
		c.l2.MultipleFrame(tei, true, false)
	}
}
