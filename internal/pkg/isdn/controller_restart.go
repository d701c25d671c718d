package isdn

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/endorses/isdnq931/internal/pkg/q931"
)

// restartState drives the periodic restart of idle circuits.
type restartState struct {
	cursor    int
	circuit   Circuit
	retries   int
	t316      protoTimer
	syncGroup protoTimer
}

func newRestartState(cfg Config) restartState {
	return restartState{
		t316:      newTimer(cfg.T316),
		syncGroup: newTimer(cfg.ChannelSync),
	}
}

func (c *Controller) restartEnabled() bool {
	return c.cfg.Primary && c.cfg.ChannelSync > 0
}

// startRestartCycle arms the channel sync timer. Callers hold c.mu.
func (c *Controller) startRestartCycle(now time.Time) {
	if c.restartEnabled() && c.restart.circuit == nil {
		c.restart.syncGroup.Start(now)
	}
}

// stopRestartCycle abandons a pending restart. Callers hold c.mu.
func (c *Controller) stopRestartCycle() {
	c.restart.syncGroup.Stop()
	c.restart.t316.Stop()
	if c.restart.circuit != nil {
		c.circuits.Release(c.restart.circuit)
		c.restart.circuit = nil
	}
}

// checkRestart runs the restart timers. Callers hold c.mu.
func (c *Controller) checkRestart(now time.Time) {
	r := &c.restart
	if r.syncGroup.Timeout(now) {
		r.syncGroup.Stop()
		c.sendRestart(now)
		return
	}
	if r.circuit == nil || !r.t316.Timeout(now) {
		return
	}
	if r.retries < c.cfg.RestartRetries {
		r.retries++
		c.log.Debug("T316 expired, repeating RESTART", "circuit", r.circuit.Code(), "retry", r.retries)
		c.transmitRestart()
		r.t316.Start(now)
		return
	}
	c.log.Warn("Circuit restart not acknowledged", "circuit", r.circuit.Code())
	c.endRestart(now, "timeout")
}

// sendRestart reserves the next idle circuit and restarts it.
func (c *Controller) sendRestart(now time.Time) {
	r := &c.restart
	codes := c.circuits.Codes()
	for range codes {
		code := codes[r.cursor%len(codes)]
		r.cursor = (r.cursor + 1) % len(codes)
		if circuit, ok := c.circuits.Reserve(strconv.FormatUint(uint64(code), 10), true); ok {
			r.circuit = circuit
			break
		}
	}
	if r.circuit == nil {
		c.log.Debug("No idle circuit to restart")
		r.syncGroup.Start(now)
		return
	}
	r.retries = 0
	c.log.Debug("Restarting circuit", "circuit", r.circuit.Code())
	c.transmitRestart()
	r.t316.Start(now)
	c.metrics.restart("sent")
}

func (c *Controller) transmitRestart() {
	msg := q931.NewMessage(q931.MsgRestart, true, 0, c.callRefLen)
	ch := msg.AppendIE(q931.NewIE(q931.IEChannelID))
	ch.Add("interface-bri", "false")
	ch.Add("channel-exclusive", "true")
	ch.Add("channel-select", "present")
	ch.Add("channel-by-number", "true")
	ch.Add("type", "B")
	ch.Add("channels", strconv.FormatUint(uint64(c.restart.circuit.Code()), 10))
	msg.AppendIEValue(q931.IERestart, "class", "channels")
	if ok, reason := c.sendMessage(msg, 0); !ok {
		c.log.Debug("Failed to send RESTART", "reason", reason)
	}
}

// endRestart releases the restarted circuit and schedules the next one.
func (c *Controller) endRestart(now time.Time, result string) {
	r := &c.restart
	r.t316.Stop()
	if r.circuit != nil {
		c.circuits.Release(r.circuit)
		r.circuit = nil
	}
	c.metrics.restart(result)
	if c.linkUp.Load() {
		c.startRestartCycle(now)
	}
}

func (c *Controller) processGlobalMsg(msg *q931.Message, tei uint8) {
	switch msg.Type {
	case q931.MsgRestart:
		c.processMsgRestart(msg, tei)
	case q931.MsgRestartAck:
		c.processMsgRestartAck(msg)
	case q931.MsgStatus:
		c.log.Debug("Ignoring STATUS on global call reference",
			"cause", msg.GetIEValue(q931.IECause, "cause", ""))
	default:
		c.log.Debug("Invalid message on global call reference", "type", msg.Type)
		c.sendStatus(msg, "invalid-callref", "", tei)
	}
}

func channelCodes(ie *q931.IE) []uint32 {
	if ie == nil {
		return nil
	}
	var out []uint32
	for _, s := range strings.Split(ie.Value("channels", ""), ",") {
		n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
		if err == nil {
			out = append(out, uint32(n))
		}
	}
	return out
}

// processMsgRestart restarts the requested circuits and acknowledges.
func (c *Controller) processMsgRestart(msg *q931.Message, tei uint8) {
	class := msg.GetIEValue(q931.IERestart, "class", "")
	ch := msg.GetIE(q931.IEChannelID, nil)
	codes := channelCodes(ch)
	var valid bool
	switch class {
	case "channels":
		valid = len(codes) > 0
	case "interface":
		valid = len(codes) <= 1
	case "all-interfaces":
		valid = ch == nil
	default:
		valid = false
	}
	if !valid {
		diagnostic := diagnosticFor(q931.IERestart)
		c.log.Info("Invalid RESTART", "class", class, "diagnostic", diagnostic)
		c.sendStatus(msg, "invalid-ie", diagnostic, tei)
		return
	}

	switch class {
	case "interface":
		if len(codes) == 1 {
			codes, _ = c.circuits.Span(codes[0])
		} else {
			codes = c.circuits.Codes()
		}
	case "all-interfaces":
		codes = c.circuits.Codes()
	}
	c.log.Info("Restart requested", "class", class, "circuits", len(codes))
	for _, call := range c.Calls() {
		if code, ok := call.CircuitCode(); ok && slices.Contains(codes, code) {
			call.SetTerminate(true, "resource-unavailable")
		}
	}

	ack := reply(msg, q931.MsgRestartAck)
	ack.AppendIE(msg.RemoveIE(q931.IEChannelID))
	ack.AppendIE(msg.RemoveIE(q931.IERestart))
	c.sendMessage(ack, tei)
	c.metrics.restart("received")
}

func (c *Controller) processMsgRestartAck(msg *q931.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := &c.restart
	if r.circuit == nil {
		c.log.Debug("Unexpected RESTART ACK")
		return
	}
	if !slices.Contains(channelCodes(msg.GetIE(q931.IEChannelID, nil)), r.circuit.Code()) {
		c.log.Debug("RESTART ACK for another circuit", "circuit", r.circuit.Code())
		return
	}
	c.log.Debug("Circuit restarted", "circuit", r.circuit.Code())
	c.endRestart(c.now(), "acked")
}
