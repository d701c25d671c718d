package isdn

import (
	"strconv"

	"github.com/endorses/isdnq931/internal/pkg/q931"
)

func isClearing(t q931.MsgType) bool {
	return t == q931.MsgDisconnect || t == q931.MsgRelease || t == q931.MsgReleaseComplete
}

func (c *Call) processMessage(msg *q931.Message) {
	ok, retrans := recvAllowed(c.state, msg.Type)
	if !ok {
		if retrans {
			c.log.Debug("Dropping retransmitted message", "type", msg.Type, "state", c.state)
			return
		}
		c.log.Debug("Message not allowed in call state", "type", msg.Type, "state", c.state)
		c.sendStatus("wrong-state-message", "")
		return
	}
	if msg.UnknownMandatory && !isClearing(msg.Type) {
		c.log.Info("Unrecognized mandatory element", "type", msg.Type)
		if c.state == StateNull {
			c.changeState(StateCallPresent)
		}
		c.releaseComplete("unknown-ie", "")
		return
	}
	switch msg.Type {
	case q931.MsgSetup:
		c.processMsgSetup(msg)
	case q931.MsgSetupAck:
		c.processMsgSetupAck(msg)
	case q931.MsgProceeding:
		c.processMsgProceeding(msg)
	case q931.MsgAlerting:
		c.processMsgAlerting(msg)
	case q931.MsgConnect:
		c.processMsgConnect(msg)
	case q931.MsgConnectAck:
		c.t313.Stop()
		if c.state == StateConnectReq {
			c.changeState(StateActive)
		}
	case q931.MsgProgress:
		c.processMsgProgress(msg)
	case q931.MsgDisconnect:
		c.processMsgDisconnect(msg)
	case q931.MsgRelease:
		c.data.readCause(msg)
		if c.state == StateReleaseReq {
			c.changeState(StateNull)
		}
		c.releaseComplete(c.data.reason, "")
	case q931.MsgReleaseComplete:
		c.data.readCause(msg)
		c.changeState(StateNull)
		c.releaseComplete(c.data.reason, "")
	case q931.MsgInfo:
		c.processMsgInfo(msg)
	case q931.MsgNotify:
		c.processMsgNotify(msg)
	case q931.MsgStatus:
		c.processMsgStatus(msg)
	case q931.MsgStatusEnquiry:
		c.sendStatus("status-enquiry-rsp", "")
	case q931.MsgSuspend:
		c.sendSuspendRej("service-not-implemented")
	case q931.MsgUserInfo, q931.MsgCongestionCtrl:
		c.log.Debug("Ignoring message", "type", msg.Type)
	default:
		c.sendStatus("wrong-message", "")
	}
}

func (c *Call) errorNoIE(t q931.IEType) {
	c.log.Info("Missing mandatory element", "ie", t)
	c.releaseComplete("missing-mandatory-ie", diagnosticFor(t))
}

func (c *Call) errorWrongIE(t q931.IEType) {
	c.log.Info("Invalid element", "ie", t)
	c.releaseComplete("invalid-ie", diagnosticFor(t))
}

func (c *Call) processMsgSetup(msg *q931.Message) {
	c.changeState(StateCallPresent)
	d := &c.data
	bc := msg.GetIE(q931.IEBearerCaps, nil)
	if bc == nil {
		c.errorNoIE(q931.IEBearerCaps)
		return
	}
	d.readBearerCaps(bc)
	if d.transferMode != "circuit" {
		c.errorWrongIE(q931.IEBearerCaps)
		return
	}
	if ch := msg.GetIE(q931.IEChannelID, nil); ch != nil {
		d.readChannelID(ch, c.ctrl.cfg.Primary)
		if d.bri == c.ctrl.cfg.Primary {
			c.errorWrongIE(q931.IEChannelID)
			return
		}
	} else if c.ctrl.cfg.Primary {
		c.errorNoIE(q931.IEChannelID)
		return
	}
	if !c.reserveCircuit() {
		c.releaseComplete(c.reason, "")
		return
	}
	if ie := msg.GetIE(q931.IECallingNo, nil); ie != nil {
		d.readCallingNo(ie)
	}
	if ie := msg.GetIE(q931.IECalledNo, nil); ie != nil {
		d.readCalledNo(ie)
	}
	d.overlap = msg.GetIE(q931.IECalledNo, nil) == nil
	d.complete = msg.GetIE(q931.IESendComplete, nil) != nil
	d.display = msg.GetIEValue(q931.IEDisplay, "display", "")
	c.started("incoming")
	c.log.Info("Incoming call", "caller", d.callerNo, "called", d.calledNo)
	c.emit(EventNewCall, msg, c.callParams())
}

// processResponseChannel applies a channel change carried by a response
// to our SETUP.
func (c *Call) processResponseChannel(msg *q931.Message) bool {
	ie := msg.GetIE(q931.IEChannelID, nil)
	if ie == nil {
		return true
	}
	c.data.readChannelID(ie, c.ctrl.cfg.Primary)
	c.data.channelMandatory = true
	if !c.reserveCircuit() {
		c.releaseComplete("invalid-message", "")
		return false
	}
	return true
}

// responseParams reports early media and circuit changes.
func (c *Call) responseParams(msg *q931.Message) q931.Params {
	p := q931.Params{}
	if code, ok := c.circuitCode(); ok {
		p.Add("channel", strconv.FormatUint(uint64(code), 10))
	}
	if msg.GetIEValue(q931.IEProgress, "description", "") == "in-band-info" {
		c.inband = true
		c.connectCircuit()
		p.Add("earlymedia", "true")
	}
	if c.circuitChange {
		c.circuitChange = false
		p.Add("circuit-change", "true")
	}
	return p
}

func (c *Call) processMsgSetupAck(msg *q931.Message) {
	if !c.processResponseChannel(msg) {
		return
	}
	c.t303.Stop()
	c.changeState(StateOverlapSend)
	c.t304.Start(c.ctrl.now())
	p := c.responseParams(msg)
	p.Add("overlapped", "true")
	c.emit(EventAccept, msg, p)
}

func (c *Call) processMsgProceeding(msg *q931.Message) {
	if !c.processResponseChannel(msg) {
		return
	}
	c.t303.Stop()
	c.t304.Stop()
	c.changeState(StateOutgoingProceeding)
	c.emit(EventAccept, msg, c.responseParams(msg))
}

func (c *Call) processMsgAlerting(msg *q931.Message) {
	if !c.processResponseChannel(msg) {
		return
	}
	c.t303.Stop()
	c.t304.Stop()
	c.changeState(StateCallDelivered)
	c.emit(EventRinging, msg, c.responseParams(msg))
}

func (c *Call) processMsgConnect(msg *q931.Message) {
	if !c.processResponseChannel(msg) {
		return
	}
	c.t303.Stop()
	c.t304.Stop()
	c.changeState(StateActive)
	c.connectCircuit()
	p := c.responseParams(msg)
	c.sendConnectAck()
	c.emit(EventAnswer, msg, p)
}

func (c *Call) processMsgProgress(msg *q931.Message) {
	descr := msg.GetIEValue(q931.IEProgress, "description", "")
	if descr == "destination-non-isdn" && c.flags().Has(q931.FlagIgnoreNonIsdnDest) {
		c.log.Debug("Ignoring non-ISDN destination progress")
		return
	}
	c.data.progress = descr
	p := c.responseParams(msg)
	if descr != "" {
		p.Add("progress", descr)
	}
	c.emit(EventProgress, msg, p)
}

func (c *Call) processMsgDisconnect(msg *q931.Message) {
	c.data.readCause(msg)
	if c.state == StateDisconnectReq {
		// Clearing collision: both sides sent DISCONNECT.
		c.t305.Stop()
		c.sendRelease("", "")
		return
	}
	c.t302.Stop()
	c.t303.Stop()
	c.t304.Stop()
	c.t313.Stop()
	c.changeState(StateDisconnectIndication)
	reason := valueOr(c.data.reason, "normal-clearing")
	p := q931.Params{{Name: "reason", Value: reason}}
	if c.data.diagnostic != "" {
		p.Add("diagnostic", c.data.diagnostic)
	}
	c.emit(EventRelease, msg, p)
	c.setTerminate(false, reason)
}

func (c *Call) processMsgInfo(msg *q931.Message) {
	complete := msg.GetIE(q931.IESendComplete, nil) != nil
	tone := msg.GetIEValue(q931.IECalledNo, "number", "")
	if tone == "" {
		tone = msg.GetIEValue(q931.IEKeypad, "keypad", "")
	}
	if c.state == StateOverlapRecv {
		if complete {
			c.t302.Stop()
		} else {
			c.t302.Start(c.ctrl.now())
		}
	}
	p := q931.Params{{Name: "complete", Value: strconv.FormatBool(complete)}}
	if tone != "" {
		p.Add("tone", tone)
	}
	c.emit(EventInfo, msg, p)
}

func (c *Call) processMsgNotify(msg *q931.Message) {
	ie := msg.GetIE(q931.IENotification, nil)
	if ie == nil {
		c.log.Debug("NOTIFY without notification indicator")
		return
	}
	if !c.data.readNotification(ie, c.flags().Has(q931.FlagCheckNotifyInd)) {
		return
	}
	c.emit(EventNotify, msg, q931.Params{{Name: "notification", Value: c.data.notification}})
}

// processMsgStatus recovers from a state mismatch reported by the peer.
// Only a few local states can resynchronize; any other mismatch clears
// the call.
func (c *Call) processMsgStatus(msg *q931.Message) {
	c.data.readCause(msg)
	ie := msg.GetIE(q931.IECallState, nil)
	if ie == nil {
		c.log.Debug("STATUS without call state")
		return
	}
	peer, ok := ParseCallState(ie.Value("state", ""))
	if !ok {
		c.log.Debug("STATUS with invalid call state", "state", ie.Value("state", ""))
		return
	}
	switch {
	case peer == StateNull:
		if c.state == StateNull {
			return
		}
		c.log.Info("Peer reports call cleared", "cause", c.data.reason)
		c.changeState(StateNull)
		c.releaseComplete(valueOr(c.data.reason, "wrong-state-message"), "")
		return
	case peer == StateRestartReq || peer == StateRestart:
		c.releaseComplete("wrong-state-message", "")
		return
	case clearingPhase(c.state):
		return
	}
	if c.recover(peer) {
		return
	}
	c.log.Info("Unrecoverable peer call state", "local", c.state, "peer", peer, "cause", c.data.reason)
	c.releaseComplete("wrong-state-message", "")
}

// recover resynchronizes with the peer state when a lost message explains
// the mismatch. It reports false when the call must be cleared.
func (c *Call) recover(peer CallState) bool {
	switch c.state {
	case StateCallReceived:
		switch peer {
		case StateCallDelivered:
			return true
		case StateOutgoingProceeding:
			// ALERTING was lost.
			c.changeState(StateIncomingProceeding)
			c.sendAlerting(q931.Params{})
			return true
		}
	case StateConnectReq:
		switch peer {
		case StateActive:
			// CONNECT ACK was lost.
			c.t313.Stop()
			c.changeState(StateActive)
			return true
		case StateOutgoingProceeding, StateCallDelivered:
			c.t313.Stop()
			c.changeState(StateCallReceived)
			c.sendConnect(q931.Params{})
			return true
		}
	case StateIncomingProceeding:
		switch peer {
		case StateOutgoingProceeding:
			return true
		case StateCallInitiated, StateOverlapSend:
			c.changeState(StateCallPresent)
			c.sendCallProceeding()
			return true
		}
	case StateActive:
		switch peer {
		case StateActive:
			return true
		case StateConnectReq:
			c.sendConnectAck()
			return true
		}
	}
	return false
}

func clearingPhase(s CallState) bool {
	return stateIn(s, StateDisconnectReq, StateDisconnectIndication, StateReleaseReq)
}
