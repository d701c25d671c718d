package isdn

import (
	"github.com/endorses/isdnq931/internal/pkg/q931"
)

func (c *Call) newMessage(t q931.MsgType) *q931.Message {
	return q931.NewMessage(t, c.outgoing, c.callRef, c.callRefLen)
}

func (c *Call) send(msg *q931.Message) bool {
	return c.sendTo(msg, c.TEI())
}

// sendTo hands msg to the controller. A failed send clears the call.
func (c *Call) sendTo(msg *q931.Message, tei uint8) bool {
	ok, reason := c.ctrl.sendMessage(msg, tei)
	if !ok {
		c.log.Debug("Failed to send message", "type", msg.Type, "reason", reason)
		c.setTerminate(true, reason)
	}
	return ok
}

func (c *Call) flags() q931.Flags { return c.ctrl.pd.Flags }

// appendChannelID adds the channel identification to the first response
// to an incoming SETUP.
func (c *Call) appendChannelID(msg *q931.Message) {
	if c.channelIDSent {
		return
	}
	code, ok := c.circuitCode()
	msg.AppendIE(c.data.channelIDIE(c.ctrl.cfg.Primary, code, ok))
	c.channelIDSent = true
}

func (c *Call) sendSetup(params q931.Params) bool {
	if !sendAllowed(c.state, q931.MsgSetup) {
		return false
	}
	d := &c.data
	d.callerNo = params.Value("caller", "")
	d.callerType = params.Value("caller-type", "")
	d.callerPlan = params.Value("caller-plan", "")
	d.callerPres = params.Value("caller-pres", "")
	d.callerScreening = params.Value("caller-screening", "")
	d.calledNo = params.Value("called", "")
	d.calledType = params.Value("called-type", "")
	d.calledPlan = params.Value("called-plan", "")
	d.display = params.Value("callername", "")
	d.format = params.Value("format", "alaw")
	d.transferCap = params.Value("transfer-cap", "speech")
	d.transferMode = "circuit"
	d.channels = params.Value("channel", "")
	d.channelMandatory = params.Bool("channel-exclusive", false)
	d.channelByNumber = true
	d.complete = params.Bool("complete", false)
	if !c.reserveCircuit() {
		if c.reason == "congestion" {
			c.reason = "network-busy"
		}
		return false
	}

	msg := c.newMessage(q931.MsgSetup)
	if d.complete || c.flags().Has(q931.FlagForceSendComplete) {
		msg.AppendIE(q931.NewIE(q931.IESendComplete))
	}
	msg.AppendIE(d.bearerCapsIE())
	code, ok := c.circuitCode()
	msg.AppendIE(d.channelIDIE(c.ctrl.cfg.Primary, code, ok))
	c.channelIDSent = true
	if c.flags().Has(q931.FlagSendNonIsdnSource) {
		msg.AppendIE(progressIE("origination-non-isdn", c.ctrl.cfg.Network))
	}
	if d.display != "" && !c.flags().Has(q931.FlagNoDisplayIE) {
		msg.AppendIEValue(q931.IEDisplay, "display", d.display)
	}
	msg.AppendIE(d.callingNoIE(c.flags()))
	msg.AppendIE(d.calledNoIE())

	c.changeState(StateCallInitiated)
	c.t303.Start(c.ctrl.now())
	c.started("outgoing")
	return c.send(msg)
}

func (c *Call) sendSetupAck() bool {
	if !sendAllowed(c.state, q931.MsgSetupAck) {
		return false
	}
	msg := c.newMessage(q931.MsgSetupAck)
	c.appendChannelID(msg)
	c.changeState(StateOverlapRecv)
	c.t302.Start(c.ctrl.now())
	return c.send(msg)
}

func (c *Call) sendCallProceeding() bool {
	if !sendAllowed(c.state, q931.MsgProceeding) {
		return false
	}
	msg := c.newMessage(q931.MsgProceeding)
	c.appendChannelID(msg)
	c.t302.Stop()
	c.changeState(StateIncomingProceeding)
	return c.send(msg)
}

func (c *Call) sendAlerting(params q931.Params) bool {
	if !sendAllowed(c.state, q931.MsgAlerting) {
		return false
	}
	msg := c.newMessage(q931.MsgAlerting)
	c.appendChannelID(msg)
	if params.Bool("earlymedia", false) {
		msg.AppendIE(progressIE("in-band-info", c.ctrl.cfg.Network))
		c.connectCircuit()
	}
	c.t302.Stop()
	c.changeState(StateCallReceived)
	return c.send(msg)
}

func (c *Call) sendProgress(params q931.Params) bool {
	if !sendAllowed(c.state, q931.MsgProgress) {
		return false
	}
	descr := params.Value("progress", "in-band-info")
	msg := c.newMessage(q931.MsgProgress)
	msg.AppendIE(progressIE(descr, c.ctrl.cfg.Network))
	if descr == "in-band-info" {
		c.connectCircuit()
	}
	return c.send(msg)
}

// sendConnect answers the call. The network side enters Active at once
// unless it waits for CONNECT ACK like the user side.
func (c *Call) sendConnect(params q931.Params) bool {
	if !sendAllowed(c.state, q931.MsgConnect) {
		return false
	}
	msg := c.newMessage(q931.MsgConnect)
	c.appendChannelID(msg)
	if name := params.Value("callername", ""); name != "" && !c.flags().Has(q931.FlagNoDisplayIE) {
		msg.AppendIEValue(q931.IEDisplay, "display", name)
	}
	c.t302.Stop()
	c.connectCircuit()
	if c.ctrl.cfg.Network && !c.flags().Has(q931.FlagNoActiveOnConnect) {
		c.changeState(StateActive)
	} else {
		c.changeState(StateConnectReq)
		c.t313.Start(c.ctrl.now())
	}
	return c.send(msg)
}

func (c *Call) sendConnectAck() bool {
	return c.send(c.newMessage(q931.MsgConnectAck))
}

// sendInfo carries dialed digits. Overlap sending uses the called number,
// other states use the keypad element.
func (c *Call) sendInfo(params q931.Params) bool {
	if c.state == StateNull {
		return false
	}
	msg := c.newMessage(q931.MsgInfo)
	if params.Bool("complete", false) {
		msg.AppendIE(q931.NewIE(q931.IESendComplete))
	}
	if tone := params.Value("tone", ""); tone != "" {
		if c.state == StateOverlapSend {
			ie := msg.AppendIE(q931.NewIE(q931.IECalledNo))
			ie.Add("type", "unknown")
			ie.Add("plan", "isdn")
			ie.Add("number", tone)
		} else {
			msg.AppendIEValue(q931.IEKeypad, "keypad", tone)
		}
	}
	return c.send(msg)
}

func (c *Call) sendDisconnect(reason, diagnostic string) bool {
	if !sendAllowed(c.state, q931.MsgDisconnect) {
		return false
	}
	c.reason = reason
	msg := c.newMessage(q931.MsgDisconnect)
	msg.AppendIE(causeIE(reason, diagnostic, c.ctrl.cfg.Network))
	c.t302.Stop()
	c.t303.Stop()
	c.t304.Stop()
	c.t313.Stop()
	c.changeState(StateDisconnectReq)
	c.t305.Start(c.ctrl.now())
	return c.send(msg)
}

// sendRelease moves to ReleaseReq. An empty reason omits the Cause
// element, as required when answering a DISCONNECT.
func (c *Call) sendRelease(reason, diagnostic string) bool {
	if c.state == StateNull {
		return false
	}
	msg := c.newMessage(q931.MsgRelease)
	if reason != "" {
		msg.AppendIE(causeIE(reason, diagnostic, c.ctrl.cfg.Network))
	}
	c.t305.Stop()
	c.changeState(StateReleaseReq)
	c.t308.Start(c.ctrl.now())
	return c.send(msg)
}

// sendReleaseTo clears one terminal of a broadcast call.
func (c *Call) sendReleaseTo(tei uint8, reason string) bool {
	msg := c.newMessage(q931.MsgRelease)
	if reason != "" {
		msg.AppendIE(causeIE(reason, "", c.ctrl.cfg.Network))
	}
	ok, _ := c.ctrl.sendMessage(msg, tei)
	return ok
}

func (c *Call) sendReleaseComplete(reason, diagnostic string) bool {
	if c.state == StateNull {
		return false
	}
	msg := c.newMessage(q931.MsgReleaseComplete)
	if reason != "" {
		msg.AppendIE(causeIE(reason, diagnostic, c.ctrl.cfg.Network))
	}
	return c.send(msg)
}

func (c *Call) sendStatus(cause, diagnostic string) bool {
	msg := c.newMessage(q931.MsgStatus)
	msg.AppendIE(causeIE(cause, diagnostic, c.ctrl.cfg.Network))
	msg.AppendIEValue(q931.IECallState, "state", c.state.String())
	return c.send(msg)
}

func (c *Call) sendSuspendRej(reason string) bool {
	msg := c.newMessage(q931.MsgSuspendRej)
	msg.AppendIE(causeIE(reason, "", c.ctrl.cfg.Network))
	return c.send(msg)
}
