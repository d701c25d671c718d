package isdn

import "github.com/endorses/isdnq931/internal/pkg/q931"

// CallState is a Q.931 call state. Values are the codes carried by the
// CallState element.
type CallState uint8

const (
	StateNull                 CallState = 0x00
	StateCallInitiated        CallState = 0x01
	StateOverlapSend          CallState = 0x02
	StateOutgoingProceeding   CallState = 0x03
	StateCallDelivered        CallState = 0x04
	StateCallPresent          CallState = 0x06
	StateCallReceived         CallState = 0x07
	StateConnectReq           CallState = 0x08
	StateIncomingProceeding   CallState = 0x09
	StateActive               CallState = 0x0a
	StateDisconnectReq        CallState = 0x0b
	StateDisconnectIndication CallState = 0x0c
	StateSuspendReq           CallState = 0x0f
	StateResumeReq            CallState = 0x11
	StateReleaseReq           CallState = 0x13
	StateCallAbort            CallState = 0x16
	StateOverlapRecv          CallState = 0x19
	StateRestartReq           CallState = 0x3d
	StateRestart              CallState = 0x3e
)

func (s CallState) String() string {
	return q931.CallStateNames.NameOr(int(s))
}

// ParseCallState resolves a state by name or code.
func ParseCallState(name string) (CallState, bool) {
	v := q931.CallStateNames.ValueOr(name, -1)
	if v < 0 {
		return 0, false
	}
	if _, ok := q931.CallStateNames.Name(v); !ok {
		return 0, false
	}
	return CallState(v), true
}

func stateIn(s CallState, set ...CallState) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

// recvAllowed reports whether a message of type t may be received in
// state s. retrans is set when the message repeats the one that led to s.
func recvAllowed(s CallState, t q931.MsgType) (ok, retrans bool) {
	switch t {
	case q931.MsgSetup:
		if s == StateCallPresent {
			return false, true
		}
		return s == StateNull, false
	case q931.MsgSetupAck:
		if s == StateOverlapSend {
			return false, true
		}
		return s == StateCallInitiated, false
	case q931.MsgProceeding:
		if s == StateOutgoingProceeding {
			return false, true
		}
		return stateIn(s, StateCallInitiated, StateOverlapSend), false
	case q931.MsgAlerting:
		if s == StateCallDelivered {
			return false, true
		}
		return stateIn(s, StateCallInitiated, StateOutgoingProceeding), false
	case q931.MsgConnect:
		if s == StateActive {
			return false, true
		}
		return stateIn(s, StateCallInitiated, StateOutgoingProceeding, StateCallDelivered), false
	case q931.MsgConnectAck:
		if s == StateActive {
			return false, true
		}
		return s == StateConnectReq, false
	case q931.MsgDisconnect:
		if s == StateDisconnectIndication {
			return false, true
		}
		return stateIn(s, StateCallInitiated, StateOutgoingProceeding, StateCallDelivered,
			StateCallPresent, StateCallReceived, StateConnectReq, StateIncomingProceeding,
			StateActive, StateDisconnectReq, StateOverlapSend), false
	}
	return s != StateNull, false
}

// sendAllowed reports whether a message of type t may be sent in state s.
func sendAllowed(s CallState, t q931.MsgType) bool {
	switch t {
	case q931.MsgSetup:
		return s == StateNull
	case q931.MsgSetupAck:
		return s == StateCallPresent
	case q931.MsgProceeding:
		return stateIn(s, StateCallPresent, StateOverlapRecv)
	case q931.MsgAlerting:
		return stateIn(s, StateCallPresent, StateIncomingProceeding)
	case q931.MsgConnect, q931.MsgProgress:
		return stateIn(s, StateCallPresent, StateIncomingProceeding, StateCallReceived)
	case q931.MsgDisconnect:
		return stateIn(s, StateOutgoingProceeding, StateCallDelivered, StateCallPresent,
			StateCallReceived, StateConnectReq, StateIncomingProceeding, StateActive,
			StateOverlapSend)
	}
	return s != StateNull
}
