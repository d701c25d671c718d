package q931

import (
	"fmt"
	"strings"
)

// ProtocolDiscriminator is the first octet of every Q.931 message.
const ProtocolDiscriminator = 0x08

// MsgType is the Q.931 message type code.
type MsgType uint8

const (
	MsgAlerting        MsgType = 0x01
	MsgProceeding      MsgType = 0x02
	MsgProgress        MsgType = 0x03
	MsgSetup           MsgType = 0x05
	MsgConnect         MsgType = 0x07
	MsgSetupAck        MsgType = 0x0d
	MsgConnectAck      MsgType = 0x0f
	MsgUserInfo        MsgType = 0x20
	MsgSuspendRej      MsgType = 0x21
	MsgResumeRej       MsgType = 0x22
	MsgSuspend         MsgType = 0x25
	MsgResume          MsgType = 0x26
	MsgSuspendAck      MsgType = 0x2d
	MsgResumeAck       MsgType = 0x2e
	MsgDisconnect      MsgType = 0x45
	MsgRestart         MsgType = 0x46
	MsgRelease         MsgType = 0x4d
	MsgRestartAck      MsgType = 0x4e
	MsgReleaseComplete MsgType = 0x5a
	MsgSegment         MsgType = 0x60
	MsgNotify          MsgType = 0x6e
	MsgStatusEnquiry   MsgType = 0x75
	MsgCongestionCtrl  MsgType = 0x79
	MsgInfo            MsgType = 0x7b
	MsgStatus          MsgType = 0x7d
)

var msgTypeNames = Dict{
	{"ALERTING", int(MsgAlerting)},
	{"PROCEEDING", int(MsgProceeding)},
	{"PROGRESS", int(MsgProgress)},
	{"SETUP", int(MsgSetup)},
	{"CONNECT", int(MsgConnect)},
	{"SETUP ACK", int(MsgSetupAck)},
	{"CONNECT ACK", int(MsgConnectAck)},
	{"USER INFO", int(MsgUserInfo)},
	{"SUSPEND REJECT", int(MsgSuspendRej)},
	{"RESUME REJECT", int(MsgResumeRej)},
	{"SUSPEND", int(MsgSuspend)},
	{"RESUME", int(MsgResume)},
	{"SUSPEND ACK", int(MsgSuspendAck)},
	{"RESUME ACK", int(MsgResumeAck)},
	{"DISCONNECT", int(MsgDisconnect)},
	{"RESTART", int(MsgRestart)},
	{"RELEASE", int(MsgRelease)},
	{"RESTART ACK", int(MsgRestartAck)},
	{"RELEASE COMPLETE", int(MsgReleaseComplete)},
	{"SEGMENT", int(MsgSegment)},
	{"NOTIFY", int(MsgNotify)},
	{"STATUS ENQUIRY", int(MsgStatusEnquiry)},
	{"CONGESTION CONTROL", int(MsgCongestionCtrl)},
	{"INFORMATION", int(MsgInfo)},
	{"STATUS", int(MsgStatus)},
}

func (t MsgType) String() string {
	if n, ok := msgTypeNames.Name(int(t)); ok {
		return n
	}
	return fmt.Sprintf("Unknown(0x%02x)", uint8(t))
}

// Known reports whether t is one of the supported message types.
func (t MsgType) Known() bool {
	_, ok := msgTypeNames.Name(int(t))
	return ok
}

// ParseMsgType resolves a message type by name or number.
func ParseMsgType(s string) (MsgType, bool) {
	v := msgTypeNames.ValueOr(strings.ToUpper(strings.TrimSpace(s)), -1)
	if v < 0 || v > 0x7f || !MsgType(v).Known() {
		return 0, false
	}
	return MsgType(v), true
}

// IEType identifies an information element as (codeset << 8) | type.
type IEType uint16

const (
	// Fixed (single octet) elements.
	IEShift        IEType = 0x90
	IEMoreData     IEType = 0xa0
	IESendComplete IEType = 0xa1
	IECongestion   IEType = 0xb0
	IERepeat       IEType = 0xd0

	// Variable length elements.
	IESegmented      IEType = 0x00
	IEBearerCaps     IEType = 0x04
	IECause          IEType = 0x08
	IECallIdentity   IEType = 0x10
	IECallState      IEType = 0x14
	IEChannelID      IEType = 0x18
	IEFacility       IEType = 0x1c
	IEProgress       IEType = 0x1e
	IENetFacility    IEType = 0x20
	IENotification   IEType = 0x27
	IEDisplay        IEType = 0x28
	IEDateTime       IEType = 0x29
	IEKeypad         IEType = 0x2c
	IESignal         IEType = 0x34
	IEConnectedNo    IEType = 0x4c
	IECallingNo      IEType = 0x6c
	IECallingSubAddr IEType = 0x6d
	IECalledNo       IEType = 0x70
	IECalledSubAddr  IEType = 0x71
	IENetTransit     IEType = 0x78
	IERestart        IEType = 0x79
	IELoLayerCompat  IEType = 0x7c
	IEHiLayerCompat  IEType = 0x7d
	IEUserUser       IEType = 0x7e
)

var ieTypeNames = Dict{
	{"Shift", int(IEShift)},
	{"MoreData", int(IEMoreData)},
	{"SendComplete", int(IESendComplete)},
	{"Congestion", int(IECongestion)},
	{"Repeat", int(IERepeat)},
	{"Segmented", int(IESegmented)},
	{"BearerCaps", int(IEBearerCaps)},
	{"Cause", int(IECause)},
	{"CallIdentity", int(IECallIdentity)},
	{"CallState", int(IECallState)},
	{"ChannelID", int(IEChannelID)},
	{"Facility", int(IEFacility)},
	{"Progress", int(IEProgress)},
	{"NetFacility", int(IENetFacility)},
	{"Notification", int(IENotification)},
	{"Display", int(IEDisplay)},
	{"DateTime", int(IEDateTime)},
	{"Keypad", int(IEKeypad)},
	{"Signal", int(IESignal)},
	{"ConnectedNo", int(IEConnectedNo)},
	{"CallingNo", int(IECallingNo)},
	{"CallingSubAddr", int(IECallingSubAddr)},
	{"CalledNo", int(IECalledNo)},
	{"CalledSubAddr", int(IECalledSubAddr)},
	{"NetTransit", int(IENetTransit)},
	{"Restart", int(IERestart)},
	{"LoLayerCompat", int(IELoLayerCompat)},
	{"HiLayerCompat", int(IEHiLayerCompat)},
	{"UserUser", int(IEUserUser)},
}

func (t IEType) String() string {
	if n, ok := ieTypeNames.Name(int(t)); ok {
		return n
	}
	return fmt.Sprintf("IE 0x%04x", uint16(t))
}

// Codeset returns the codeset the element belongs to.
func (t IEType) Codeset() uint8 { return uint8(t >> 8) }

// Fixed reports whether the element is a single octet element.
func (t IEType) Fixed() bool { return t&0x80 != 0 }

// Known reports whether the element has a dedicated codec.
func (t IEType) Known() bool {
	_, ok := ieTypeNames.Name(int(t))
	return ok
}

// ParseIEType resolves an element by name or number.
func ParseIEType(s string) (IEType, bool) {
	v := ieTypeNames.ValueOr(strings.TrimSpace(s), -1)
	if v < 0 || v > 0xffff {
		return 0, false
	}
	return IEType(v), true
}

// IE is a decoded information element.
type IE struct {
	Type IEType
	Params
	// Raw holds the undecoded element when extended debugging is on.
	Raw []byte
}

// NewIE returns an empty element of type t.
func NewIE(t IEType) *IE {
	return &IE{Type: t}
}

func (ie *IE) String() string {
	if len(ie.Params) == 0 {
		return ie.Type.String()
	}
	return ie.Type.String() + "[" + ie.Params.String() + "]"
}

// Message is a decoded Q.931 message.
type Message struct {
	Type MsgType
	// Initiator is true when the message was sent by the side that
	// allocated the call reference (flag bit clear).
	Initiator  bool
	CallRef    uint32
	CallRefLen uint8
	Dummy      bool
	// UnknownMandatory is set when a comprehension-required element was
	// not recognized.
	UnknownMandatory bool
	IEs              []*IE
	// Params carries message level annotations.
	Params Params
}

// NewMessage returns a message for a regular call reference.
func NewMessage(t MsgType, initiator bool, callRef uint32, callRefLen uint8) *Message {
	return &Message{Type: t, Initiator: initiator, CallRef: callRef, CallRefLen: callRefLen}
}

// NewDummyMessage returns a message using the dummy call reference.
func NewDummyMessage(t MsgType) *Message {
	return &Message{Type: t, Dummy: true}
}

// GetIE returns the first element of type t found after the element
// after (or from the start when after is nil).
func (m *Message) GetIE(t IEType, after *IE) *IE {
	i := 0
	if after != nil {
		for ; i < len(m.IEs); i++ {
			if m.IEs[i] == after {
				i++
				break
			}
		}
	}
	for ; i < len(m.IEs); i++ {
		if m.IEs[i].Type == t {
			return m.IEs[i]
		}
	}
	return nil
}

// RemoveIE detaches and returns the first element of type t.
func (m *Message) RemoveIE(t IEType) *IE {
	for i, ie := range m.IEs {
		if ie.Type == t {
			m.IEs = append(m.IEs[:i], m.IEs[i+1:]...)
			return ie
		}
	}
	return nil
}

// AppendIE adds an element at the end of the message.
func (m *Message) AppendIE(ie *IE) *IE {
	if ie != nil {
		m.IEs = append(m.IEs, ie)
	}
	return ie
}

// AppendIEValue adds an element with a single parameter.
func (m *Message) AppendIEValue(t IEType, name, value string) *IE {
	ie := NewIE(t)
	if name != "" {
		ie.Add(name, value)
	}
	return m.AppendIE(ie)
}

// GetIEValue returns a parameter of the first element of type t.
func (m *Message) GetIEValue(t IEType, name, def string) string {
	ie := m.GetIE(t, nil)
	if ie == nil {
		return def
	}
	return ie.Value(name, def)
}

// Summary returns a one line description suitable for logs.
func (m *Message) Summary() string {
	if m.Dummy {
		return fmt.Sprintf("%s callref=dummy ies=%d", m.Type, len(m.IEs))
	}
	return fmt.Sprintf("%s callref=%d initiator=%t ies=%d", m.Type, m.CallRef, m.Initiator, len(m.IEs))
}

// Dump renders the message and its elements on multiple lines.
func (m *Message) Dump(raw []byte) string {
	var sb strings.Builder
	sb.WriteString(m.Summary())
	if len(raw) > 0 {
		fmt.Fprintf(&sb, "\n  data: % x", raw)
	}
	for _, p := range m.Params {
		fmt.Fprintf(&sb, "\n  %s=%s", p.Name, p.Value)
	}
	for _, ie := range m.IEs {
		fmt.Fprintf(&sb, "\n  %s", ie.Type)
		if len(ie.Raw) > 0 {
			fmt.Fprintf(&sb, " (% x)", ie.Raw)
		}
		for _, p := range ie.Params {
			fmt.Fprintf(&sb, "\n    %s=%s", p.Name, p.Value)
		}
	}
	return sb.String()
}
