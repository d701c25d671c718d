package isdn

import "github.com/endorses/isdnq931/internal/pkg/q931"

// EventType classifies events exchanged with the call handling layer.
type EventType int

const (
	EventNewCall EventType = iota + 1
	EventAccept
	EventRinging
	EventAnswer
	EventProgress
	EventInfo
	EventNotify
	EventRelease
)

func (t EventType) String() string {
	switch t {
	case EventNewCall:
		return "NewCall"
	case EventAccept:
		return "Accept"
	case EventRinging:
		return "Ringing"
	case EventAnswer:
		return "Answer"
	case EventProgress:
		return "Progress"
	case EventInfo:
		return "Info"
	case EventNotify:
		return "Notify"
	case EventRelease:
		return "Release"
	default:
		return "Unknown"
	}
}

// Event is the only contract between the protocol engine and the call
// handling layer. Params expose decoded call attributes such as caller,
// called, format, reason, earlymedia, tone, complete and circuit-change.
type Event struct {
	Type   EventType
	Params q931.Params
	// Message is the Q.931 message behind the event, nil when the event
	// was synthesized locally.
	Message *q931.Message
	// Call is set for events of live calls, Monitor for monitored ones.
	Call    *Call
	Monitor *CallMonitor
}

// NewEvent builds an event to send to a call.
func NewEvent(t EventType, params ...q931.Param) *Event {
	return &Event{Type: t, Params: q931.Params(params)}
}

// CallID returns the correlation id of the call or monitor behind ev.
func (ev *Event) CallID() string {
	switch {
	case ev.Call != nil:
		return ev.Call.ID()
	case ev.Monitor != nil:
		return ev.Monitor.ID()
	}
	return ""
}
