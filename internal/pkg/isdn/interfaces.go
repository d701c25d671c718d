package isdn

import "time"

// Layer2 is the data link a controller sends Q.931 messages through.
type Layer2 interface {
	// SendData transmits one message to tei. ack requests acknowledged
	// (I-frame) transfer.
	SendData(data []byte, tei uint8, ack bool) bool
	// MaxUserData is the largest payload accepted by SendData.
	MaxUserData() int
	// AutoRestart reports whether the link re-establishes itself.
	AutoRestart() bool
	// MultipleFrame requests establishment or release of the link.
	MultipleFrame(tei uint8, establish, force bool) bool
}

// CircuitEvent is an inband event detected on a bearer channel.
type CircuitEvent struct {
	Type string
	Tone string
}

// Circuit is a bearer channel handed out by a CircuitSwitch.
type Circuit interface {
	Code() uint32
	Connect(format string) bool
	Disconnect() bool
	// Event polls the circuit for inband events such as DTMF.
	Event(now time.Time) *CircuitEvent
}

// CircuitSwitch owns the bearer channels of a circuit group.
type CircuitSwitch interface {
	// Reserve picks a free circuit out of codes, a comma separated list.
	// An empty list means any circuit. Unless mandatory is set another
	// free circuit may be returned when none of the listed ones is free.
	Reserve(codes string, mandatory bool) (Circuit, bool)
	Release(c Circuit)
	// Span returns the circuit codes of the span holding code.
	Span(code uint32) ([]uint32, bool)
	// Codes lists every circuit code in scan order.
	Codes() []uint32
}
