// Package lapd frames Q.931 payloads the way Linux LAPD captures carry
// them: a cooked (SLL) header followed by a LAPD I or UI frame.
package lapd

import (
	"encoding/binary"

	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
)

// LinkTypeLinuxLAPD is the pcap link type of Linux LAPD captures.
const LinkTypeLinuxLAPD = layers.LinkType(177)

const (
	sllHeaderLen = 16
	arphrdLAPD   = 0x20fd
	protocolLAPD = 0x0030

	pktIncoming = 0
	pktOutgoing = 4

	// SAPI of call control procedures.
	SAPICallControl = 0
	// BroadcastTEI addresses every terminal.
	BroadcastTEI = 127
)

var (
	ErrShortFrame = errors.New("lapd: short frame")
	ErrNotLAPD    = errors.New("lapd: not a LAPD frame")
)

// Frame is a decoded LAPD frame.
type Frame struct {
	SAPI uint8
	TEI  uint8
	// Command is the C/R bit. Commands from the network side carry 1.
	Command bool
	// FromNet is set when the frame was sent by the network side.
	FromNet bool
	// Unnumbered is set for UI frames, clear for I frames.
	Unnumbered bool
	// Payload is the layer 3 message, nil for frames without one.
	Payload []byte
}

// Header describes the frame to build around a payload.
type Header struct {
	TEI uint8
	// Network is set when the capturing side is the network side.
	Network bool
	// Outgoing is set for frames sent by the capturing side.
	Outgoing bool
	NS, NR   uint8
}

// Encode returns the SLL header, LAPD header and payload. Broadcast
// frames are encoded as UI frames, all others as I frames.
func Encode(h Header, payload []byte) []byte {
	out := make([]byte, sllHeaderLen, sllHeaderLen+4+len(payload))
	pkt := uint16(pktIncoming)
	if h.Outgoing {
		pkt = pktOutgoing
	}
	binary.BigEndian.PutUint16(out[0:], pkt)
	binary.BigEndian.PutUint16(out[2:], arphrdLAPD)
	binary.BigEndian.PutUint16(out[4:], 1)
	if h.Network {
		out[6] = 1
	}
	binary.BigEndian.PutUint16(out[14:], protocolLAPD)

	// The sender of an I frame issues a command. Commands carry C/R=1
	// when sent by the network side.
	fromNet := h.Network == h.Outgoing
	addr := byte(SAPICallControl << 2)
	if fromNet {
		addr |= 0x02
	}
	out = append(out, addr, h.TEI<<1|0x01)
	if h.TEI == BroadcastTEI {
		out = append(out, 0x03)
	} else {
		out = append(out, (h.NS&0x7f)<<1, (h.NR&0x7f)<<1)
	}
	return append(out, payload...)
}

// Decode parses a Linux LAPD capture record.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if len(data) < sllHeaderLen+3 {
		return f, errors.Wrapf(ErrShortFrame, "%d octets", len(data))
	}
	if binary.BigEndian.Uint16(data[2:]) != arphrdLAPD || binary.BigEndian.Uint16(data[14:]) != protocolLAPD {
		return f, ErrNotLAPD
	}
	outgoing := binary.BigEndian.Uint16(data[0:]) == pktOutgoing
	network := data[6] != 0
	f.FromNet = network == outgoing

	l := data[sllHeaderLen:]
	if l[0]&0x01 != 0 || l[1]&0x01 == 0 {
		return f, errors.Wrap(ErrNotLAPD, "address extension bits")
	}
	f.SAPI = l[0] >> 2
	f.Command = l[0]&0x02 != 0
	f.TEI = l[1] >> 1
	switch {
	case l[2]&0x01 == 0:
		if len(l) < 4 {
			return f, errors.Wrap(ErrShortFrame, "I frame control")
		}
		f.Payload = l[4:]
	case l[2]&0xef == 0x03:
		f.Unnumbered = true
		f.Payload = l[3:]
	}
	return f, nil
}
