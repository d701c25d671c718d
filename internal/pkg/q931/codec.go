package q931

import (
	"strconv"

	"github.com/pkg/errors"
)

// segmentedIELen is the size of the Segmented element heading every
// SEGMENT message.
const segmentedIELen = 4

type decoder struct {
	pd  *ParserData
	msg *Message
	// locked is the codeset selected by the last locking shift.
	locked uint8
}

// Decode parses a Q.931 message.
//
// A SEGMENT message is returned with only its Segmented element decoded
// and the remaining octets handed back as segment data. When wantSegment
// is false segments are dropped with ErrSegmentDropped.
func Decode(pd *ParserData, data []byte, wantSegment bool) (*Message, []byte, error) {
	if pd == nil {
		def := DefaultParserData()
		pd = &def
	}
	msg, off, err := decodeHeader(data)
	if err != nil {
		return nil, nil, err
	}
	d := &decoder{pd: pd, msg: msg}
	if msg.Type == MsgSegment {
		if !wantSegment {
			return nil, nil, ErrSegmentDropped
		}
		rest := data[off:]
		if len(rest) < segmentedIELen || IEType(rest[0]) != IESegmented || rest[1] != 2 {
			return nil, nil, errors.Wrap(ErrInvalidSegment, "missing Segmented element")
		}
		ie := NewIE(IESegmented)
		decodeSegmented(d, ie, rest[2:segmentedIELen])
		msg.AppendIE(ie)
		return msg, append([]byte(nil), rest[segmentedIELen:]...), nil
	}
	d.decodeIEs(data[off:])
	return msg, nil, nil
}

func decodeHeader(data []byte) (*Message, int, error) {
	if len(data) < 3 {
		return nil, 0, errors.Wrapf(ErrShortBuffer, "%d octets", len(data))
	}
	if data[0] != ProtocolDiscriminator {
		return nil, 0, errors.Wrapf(ErrProtocolDiscriminator, "0x%02x", data[0])
	}
	crLen := data[1]
	if crLen&0xf0 != 0 || crLen > 4 {
		return nil, 0, errors.Wrapf(ErrCallRefLen, "0x%02x", crLen)
	}
	off := 2 + int(crLen)
	if len(data) < off+1 {
		return nil, 0, errors.Wrapf(ErrShortBuffer, "call reference of %d octets", crLen)
	}
	msg := &Message{CallRefLen: crLen}
	if crLen == 0 {
		msg.Dummy = true
	} else {
		msg.Initiator = data[2]&0x80 == 0
		ref := uint32(data[2] & 0x7f)
		for _, b := range data[3:off] {
			ref = ref<<8 | uint32(b)
		}
		msg.CallRef = ref
	}
	msg.Type = MsgType(data[off] & 0x7f)
	if !msg.Type.Known() {
		return nil, 0, errors.Wrapf(ErrUnknownMessage, "0x%02x", data[off])
	}
	return msg, off + 1, nil
}

func (d *decoder) decodeIEs(data []byte) {
	var (
		shifted bool
		next    uint8
	)
	for off := 0; off < len(data); {
		b := data[off]
		cs := d.locked
		if shifted {
			cs = next
		}
		if IEType(b&0xf0) == IEShift {
			off++
			d.msg.AppendIE(d.shift(b))
			shifted = b&0x08 != 0
			next = b & 0x07
			continue
		}
		skip := shifted && d.pd.Flag(FlagIgnoreNonLockedIE)
		shifted = false
		var ie *IE
		if b&0x80 != 0 {
			ie = decodeFixed(cs, b)
			if d.pd.ExtendedDebug {
				ie.Raw = []byte{b}
			}
			off++
		} else {
			if off+2 > len(data) || off+2+int(data[off+1]) > len(data) {
				ie = NewIE(IEType(cs)<<8 | IEType(b))
				decodeError(ie, "truncated", data[off:])
				d.msg.AppendIE(ie)
				return
			}
			end := off + 2 + int(data[off+1])
			ie = d.decodeVariable(cs, b, data[off+2:end])
			if d.pd.ExtendedDebug {
				ie.Raw = append([]byte(nil), data[off:end]...)
			}
			off = end
		}
		if skip {
			continue
		}
		d.msg.AppendIE(ie)
	}
}

// shift decodes a Shift element and applies a locking shift. A locking
// shift to a lower codeset is kept for diagnostics but ignored.
func (d *decoder) shift(b byte) *IE {
	ie := NewIE(IEShift)
	codeset := b & 0x07
	lock := b&0x08 == 0
	ie.Add("codeset", strconv.Itoa(int(codeset)))
	ie.Add("lock", strconv.FormatBool(lock))
	if lock {
		if codeset < d.locked {
			ie.Add("error", "codeset decrease")
		} else {
			d.locked = codeset
		}
	}
	if d.pd.ExtendedDebug {
		ie.Raw = []byte{b}
	}
	return ie
}

func (d *decoder) decodeVariable(cs uint8, b byte, content []byte) *IE {
	t := IEType(cs)<<8 | IEType(b)
	ie := NewIE(t)
	if fn, ok := ieDecoders[t]; ok {
		fn(d, ie, content)
		return ie
	}
	if cs == 0 && b&0xf0 == 0 {
		d.msg.UnknownMandatory = true
	}
	ie.Add("dump", hexOf(content))
	return ie
}

func appendHeader(b []byte, m *Message, t MsgType) ([]byte, error) {
	b = append(b, ProtocolDiscriminator)
	if m.Dummy {
		return append(b, 0, byte(t)&0x7f), nil
	}
	l := m.CallRefLen
	if l < 1 || l > 4 {
		return nil, errors.Wrapf(ErrCallRefLen, "%d", l)
	}
	if uint64(m.CallRef) >= uint64(1)<<(8*uint(l)-1) {
		return nil, errors.Wrapf(ErrCallRef, "%d in %d octets", m.CallRef, l)
	}
	b = append(b, l)
	start := len(b)
	for i := int(l) - 1; i >= 0; i-- {
		b = append(b, byte(m.CallRef>>(8*uint(i))))
	}
	if !m.Initiator {
		b[start] |= 0x80
	}
	return append(b, byte(t)&0x7f), nil
}

// encodeIEs encodes each element separately. Shift elements stay attached
// to the element following them and a non-locking shift is inserted when
// an element belongs to a codeset other than the active one.
func encodeIEs(pd *ParserData, ies []*IE) ([][]byte, error) {
	e := &encoder{pd: pd}
	var (
		out     [][]byte
		pending []byte
		locked  uint8
		next    = -1
	)
	for _, ie := range ies {
		if ie.Type == IEShift {
			b, err := e.encodeFixed(ie)
			if err != nil {
				return nil, err
			}
			if b&0x08 != 0 {
				next = int(b & 0x07)
			} else {
				locked = b & 0x07
				next = -1
			}
			pending = append(pending, b)
			continue
		}
		cur := locked
		if next >= 0 {
			cur = uint8(next)
		}
		next = -1
		chunk := pending
		pending = nil
		if cs := ie.Type.Codeset(); cs != cur {
			chunk = append(chunk, byte(IEShift)|0x08|cs&0x07)
		}
		b, err := e.encodeIE(ie)
		if err != nil {
			return nil, err
		}
		out = append(out, append(chunk, b...))
	}
	if len(pending) > 0 {
		out = append(out, pending)
	}
	return out, nil
}

// Encode builds the wire form of msg. The result holds one buffer, or a
// series of SEGMENT messages when the message exceeds pd.MaxMsgLen and
// segmentation is allowed. On failure no buffer is returned.
func Encode(pd *ParserData, msg *Message) ([][]byte, error) {
	if pd == nil {
		def := DefaultParserData()
		pd = &def
	}
	hdr, err := appendHeader(nil, msg, msg.Type)
	if err != nil {
		return nil, err
	}
	chunks, err := encodeIEs(pd, msg.IEs)
	if err != nil {
		return nil, err
	}
	total := len(hdr)
	for _, c := range chunks {
		total += len(c)
	}
	if pd.MaxMsgLen <= 0 || total <= pd.MaxMsgLen {
		buf := make([]byte, 0, total)
		buf = append(buf, hdr...)
		for _, c := range chunks {
			buf = append(buf, c...)
		}
		return [][]byte{buf}, nil
	}
	if !pd.AllowSegment || msg.Type == MsgSegment {
		return nil, errors.Wrapf(ErrMessageTooLong, "%s: %d octets, limit %d", msg.Type, total, pd.MaxMsgLen)
	}
	return segment(pd, msg, chunks)
}

func segment(pd *ParserData, msg *Message, chunks [][]byte) ([][]byte, error) {
	segHdr, err := appendHeader(nil, msg, MsgSegment)
	if err != nil {
		return nil, err
	}
	budget := pd.MaxMsgLen - len(segHdr) - segmentedIELen
	if budget <= 0 {
		return nil, errors.Wrapf(ErrMessageTooLong, "no room for segment payload in %d octets", pd.MaxMsgLen)
	}
	var (
		groups [][]byte
		cur    []byte
	)
	for _, c := range chunks {
		if len(c) > budget {
			return nil, errors.Wrapf(ErrIETooLong, "%d octets exceed segment payload of %d", len(c), budget)
		}
		if len(cur)+len(c) > budget {
			groups = append(groups, cur)
			cur = nil
		}
		cur = append(cur, c...)
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
	}
	maxSegments := pd.MaxSegments
	if maxSegments <= 0 {
		maxSegments = DefaultParserData().MaxSegments
	}
	if len(groups) > maxSegments {
		return nil, errors.Wrapf(ErrTooManySegments, "%s needs %d segments, limit %d", msg.Type, len(groups), maxSegments)
	}
	out := make([][]byte, 0, len(groups))
	for i, g := range groups {
		remaining := byte(len(groups)-1-i) & 0x7f
		if i == 0 {
			remaining |= 0x80
		}
		buf := make([]byte, 0, len(segHdr)+segmentedIELen+len(g))
		buf = append(buf, segHdr...)
		buf = append(buf, byte(IESegmented), 2, remaining, byte(msg.Type)&0x7f)
		out = append(out, append(buf, g...))
	}
	return out, nil
}

// SegmentHeader returns the header of the message a SEGMENT series
// reassembles into.
func SegmentHeader(seg *Message, t MsgType) ([]byte, error) {
	hdr := *seg
	hdr.IEs = nil
	return appendHeader(nil, &hdr, t)
}
