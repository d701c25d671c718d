package q931

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type encoder struct {
	pd *ParserData
}

type ieEncodeFunc func(e *encoder, ie *IE) ([]byte, error)

var ieEncoders = map[IEType]ieEncodeFunc{
	IESegmented:      encodeSegmented,
	IEBearerCaps:     encodeBearerCaps,
	IECause:          encodeCause,
	IECallIdentity:   encodeHexField("identity"),
	IECallState:      encodeCallState,
	IEChannelID:      encodeChannelID,
	IEFacility:       encodeHexField("data"),
	IEProgress:       encodeProgress,
	IENetFacility:    encodeHexField("data"),
	IENotification:   encodeSingle(&fNotification, 0),
	IEDisplay:        encodeDisplay,
	IEDateTime:       encodeDateTime,
	IEKeypad:         encodeIA5Field("keypad"),
	IESignal:         encodeSignal,
	IEConnectedNo:    encodeCallingNo,
	IECallingNo:      encodeCallingNo,
	IECallingSubAddr: encodeSubAddr,
	IECalledNo:       encodeCalledNo,
	IECalledSubAddr:  encodeSubAddr,
	IENetTransit:     encodeNetTransit,
	IERestart:        encodeSingle(&fRestartClass, 0),
	IELoLayerCompat:  encodeBearerCaps,
	IEHiLayerCompat:  encodeHiLayerCompat,
	IEUserUser:       encodeUserUser,
}

func toIA5(s string) []byte {
	b := []byte(s)
	for i := range b {
		b[i] &= 0x7f
	}
	return b
}

func encodeHexField(name string) ieEncodeFunc {
	return func(_ *encoder, ie *IE) ([]byte, error) {
		b, err := parseHex(ie.Value(name, ""))
		if err != nil {
			return nil, errors.Wrapf(ErrIEEncode, "%s: invalid %s", ie.Type, name)
		}
		return b, nil
	}
}

func encodeIA5Field(name string) ieEncodeFunc {
	return func(_ *encoder, ie *IE) ([]byte, error) {
		return toIA5(ie.Value(name, "")), nil
	}
}

// encodeSingle encodes an element made of one octet with the extension
// bit set.
func encodeSingle(f *field, def int) ieEncodeFunc {
	return func(_ *encoder, ie *IE) ([]byte, error) {
		return []byte{0x80 | f.encode(ie, def)}, nil
	}
}

func encodeSegmented(_ *encoder, ie *IE) ([]byte, error) {
	t, ok := ParseMsgType(ie.Value("message", ""))
	if !ok {
		return nil, errors.Wrap(ErrIEEncode, "Segmented: invalid message type")
	}
	b := byte(ie.Int("remaining", 0)) & 0x7f
	if ie.Bool("first", false) {
		b |= 0x80
	}
	return []byte{b, byte(t)}, nil
}

func encodeBearerCaps(e *encoder, ie *IE) ([]byte, error) {
	tcap := fTransferCap.encode(ie, 0)
	if e.pd.Flag(FlagTranslate31kAudio) && tcap == 0x10 {
		tcap = 0x00
	}
	if e.pd.Flag(FlagURDITransferCapsOnly) && (tcap == 0x11 || tcap == 0x18) {
		tcap = 0x08
	}
	rate := fTransferRate.encode(ie, 0x10)
	out := []byte{
		0x80 | fCoding.encode(ie, 0) | tcap,
		0x80 | fTransferMode.encode(ie, 0) | rate,
	}
	if rate == RateMultirate {
		out = append(out, 0x80|fRateMultiplier.encode(ie, 1))
	}
	layers := []struct {
		f     *field
		ident byte
	}{{&fLayer1, 0x20}, {&fLayer2, 0x40}, {&fLayer3, 0x60}}
	for i, l := range layers {
		if !ie.Has(l.f.name) {
			continue
		}
		if i == 0 && e.pd.Flag(FlagNoLayer1Caps) {
			continue
		}
		b := l.ident | l.f.encode(ie, 0)
		extra, err := parseHex(ie.Value(strings.TrimSuffix(l.f.name, "-protocol")+"-data", ""))
		if err != nil {
			return nil, errors.Wrapf(ErrIEEncode, "%s: invalid %s data", ie.Type, l.f.name)
		}
		if len(extra) == 0 {
			b |= 0x80
		}
		out = append(out, b)
		out = append(out, extra...)
	}
	return out, nil
}

func encodeCause(_ *encoder, ie *IE) ([]byte, error) {
	b0 := fCoding.encode(ie, 0) | fLocation.encode(ie, 0)
	var out []byte
	if ie.Has("rec") {
		out = append(out, b0, 0x80|fRecommendation.encode(ie, 0))
	} else {
		out = append(out, 0x80|b0)
	}
	out = append(out, 0x80|fCause.encode(ie, 0x1f))
	diag, err := parseHex(ie.Value("diagnostic", ""))
	if err != nil {
		return nil, errors.Wrap(ErrIEEncode, "Cause: invalid diagnostic")
	}
	return append(out, diag...), nil
}

func encodeCallState(_ *encoder, ie *IE) ([]byte, error) {
	return []byte{fCallState.encode(ie, 0)}, nil
}

func encodeChannelID(_ *encoder, ie *IE) ([]byte, error) {
	bri := ie.Bool("interface-bri", true)
	b0 := byte(0x80)
	if !bri {
		b0 |= 0x20
	}
	iface, explicit := ie.Get("interface")
	if explicit {
		b0 |= 0x40
	}
	b0 |= flagBits(ie, "channel-exclusive", 0x08, false)
	b0 |= flagBits(ie, "d-channel", 0x04, false)
	var sel int
	if bri {
		sel = dictChannelSelectBRI.ValueOr(ie.Value("channel-select", ""), 0x03)
	} else {
		def := 0x03
		if ie.Has("channels") || ie.Has("slot-map") {
			def = 0x01
		}
		sel = dictChannelSelectPRI.ValueOr(ie.Value("channel-select", ""), def)
	}
	b0 |= byte(sel) & 0x03
	out := []byte{b0}
	if explicit {
		n, err := strconv.Atoi(iface)
		if err != nil {
			return nil, errors.Wrap(ErrIEEncode, "ChannelID: invalid interface")
		}
		out = append(out, 0x80|byte(n&0x7f))
	}
	if bri || sel != 0x01 {
		return out, nil
	}
	byNumber := ie.Bool("channel-by-number", true)
	c := 0x80 | fCoding.encode(ie, 0) | fChannelType.encode(ie, 0x03)
	if !byNumber {
		c |= 0x10
	}
	out = append(out, c)
	if !byNumber {
		slots, err := parseHex(ie.Value("slot-map", ""))
		if err != nil {
			return nil, errors.Wrap(ErrIEEncode, "ChannelID: invalid slot map")
		}
		return append(out, slots...), nil
	}
	var chans []byte
	for _, s := range strings.Split(ie.Value("channels", ""), ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 || n > 0x7f {
			return nil, errors.Wrapf(ErrIEEncode, "ChannelID: invalid channel %q", s)
		}
		chans = append(chans, byte(n))
	}
	if len(chans) == 0 {
		return nil, errors.Wrap(ErrIEEncode, "ChannelID: missing channels")
	}
	chans[len(chans)-1] |= 0x80
	return append(out, chans...), nil
}

func encodeProgress(_ *encoder, ie *IE) ([]byte, error) {
	return []byte{
		0x80 | fCoding.encode(ie, 0) | fLocation.encode(ie, 0),
		0x80 | fProgress.encode(ie, 0),
	}, nil
}

func encodeDisplay(e *encoder, ie *IE) ([]byte, error) {
	var out []byte
	if !e.pd.Flag(FlagNoDisplayCharset) {
		out = append(out, 0x80|byte(ie.Int("charset", 0x31)&0x7f))
	}
	text := toIA5(ie.Value("display", ""))
	if limit := e.pd.MaxDisplay - len(out); e.pd.MaxDisplay > 0 && limit >= 0 && len(text) > limit {
		text = text[:limit]
	}
	return append(out, text...), nil
}

func encodeDateTime(_ *encoder, ie *IE) ([]byte, error) {
	var out []byte
	for i, name := range dateTimeFields {
		v, ok := ie.Get(name)
		if !ok {
			if i < 3 {
				return nil, errors.Wrapf(ErrIEEncode, "DateTime: missing %s", name)
			}
			break
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.Wrapf(ErrIEEncode, "DateTime: invalid %s", name)
		}
		out = append(out, byte(n))
	}
	return out, nil
}

func encodeSignal(_ *encoder, ie *IE) ([]byte, error) {
	return []byte{fSignal.encode(ie, 0x3f)}, nil
}

func encodeCallingNo(_ *encoder, ie *IE) ([]byte, error) {
	b0 := fNumType.encode(ie, 0) | fNumPlan.encode(ie, 0x01)
	var out []byte
	if ie.Has("presentation") || ie.Has("screening") {
		out = append(out, b0, 0x80|fPresentation.encode(ie, 0)|fScreening.encode(ie, 0))
	} else {
		out = append(out, 0x80|b0)
	}
	return append(out, toIA5(ie.Value("number", ""))...), nil
}

func encodeCalledNo(_ *encoder, ie *IE) ([]byte, error) {
	out := []byte{0x80 | fNumType.encode(ie, 0) | fNumPlan.encode(ie, 0x01)}
	return append(out, toIA5(ie.Value("number", ""))...), nil
}

func encodeSubAddr(_ *encoder, ie *IE) ([]byte, error) {
	b0 := 0x80 | fSubAddrType.encode(ie, 0) | flagBits(ie, "odd", 0x08, false)
	sa, err := parseHex(ie.Value("subaddress", ""))
	if err != nil {
		return nil, errors.Wrapf(ErrIEEncode, "%s: invalid subaddress", ie.Type)
	}
	return append([]byte{b0}, sa...), nil
}

func encodeNetTransit(_ *encoder, ie *IE) ([]byte, error) {
	out := []byte{0x80 | fNetIDType.encode(ie, 0) | fNetIDPlan.encode(ie, 0)}
	return append(out, toIA5(ie.Value("network", ""))...), nil
}

func encodeHiLayerCompat(_ *encoder, ie *IE) ([]byte, error) {
	out := []byte{0x80 | fCoding.encode(ie, 0) | fHLInterpret.encode(ie, 0x10) | fHLPresent.encode(ie, 0x01)}
	c := fHLCharact.encode(ie, 0x01)
	if ie.Has("extended-characteristics") {
		return append(out, c, 0x80|fHLExtCharact.encode(ie, 0)), nil
	}
	return append(out, 0x80|c), nil
}

func encodeUserUser(_ *encoder, ie *IE) ([]byte, error) {
	proto := fUserProtocol.encode(ie, 0x04)
	info := ie.Value("information", "")
	if proto == 0x04 {
		return append([]byte{proto}, toIA5(info)...), nil
	}
	b, err := parseHex(info)
	if err != nil {
		return nil, errors.Wrap(ErrIEEncode, "UserUser: invalid information")
	}
	return append([]byte{proto}, b...), nil
}

func (e *encoder) encodeFixed(ie *IE) (byte, error) {
	base := IEType(ie.Type & 0xff)
	switch {
	case base == IEShift:
		b := byte(0x90) | byte(ie.Int("codeset", 0)&0x07)
		if !ie.Bool("lock", true) {
			b |= 0x08
		}
		return b, nil
	case base == IEMoreData, base == IESendComplete:
		return byte(base), nil
	case base == IECongestion:
		return 0xb0 | fCongestion.encode(ie, 0), nil
	case base == IERepeat:
		return 0xd0 | fRepeat.encode(ie, 0x02), nil
	}
	if d, ok := ie.Get("dump"); ok {
		if b, err := parseHex(d); err == nil && len(b) == 1 && b[0]&0x80 != 0 {
			return b[0], nil
		}
	}
	return 0, errors.Wrapf(ErrIEEncode, "%s: unknown fixed element", ie.Type)
}

// encodeIE returns the element with its type and length octets.
func (e *encoder) encodeIE(ie *IE) ([]byte, error) {
	if ie.Type.Fixed() {
		b, err := e.encodeFixed(ie)
		if err != nil {
			return nil, err
		}
		return []byte{b}, nil
	}
	var (
		content []byte
		err     error
	)
	if fn, ok := ieEncoders[ie.Type]; ok {
		content, err = fn(e, ie)
	} else if d, ok := ie.Get("dump"); ok {
		content, err = parseHex(d)
		if err != nil {
			err = errors.Wrapf(ErrIEEncode, "%s: invalid dump", ie.Type)
		}
	} else {
		err = errors.Wrapf(ErrIEEncode, "%s: no encoder", ie.Type)
	}
	if err != nil {
		return nil, err
	}
	if len(content) > 0xff {
		return nil, errors.Wrapf(ErrIETooLong, "%s: %d octets", ie.Type, len(content))
	}
	out := make([]byte, 0, len(content)+2)
	out = append(out, byte(ie.Type&0x7f), byte(len(content)))
	return append(out, content...), nil
}
