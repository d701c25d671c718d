package q931

import (
	"encoding/hex"
	"strconv"
	"strings"
)

// IE field descriptors shared by the decode and encode routines.
var (
	fCoding         = field{"coding", 0x60, dictCodingStandard}
	fTransferCap    = field{"transfer-cap", 0x1f, dictTransferCap}
	fTransferMode   = field{"transfer-mode", 0x60, dictTransferMode}
	fTransferRate   = field{"transfer-rate", 0x1f, dictTransferRate}
	fRateMultiplier = field{"rate-multiplier", 0x7f, nil}
	fLayer1         = field{"layer1-protocol", 0x1f, dictLayer1}
	fLayer2         = field{"layer2-protocol", 0x1f, dictLayer2}
	fLayer3         = field{"layer3-protocol", 0x1f, dictLayer3}
	fLocation       = field{"location", 0x0f, dictLocation}
	fRecommendation = field{"rec", 0x7f, nil}
	fCause          = field{"cause", 0x7f, CauseNames}
	fCallState      = field{"state", 0x3f, CallStateNames}
	fChannelType    = field{"type", 0x0f, dictChannelType}
	fProgress       = field{"description", 0x7f, dictProgressDescr}
	fNotification   = field{"notification", 0x7f, dictNotification}
	fSignal         = field{"signal", 0xff, dictSignal}
	fNumType        = field{"type", 0x70, dictNumType}
	fNumPlan        = field{"plan", 0x0f, dictNumPlan}
	fPresentation   = field{"presentation", 0x60, dictPresentation}
	fScreening      = field{"screening", 0x03, dictScreening}
	fSubAddrType    = field{"type", 0x70, dictSubAddrType}
	fRestartClass   = field{"class", 0x07, dictRestartClass}
	fNetIDType      = field{"type", 0x70, dictNetIDType}
	fNetIDPlan      = field{"plan", 0x0f, dictNetIDPlan}
	fHLInterpret    = field{"interpretation", 0x1c, dictHLInterpretation}
	fHLPresent      = field{"presentation", 0x03, dictHLPresentation}
	fHLCharact      = field{"characteristics", 0x7f, dictHLCharacteristics}
	fHLExtCharact   = field{"extended-characteristics", 0x7f, dictHLCharacteristics}
	fUserProtocol   = field{"protocol", 0xff, dictUserProtocol}
	fCongestion     = field{"level", 0x0f, dictCongestionLevel}
	fRepeat         = field{"indication", 0x0f, dictRepeat}
)

var dateTimeFields = []string{"year", "month", "day", "hour", "minute", "second"}

type ieDecodeFunc func(d *decoder, ie *IE, data []byte) bool

var ieDecoders = map[IEType]ieDecodeFunc{
	IESegmented:      decodeSegmented,
	IEBearerCaps:     decodeBearerCaps,
	IECause:          decodeCause,
	IECallIdentity:   decodeHexField("identity"),
	IECallState:      decodeCallState,
	IEChannelID:      decodeChannelID,
	IEFacility:       decodeHexField("data"),
	IEProgress:       decodeProgress,
	IENetFacility:    decodeHexField("data"),
	IENotification:   decodeNotification,
	IEDisplay:        decodeDisplay,
	IEDateTime:       decodeDateTime,
	IEKeypad:         decodeIA5Field("keypad"),
	IESignal:         decodeSignal,
	IEConnectedNo:    decodeCallingNo,
	IECallingNo:      decodeCallingNo,
	IECallingSubAddr: decodeSubAddr,
	IECalledNo:       decodeCalledNo,
	IECalledSubAddr:  decodeSubAddr,
	IENetTransit:     decodeNetTransit,
	IERestart:        decodeRestart,
	IELoLayerCompat:  decodeBearerCaps,
	IEHiLayerCompat:  decodeHiLayerCompat,
	IEUserUser:       decodeUserUser,
}

func ia5(data []byte) string {
	b := make([]byte, len(data))
	for i, c := range data {
		b[i] = c & 0x7f
	}
	return string(b)
}

func hexOf(data []byte) string { return hex.EncodeToString(data) }

func parseHex(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "").Replace(s)
	return hex.DecodeString(s)
}

func garbage(ie *IE, rest []byte) {
	if len(rest) > 0 {
		ie.Add("garbage", hexOf(rest))
	}
}

func decodeError(ie *IE, reason string, rest []byte) bool {
	ie.Add("error", reason)
	garbage(ie, rest)
	return false
}

// octetGroup returns the end of the octet group starting at i. A group
// ends with the first octet carrying the extension bit.
func octetGroup(data []byte, i int) int {
	for i < len(data) {
		i++
		if data[i-1]&0x80 != 0 {
			break
		}
	}
	return i
}

func decodeHexField(name string) ieDecodeFunc {
	return func(_ *decoder, ie *IE, data []byte) bool {
		ie.Add(name, hexOf(data))
		return true
	}
}

func decodeIA5Field(name string) ieDecodeFunc {
	return func(_ *decoder, ie *IE, data []byte) bool {
		ie.Add(name, ia5(data))
		return true
	}
}

func decodeSegmented(_ *decoder, ie *IE, data []byte) bool {
	if len(data) < 2 {
		return decodeError(ie, "short", data)
	}
	ie.Add("first", strconv.FormatBool(data[0]&0x80 != 0))
	ie.Add("remaining", strconv.Itoa(int(data[0]&0x7f)))
	ie.Add("message", msgTypeNames.NameOr(int(data[1]&0x7f)))
	garbage(ie, data[2:])
	return true
}

func decodeBearerCaps(d *decoder, ie *IE, data []byte) bool {
	if len(data) < 2 {
		return decodeError(ie, "short", data)
	}
	fCoding.decode(ie, data[0])
	if fTransferCap.decode(ie, data[0]) == 0x10 && d.pd.Flag(FlagTranslate31kAudio) {
		ie.Set("transfer-cap", "speech")
	}
	i := octetGroup(data, 0)
	if i >= len(data) {
		return decodeError(ie, "short", nil)
	}
	fTransferMode.decode(ie, data[i])
	rate := fTransferRate.decode(ie, data[i])
	i++
	if rate == RateMultirate {
		if i >= len(data) {
			return decodeError(ie, "missing rate multiplier", nil)
		}
		fRateMultiplier.decode(ie, data[i])
		i++
	}
	for i < len(data) {
		b := data[i]
		end := octetGroup(data, i)
		var f *field
		switch b & 0x60 {
		case 0x20:
			f = &fLayer1
		case 0x40:
			f = &fLayer2
		case 0x60:
			f = &fLayer3
		default:
			return decodeError(ie, "invalid layer", data[i:])
		}
		f.decode(ie, b)
		if end > i+1 {
			ie.Add(strings.TrimSuffix(f.name, "-protocol")+"-data", hexOf(data[i+1:end]))
		}
		i = end
	}
	return true
}

func decodeCause(_ *decoder, ie *IE, data []byte) bool {
	if len(data) < 2 {
		return decodeError(ie, "short", data)
	}
	fCoding.decode(ie, data[0])
	fLocation.decode(ie, data[0])
	i := 1
	if data[0]&0x80 == 0 {
		fRecommendation.decode(ie, data[1])
		i++
	}
	if i >= len(data) {
		return decodeError(ie, "short", nil)
	}
	fCause.decode(ie, data[i])
	i++
	if i < len(data) {
		ie.Add("diagnostic", hexOf(data[i:]))
	}
	return true
}

func decodeCallState(_ *decoder, ie *IE, data []byte) bool {
	if len(data) < 1 {
		return decodeError(ie, "short", data)
	}
	fCallState.decode(ie, data[0])
	garbage(ie, data[1:])
	return true
}

func decodeChannelID(_ *decoder, ie *IE, data []byte) bool {
	if len(data) < 1 {
		return decodeError(ie, "short", data)
	}
	b := data[0]
	bri := b&0x20 == 0
	ie.Add("interface-bri", strconv.FormatBool(bri))
	ie.Add("channel-exclusive", strconv.FormatBool(b&0x08 != 0))
	ie.Add("d-channel", strconv.FormatBool(b&0x04 != 0))
	if bri {
		ie.Add("channel-select", dictChannelSelectBRI.NameOr(int(b&0x03)))
	} else {
		ie.Add("channel-select", dictChannelSelectPRI.NameOr(int(b&0x03)))
	}
	i := 1
	if b&0x40 != 0 {
		end := octetGroup(data, 1)
		id := 0
		for _, c := range data[1:end] {
			id = id<<7 | int(c&0x7f)
		}
		ie.Add("interface", strconv.Itoa(id))
		i = end
	}
	if !bri && b&0x03 == 0x01 {
		if i >= len(data) {
			return decodeError(ie, "short", nil)
		}
		c := data[i]
		byNumber := c&0x10 == 0
		fCoding.decode(ie, c)
		ie.Add("channel-by-number", strconv.FormatBool(byNumber))
		fChannelType.decode(ie, c)
		i++
		if byNumber {
			var chans []string
			for i < len(data) {
				ch := data[i]
				i++
				chans = append(chans, strconv.Itoa(int(ch&0x7f)))
				if ch&0x80 != 0 {
					break
				}
			}
			ie.Add("channels", strings.Join(chans, ","))
		} else if i < len(data) {
			ie.Add("slot-map", hexOf(data[i:]))
			i = len(data)
		}
	}
	garbage(ie, data[i:])
	return true
}

func decodeProgress(_ *decoder, ie *IE, data []byte) bool {
	if len(data) < 2 {
		return decodeError(ie, "short", data)
	}
	fCoding.decode(ie, data[0])
	fLocation.decode(ie, data[0])
	fProgress.decode(ie, data[1])
	garbage(ie, data[2:])
	return true
}

func decodeNotification(_ *decoder, ie *IE, data []byte) bool {
	if len(data) < 1 {
		return decodeError(ie, "short", data)
	}
	fNotification.decode(ie, data[0])
	garbage(ie, data[1:])
	return true
}

func decodeDisplay(_ *decoder, ie *IE, data []byte) bool {
	i := 0
	if len(data) > 0 && data[0]&0x80 != 0 {
		ie.Add("charset", strconv.Itoa(int(data[0]&0x7f)))
		i = 1
	}
	ie.Add("display", ia5(data[i:]))
	return true
}

func decodeDateTime(_ *decoder, ie *IE, data []byte) bool {
	if len(data) < 3 {
		return decodeError(ie, "short", data)
	}
	n := len(data)
	if n > len(dateTimeFields) {
		n = len(dateTimeFields)
	}
	for i := 0; i < n; i++ {
		ie.Add(dateTimeFields[i], strconv.Itoa(int(data[i])))
	}
	garbage(ie, data[n:])
	return true
}

func decodeSignal(_ *decoder, ie *IE, data []byte) bool {
	if len(data) < 1 {
		return decodeError(ie, "short", data)
	}
	fSignal.decode(ie, data[0])
	garbage(ie, data[1:])
	return true
}

func decodeCallingNo(_ *decoder, ie *IE, data []byte) bool {
	if len(data) < 1 {
		return decodeError(ie, "short", data)
	}
	fNumType.decode(ie, data[0])
	fNumPlan.decode(ie, data[0])
	i := 1
	if data[0]&0x80 == 0 {
		if len(data) < 2 {
			return decodeError(ie, "short", nil)
		}
		fPresentation.decode(ie, data[1])
		fScreening.decode(ie, data[1])
		i = 2
	}
	ie.Add("number", ia5(data[i:]))
	return true
}

func decodeCalledNo(_ *decoder, ie *IE, data []byte) bool {
	if len(data) < 1 {
		return decodeError(ie, "short", data)
	}
	fNumType.decode(ie, data[0])
	fNumPlan.decode(ie, data[0])
	ie.Add("number", ia5(data[octetGroup(data, 0):]))
	return true
}

func decodeSubAddr(_ *decoder, ie *IE, data []byte) bool {
	if len(data) < 1 {
		return decodeError(ie, "short", data)
	}
	fSubAddrType.decode(ie, data[0])
	ie.Add("odd", strconv.FormatBool(data[0]&0x08 != 0))
	ie.Add("subaddress", hexOf(data[1:]))
	return true
}

func decodeNetTransit(_ *decoder, ie *IE, data []byte) bool {
	if len(data) < 1 {
		return decodeError(ie, "short", data)
	}
	fNetIDType.decode(ie, data[0])
	fNetIDPlan.decode(ie, data[0])
	ie.Add("network", ia5(data[1:]))
	return true
}

func decodeRestart(_ *decoder, ie *IE, data []byte) bool {
	if len(data) < 1 {
		return decodeError(ie, "short", data)
	}
	fRestartClass.decode(ie, data[0])
	garbage(ie, data[1:])
	return true
}

func decodeHiLayerCompat(_ *decoder, ie *IE, data []byte) bool {
	if len(data) < 2 {
		return decodeError(ie, "short", data)
	}
	fCoding.decode(ie, data[0])
	fHLInterpret.decode(ie, data[0])
	fHLPresent.decode(ie, data[0])
	fHLCharact.decode(ie, data[1])
	i := 2
	if data[1]&0x80 == 0 && len(data) > 2 {
		fHLExtCharact.decode(ie, data[2])
		i = 3
	}
	garbage(ie, data[i:])
	return true
}

func decodeUserUser(_ *decoder, ie *IE, data []byte) bool {
	if len(data) < 1 {
		return decodeError(ie, "short", data)
	}
	if fUserProtocol.decode(ie, data[0]) == 0x04 {
		ie.Add("information", ia5(data[1:]))
	} else {
		ie.Add("information", hexOf(data[1:]))
	}
	return true
}

// decodeFixed builds a single octet element. Shift is handled by the
// caller since it changes the decoder state.
func decodeFixed(codeset uint8, b byte) *IE {
	var ie *IE
	switch b & 0xf0 {
	case 0xa0:
		ie = NewIE(IEType(codeset)<<8 | IEType(b))
		if IEType(b) != IEMoreData && IEType(b) != IESendComplete {
			ie.Add("dump", hexOf([]byte{b}))
		}
	case 0xb0:
		ie = NewIE(IEType(codeset)<<8 | IECongestion)
		fCongestion.decode(ie, b)
	case 0xd0:
		ie = NewIE(IEType(codeset)<<8 | IERepeat)
		fRepeat.decode(ie, b)
	default:
		ie = NewIE(IEType(codeset)<<8 | IEType(b&0xf0))
		ie.Add("dump", hexOf([]byte{b}))
	}
	return ie
}
