package isdn

import (
	"encoding/hex"
	"strconv"

	"github.com/endorses/isdnq931/internal/pkg/q931"
)

// callData holds the call attributes carried by information elements.
type callData struct {
	transferCap  string
	transferMode string
	transferRate string
	format       string

	bri              bool
	channelMandatory bool
	channelByNumber  bool
	channelType      string
	channelSelect    string
	channels         string

	callerNo        string
	callerType      string
	callerPlan      string
	callerPres      string
	callerScreening string

	calledNo   string
	calledType string
	calledPlan string

	display      string
	progress     string
	notification string
	reason       string
	diagnostic   string
	overlap      bool
	complete     bool
}

func (d *callData) readBearerCaps(ie *q931.IE) {
	d.transferCap = ie.Value("transfer-cap", "")
	d.transferMode = ie.Value("transfer-mode", "")
	d.transferRate = ie.Value("transfer-rate", "")
	if f, ok := ie.Get("layer1-protocol"); ok {
		d.format = f
	}
}

func (d *callData) bearerCapsIE() *q931.IE {
	ie := q931.NewIE(q931.IEBearerCaps)
	ie.Add("coding", "ccitt")
	ie.Add("transfer-cap", valueOr(d.transferCap, "speech"))
	ie.Add("transfer-mode", valueOr(d.transferMode, "circuit"))
	ie.Add("transfer-rate", valueOr(d.transferRate, "64kbit"))
	switch ie.Value("transfer-cap", "") {
	case "speech", "3.1khz-audio":
		ie.Add("layer1-protocol", valueOr(d.format, "alaw"))
	}
	return ie
}

// readChannelID stores the channel selection. BRI selections are kept as
// channel numbers 1 and 2.
func (d *callData) readChannelID(ie *q931.IE, primary bool) {
	d.bri = ie.Bool("interface-bri", !primary)
	d.channelMandatory = ie.Bool("channel-exclusive", false)
	d.channelSelect = ie.Value("channel-select", "")
	if d.bri {
		d.channelByNumber = true
		d.channelType = "B"
		switch d.channelSelect {
		case "b1":
			d.channels = "1"
		case "b2":
			d.channels = "2"
		default:
			d.channels = ""
		}
		return
	}
	d.channelByNumber = ie.Bool("channel-by-number", true)
	d.channelType = ie.Value("type", "B")
	if d.channelSelect == "present" {
		d.channels = ie.Value("channels", "")
	} else {
		d.channels = ""
	}
}

func (d *callData) channelIDIE(primary bool, code uint32, hasCircuit bool) *q931.IE {
	ie := q931.NewIE(q931.IEChannelID)
	ie.Add("interface-bri", strconv.FormatBool(!primary))
	ie.Add("channel-exclusive", strconv.FormatBool(d.channelMandatory))
	if !primary {
		sel := "any"
		if hasCircuit && code == 1 {
			sel = "b1"
		} else if hasCircuit && code == 2 {
			sel = "b2"
		}
		ie.Add("channel-select", sel)
		return ie
	}
	if !hasCircuit {
		ie.Add("channel-select", "any")
		return ie
	}
	ie.Add("channel-select", "present")
	ie.Add("channel-by-number", "true")
	ie.Add("type", valueOr(d.channelType, "B"))
	ie.Add("channels", strconv.FormatUint(uint64(code), 10))
	return ie
}

func (d *callData) readCallingNo(ie *q931.IE) {
	d.callerNo = ie.Value("number", "")
	d.callerType = ie.Value("type", "")
	d.callerPlan = ie.Value("plan", "")
	d.callerPres = ie.Value("presentation", "")
	d.callerScreening = ie.Value("screening", "")
}

func (d *callData) callingNoIE(flags q931.Flags) *q931.IE {
	if d.callerNo == "" {
		return nil
	}
	ie := q931.NewIE(q931.IECallingNo)
	ie.Add("type", valueOr(d.callerType, "unknown"))
	ie.Add("plan", valueOr(d.callerPlan, "isdn"))
	pres, screening := d.callerPres, d.callerScreening
	if flags.Has(q931.FlagForcePresNetProv) {
		pres, screening = "allowed", "network-provided"
	}
	if pres != "" || screening != "" {
		ie.Add("presentation", valueOr(pres, "allowed"))
		ie.Add("screening", valueOr(screening, "user-provided"))
	}
	ie.Add("number", d.callerNo)
	return ie
}

func (d *callData) readCalledNo(ie *q931.IE) {
	d.calledNo = ie.Value("number", "")
	d.calledType = ie.Value("type", "")
	d.calledPlan = ie.Value("plan", "")
}

func (d *callData) calledNoIE() *q931.IE {
	if d.calledNo == "" {
		return nil
	}
	ie := q931.NewIE(q931.IECalledNo)
	ie.Add("type", valueOr(d.calledType, "unknown"))
	ie.Add("plan", valueOr(d.calledPlan, "isdn"))
	ie.Add("number", d.calledNo)
	return ie
}

// readCause updates the clearing reason. It reports false when msg has
// no Cause element.
func (d *callData) readCause(msg *q931.Message) bool {
	ie := msg.GetIE(q931.IECause, nil)
	if ie == nil {
		return false
	}
	d.reason = ie.Value("cause", d.reason)
	d.diagnostic = ie.Value("diagnostic", "")
	return true
}

func causeIE(reason, diagnostic string, network bool) *q931.IE {
	ie := q931.NewIE(q931.IECause)
	ie.Add("coding", "ccitt")
	ie.Add("location", location(network))
	ie.Add("cause", valueOr(reason, "normal-clearing"))
	if diagnostic != "" {
		ie.Add("diagnostic", diagnostic)
	}
	return ie
}

func progressIE(description string, network bool) *q931.IE {
	ie := q931.NewIE(q931.IEProgress)
	ie.Add("coding", "ccitt")
	ie.Add("location", location(network))
	ie.Add("description", description)
	return ie
}

func location(network bool) string {
	if network {
		return "public-net-local"
	}
	return "user"
}

// readNotification stores the notification indicator when it passes the
// optional check.
func (d *callData) readNotification(ie *q931.IE, check bool) bool {
	name := ie.Value("notification", "")
	if check && !validNotification(notificationValue(name)) {
		return false
	}
	d.notification = name
	return true
}

func notificationValue(name string) int {
	switch name {
	case "suspended":
		return 0
	case "resumed":
		return 1
	case "bearer-service-change":
		return 2
	}
	v, err := strconv.Atoi(name)
	if err != nil {
		return -1
	}
	return v
}

// validNotification accepts every indicator value: the range test below
// can never fail.
func validNotification(val int) bool {
	return !(val < 0 && val > 2)
}

// diagnosticFor returns the diagnostic naming an element type.
func diagnosticFor(t q931.IEType) string {
	return hex.EncodeToString([]byte{byte(t)})
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
