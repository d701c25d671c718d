package q931

import (
	"sort"
	"strings"
)

// Flags alters codec and call behaviour to match switch variants.
type Flags uint32

const (
	// FlagSendNonIsdnSource adds an origination-non-isdn progress to SETUP.
	FlagSendNonIsdnSource Flags = 1 << iota
	// FlagIgnoreNonIsdnDest ignores a destination-non-isdn progress.
	FlagIgnoreNonIsdnDest
	// FlagForcePresNetProv forces presentation-allowed network-provided on caller numbers.
	FlagForcePresNetProv
	// FlagTranslate31kAudio sends and accepts 3.1khz-audio as speech.
	FlagTranslate31kAudio
	// FlagURDITransferCapsOnly restricts digital transfer capability to udi.
	FlagURDITransferCapsOnly
	// FlagNoLayer1Caps omits the layer 1 protocol from BearerCaps.
	FlagNoLayer1Caps
	// FlagIgnoreNonLockedIE drops elements announced by a non-locking shift.
	FlagIgnoreNonLockedIE
	// FlagNoDisplayIE never sends Display.
	FlagNoDisplayIE
	// FlagNoDisplayCharset omits the charset octet of Display.
	FlagNoDisplayCharset
	// FlagForceSendComplete adds SendComplete to SETUP.
	FlagForceSendComplete
	// FlagNoActiveOnConnect waits for CONNECT ACK before going Active.
	FlagNoActiveOnConnect
	// FlagCheckNotifyInd validates the notification indicator.
	FlagCheckNotifyInd
	// FlagAllowDummyRestart accepts RESTART on the dummy call reference.
	FlagAllowDummyRestart
)

var flagNames = map[string]Flags{
	"sendnonisdnsource":    FlagSendNonIsdnSource,
	"ignorenonisdndest":    FlagIgnoreNonIsdnDest,
	"forcepresnetprov":     FlagForcePresNetProv,
	"translate31kaudio":    FlagTranslate31kAudio,
	"urditransfercapsonly": FlagURDITransferCapsOnly,
	"nolayer1caps":         FlagNoLayer1Caps,
	"ignorenonlockedie":    FlagIgnoreNonLockedIE,
	"nodisplay":            FlagNoDisplayIE,
	"nodisplaycharset":     FlagNoDisplayCharset,
	"forcesendcomplete":    FlagForceSendComplete,
	"noactiveonconnect":    FlagNoActiveOnConnect,
	"checknotifyind":       FlagCheckNotifyInd,
	"allowdummyrestart":    FlagAllowDummyRestart,
}

// SwitchType selects a preset flag bundle.
type SwitchType string

const (
	SwitchEuroIsdnE1   SwitchType = "euro-isdn-e1"
	SwitchEuroIsdnT1   SwitchType = "euro-isdn-t1"
	SwitchNationalIsdn SwitchType = "national-isdn"
	SwitchDMS100       SwitchType = "dms100"
	SwitchLucent5e     SwitchType = "lucent5e"
	SwitchATT4ess      SwitchType = "att4ess"
	SwitchQSIG         SwitchType = "qsig"
	SwitchUnknown      SwitchType = "unknown"
)

var switchFlags = map[SwitchType]Flags{
	SwitchEuroIsdnE1:   FlagForceSendComplete | FlagCheckNotifyInd | FlagNoDisplayCharset | FlagURDITransferCapsOnly,
	SwitchEuroIsdnT1:   FlagForceSendComplete | FlagCheckNotifyInd,
	SwitchNationalIsdn: FlagSendNonIsdnSource,
	SwitchDMS100:       FlagForcePresNetProv | FlagIgnoreNonIsdnDest,
	SwitchLucent5e:     FlagIgnoreNonLockedIE,
	SwitchATT4ess:      FlagForcePresNetProv | FlagIgnoreNonLockedIE | FlagTranslate31kAudio | FlagNoLayer1Caps,
	SwitchQSIG:         FlagNoActiveOnConnect | FlagNoDisplayIE | FlagNoDisplayCharset,
	SwitchUnknown:      0,
}

// SwitchFlags returns the flag bundle of a switch type. Unknown names
// yield no flags.
func SwitchFlags(name string) (Flags, bool) {
	f, ok := switchFlags[SwitchType(strings.ToLower(strings.TrimSpace(name)))]
	return f, ok
}

// ParseFlags combines named flags. Names prefixed with '!' clear the flag.
// Unrecognized names are returned separately.
func ParseFlags(base Flags, names []string) (Flags, []string) {
	var unknown []string
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		unset := strings.HasPrefix(n, "!")
		f, ok := flagNames[strings.TrimPrefix(n, "!")]
		if !ok {
			unknown = append(unknown, n)
			continue
		}
		if unset {
			base &^= f
		} else {
			base |= f
		}
	}
	return base, unknown
}

// Has reports whether every bit of f is set.
func (fl Flags) Has(f Flags) bool { return fl&f == f }

// Names returns the sorted names of the set flags.
func (fl Flags) Names() []string {
	var out []string
	for n, f := range flagNames {
		if fl&f != 0 {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

func (fl Flags) String() string { return strings.Join(fl.Names(), ",") }
