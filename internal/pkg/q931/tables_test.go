package q931

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCauseNames(t *testing.T) {
	assert.Equal(t, 0x66, CauseNames.ValueOr("timeout", 0))
	assert.Equal(t, 0x2a, CauseNames.ValueOr("network-busy", 0))
	assert.Equal(t, 0x1b, CauseNames.ValueOr("offline", 0))
	assert.Equal(t, 0x15, CauseNames.ValueOr("21", 0))
	assert.Equal(t, 7, CauseNames.ValueOr("bogus", 7))

	// Aliases never win a reverse lookup.
	assert.Equal(t, "recovery-on-timer-expiry", CauseNames.NameOr(0x66))
	assert.Equal(t, "99", CauseNames.NameOr(99))
}

func TestParseMsgType(t *testing.T) {
	mt, ok := ParseMsgType("setup ack")
	assert.True(t, ok)
	assert.Equal(t, MsgSetupAck, mt)

	mt, ok = ParseMsgType("0x5a")
	assert.True(t, ok)
	assert.Equal(t, MsgReleaseComplete, mt)

	_, ok = ParseMsgType("0x7f")
	assert.False(t, ok)
}

func TestSwitchFlags(t *testing.T) {
	tests := []struct {
		name string
		want Flags
	}{
		{"euro-isdn-e1", FlagForceSendComplete | FlagCheckNotifyInd | FlagNoDisplayCharset | FlagURDITransferCapsOnly},
		{"euro-isdn-t1", FlagForceSendComplete | FlagCheckNotifyInd},
		{"national-isdn", FlagSendNonIsdnSource},
		{"dms100", FlagForcePresNetProv | FlagIgnoreNonIsdnDest},
		{"lucent5e", FlagIgnoreNonLockedIE},
		{"att4ess", FlagForcePresNetProv | FlagIgnoreNonLockedIE | FlagTranslate31kAudio | FlagNoLayer1Caps},
		{"QSIG", FlagNoActiveOnConnect | FlagNoDisplayIE | FlagNoDisplayCharset},
		{"unknown", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := SwitchFlags(tt.name)
			assert.True(t, ok)
			assert.Equal(t, tt.want, f)
		})
	}

	_, ok := SwitchFlags("5ess-custom")
	assert.False(t, ok)
}

func TestParseFlags(t *testing.T) {
	f, unknown := ParseFlags(FlagNoDisplayIE, []string{"forcesendcomplete", " !nodisplay", "bogus", ""})
	assert.Equal(t, FlagForceSendComplete, f)
	assert.Equal(t, []string{"bogus"}, unknown)
	assert.Equal(t, "forcesendcomplete", f.String())
}

func TestParams(t *testing.T) {
	var p Params
	p.Add("a", "1")
	p.Add("a", "2")
	p.Set("b", "yes")
	p.Set("a", "3")

	assert.Equal(t, []string{"3", "2"}, p.All("a"))
	assert.True(t, p.Bool("b", false))
	assert.Equal(t, 3, p.Int("a", 0))
	assert.Equal(t, "x", p.Value("c", "x"))

	p.Clear("a")
	assert.False(t, p.Has("a"))
	assert.Equal(t, "b=yes", p.String())
}
