package isdn

import (
	"testing"
	"time"

	"github.com/endorses/isdnq931/internal/pkg/q931"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

// setConfig overrides a viper key for the duration of the test.
func setConfig(t *testing.T, key string, value any) {
	t.Helper()
	viper.Set(key, value)
	t.Cleanup(func() { viper.Set(key, nil) })
}

func TestGetConfig_Defaults(t *testing.T) {
	cfg := GetConfig()

	assert.True(t, cfg.Network)
	assert.True(t, cfg.Primary)
	assert.Equal(t, DefaultT303, cfg.T303)
	assert.Equal(t, DefaultT309, cfg.T309)
	assert.Equal(t, DefaultT316, cfg.T316)
	assert.Equal(t, DefaultChannelSync, cfg.ChannelSync)
	assert.Equal(t, DefaultRestartRetries, cfg.RestartRetries)
	assert.Equal(t, DefaultMaxSegments, cfg.MaxSegments)
	assert.False(t, cfg.AllowSegmentation)
}

func TestGetConfig_Overrides(t *testing.T) {
	setConfig(t, "q931.t303", 2500)
	setConfig(t, "q931.channelsync", 60)
	setConfig(t, "q931.primary", false)
	setConfig(t, "q931.allowsegmentation", true)

	cfg := GetConfig()
	assert.Equal(t, 2500*time.Millisecond, cfg.T303)
	assert.Equal(t, time.Minute, cfg.ChannelSync)
	assert.False(t, cfg.Primary)
	assert.True(t, cfg.AllowSegmentation)
}

func TestConfig_CallRefLen(t *testing.T) {
	tests := []struct {
		name    string
		primary bool
		length  int
		want    uint8
	}{
		{"pri default", true, 0, 2},
		{"bri default", false, 0, 1},
		{"explicit", false, 3, 3},
		{"out of range", true, 9, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Primary = tt.primary
			cfg.CallRefLen = tt.length
			assert.Equal(t, tt.want, cfg.callRefLen())
		})
	}
}

func TestConfig_ParserFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SwitchType = "euro-isdn-e1"
	cfg.Flags = []string{"!checknotifyind", "nolayer1caps", "bogus"}

	flags := cfg.ParserFlags()
	assert.True(t, flags.Has(q931.FlagForceSendComplete))
	assert.True(t, flags.Has(q931.FlagNoLayer1Caps))
	assert.False(t, flags.Has(q931.FlagCheckNotifyInd))

	cfg.SwitchType = "no-such-switch"
	cfg.Flags = nil
	assert.Equal(t, q931.Flags(0), cfg.ParserFlags())
}

func TestConfig_ParserData(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowSegmentation = true
	cfg.MaxDisplay = ExtendedMaxDisplay

	pd := cfg.ParserData(128)
	assert.Equal(t, 128, pd.MaxMsgLen)
	assert.True(t, pd.AllowSegment)
	assert.Equal(t, ExtendedMaxDisplay, pd.MaxDisplay)

	cfg.MaxDisplay = 50
	pd = cfg.ParserData(0)
	assert.Equal(t, DefaultMaxUserData, pd.MaxMsgLen)
	assert.Equal(t, DefaultMaxDisplay, pd.MaxDisplay)
}
