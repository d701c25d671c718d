package isdn

import (
	"sync"
	"time"

	"github.com/endorses/isdnq931/internal/pkg/logger"
	"github.com/endorses/isdnq931/internal/pkg/q931"
	"github.com/spf13/viper"
)

var configOnce sync.Once

// Config holds the Q.931 controller settings
type Config struct {
	// Network side of the interface (NT) instead of user side (TE)
	Network bool `mapstructure:"network"`
	// Primary rate (PRI) instead of basic rate (BRI)
	Primary bool `mapstructure:"primary"`
	// Call reference length in octets, 0 picks 2 on PRI and 1 on BRI
	CallRefLen int    `mapstructure:"callreflen"`
	SwitchType string `mapstructure:"switchtype"`

	// Segmentation
	AllowSegmentation bool `mapstructure:"allowsegmentation"`
	MaxSegments       int  `mapstructure:"maxsegments"`

	MaxDisplay int      `mapstructure:"max-display"`
	Flags      []string `mapstructure:"flags"`

	// Protocol timers
	T302 time.Duration `mapstructure:"t302"`
	T303 time.Duration `mapstructure:"t303"`
	T304 time.Duration `mapstructure:"t304"`
	T305 time.Duration `mapstructure:"t305"`
	T308 time.Duration `mapstructure:"t308"`
	T309 time.Duration `mapstructure:"t309"`
	T313 time.Duration `mapstructure:"t313"`
	T314 time.Duration `mapstructure:"t314"`
	T316 time.Duration `mapstructure:"t316"`

	// Restart procedure
	RestartRetries int           `mapstructure:"restartretries"`
	ChannelSync    time.Duration `mapstructure:"channelsync"`

	// Debugging
	ExtendedDebug bool `mapstructure:"extended-debug"`
	PrintMessages bool `mapstructure:"print-messages"`
}

// initConfigDefaults initializes viper defaults once
func initConfigDefaults() {
	viper.SetDefault("q931.network", true)
	viper.SetDefault("q931.primary", true)
	viper.SetDefault("q931.callreflen", 0)
	viper.SetDefault("q931.switchtype", string(q931.SwitchUnknown))
	viper.SetDefault("q931.allowsegmentation", false)
	viper.SetDefault("q931.maxsegments", DefaultMaxSegments)
	viper.SetDefault("q931.max-display", DefaultMaxDisplay)
	viper.SetDefault("q931.flags", []string{})
	viper.SetDefault("q931.t302", DefaultT302.Milliseconds())
	viper.SetDefault("q931.t303", DefaultT303.Milliseconds())
	viper.SetDefault("q931.t304", DefaultT304.Milliseconds())
	viper.SetDefault("q931.t305", DefaultT305.Milliseconds())
	viper.SetDefault("q931.t308", DefaultT308.Milliseconds())
	viper.SetDefault("q931.t309", DefaultT309.Milliseconds())
	viper.SetDefault("q931.t313", DefaultT313.Milliseconds())
	viper.SetDefault("q931.t314", DefaultT314.Milliseconds())
	viper.SetDefault("q931.t316", DefaultT316.Milliseconds())
	viper.SetDefault("q931.restartretries", DefaultRestartRetries)
	viper.SetDefault("q931.channelsync", int(DefaultChannelSync.Seconds()))
	viper.SetDefault("q931.extended-debug", false)
	viper.SetDefault("q931.print-messages", false)
}

func millis(key string) time.Duration {
	return time.Duration(viper.GetInt64(key)) * time.Millisecond
}

// GetConfig returns the current Q.931 configuration with defaults.
// Timers are configured in milliseconds, channelsync in seconds.
func GetConfig() *Config {
	// Initialize defaults only once to prevent race conditions
	configOnce.Do(initConfigDefaults)

	config := &Config{
		Network:           viper.GetBool("q931.network"),
		Primary:           viper.GetBool("q931.primary"),
		CallRefLen:        viper.GetInt("q931.callreflen"),
		SwitchType:        viper.GetString("q931.switchtype"),
		AllowSegmentation: viper.GetBool("q931.allowsegmentation"),
		MaxSegments:       viper.GetInt("q931.maxsegments"),
		MaxDisplay:        viper.GetInt("q931.max-display"),
		Flags:             viper.GetStringSlice("q931.flags"),
		T302:              millis("q931.t302"),
		T303:              millis("q931.t303"),
		T304:              millis("q931.t304"),
		T305:              millis("q931.t305"),
		T308:              millis("q931.t308"),
		T309:              millis("q931.t309"),
		T313:              millis("q931.t313"),
		T314:              millis("q931.t314"),
		T316:              millis("q931.t316"),
		RestartRetries:    viper.GetInt("q931.restartretries"),
		ChannelSync:       time.Duration(viper.GetInt64("q931.channelsync")) * time.Second,
		ExtendedDebug:     viper.GetBool("q931.extended-debug"),
		PrintMessages:     viper.GetBool("q931.print-messages"),
	}

	return config
}

// DefaultConfig returns a primary rate network side configuration.
func DefaultConfig() Config {
	return Config{
		Network:        true,
		Primary:        true,
		SwitchType:     string(q931.SwitchUnknown),
		MaxSegments:    DefaultMaxSegments,
		MaxDisplay:     DefaultMaxDisplay,
		T302:           DefaultT302,
		T303:           DefaultT303,
		T304:           DefaultT304,
		T305:           DefaultT305,
		T308:           DefaultT308,
		T309:           DefaultT309,
		T313:           DefaultT313,
		T314:           DefaultT314,
		T316:           DefaultT316,
		RestartRetries: DefaultRestartRetries,
		ChannelSync:    DefaultChannelSync,
	}
}

// callRefLen returns the configured call reference length in 1..4.
func (c *Config) callRefLen() uint8 {
	switch {
	case c.CallRefLen >= 1 && c.CallRefLen <= 4:
		return uint8(c.CallRefLen)
	case c.Primary:
		return 2
	default:
		return 1
	}
}

// ParserFlags resolves the switch type bundle and the individual flags.
func (c *Config) ParserFlags() q931.Flags {
	base, ok := q931.SwitchFlags(c.SwitchType)
	if !ok && c.SwitchType != "" {
		logger.Warn("Unknown switch type, using no flags", "switchtype", c.SwitchType)
	}
	flags, unknown := q931.ParseFlags(base, c.Flags)
	for _, name := range unknown {
		logger.Warn("Unknown Q.931 flag", "flag", name)
	}
	return flags
}

// ParserData builds codec settings for a link carrying maxUserData octets.
func (c *Config) ParserData(maxUserData int) q931.ParserData {
	pd := q931.DefaultParserData()
	if maxUserData > 0 {
		pd.MaxMsgLen = maxUserData
	}
	pd.AllowSegment = c.AllowSegmentation
	if c.MaxSegments > 0 {
		pd.MaxSegments = c.MaxSegments
	}
	pd.MaxDisplay = DefaultMaxDisplay
	if c.MaxDisplay == ExtendedMaxDisplay {
		pd.MaxDisplay = ExtendedMaxDisplay
	}
	pd.Flags = c.ParserFlags()
	pd.ExtendedDebug = c.ExtendedDebug
	return pd
}
