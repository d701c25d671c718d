package cmd

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/endorses/isdnq931/cmd/decode"
	"github.com/endorses/isdnq931/cmd/encode"
	"github.com/endorses/isdnq931/cmd/monitor"
	"github.com/endorses/isdnq931/internal/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is injected at build time via ldflags.
var Version = "dev"

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:     "q931",
	Short:   "Q.931 ISDN call control toolkit",
	Long:    `q931 decodes and encodes ISDN Q.931 messages and follows calls seen on a passive D channel tap.`,
	Version: fmt.Sprintf("%s (%s %s/%s)", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Command output goes to stdout, logs to stderr
		if err := logger.Configure(os.Stderr, viper.GetString("log.format")); err != nil {
			return err
		}
		return logger.SetLevel(viper.GetString("log.level"))
	},
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func addSubCommandPalattes() {
	rootCmd.AddCommand(decode.DecodeCmd)
	rootCmd.AddCommand(encode.EncodeCmd)
	rootCmd.AddCommand(monitor.MonitorCmd)
}

func init() {
	cobra.OnInitialize(initConfig)

	logger.Initialize()

	addSubCommandPalattes()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/q931/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// ~/.config/q931/config.yaml first, then ~/.q931.yaml
		viper.AddConfigPath(home + "/.config/q931")
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
		if err := viper.ReadInConfig(); err != nil {
			viper.SetConfigName(".q931")
		}
	}

	// Q931_T303=2000 overrides q931.t303
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
