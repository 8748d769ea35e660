package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/censys/ospd-netstat/pkg/config"
	"github.com/censys/ospd-netstat/pkg/logging"
)

var (
	cfgFile string

	// Populated by the root PersistentPreRunE for every subcommand.
	cfg    config.Config
	logger *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ospd-netstat",
	Short: "Discover listening ports on remote hosts with netstat over SSH",
	Long: `ospd-netstat logs into a host over SSH, runs netstat and reports the
listening TCP and UDP ports it finds.

Examples:
  ospd-netstat serve --config configs/config.yaml
  NETSTAT_PASSWORD=secret ospd-netstat scan --host 10.0.0.5 --user root --insecure
`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Read(cfgFile)
		if err != nil {
			return err
		}
		if level := viper.GetString("log.level"); level != "" {
			cfg.Log.Level = level
		}
		if format := viper.GetString("log.format"); format != "" {
			cfg.Log.Format = format
		}
		logger, err = logging.New(cfg.Log)
		return err
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: defaults plus environment)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(versionCmd)
}
