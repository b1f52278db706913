package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/safetynet-go/cmd/pushtest"
	"github.com/tphakala/safetynet-go/cmd/realtime"
	settingscmd "github.com/tphakala/safetynet-go/cmd/settings"
	"github.com/tphakala/safetynet-go/internal/buildinfo"
	"github.com/tphakala/safetynet-go/internal/conf"
	"github.com/tphakala/safetynet-go/internal/logger"
)

// RootCommand creates and returns the root command
func RootCommand(info *buildinfo.Context) *cobra.Command {
	settings := &conf.Settings{}
	var (
		configFile string
		central    *logger.CentralLogger
	)

	rootCmd := &cobra.Command{
		Use:           "safetynet",
		Short:         "SafetyNet realtime notification pipeline",
		Version:       info.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, &configFile); err != nil {
		panic(err)
	}

	subcommands := []*cobra.Command{
		realtime.Command(settings, info),
		settingscmd.Command(settings),
		pushtest.Command(settings),
	}
	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			viper.SetConfigFile(configFile)
		}
		loaded, err := conf.Load()
		if err != nil {
			return err
		}
		*settings = *loaded

		central, err = initLogging(settings)
		if err != nil {
			return err
		}
		logger.SetGlobal(central)
		return nil
	}

	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if central == nil {
			return nil
		}
		return central.Close()
	}

	return rootCmd
}

// initLogging creates the central logger. --debug lowers the default level.
func initLogging(settings *conf.Settings) (*logger.CentralLogger, error) {
	cfg := settings.Logging
	if settings.Debug {
		cfg.DefaultLevel = "debug"
		if cfg.Console != nil {
			console := *cfg.Console
			console.Level = "debug"
			cfg.Console = &console
		}
	}
	cl, err := logger.NewCentralLogger(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	return cl, nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, configFile *string) error {
	rootCmd.PersistentFlags().StringVarP(configFile, "config", "c", "", "Path to the configuration file")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")

	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
