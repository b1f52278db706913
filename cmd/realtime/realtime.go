package realtime

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/safetynet-go/internal/app"
	"github.com/tphakala/safetynet-go/internal/buildinfo"
	"github.com/tphakala/safetynet-go/internal/conf"
	"github.com/tphakala/safetynet-go/internal/logger"
)

// Command creates the command that runs the realtime pipeline.
func Command(settings *conf.Settings, info *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "realtime",
		Short: "Run the realtime notification pipeline",
		Long: "Consume the change feed, keep the live views current and notify the observing user " +
			"until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.Global().Module("")
			a, err := app.New(settings,
				app.WithLogger(log),
				app.WithRelease(info.Release()))
			if err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}
			defer a.Close()

			log.Info("starting safetynet",
				logger.String("version", info.Version()),
				logger.String("build_date", info.BuildDate()))
			return a.Run(cmd.Context())
		},
	}

	// Set up flags specific to the 'realtime' command
	if err := setupFlags(cmd); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the realtime command.
func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("user", "", "Observing user id")
	cmd.Flags().String("broker", "", "MQTT broker URL carrying the change feed")
	cmd.Flags().String("rest", "", "Base URL of the REST seed endpoint")
	cmd.Flags().String("listen", "", "Listen address of the HTTP API")
	cmd.Flags().Bool("api", true, "Serve the HTTP API")

	// Bind flags to the viper settings
	for key, flag := range map[string]string{
		"user.id":           "user",
		"feed.mqtt.broker":  "broker",
		"feed.rest.baseurl": "rest",
		"api.listen":        "listen",
		"api.enabled":       "api",
	} {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flags: %w", err)
		}
	}

	return nil
}
