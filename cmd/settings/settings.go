package settings

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/safetynet-go/internal/conf"
	"github.com/tphakala/safetynet-go/internal/datastore"
	"github.com/tphakala/safetynet-go/internal/logger"
	usersettings "github.com/tphakala/safetynet-go/internal/settings"
)

// Command returns the settings command with its show and set subcommands.
func Command(appSettings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the observing user's notification settings",
	}
	cmd.AddCommand(showCommand(appSettings), setCommand(appSettings))
	return cmd
}

func showCommand(appSettings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the current notification settings as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gate, closeStore, err := openGate(appSettings)
			if err != nil {
				return err
			}
			defer closeStore()

			return writeYAML(cmd.OutOrStdout(), appSettings.User.ID, gate.Settings(cmd.Context()))
		},
	}
}

func setCommand(appSettings *conf.Settings) *cobra.Command {
	var (
		file          string
		push          bool
		sound         bool
		vibration     bool
		panicOverride bool
		quiet         bool
		quietStart    string
		quietEnd      string
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change notification settings",
		Long: `Change notification settings. Only the given flags are applied; a YAML file
in the format printed by "settings show" may be used instead.

Examples:
  # Mute everything but panic alerts at night
  safetynet settings set --quiet-hours --quiet-start=22:00 --quiet-end=07:00 --panic-override

  # Apply settings from a file
  safetynet settings set --file=settings.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gate, closeStore, err := openGate(appSettings)
			if err != nil {
				return err
			}
			defer closeStore()

			next := gate.Settings(cmd.Context())
			if file != "" {
				if next, err = readYAML(file, next); err != nil {
					return err
				}
			}

			flags := cmd.Flags()
			if flags.Changed("push") {
				next.PushEnabled = push
			}
			if flags.Changed("sound") {
				next.SoundEnabled = sound
			}
			if flags.Changed("vibration") {
				next.VibrationEnabled = vibration
			}
			if flags.Changed("panic-override") {
				next.PanicOverride = panicOverride
			}
			if flags.Changed("quiet-hours") {
				next.QuietHours.Enabled = quiet
			}
			if flags.Changed("quiet-start") {
				next.QuietHours.Start = quietStart
			}
			if flags.Changed("quiet-end") {
				next.QuietHours.End = quietEnd
			}

			if err := gate.Update(cmd.Context(), next); err != nil {
				return fmt.Errorf("failed to update settings: %w", err)
			}
			return writeYAML(cmd.OutOrStdout(), appSettings.User.ID, next)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file with the settings to apply")
	cmd.Flags().BoolVar(&push, "push", true, "Deliver push notifications")
	cmd.Flags().BoolVar(&sound, "sound", true, "Play sounds for live cues")
	cmd.Flags().BoolVar(&vibration, "vibration", true, "Vibrate for live cues")
	cmd.Flags().BoolVar(&panicOverride, "panic-override", true, "Let panic alerts through quiet hours")
	cmd.Flags().BoolVar(&quiet, "quiet-hours", false, "Enable quiet hours")
	cmd.Flags().StringVar(&quietStart, "quiet-start", "", "Quiet hours start, HH:MM")
	cmd.Flags().StringVar(&quietEnd, "quiet-end", "", "Quiet hours end, HH:MM")

	return cmd
}

// settingsDocument is the YAML layout of show and of set --file.
type settingsDocument struct {
	User     string                `yaml:"user,omitempty"`
	Settings usersettings.Settings `yaml:"settings"`
}

// openGate opens the store and a gate over it. The returned func closes the store.
func openGate(appSettings *conf.Settings) (*usersettings.Gate, func(), error) {
	log := logger.Global().Module("")

	loc, err := appSettings.User.Location()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid timezone %q: %w", appSettings.User.Timezone, err)
	}
	store, err := datastore.Open(datastore.ConfigFromSettings(appSettings.Database), log)
	if err != nil {
		return nil, nil, err
	}

	gate := usersettings.NewGate(store, appSettings.User.ID,
		usersettings.WithLocation(loc),
		usersettings.WithLogger(log))
	return gate, func() {
		if err := store.Close(); err != nil {
			log.Warn("failed to close datastore", logger.Error(err))
		}
	}, nil
}

func writeYAML(w io.Writer, userID string, s usersettings.Settings) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(settingsDocument{User: userID, Settings: s}); err != nil {
		return fmt.Errorf("error encoding settings: %w", err)
	}
	return enc.Close()
}

// readYAML overlays the settings in path on current.
func readYAML(path string, current usersettings.Settings) (usersettings.Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return current, fmt.Errorf("error reading settings file: %w", err)
	}
	doc := settingsDocument{Settings: current}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return current, fmt.Errorf("error parsing settings file: %w", err)
	}
	return doc.Settings, nil
}
