package pushtest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/safetynet-go/internal/conf"
	"github.com/tphakala/safetynet-go/internal/logger"
	"github.com/tphakala/safetynet-go/internal/notification"
)

// Command returns a cobra command that sends a test push through every
// configured provider.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		prio     string
		title    string
		message  string
		tag      string
		metadata []string
	)

	cmd := &cobra.Command{
		Use:   "pushtest",
		Short: "Send a test push through the configured providers",
		Long: `Send a test push notification through every enabled push provider, with the
configured retry policy and rate limits.

Examples:
  # Basic push
  safetynet pushtest --title="Test" --message="Hello"

  # Critical push with data for the client
  safetynet pushtest --priority=critical --metadata="url=/panic/test" --metadata="lat=60.17"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var nprio notification.Priority
			switch prio {
			case "critical":
				nprio = notification.PriorityCritical
			case "important":
				nprio = notification.PriorityImportant
			case "info":
				nprio = notification.PriorityInfo
			default:
				return fmt.Errorf("invalid priority: %s", prio)
			}

			data, err := parseMetadata(metadata)
			if err != nil {
				return err
			}

			log := logger.Global().Module("")
			providers, err := notification.BuildProviders(settings.Notification.Push, log)
			if err != nil {
				return err
			}
			if len(providers) == 0 {
				return fmt.Errorf("no push providers enabled in notification.push.providers")
			}

			pusher := notification.NewPusher(notification.PusherConfig{
				Policy: notification.RetryPolicy{
					Attempts: settings.Notification.Push.MaxRetries + 1,
					Delay:    settings.Notification.Push.RetryDelay,
				},
				Timeout:   settings.Notification.Push.Timeout,
				RateLimit: settings.Notification.Push.RateLimit,
				Burst:     settings.Notification.Push.Burst,
			}, providers, nil, log)
			defer pusher.Close()

			if tag == "" {
				tag = "pushtest:" + strconv.FormatInt(time.Now().Unix(), 10) + ":test"
			}
			msg := notification.PushMessage{
				Title:    title,
				Body:     message,
				Tag:      tag,
				Priority: nprio,
				Data:     data,
			}
			if err := pusher.Send(cmd.Context(), msg); err != nil {
				return fmt.Errorf("push failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Push sent: tag=%s priority=%s providers=%s",
				msg.Tag, msg.Priority, strings.Join(pusher.Providers(), ","))
			if len(msg.Data) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), " data=%d_keys", len(msg.Data))
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().StringVar(&prio, "priority", "important", "Push priority: critical|important|info")
	cmd.Flags().StringVar(&title, "title", "Test Notification", "Push title")
	cmd.Flags().StringVar(&message, "message", "This is a test push notification", "Push message")
	cmd.Flags().StringVar(&tag, "tag", "", "Collapse tag, defaults to a unique pushtest key")
	cmd.Flags().StringSliceVar(&metadata, "metadata", nil, "Data key-value pairs in format key=value (supports numbers, booleans, and strings)")

	return cmd
}

// parseMetadata converts key=value pairs. Values parse as number, then boolean,
// otherwise they stay strings.
func parseMetadata(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	data := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid metadata format: %s (expected key=value)", kv)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			data[key] = floatVal
		} else if boolVal, err := strconv.ParseBool(value); err == nil {
			data[key] = boolVal
		} else {
			data[key] = value
		}
	}
	return data, nil
}
