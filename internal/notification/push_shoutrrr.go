package notification

import (
	"context"
	"fmt"
	"io"
	"log"
	"slices"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/tphakala/safetynet-go/internal/errors"
)

// ShoutrrrProvider sends through shoutrrr service URLs (ntfy, Telegram, Pushover
// and so on). Most of those services have no collapse key, so only the title and
// body are carried.
type ShoutrrrProvider struct {
	name   string
	urls   []string
	sender *router.ServiceRouter
}

// NewShoutrrrProvider builds a single sender over all urls.
func NewShoutrrrProvider(name string, urls []string, timeout time.Duration) (*ShoutrrrProvider, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("at least one URL is required")
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, scrubbed(err)
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))

	name = strings.TrimSpace(name)
	if name == "" {
		name = "shoutrrr"
	}
	return &ShoutrrrProvider{name: name, urls: slices.Clone(urls), sender: sender}, nil
}

// Name returns the provider name.
func (s *ShoutrrrProvider) Name() string { return s.name }

// Send delivers msg to every service URL. The router applies its own timeout.
func (s *ShoutrrrProvider) Send(ctx context.Context, msg PushMessage) error {
	if err := ctx.Err(); err != nil {
		return permanent(err)
	}

	params := stypes.Params{}
	if msg.Title != "" {
		params.SetTitle(msg.Title)
	}
	for _, err := range s.sender.Send(msg.Body, &params) {
		if err != nil {
			return scrubbed(err)
		}
	}
	return nil
}

// scrubbed strips tokens and credentials that service URLs embed in errors.
func scrubbed(err error) error {
	return errors.NewStd(errors.ScrubMessage(err.Error()))
}
