// Package restfeed seeds stream views with full table fetches over the store's REST API.
package restfeed

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/antonholmquist/jason"

	"github.com/tphakala/safetynet-go/internal/errors"
	"github.com/tphakala/safetynet-go/internal/feed"
	"github.com/tphakala/safetynet-go/internal/httpclient"
	"github.com/tphakala/safetynet-go/internal/logger"
)

// maxResponseBytes bounds one seed response.
const maxResponseBytes = 16 << 20

// Config configures the REST endpoint.
type Config struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	RateLimit float64

	// Transport overrides the HTTP transport, used by tests.
	Transport http.RoundTripper
}

// Fetcher implements feed.Fetcher.
type Fetcher struct {
	base   *url.URL
	client *httpclient.Client
	log    logger.Logger
}

var _ feed.Fetcher = (*Fetcher)(nil)

// New creates a fetcher for cfg.BaseURL.
func New(cfg Config, log logger.Logger) (*Fetcher, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.Newf("invalid REST base URL %q", cfg.BaseURL).
			Component("restfeed").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if log == nil {
		log = logger.NewDiscardLogger()
	}

	headers := map[string]string{"Accept": "application/json"}
	if cfg.APIKey != "" {
		headers["apikey"] = cfg.APIKey
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}

	return &Fetcher{
		base: base,
		client: httpclient.New(&httpclient.Config{
			DefaultTimeout: cfg.Timeout,
			Headers:        headers,
			RateLimit:      cfg.RateLimit,
			Burst:          len(feed.Tables),
			Transport:      cfg.Transport,
		}),
		log: log.Module("restfeed"),
	}, nil
}

// Fetch returns every row of table matching filter. Rows that fail validation are
// logged and skipped; a transport or parse failure fails the whole fetch.
func (f *Fetcher) Fetch(ctx context.Context, table feed.Table, filter feed.Filter) ([]feed.Record, error) {
	u := f.base.JoinPath(string(table))
	q := url.Values{}
	q.Set("select", "*")
	filter.Apply(q)
	u.RawQuery = q.Encode()

	start := time.Now()
	resp, err := f.client.Get(ctx, u.String())
	if err != nil {
		return nil, errors.New(err).
			Component("restfeed").
			Category(errors.CategorySeedFetch).
			Context("table", string(table)).
			Context("filter", filter.String()).
			Build()
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.New(err).
			Component("restfeed").
			Category(errors.CategorySeedFetch).
			Context("table", string(table)).
			Build()
	}

	items, err := rows(body)
	if err != nil {
		return nil, errors.New(err).
			Component("restfeed").
			Category(errors.CategorySeedFetch).
			Context("table", string(table)).
			Context("reason", "response is not a row array").
			Build()
	}

	records := make([]feed.Record, 0, len(items))
	skipped := 0
	for _, item := range items {
		raw, err := item.Marshal()
		if err != nil {
			skipped++
			continue
		}
		rec, err := feed.Decode(table, raw)
		if err != nil {
			skipped++
			f.log.Warn("skipping malformed seed row", logger.String("table", string(table)), logger.Error(err))
			continue
		}
		records = append(records, rec)
	}

	f.log.Debug("seed fetch complete",
		logger.String("table", string(table)),
		logger.String("filter", filter.String()),
		logger.Int("rows", len(records)),
		logger.Int("skipped", skipped),
		logger.Duration("elapsed", time.Since(start)))
	return records, nil
}

// ObserveRequests installs fn to be called after every seed request.
func (f *Fetcher) ObserveRequests(fn func(*http.Request, *http.Response, time.Duration, error)) {
	f.client.SetAfterResponseHook(fn)
}

// Close releases idle connections.
func (f *Fetcher) Close() {
	f.client.Close()
}

// rows accepts a bare JSON array or an object wrapping it under "data".
func rows(body []byte) ([]*jason.Value, error) {
	v, err := jason.NewValueFromBytes(body)
	if err != nil {
		return nil, err
	}
	if items, err := v.Array(); err == nil {
		return items, nil
	}
	obj, err := v.Object()
	if err != nil {
		return nil, err
	}
	return obj.GetValueArray("data")
}
