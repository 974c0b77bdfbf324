// Package analytics sends a single anonymous start-up report.
package analytics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/user"
	"time"

	"github.com/rs/zerolog"
)

// AppName identifies this program in reports.
const AppName = "WTL Debugger"

// DefaultTimeout bounds a report.
const DefaultTimeout = 3 * time.Second

// Reporter issues the start-up usage report.
type Reporter struct {
	endpoint string
	client   *http.Client
	logger   zerolog.Logger
	username func() string
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Reporter) {
		r.client = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Reporter) {
		r.logger = logger
	}
}

// WithUsername overrides how the local user name is found.
func WithUsername(fn func() string) Option {
	return func(r *Reporter) {
		r.username = fn
	}
}

// New creates a reporter for endpoint. An empty endpoint disables reporting.
func New(endpoint string, opts ...Option) *Reporter {
	r := &Reporter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: DefaultTimeout},
		logger:   zerolog.Nop(),
		username: currentUser,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Enabled reports whether Report sends anything.
func (r *Reporter) Enabled() bool {
	return r != nil && r.endpoint != ""
}

// Report sends one GET to the endpoint. Failures are logged and otherwise
// ignored.
func (r *Reporter) Report(ctx context.Context) {
	if !r.Enabled() {
		return
	}

	target, err := r.URL()
	if err != nil {
		r.logger.Debug().Err(err).Msg("usage report skipped")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		r.logger.Debug().Err(err).Msg("usage report skipped")
		return
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug().Err(err).Msg("usage report failed")
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	r.logger.Debug().Int("status", resp.StatusCode).Msg("usage report sent")
}

// URL returns the report URL: the endpoint with the app name and the
// anonymous user id added to its query.
func (r *Reporter) URL() (string, error) {
	u, err := url.Parse(r.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("t", "screenview")
	q.Set("cd", "start")
	q.Set("an", AppName)
	q.Set("uid", UserHash(r.username()))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// UserHash returns the anonymous id for name.
func UserHash(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:])
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}
