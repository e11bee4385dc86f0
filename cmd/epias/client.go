// Package epias talks to the EPİAŞ transparency platform: it obtains and holds the
// TGT ticket and fetches paginated generation data, plant lists and UEVCB lists.
package epias

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultAuthURL  = "https://giris.epias.com.tr/cas/v1/tickets"
	DefaultBaseURL  = "https://seffaflik.epias.com.tr/electricity-service/v1/generation"
	DefaultPageSize = 500
	DefaultTimeout  = 60 * time.Second

	// TicketHeader carries the TGT on every data request.
	TicketHeader = "TGT"

	// WireTimeLayout is the timestamp format the data endpoints accept.
	WireTimeLayout = "2006-01-02T15:04:05-07:00"
)

// Location is the fixed UTC+03:00 zone used for every wire timestamp.
var Location = time.FixedZone("+03", 3*60*60)

// Record is one upstream generation row. It is passed through unmodified.
type Record = map[string]any

// Client holds the credential ticket and issues requests against the platform.
// A Client is safe for concurrent use; jobs sharing a session share one Client.
type Client struct {
	httpClient *http.Client
	authURL    string
	baseURL    string
	pageSize   int
	userAgent  string
	logger     *slog.Logger

	mu       sync.RWMutex
	username string
	password string
	ticket   *Ticket

	logins singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithAuthURL overrides the identity endpoint.
func WithAuthURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.authURL = u
		}
	}
}

// WithBaseURL overrides the generation service base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithPageSize sets the number of records requested per page.
func WithPageSize(size int) Option {
	return func(c *Client) {
		if size > 0 {
			c.pageSize = size
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates an unauthenticated client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		authURL:    DefaultAuthURL,
		baseURL:    DefaultBaseURL,
		pageSize:   DefaultPageSize,
		userAgent:  "epias-extractor",
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PageSize returns the configured page size.
func (c *Client) PageSize() int {
	return c.pageSize
}

// Username returns the user the client last authenticated as.
func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}
