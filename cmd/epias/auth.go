package epias

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Ticket is the opaque TGT returned by the identity service.
type Ticket struct {
	Value    string
	IssuedAt time.Time
}

// Preview returns a shortened form that is safe to log.
func (t Ticket) Preview() string {
	if len(t.Value) > 20 {
		return t.Value[:20] + "..."
	}
	return t.Value
}

// Authenticate posts the credentials to the identity endpoint. A 201 response
// body is the ticket; any other status is an AuthError. The credentials are kept
// so a later EnsureAuthenticated can log in again after an invalidation.
func (c *Client) Authenticate(ctx context.Context, username, password string) (Ticket, error) {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)
	if username == "" || password == "" {
		return Ticket{}, ErrCredentialsRequired
	}

	c.mu.Lock()
	c.username = username
	c.password = password
	c.ticket = nil
	c.mu.Unlock()

	return c.login(ctx, username, password)
}

// EnsureAuthenticated makes sure a ticket is held, logging in with the stored
// credentials when it is not. Concurrent callers share a single login.
func (c *Client) EnsureAuthenticated(ctx context.Context) error {
	c.mu.RLock()
	hasTicket := c.ticket != nil
	username, password := c.username, c.password
	c.mu.RUnlock()

	if hasTicket {
		return nil
	}
	if username == "" || password == "" {
		return &AuthError{Message: ErrNotAuthenticated.Error()}
	}

	_, err, _ := c.logins.Do(username, func() (interface{}, error) {
		c.mu.RLock()
		current := c.ticket
		c.mu.RUnlock()
		if current != nil {
			return *current, nil
		}
		return c.login(ctx, username, password)
	})
	return err
}

// Ticket returns the held ticket, if any.
func (c *Client) Ticket() (Ticket, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ticket == nil {
		return Ticket{}, false
	}
	return *c.ticket, true
}

// Authenticated reports whether a ticket is currently held.
func (c *Client) Authenticated() bool {
	_, ok := c.Ticket()
	return ok
}

// Invalidate drops the ticket. The next fetch requires EnsureAuthenticated.
func (c *Client) Invalidate() {
	c.mu.Lock()
	c.ticket = nil
	c.mu.Unlock()
}

func (c *Client) login(ctx context.Context, username, password string) (Ticket, error) {
	c.logger.Info("🔐 Authenticating with EPİAŞ...")

	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Ticket{}, fmt.Errorf("failed to create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "text/plain")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		observeRequest(endpointAuth, 0, time.Since(start))
		return Ticket{}, &AuthError{Message: err.Error()}
	}
	defer resp.Body.Close()
	observeRequest(endpointAuth, resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Ticket{}, &AuthError{Status: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode != http.StatusCreated {
		c.logger.Error(fmt.Sprintf("❌ Authentication failed: %d", resp.StatusCode))
		return Ticket{}, &AuthError{
			Status:  resp.StatusCode,
			Message: excerpt(resp.Header.Get("Content-Type"), body),
		}
	}

	value := strings.TrimSpace(string(body))
	if value == "" {
		return Ticket{}, &AuthError{Status: resp.StatusCode, Message: "empty ticket"}
	}

	ticket := Ticket{Value: value, IssuedAt: time.Now()}
	c.mu.Lock()
	c.ticket = &ticket
	c.mu.Unlock()

	c.logger.Info("✅ Authentication successful")
	c.logger.Debug(fmt.Sprintf("Ticket: %s", ticket.Preview()))
	return ticket, nil
}
