package epias

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Sort orders the data endpoint's result set.
type Sort struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

// PageRequest selects one page of a result set.
type PageRequest struct {
	Number int  `json:"number"`
	Size   int  `json:"size"`
	Sort   Sort `json:"sort"`
}

// DataRequest is the JSON body of the injection-quantity endpoint.
type DataRequest struct {
	StartDate    string      `json:"startDate"`
	EndDate      string      `json:"endDate"`
	Page         PageRequest `json:"page"`
	PowerplantID *int64      `json:"powerplantId,omitempty"`
}

// Page is one decoded data page.
type Page struct {
	Records []Record
	Info    *PageInfo
	Totals  map[string]any
}

// FormatTime renders t as a wire timestamp with the fixed +03:00 offset.
func FormatTime(t time.Time) string {
	return t.In(Location).Format(WireTimeLayout)
}

// NewDataRequest builds the request body for the first page of [start, end].
func (c *Client) NewDataRequest(start, end time.Time, plantID *int64) DataRequest {
	return DataRequest{
		StartDate: FormatTime(start),
		EndDate:   FormatTime(end),
		Page: PageRequest{
			Number: 1,
			Size:   c.pageSize,
			Sort:   Sort{Field: "date", Direction: "ASC"},
		},
		PowerplantID: plantID,
	}
}

// FetchChunk retrieves every record between start and end, requesting further
// pages until the announced total is reached or a page comes back empty.
// plantID is sent as-is when non-nil.
func (c *Client) FetchChunk(ctx context.Context, start, end time.Time, plantID *int64) ([]Record, error) {
	req := c.NewDataRequest(start, end, plantID)

	if plantID != nil {
		c.logger.Debug(fmt.Sprintf("🎯 Fetching %s - %s for plant %d", req.StartDate, req.EndDate, *plantID))
	} else {
		c.logger.Debug(fmt.Sprintf("📊 Fetching %s - %s for all plants", req.StartDate, req.EndDate))
	}

	first, err := c.FetchPage(ctx, req)
	if err != nil {
		return nil, err
	}

	records := first.Records
	if first.Info == nil || first.Info.Total <= len(records) {
		return records, nil
	}

	// Without a size in the descriptor, the first page's length is the page size
	// upstream actually served.
	size := req.Page.Size
	if first.Info.Size <= 0 && len(records) > 0 {
		size = len(records)
	}
	c.logger.Debug(fmt.Sprintf("📄 %d records across %d pages", first.Info.Total, first.Info.Pages(size)))

	for number := 2; len(records) < first.Info.Total; number++ {
		select {
		case <-ctx.Done():
			return nil, &FetchError{Op: "fetch page", Err: ctx.Err()}
		default:
		}

		req.Page.Number = number
		page, err := c.FetchPage(ctx, req)
		if err != nil {
			return nil, err
		}
		if len(page.Records) == 0 {
			break
		}
		records = append(records, page.Records...)
	}

	return records, nil
}

// FetchPage issues a single data request. An unrecognized response envelope
// yields an empty page and a logged warning.
func (c *Client) FetchPage(ctx context.Context, req DataRequest) (*Page, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode data request: %w", err)
	}

	body, err := c.do(ctx, endpointData, http.MethodPost, c.baseURL+"/data/injection-quantity", payload)
	if err != nil {
		return nil, err
	}

	env, ok := decodeEnvelope(body)
	if !ok {
		c.warnFormatMismatch(endpointData, body)
		return &Page{}, nil
	}

	var records []Record
	if err := json.Unmarshal(env.items, &records); err != nil {
		c.warnFormatMismatch(endpointData, body)
		return &Page{}, nil
	}

	recordsFetched.Add(float64(len(records)))
	return &Page{Records: records, Info: env.page, Totals: env.totals}, nil
}

func (c *Client) warnFormatMismatch(endpoint string, body []byte) {
	formatMismatches.WithLabelValues(endpoint).Inc()
	c.logger.Warn(fmt.Sprintf("⚠️  %v from %s, treating as empty: %s",
		ErrFormatMismatch, endpoint, excerpt("", body)))
}

// do sends an authenticated request and returns the response body. 401 and 403
// invalidate the ticket.
func (c *Client) do(ctx context.Context, endpoint, method, url string, payload []byte) ([]byte, error) {
	ticket, ok := c.Ticket()
	if !ok {
		return nil, &AuthError{Message: ErrNotAuthenticated.Error()}
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, &FetchError{Op: endpoint, Err: err}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(TicketHeader, ticket.Value)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		observeRequest(endpoint, 0, time.Since(start))
		return nil, &FetchError{Op: endpoint, Err: err}
	}
	defer resp.Body.Close()
	observeRequest(endpoint, resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &FetchError{Op: endpoint, Status: resp.StatusCode, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.Invalidate()
		c.logger.Warn(fmt.Sprintf("🔒 Ticket rejected by %s (status %d)", endpoint, resp.StatusCode))
		return nil, &AuthError{Status: resp.StatusCode, Message: excerpt(resp.Header.Get("Content-Type"), body)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &FetchError{
			Op:     endpoint,
			Status: resp.StatusCode,
			Body:   excerpt(resp.Header.Get("Content-Type"), body),
		}
	}

	return body, nil
}
