package epias

import (
	"bytes"
	"encoding/json"
)

// PageInfo is the pagination descriptor returned with a data page.
type PageInfo struct {
	Number     int `json:"number"`
	Size       int `json:"size"`
	Total      int `json:"total"`
	TotalPages int `json:"-"`
}

// Pages returns how many pages hold Total records at the given size.
// The descriptor's own size wins over the requested one.
func (p *PageInfo) Pages(requested int) int {
	if p == nil {
		return 1
	}
	if p.TotalPages > 0 {
		return p.TotalPages
	}
	size := p.Size
	if size <= 0 {
		size = requested
	}
	if size <= 0 || p.Total <= 0 {
		return 1
	}
	return (p.Total + size - 1) / size
}

type envelope struct {
	Items         json.RawMessage `json:"items"`
	Content       json.RawMessage `json:"content"`
	Page          *PageInfo       `json:"page"`
	Totals        map[string]any  `json:"totals"`
	TotalElements *int            `json:"totalElements"`
	TotalPages    *int            `json:"totalPages"`
	Size          *int            `json:"size"`
	Number        *int            `json:"number"`
	Body          *struct {
		Content json.RawMessage `json:"content"`
	} `json:"body"`
}

// decoded is a response reduced to its record array and pagination data.
type decoded struct {
	items  json.RawMessage
	page   *PageInfo
	totals map[string]any
}

// decodeEnvelope recognizes the shapes the platform answers with: an object with
// "items" (and optional "page" and "totals"), a Spring-style "content" page, a
// "body.content" wrapper, or a bare array. ok is false for anything else.
func decodeEnvelope(data []byte) (decoded, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return decoded{}, false
	}

	if trimmed[0] == '[' {
		return decoded{items: trimmed}, true
	}
	if trimmed[0] != '{' {
		return decoded{}, false
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return decoded{}, false
	}

	switch {
	case isArray(env.Items):
		return decoded{items: env.Items, page: env.Page, totals: env.Totals}, true
	case isArray(env.Content):
		var page *PageInfo
		if env.TotalElements != nil || env.TotalPages != nil {
			page = &PageInfo{}
			if env.TotalElements != nil {
				page.Total = *env.TotalElements
			}
			if env.TotalPages != nil {
				page.TotalPages = *env.TotalPages
			}
			if env.Size != nil {
				page.Size = *env.Size
			}
			if env.Number != nil {
				page.Number = *env.Number
			}
		}
		return decoded{items: env.Content, page: page, totals: env.Totals}, true
	case env.Body != nil && isArray(env.Body.Content):
		return decoded{items: env.Body.Content}, true
	}
	return decoded{}, false
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}
