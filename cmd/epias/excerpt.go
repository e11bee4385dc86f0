package epias

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

const (
	maxBodyBytes   = 32 << 20
	maxExcerptSize = 512
)

// excerpt shortens a response body for error reporting. HTML error pages from
// the gateway are reduced to their visible text.
func excerpt(contentType string, body []byte) string {
	text := string(body)

	if strings.Contains(contentType, "html") || looksLikeHTML(body) {
		if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
			title := strings.TrimSpace(doc.Find("title").First().Text())
			content := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
			switch {
			case title != "" && content != "" && !strings.HasPrefix(content, title):
				text = title + ": " + content
			case content != "":
				text = content
			case title != "":
				text = title
			}
		}
	}

	text = strings.TrimSpace(text)
	if len(text) > maxExcerptSize {
		cut := maxExcerptSize
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "..."
	}
	return text
}

func looksLikeHTML(body []byte) bool {
	head := bytes.ToLower(bytes.TrimSpace(body))
	if len(head) > 64 {
		head = head[:64]
	}
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}
