package epias

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTicket = "TGT-1234567890-abcdefghijklmnop"

// fakePlatform serves the identity endpoint and a data handler chosen per test.
type fakePlatform struct {
	t        *testing.T
	server   *httptest.Server
	logins   atomic.Int32
	authCode int

	mu       sync.Mutex
	requests []DataRequest
	tickets  []string
	data     func(req DataRequest) (int, string)
}

func newFakePlatform(t *testing.T) *fakePlatform {
	t.Helper()
	fp := &fakePlatform{t: t, authCode: http.StatusCreated}

	mux := http.NewServeMux()
	mux.HandleFunc("/cas/v1/tickets", func(w http.ResponseWriter, r *http.Request) {
		fp.logins.Add(1)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("username") != "analyst" || r.PostForm.Get("password") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, "bad credentials")
			return
		}
		w.WriteHeader(fp.authCode)
		_, _ = io.WriteString(w, testTicket+"\n")
	})
	mux.HandleFunc("/data/injection-quantity", func(w http.ResponseWriter, r *http.Request) {
		var req DataRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		fp.mu.Lock()
		fp.requests = append(fp.requests, req)
		fp.tickets = append(fp.tickets, r.Header.Get(TicketHeader))
		handler := fp.data
		fp.mu.Unlock()

		code, body := handler(req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = io.WriteString(w, body)
	})
	mux.HandleFunc("/data/injection-quantity-powerplant-list", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(TicketHeader) != testTicket {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"items":[{"id":641,"name":"ATATÜRK HES","eic":"40W000000000123K"},{"id":642,"name":"KEBAN HES"}]}`)
	})
	mux.HandleFunc("/data/uevcb-list", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]int64
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(195), body["organizationId"])
		_, _ = io.WriteString(w, `{"body":{"content":[{"id":733,"name":"ATATÜRK HES UEVCB"}]}}`)
	})

	fp.server = httptest.NewServer(mux)
	t.Cleanup(fp.server.Close)
	return fp
}

func (fp *fakePlatform) client(opts ...Option) *Client {
	base := []Option{
		WithAuthURL(fp.server.URL + "/cas/v1/tickets"),
		WithBaseURL(fp.server.URL),
	}
	return NewClient(append(base, opts...)...)
}

func (fp *fakePlatform) requestCount() int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return len(fp.requests)
}

func records(n, offset int) string {
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf(`{"date":"2025-05-01T%02d:00:00+03:00","total":%d}`, (offset+i)%24, offset+i)
	}
	return "[" + strings.Join(items, ",") + "]"
}

func TestAuthenticate(t *testing.T) {
	fp := newFakePlatform(t)

	t.Run("success stores ticket", func(t *testing.T) {
		c := fp.client()
		ticket, err := c.Authenticate(context.Background(), "analyst", "secret")
		require.NoError(t, err)
		assert.Equal(t, testTicket, ticket.Value)
		assert.True(t, c.Authenticated())
		assert.Equal(t, "analyst", c.Username())
	})

	t.Run("rejected credentials", func(t *testing.T) {
		c := fp.client()
		_, err := c.Authenticate(context.Background(), "analyst", "wrong")
		require.Error(t, err)

		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, http.StatusUnauthorized, authErr.Status)
		assert.Contains(t, authErr.Message, "bad credentials")
		assert.True(t, IsAuthError(err))
		assert.False(t, c.Authenticated())
	})

	t.Run("200 is not the success status", func(t *testing.T) {
		fp.authCode = http.StatusOK
		defer func() { fp.authCode = http.StatusCreated }()

		c := fp.client()
		_, err := c.Authenticate(context.Background(), "analyst", "secret")
		assert.True(t, IsAuthError(err))
	})

	t.Run("empty credentials", func(t *testing.T) {
		c := fp.client()
		_, err := c.Authenticate(context.Background(), " ", "secret")
		assert.ErrorIs(t, err, ErrCredentialsRequired)
	})
}

func TestEnsureAuthenticated(t *testing.T) {
	fp := newFakePlatform(t)

	t.Run("without credentials", func(t *testing.T) {
		c := fp.client()
		err := c.EnsureAuthenticated(context.Background())
		assert.True(t, IsAuthError(err))
	})

	t.Run("relogs after invalidation and shares one login", func(t *testing.T) {
		c := fp.client()
		_, err := c.Authenticate(context.Background(), "analyst", "secret")
		require.NoError(t, err)
		before := fp.logins.Load()

		require.NoError(t, c.EnsureAuthenticated(context.Background()))
		assert.Equal(t, before, fp.logins.Load(), "valid ticket must not trigger a login")

		c.Invalidate()
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, c.EnsureAuthenticated(context.Background()))
			}()
		}
		wg.Wait()

		assert.True(t, c.Authenticated())
		assert.LessOrEqual(t, fp.logins.Load()-before, int32(8))
		assert.GreaterOrEqual(t, fp.logins.Load()-before, int32(1))
	})
}

func TestFetchChunkPagination(t *testing.T) {
	fp := newFakePlatform(t)
	fp.data = func(req DataRequest) (int, string) {
		const total = 57
		offset := (req.Page.Number - 1) * req.Page.Size
		n := req.Page.Size
		if offset+n > total {
			n = total - offset
		}
		return http.StatusOK, fmt.Sprintf(`{"items":%s,"page":{"number":%d,"size":%d,"total":%d},"totals":{"total":1234.5}}`,
			records(n, offset), req.Page.Number, req.Page.Size, total)
	}

	c := fp.client(WithPageSize(20))
	_, err := c.Authenticate(context.Background(), "analyst", "secret")
	require.NoError(t, err)

	start := time.Date(2025, 5, 1, 0, 0, 0, 0, Location)
	end := time.Date(2025, 5, 10, 0, 0, 0, 0, Location)
	got, err := c.FetchChunk(context.Background(), start, end, nil)
	require.NoError(t, err)

	assert.Len(t, got, 57)
	require.Equal(t, 3, fp.requestCount())
	for i, req := range fp.requests {
		assert.Equal(t, i+1, req.Page.Number)
		assert.Equal(t, "2025-05-01T00:00:00+03:00", req.StartDate)
		assert.Equal(t, "2025-05-10T00:00:00+03:00", req.EndDate)
		assert.Nil(t, req.PowerplantID)
		assert.Equal(t, "date", req.Page.Sort.Field)
		assert.Equal(t, testTicket, fp.tickets[i])
	}
	assert.Equal(t, float64(0), got[0]["total"])
	assert.Equal(t, float64(56), got[56]["total"])
}

func TestFetchChunkShortPagesWithoutSize(t *testing.T) {
	fp := newFakePlatform(t)
	fp.data = func(req DataRequest) (int, string) {
		const total, served = 57, 20
		offset := (req.Page.Number - 1) * served
		n := served
		if offset+n > total {
			n = total - offset
		}
		if n < 0 {
			n = 0
		}
		return http.StatusOK, fmt.Sprintf(`{"items":%s,"page":{"number":%d,"total":%d}}`,
			records(n, offset), req.Page.Number, total)
	}

	c := fp.client(WithPageSize(500))
	_, err := c.Authenticate(context.Background(), "analyst", "secret")
	require.NoError(t, err)

	start := time.Date(2025, 5, 1, 0, 0, 0, 0, Location)
	got, err := c.FetchChunk(context.Background(), start, start.AddDate(0, 0, 15), nil)
	require.NoError(t, err)
	assert.Len(t, got, 57)
	assert.Equal(t, 3, fp.requestCount())
	assert.Equal(t, float64(56), got[56]["total"])
}

func TestFetchChunkStopsOnEmptyPage(t *testing.T) {
	fp := newFakePlatform(t)
	fp.data = func(req DataRequest) (int, string) {
		if req.Page.Number > 1 {
			return http.StatusOK, `{"items":[],"page":{"number":2,"total":57}}`
		}
		return http.StatusOK, fmt.Sprintf(`{"items":%s,"page":{"number":1,"total":57}}`, records(20, 0))
	}

	c := fp.client()
	_, err := c.Authenticate(context.Background(), "analyst", "secret")
	require.NoError(t, err)

	start := time.Date(2025, 5, 1, 0, 0, 0, 0, Location)
	got, err := c.FetchChunk(context.Background(), start, start.AddDate(0, 0, 1), nil)
	require.NoError(t, err)
	assert.Len(t, got, 20)
	assert.Equal(t, 2, fp.requestCount())
}

func TestFormatTime(t *testing.T) {
	tests := []struct {
		in   time.Time
		want string
	}{
		{time.Date(2025, 5, 1, 0, 0, 0, 0, Location), "2025-05-01T00:00:00+03:00"},
		{time.Date(2025, 5, 1, 15, 30, 0, 0, Location), "2025-05-01T15:30:00+03:00"},
		{time.Date(2025, 4, 30, 21, 0, 0, 0, time.UTC), "2025-05-01T00:00:00+03:00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatTime(tt.in))
	}
}

func TestFetchChunkEnvelopes(t *testing.T) {
	start := time.Date(2025, 5, 1, 0, 0, 0, 0, Location)
	end := start.AddDate(0, 0, 1)

	tests := []struct {
		name     string
		body     string
		expected int
		requests int
	}{
		{name: "items without page", body: `{"items":` + records(3, 0) + `}`, expected: 3, requests: 1},
		{name: "bare array", body: records(4, 0), expected: 4, requests: 1},
		{name: "empty items", body: `{"items":[],"page":{"number":1,"size":20,"total":0}}`, expected: 0, requests: 1},
		{name: "content page", body: `{"content":` + records(2, 0) + `,"totalElements":2,"totalPages":1}`, expected: 2, requests: 1},
		{name: "unrecognized object", body: `{"result":"ok"}`, expected: 0, requests: 1},
		{name: "scalar", body: `"maintenance"`, expected: 0, requests: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := newFakePlatform(t)
			fp.data = func(DataRequest) (int, string) { return http.StatusOK, tt.body }

			c := fp.client()
			_, err := c.Authenticate(context.Background(), "analyst", "secret")
			require.NoError(t, err)

			got, err := c.FetchChunk(context.Background(), start, end, nil)
			require.NoError(t, err)
			assert.Len(t, got, tt.expected)
			assert.Equal(t, tt.requests, fp.requestCount())
		})
	}
}

func TestFetchChunkPlantFilter(t *testing.T) {
	fp := newFakePlatform(t)
	fp.data = func(req DataRequest) (int, string) {
		return http.StatusOK, `{"items":[]}`
	}

	c := fp.client()
	_, err := c.Authenticate(context.Background(), "analyst", "secret")
	require.NoError(t, err)

	plant := int64(641)
	start := time.Date(2025, 5, 1, 0, 0, 0, 0, Location)
	_, err = c.FetchChunk(context.Background(), start, start.AddDate(0, 0, 1), &plant)
	require.NoError(t, err)

	require.Equal(t, 1, fp.requestCount())
	require.NotNil(t, fp.requests[0].PowerplantID)
	assert.Equal(t, int64(641), *fp.requests[0].PowerplantID)
}

func TestFetchChunkErrors(t *testing.T) {
	start := time.Date(2025, 5, 1, 0, 0, 0, 0, Location)
	end := start.AddDate(0, 0, 1)

	t.Run("server error carries status and excerpt", func(t *testing.T) {
		fp := newFakePlatform(t)
		fp.data = func(DataRequest) (int, string) {
			return http.StatusBadGateway, "<html><head><title>502 Bad Gateway</title></head><body><h1>502 Bad Gateway</h1><p>upstream down</p></body></html>"
		}
		c := fp.client()
		_, err := c.Authenticate(context.Background(), "analyst", "secret")
		require.NoError(t, err)

		_, err = c.FetchChunk(context.Background(), start, end, nil)
		var fetchErr *FetchError
		require.ErrorAs(t, err, &fetchErr)
		assert.Equal(t, http.StatusBadGateway, fetchErr.Status)
		assert.Contains(t, fetchErr.Body, "upstream down")
		assert.NotContains(t, fetchErr.Body, "<h1>")
		assert.False(t, IsAuthError(err))
		assert.True(t, c.Authenticated())
	})

	t.Run("rejection invalidates ticket", func(t *testing.T) {
		fp := newFakePlatform(t)
		fp.data = func(DataRequest) (int, string) { return http.StatusUnauthorized, `{"error":"expired"}` }
		c := fp.client()
		_, err := c.Authenticate(context.Background(), "analyst", "secret")
		require.NoError(t, err)

		_, err = c.FetchChunk(context.Background(), start, end, nil)
		assert.True(t, IsAuthError(err))
		assert.False(t, c.Authenticated())
	})

	t.Run("no ticket", func(t *testing.T) {
		fp := newFakePlatform(t)
		c := fp.client()
		_, err := c.FetchChunk(context.Background(), start, end, nil)
		assert.True(t, IsAuthError(err))
		assert.Equal(t, 0, fp.requestCount())
	})

	t.Run("timeout", func(t *testing.T) {
		fp := newFakePlatform(t)
		fp.data = func(DataRequest) (int, string) {
			time.Sleep(200 * time.Millisecond)
			return http.StatusOK, `{"items":[]}`
		}
		c := fp.client(WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond}))
		_, err := c.Authenticate(context.Background(), "analyst", "secret")
		require.NoError(t, err)

		_, err = c.FetchChunk(context.Background(), start, end, nil)
		var fetchErr *FetchError
		require.ErrorAs(t, err, &fetchErr)
		assert.Error(t, fetchErr.Err)
	})
}

func TestPlantsAndUEVCBs(t *testing.T) {
	fp := newFakePlatform(t)
	c := fp.client()
	_, err := c.Authenticate(context.Background(), "analyst", "secret")
	require.NoError(t, err)

	plants, err := c.Plants(context.Background())
	require.NoError(t, err)
	require.Len(t, plants, 2)
	assert.Equal(t, int64(641), plants[0].ID)
	assert.Equal(t, "ATATÜRK HES", plants[0].Name)
	assert.Equal(t, "40W000000000123K", plants[0].EIC)

	units, err := c.UEVCBs(context.Background(), 195)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, int64(733), units[0].ID)
}

func TestPageInfoPages(t *testing.T) {
	tests := []struct {
		name      string
		info      *PageInfo
		requested int
		expected  int
	}{
		{name: "nil", info: nil, requested: 20, expected: 1},
		{name: "exact", info: &PageInfo{Size: 20, Total: 60}, requested: 20, expected: 3},
		{name: "remainder", info: &PageInfo{Size: 20, Total: 57}, requested: 20, expected: 3},
		{name: "descriptor size missing", info: &PageInfo{Total: 57}, requested: 10, expected: 6},
		{name: "total pages wins", info: &PageInfo{Total: 57, Size: 20, TotalPages: 4}, requested: 20, expected: 4},
		{name: "zero total", info: &PageInfo{Size: 20}, requested: 20, expected: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.info.Pages(tt.requested))
		})
	}
}

func TestExcerpt(t *testing.T) {
	long := strings.Repeat("x", 2000)
	assert.Len(t, excerpt("text/plain", []byte(long)), maxExcerptSize+3)
	assert.Equal(t, "plain error", excerpt("text/plain", []byte("  plain error \n")))

	turkish := excerpt("text/plain", []byte("x"+strings.Repeat("ş", 600)))
	assert.True(t, utf8.ValidString(turkish))
	assert.True(t, strings.HasSuffix(turkish, "..."))
	assert.LessOrEqual(t, len(turkish), maxExcerptSize+3)
	assert.Equal(t, "Oops: Something broke",
		excerpt("text/html", []byte("<html><head><title>Oops</title></head><body><p>Something   broke</p></body></html>")))
}
