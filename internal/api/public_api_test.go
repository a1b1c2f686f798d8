package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"SmartLibrary/internal/api"
	"SmartLibrary/internal/library"
	"SmartLibrary/internal/session"
	"SmartLibrary/pkg/kit"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testEnv struct {
	ts       *httptest.Server
	sessions *session.Registry
	metrics  *api.LibraryMetrics
}

func newTestEnv(t *testing.T, opts ...func(*api.Server)) testEnv {
	t.Helper()

	reg := prometheus.NewRegistry()
	sessions := session.NewRegistry(time.Hour)
	metrics := api.NewLibraryMetrics(reg, sessions.Len)

	s := &api.Server{
		Sessions: sessions,
		Tokens:   session.NewTokenMaker(testSecret),
		MaxAge:   time.Hour,
		Log:      zap.NewNop(),
		Metrics:  metrics,
	}
	for _, opt := range opts {
		opt(s)
	}

	h := api.NewHandler(s, api.HTTPDeps{
		Log:            zap.NewNop(),
		Service:        "library",
		Registry:       reg,
		MetricsEnabled: true,
		MetricsToken:   "metrics-token",
	})

	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	return testEnv{ts: ts, sessions: sessions, metrics: metrics}
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, raw
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode: %v body=%s", err, string(raw))
	}
	return v
}

type opened struct {
	SessionID string    `json:"session_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func openSession(t *testing.T, baseURL string) (opened, map[string]string) {
	t.Helper()

	resp, raw := doJSON(t, http.MethodPost, baseURL+"/sessions", nil, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("open status=%d body=%s", resp.StatusCode, string(raw))
	}
	o := decode[opened](t, raw)
	if o.Token == "" || o.SessionID == "" {
		t.Fatalf("open response=%s", string(raw))
	}
	return o, map[string]string{"Authorization": "Bearer " + o.Token}
}

func titles(books []library.Book) []string {
	out := make([]string, 0, len(books))
	for _, b := range books {
		out = append(out, b.Title)
	}
	return out
}

func TestAPI_HappyPath(t *testing.T) {
	env := newTestEnv(t)
	base := env.ts.URL

	_, auth := openSession(t, base)

	{
		resp, raw := doJSON(t, http.MethodGet, base+"/books", nil, auth)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("books status=%d body=%s", resp.StatusCode, string(raw))
		}
		books := decode[[]library.Book](t, raw)
		if len(books) != 3 {
			t.Fatalf("seed len=%d", len(books))
		}
	}

	{
		resp, raw := doJSON(t, http.MethodPut, base+"/draft/title", map[string]any{"value": "Great Expectations"}, auth)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("title status=%d body=%s", resp.StatusCode, string(raw))
		}
		resp, raw = doJSON(t, http.MethodPut, base+"/draft/author", map[string]any{"value": "Charles Dickens"}, auth)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("author status=%d body=%s", resp.StatusCode, string(raw))
		}
		resp, raw = doJSON(t, http.MethodPut, base+"/draft/category", map[string]any{"category": "No Noise"}, auth)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("category status=%d body=%s", resp.StatusCode, string(raw))
		}
		d := decode[library.Draft](t, raw)
		if d.Title != "Great Expectations" || d.Author != "Charles Dickens" || d.Category != library.CategoryNoNoise {
			t.Fatalf("draft=%+v", d)
		}
	}

	var added library.Book
	{
		resp, raw := doJSON(t, http.MethodPost, base+"/books", nil, auth)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("add status=%d body=%s", resp.StatusCode, string(raw))
		}
		out := decode[struct {
			Added bool          `json:"added"`
			Book  *library.Book `json:"book"`
		}](t, raw)
		if !out.Added || out.Book == nil {
			t.Fatalf("add response=%s", string(raw))
		}
		added = *out.Book
		if added.ID == "" || added.Category != library.CategoryNoNoise {
			t.Fatalf("book=%+v", added)
		}
	}

	{
		resp, raw := doJSON(t, http.MethodPut, base+"/search", map[string]any{"query": "GREAT"}, auth)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("search status=%d body=%s", resp.StatusCode, string(raw))
		}
	}

	{
		resp, raw := doJSON(t, http.MethodGet, base+"/session", nil, auth)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("view status=%d body=%s", resp.StatusCode, string(raw))
		}
		v := decode[struct {
			Books   []library.Book `json:"books"`
			Visible []library.Book `json:"visible"`
			Draft   library.Draft  `json:"draft"`
			Query   string         `json:"query"`
		}](t, raw)

		if len(v.Books) != 4 || v.Books[3].ID != added.ID {
			t.Fatalf("books=%+v", v.Books)
		}
		got := strings.Join(titles(v.Visible), "|")
		if got != "The Great Gatsby|Great Expectations" {
			t.Fatalf("visible=%s", got)
		}
		if v.Draft.Title != "" || v.Draft.Author != "" || v.Draft.Category != library.CategoryNoNoise {
			t.Fatalf("draft=%+v", v.Draft)
		}
		if v.Query != "GREAT" {
			t.Fatalf("query=%q", v.Query)
		}
	}

	if got := testutil.ToFloat64(env.metrics.BooksAdded); got != 1 {
		t.Fatalf("books_added=%v", got)
	}
	if got := testutil.ToFloat64(env.metrics.SessionsOpened); got != 1 {
		t.Fatalf("sessions_opened=%v", got)
	}
}

func TestAPI_AddGuard(t *testing.T) {
	env := newTestEnv(t)
	base := env.ts.URL
	_, auth := openSession(t, base)

	doJSON(t, http.MethodPut, base+"/draft/title", map[string]any{"value": "Only a title"}, auth)

	resp, raw := doJSON(t, http.MethodPost, base+"/books", nil, auth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d body=%s", resp.StatusCode, string(raw))
	}
	out := decode[map[string]any](t, raw)
	if out["added"] != false {
		t.Fatalf("body=%s", string(raw))
	}

	resp, raw = doJSON(t, http.MethodGet, base+"/books/all", nil, auth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("all status=%d", resp.StatusCode)
	}
	if n := len(decode[[]library.Book](t, raw)); n != 3 {
		t.Fatalf("len=%d", n)
	}

	resp, raw = doJSON(t, http.MethodGet, base+"/draft", nil, auth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("draft status=%d", resp.StatusCode)
	}
	if d := decode[library.Draft](t, raw); d.Title != "Only a title" {
		t.Fatalf("draft=%+v", d)
	}

	if got := testutil.ToFloat64(env.metrics.AddsSkipped); got != 1 {
		t.Fatalf("adds_skipped=%v", got)
	}
}

func TestAPI_SessionsAreIsolated(t *testing.T) {
	env := newTestEnv(t)
	base := env.ts.URL

	_, a := openSession(t, base)
	_, b := openSession(t, base)

	doJSON(t, http.MethodPut, base+"/search", map[string]any{"query": "1984"}, a)

	_, raw := doJSON(t, http.MethodGet, base+"/books", nil, a)
	if got := titles(decode[[]library.Book](t, raw)); len(got) != 1 || got[0] != "1984" {
		t.Fatalf("a visible=%v", got)
	}

	_, raw = doJSON(t, http.MethodGet, base+"/books", nil, b)
	if got := decode[[]library.Book](t, raw); len(got) != 3 {
		t.Fatalf("b visible=%v", got)
	}

	_, raw = doJSON(t, http.MethodGet, base+"/search", nil, b)
	if q := decode[map[string]string](t, raw)["query"]; q != "" {
		t.Fatalf("b query=%q", q)
	}
}

func TestAPI_Errors(t *testing.T) {
	env := newTestEnv(t)
	base := env.ts.URL
	_, auth := openSession(t, base)

	tests := []struct {
		name    string
		method  string
		path    string
		body    any
		headers map[string]string
		want    int
	}{
		{"no token", http.MethodGet, "/books", nil, nil, http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/books", nil, map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"unknown field", http.MethodPut, "/draft/isbn", map[string]any{"value": "x"}, auth, http.StatusNotFound},
		{"unknown category", http.MethodPut, "/draft/category", map[string]any{"category": "Fiction"}, auth, http.StatusBadRequest},
		{"unknown json key", http.MethodPut, "/search", map[string]any{"q": "x"}, auth, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, raw := doJSON(t, tt.method, base+tt.path, tt.body, tt.headers)
			if resp.StatusCode != tt.want {
				t.Fatalf("status=%d want=%d body=%s", resp.StatusCode, tt.want, string(raw))
			}
			e := decode[kit.ErrorResponse](t, raw)
			if e.Error == "" {
				t.Fatalf("missing error message: %s", string(raw))
			}
		})
	}
}

func TestAPI_EndSession(t *testing.T) {
	env := newTestEnv(t)
	base := env.ts.URL
	_, auth := openSession(t, base)

	resp, _ := doJSON(t, http.MethodDelete, base+"/session", nil, auth)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("end status=%d", resp.StatusCode)
	}
	if env.sessions.Len() != 0 {
		t.Fatalf("sessions=%d", env.sessions.Len())
	}

	resp, _ = doJSON(t, http.MethodGet, base+"/books", nil, auth)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("after end status=%d", resp.StatusCode)
	}
}

func TestAPI_OpenRateLimited(t *testing.T) {
	env := newTestEnv(t, func(s *api.Server) {
		s.OpenLimiter = kit.NewIPRateLimiter(2, time.Minute, false)
	})
	base := env.ts.URL

	openSession(t, base)
	openSession(t, base)

	resp, _ := doJSON(t, http.MethodPost, base+"/sessions", nil, nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestAPI_OpenRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	env := newTestEnv(t, func(s *api.Server) {
		s.OpenLimiter = kit.NewIPRateLimiter(1, time.Minute, false)
	})
	base := env.ts.URL

	created := 0
	for i := 0; i < 20; i++ {
		resp, _ := doJSON(t, http.MethodPost, base+"/sessions", nil, map[string]string{
			"X-Forwarded-For": fmt.Sprintf("198.51.100.%d", i),
		})
		if resp.StatusCode == http.StatusCreated {
			created++
		}
	}

	if created != 1 {
		t.Fatalf("opened %d sessions, want 1", created)
	}
	if env.sessions.Len() != 1 {
		t.Fatalf("sessions=%d", env.sessions.Len())
	}
}

func TestAPI_HealthAndReady(t *testing.T) {
	env := newTestEnv(t)
	base := env.ts.URL

	for _, p := range []string{"/healthz", "/readyz"} {
		resp, _ := doJSON(t, http.MethodGet, base+p, nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status=%d", p, resp.StatusCode)
		}
	}

	env.sessions.Close()

	resp, _ := doJSON(t, http.MethodGet, base+"/readyz", nil, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz after close status=%d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, base+"/sessions", nil, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("open after close status=%d", resp.StatusCode)
	}
}

func TestAPI_MetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	base := env.ts.URL
	openSession(t, base)

	resp, _ := doJSON(t, http.MethodGet, base+"/metrics", nil, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("unauthenticated status=%d", resp.StatusCode)
	}

	resp, raw := doJSON(t, http.MethodGet, base+"/metrics", nil, map[string]string{"Authorization": "Bearer metrics-token"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	body := string(raw)
	for _, want := range []string{"library_sessions_active 1", "library_sessions_opened_total 1", "http_requests_total"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q", want)
		}
	}
}
