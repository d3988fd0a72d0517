package refhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"finmux/internal/classify"
	"finmux/internal/provider"
)

var testTracer = trace.NewNoopTracerProvider().Tracer("test")

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestExecuteRejectsInvalidTicker(t *testing.T) {
	a := New(Config{ID: "p1", BaseURL: "http://unused", APIKey: "abc"}, nil, testTracer)
	_, err := a.Execute(context.Background(), provider.StockInfo, provider.Args{Ticker: "!!!"})
	kind, _ := classify.Classify(err)
	if kind != classify.DataError {
		t.Fatalf("expected DataError for invalid ticker, got %s (%v)", kind, err)
	}
}

func TestExecuteMissingAPIKeyIsAuthenticationError(t *testing.T) {
	a := New(Config{ID: "p1", BaseURL: "http://unused"}, nil, testTracer)
	_, err := a.Execute(context.Background(), provider.StockInfo, provider.Args{Ticker: "AAPL"})
	kind, _ := classify.Classify(err)
	if kind != classify.AuthenticationError {
		t.Fatalf("expected AuthenticationError, got %s (%v)", kind, err)
	}
}

func TestExecuteStockInfoSuccess(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret-key" {
			t.Errorf("expected bearer token in request, got %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte(`{"ticker":"AAPL","price":190.5}`))
	})
	a := New(Config{ID: "p1", BaseURL: srv.URL, APIKey: "secret-key"}, srv.Client(), testTracer)

	out, err := a.Execute(context.Background(), provider.StockInfo, provider.Args{Ticker: "AAPL"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "AAPL") {
		t.Fatalf("expected raw payload passthrough, got %q", out)
	}
}

func TestExecuteNewsRendersBlockFormat(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		articles := []upstreamArticle{
			{Title: "Apple Earnings Beat Expectations", Publisher: "Reuters", PublishedAt: "2026-02-27 10:00:00", URL: "https://example.com/a", Tickers: []string{"AAPL"}},
		}
		_ = json.NewEncoder(w).Encode(articles)
	})
	a := New(Config{ID: "p1", BaseURL: srv.URL, APIKey: "secret-key"}, srv.Client(), testTracer)

	out, err := a.Execute(context.Background(), provider.News, provider.Args{Ticker: "AAPL"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out, "Title: Apple Earnings Beat Expectations") {
		t.Fatalf("expected block format, got %q", out)
	}
	if !strings.Contains(out, "Related Tickers: AAPL") {
		t.Fatalf("expected related tickers line, got %q", out)
	}
}

func TestExecuteHTTPErrorClassified(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	})
	a := New(Config{ID: "p1", BaseURL: srv.URL, APIKey: "secret-key"}, srv.Client(), testTracer)

	_, err := a.Execute(context.Background(), provider.StockInfo, provider.Args{Ticker: "AAPL"})
	kind, _ := classify.Classify(err)
	if kind != classify.RateLimitExceeded {
		t.Fatalf("expected RateLimitExceeded, got %s (%v)", kind, err)
	}
}

func TestEnsureAuthenticatedCoalescesConcurrentRefreshes(t *testing.T) {
	a := New(Config{ID: "p1", BaseURL: "http://unused", APIKey: "secret-key"}, nil, testTracer)

	const n = 20
	tokens := make(chan string, n)
	done := make(chan struct{})
	for i := 0; i < n; i++ {
		go func() {
			tok, err := a.ensureAuthenticated(context.Background())
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			tokens <- tok
		}()
	}
	go func() {
		for i := 0; i < n; i++ {
			<-tokens
		}
		close(done)
	}()
	<-done
}

func TestHealthProbeDelegatesToMarketNews(t *testing.T) {
	called := false
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		if !strings.Contains(r.URL.Path, "market-news") {
			t.Errorf("expected market-news path, got %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode([]upstreamArticle{})
	})
	a := New(Config{ID: "p1", BaseURL: srv.URL, APIKey: "secret-key"}, srv.Client(), testTracer)

	if err := a.HealthProbe(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatalf("expected health probe to call the market-news endpoint")
	}
}
