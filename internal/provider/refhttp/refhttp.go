// Package refhttp is the reference HTTP-backed provider adapter. It
// demonstrates the full adapter contract against a generic upstream
// market-data API: bearer-token session establishment coalesced with
// singleflight, a token-bucket rate limiter, ticker validation, and
// news responses in the shared block format.
package refhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"go.opentelemetry.io/otel/trace"

	"finmux/internal/classify"
	"finmux/internal/provider"
	"finmux/internal/telemetry"
)

// Config describes one refhttp-backed provider instance.
type Config struct {
	ID              string
	Name            string
	Version         string
	BaseURL         string
	APIKey          string
	RequestsPerSec  float64
	Burst           int
}

// Adapter implements provider.Adapter against a generic REST upstream.
type Adapter struct {
	cfg    Config
	client *http.Client
	bucket *tokenBucket
	tracer trace.Tracer

	sessionMu   sync.RWMutex
	sessionTok  string
	sessionSF   singleflight.Group
}

func New(cfg Config, client *http.Client, tracer trace.Tracer) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	rate := cfg.RequestsPerSec
	if rate <= 0 {
		rate = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}
	return &Adapter{cfg: cfg, client: client, bucket: newTokenBucket(cfg.ID, rate, burst), tracer: tracer}
}

func (a *Adapter) ID() string      { return a.cfg.ID }
func (a *Adapter) Name() string    { return a.cfg.Name }
func (a *Adapter) Version() string { return a.cfg.Version }

func (a *Adapter) Capabilities() []provider.DataType {
	return provider.AllDataTypes
}

func (a *Adapter) Supports(dt provider.DataType) bool {
	for _, c := range a.Capabilities() {
		if c == dt {
			return true
		}
	}
	return false
}

// HealthProbe uses a market-news fetch as the cheapest available
// availability signal; the spec leaves probe selection to the adapter.
func (a *Adapter) HealthProbe(ctx context.Context) error {
	_, err := a.Execute(ctx, provider.MarketNews, provider.Args{})
	return err
}

func (a *Adapter) Execute(ctx context.Context, dt provider.DataType, args provider.Args) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, a.tracer, "refhttp.execute", a.cfg.ID, string(dt))
	defer span.End()

	if args.Ticker != "" && !provider.ValidTicker(args.Ticker) {
		return "", classify.New(classify.DataError, fmt.Sprintf("invalid ticker %q", args.Ticker))
	}

	if err := a.bucket.wait(ctx); err != nil {
		return "", err
	}

	path, query, err := endpointFor(dt, args)
	if err != nil {
		return "", err
	}

	token, err := a.ensureAuthenticated(ctx)
	if err != nil {
		return "", err
	}

	body, err := a.doRequest(ctx, path, query, token)
	if err != nil {
		if httpErr := asAuthRejection(err); httpErr {
			a.invalidateSession()
			token, err = a.ensureAuthenticated(ctx)
			if err != nil {
				return "", err
			}
			body, err = a.doRequest(ctx, path, query, token)
			if err != nil {
				return "", err
			}
		} else {
			return "", err
		}
	}

	if dt == provider.News || dt == provider.MarketNews {
		return renderNewsBlock(body)
	}
	return string(body), nil
}

// ensureAuthenticated returns the current bearer token, coalescing
// concurrent refreshes into a single upstream call per Adapter.
func (a *Adapter) ensureAuthenticated(ctx context.Context) (string, error) {
	a.sessionMu.RLock()
	tok := a.sessionTok
	a.sessionMu.RUnlock()
	if tok != "" {
		return tok, nil
	}

	v, err, _ := a.sessionSF.Do("session", func() (any, error) {
		a.sessionMu.RLock()
		existing := a.sessionTok
		a.sessionMu.RUnlock()
		if existing != "" {
			return existing, nil
		}
		newTok, err := a.fetchSessionToken(ctx)
		if err != nil {
			return "", err
		}
		a.sessionMu.Lock()
		a.sessionTok = newTok
		a.sessionMu.Unlock()
		return newTok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (a *Adapter) invalidateSession() {
	a.sessionMu.Lock()
	a.sessionTok = ""
	a.sessionMu.Unlock()
}

func (a *Adapter) fetchSessionToken(ctx context.Context) (string, error) {
	if a.cfg.APIKey == "" {
		return "", classify.New(classify.AuthenticationError, "missing api key")
	}
	// The reference upstream treats the configured API key as a
	// long-lived bearer credential; no token exchange round trip is
	// required, but a real integration would POST to an auth endpoint
	// here and cache the returned token.
	return a.cfg.APIKey, nil
}

func asAuthRejection(err error) bool {
	var classified *classify.Error
	if errors.As(err, &classified) {
		return classified.Kind == classify.AuthenticationError
	}
	var httpErr *classify.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 401 || httpErr.StatusCode == 403
	}
	return false
}

func (a *Adapter) doRequest(ctx context.Context, path string, query string, token string) ([]byte, error) {
	url := strings.TrimRight(a.cfg.BaseURL, "/") + path
	if query != "" {
		url += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, &classify.HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// endpointFor maps a DataType/Args pair onto the reference upstream's
// path and query string.
func endpointFor(dt provider.DataType, args provider.Args) (path string, query string, err error) {
	switch dt {
	case provider.HistoricalPrices:
		period, interval := args.Period, args.Interval
		if period == "" {
			period = "1mo"
		}
		if interval == "" {
			interval = "1d"
		}
		return "/v1/prices/" + args.Ticker, fmt.Sprintf("period=%s&interval=%s", period, interval), nil
	case provider.StockInfo:
		return "/v1/info/" + args.Ticker, "", nil
	case provider.News:
		return "/v1/news/" + args.Ticker, "", nil
	case provider.MarketNews:
		return "/v1/market-news", "", nil
	case provider.StockActions:
		return "/v1/actions/" + args.Ticker, "", nil
	case provider.FinancialStatement:
		return "/v1/financials/" + args.Ticker, "type=" + args.FinancialType, nil
	case provider.HolderInfo:
		return "/v1/holders/" + args.Ticker, "type=" + args.HolderType, nil
	case provider.OptionExpirationDates:
		return "/v1/options/" + args.Ticker + "/expirations", "", nil
	case provider.OptionChain:
		return "/v1/options/" + args.Ticker + "/chain", fmt.Sprintf("expiration=%s&type=%s", args.ExpirationDate, args.OptionType), nil
	case provider.Recommendations:
		months := args.MonthsBack
		if months <= 0 {
			months = 12
		}
		return "/v1/recommendations/" + args.Ticker, fmt.Sprintf("type=%s&monthsBack=%d", args.RecommendationType, months), nil
	default:
		return "", "", classify.New(classify.DataError, fmt.Sprintf("unsupported data type %q", dt))
	}
}

// upstreamArticle is the reference upstream's JSON article shape; the
// adapter re-renders it into the shared text-block format the router
// and deduplicator expect.
type upstreamArticle struct {
	Title       string   `json:"title"`
	Publisher   string   `json:"publisher"`
	PublishedAt string   `json:"publishedAt"`
	URL         string   `json:"url"`
	Tickers     []string `json:"relatedTickers"`
}

func renderNewsBlock(body []byte) (string, error) {
	var articles []upstreamArticle
	if err := json.Unmarshal(body, &articles); err != nil {
		return "", classify.Wrap(classify.DataError, "malformed news payload", err)
	}

	var b bytes.Buffer
	for i, a := range articles {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Title: %s\n", a.Title)
		fmt.Fprintf(&b, "Publisher: %s\n", a.Publisher)
		published := a.PublishedAt
		if published == "" {
			published = "Unknown"
		}
		fmt.Fprintf(&b, "Published: %s\n", published)
		if len(a.Tickers) > 0 {
			fmt.Fprintf(&b, "Related Tickers: %s\n", strings.Join(a.Tickers, ", "))
		}
		fmt.Fprintf(&b, "URL: %s", a.URL)
	}
	return b.String(), nil
}
