// Package config loads, expands, and validates the router's startup
// configuration. A present-but-invalid file is a fatal startup error:
// there is no silent fallback to defaults once a file has been supplied.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"finmux/internal/logging"
	"finmux/internal/provider"
	"finmux/internal/sanitize"
)

// ProviderSpec describes one configured upstream provider.
type ProviderSpec struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Enabled  bool              `json:"enabled"`
	Priority int               `json:"priority"`
	Options  map[string]string `json:"options"`
}

// ChainSpec is a data type's routing chain, keyed by provider.DataType
// string value in the Routing map.
type ChainSpec struct {
	PrimaryProviderID  string   `json:"primaryProviderId"`
	FallbackProviderIDs []string `json:"fallbackProviderIds"`
	AggregateResults    *bool    `json:"aggregateResults"`
	TimeoutSeconds      int      `json:"timeoutSeconds"`
}

// NewsDeduplicationSpec mirrors internal/dedup.Config's inputs.
type NewsDeduplicationSpec struct {
	Enabled                  bool    `json:"enabled"`
	SimilarityThreshold      float64 `json:"similarityThreshold"`
	TimestampWindowHours     int     `json:"timestampWindowHours"`
	MaxArticlesForComparison int     `json:"maxArticlesForComparison"`
}

// CircuitBreakerSpec mirrors internal/breaker.Config's inputs, applied
// to every provider unless a provider-level override is added later.
type CircuitBreakerSpec struct {
	Enabled              bool `json:"enabled"`
	FailureThreshold     int  `json:"failureThreshold"`
	HalfOpenAfterSeconds int  `json:"halfOpenAfterSeconds"`
	TimeoutSeconds       int  `json:"timeoutSeconds"`
}

// PerformanceSpec holds ambient tuning knobs outside the core algorithm.
type PerformanceSpec struct {
	HealthProbeIntervalSeconds int           `json:"healthProbeIntervalSeconds"`
	Logging                    logging.Config `json:"logging"`
}

// newsDeduplicationFile, circuitBreakerFile, and performanceFile hold the
// same fields as their Spec counterparts, but as pointers, so fromFile
// can tell "field present in the JSON" apart from "field absent" and
// merge each one independently over the defaults instead of replacing
// the whole section whenever any field is set.
type newsDeduplicationFile struct {
	Enabled                  *bool    `json:"enabled"`
	SimilarityThreshold      *float64 `json:"similarityThreshold"`
	TimestampWindowHours     *int     `json:"timestampWindowHours"`
	MaxArticlesForComparison *int     `json:"maxArticlesForComparison"`
}

type circuitBreakerFile struct {
	Enabled              *bool `json:"enabled"`
	FailureThreshold     *int  `json:"failureThreshold"`
	HalfOpenAfterSeconds *int  `json:"halfOpenAfterSeconds"`
	TimeoutSeconds       *int  `json:"timeoutSeconds"`
}

type performanceFile struct {
	HealthProbeIntervalSeconds *int            `json:"healthProbeIntervalSeconds"`
	Logging                    *logging.Config `json:"logging"`
}

// file is the top-level shape of the JSON configuration document.
type file struct {
	Version           int                    `json:"version"`
	Providers         []ProviderSpec         `json:"providers"`
	Routing           map[string]ChainSpec   `json:"routing"`
	NewsDeduplication newsDeduplicationFile  `json:"newsDeduplication"`
	CircuitBreaker    circuitBreakerFile     `json:"circuitBreaker"`
	Performance       performanceFile        `json:"performance"`
}

// Config is the immutable runtime snapshot the rest of the process
// consults. Construct one via Load; never mutate its fields afterward.
type Config struct {
	Providers         []ProviderSpec
	Routing           map[provider.DataType]ChainSpec
	NewsDeduplication NewsDeduplicationSpec
	CircuitBreaker    CircuitBreakerSpec
	Performance       PerformanceSpec
}

func defaults() *Config {
	return &Config{
		Providers: nil,
		Routing:   map[provider.DataType]ChainSpec{},
		NewsDeduplication: NewsDeduplicationSpec{
			Enabled:                  true,
			SimilarityThreshold:      0.85,
			TimestampWindowHours:     24,
			MaxArticlesForComparison: 200,
		},
		CircuitBreaker: CircuitBreakerSpec{
			Enabled:              true,
			FailureThreshold:     3,
			HalfOpenAfterSeconds: 30,
			TimeoutSeconds:       10,
		},
		Performance: PerformanceSpec{
			HealthProbeIntervalSeconds: 0,
			Logging:                    logging.Config{Level: "info"},
		},
	}
}

// Load reads path, if non-empty, and validates it. An empty path
// adopts built-in defaults. Any failure to read, expand, parse, or
// validate a supplied path is fatal — the canonical behavior mandated
// for this router, in contrast to a legacy silently-defaulting mode.
func Load(path string) (*Config, error) {
	if path == "" {
		return defaults(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, redactErr(err))
	}

	expanded, err := expandEnv(string(raw))
	if err != nil {
		return nil, fmt.Errorf("config: expanding env vars in %s: %w", path, redactErr(err))
	}

	var f file
	if err := json.Unmarshal([]byte(expanded), &f); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, redactErr(err))
	}

	cfg, err := fromFile(f)
	if err != nil {
		return nil, fmt.Errorf("config: validating %s: %w", path, redactErr(err))
	}
	return cfg, nil
}

var envTokenPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces every ${NAME} token with the value of the NAME
// environment variable; an unset variable fails validation.
func expandEnv(in string) (string, error) {
	var missing []string
	out := envTokenPattern.ReplaceAllStringFunc(in, func(token string) string {
		name := envTokenPattern.FindStringSubmatch(token)[1]
		val, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return token
		}
		return val
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("unset environment variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func fromFile(f file) (*Config, error) {
	cfg := defaults()
	cfg.Providers = f.Providers

	if f.NewsDeduplication.Enabled != nil {
		cfg.NewsDeduplication.Enabled = *f.NewsDeduplication.Enabled
	}
	if f.NewsDeduplication.SimilarityThreshold != nil {
		cfg.NewsDeduplication.SimilarityThreshold = *f.NewsDeduplication.SimilarityThreshold
	}
	if f.NewsDeduplication.TimestampWindowHours != nil {
		cfg.NewsDeduplication.TimestampWindowHours = *f.NewsDeduplication.TimestampWindowHours
	}
	if f.NewsDeduplication.MaxArticlesForComparison != nil {
		cfg.NewsDeduplication.MaxArticlesForComparison = *f.NewsDeduplication.MaxArticlesForComparison
	}

	if f.CircuitBreaker.Enabled != nil {
		cfg.CircuitBreaker.Enabled = *f.CircuitBreaker.Enabled
	}
	if f.CircuitBreaker.FailureThreshold != nil {
		cfg.CircuitBreaker.FailureThreshold = *f.CircuitBreaker.FailureThreshold
	}
	if f.CircuitBreaker.HalfOpenAfterSeconds != nil {
		cfg.CircuitBreaker.HalfOpenAfterSeconds = *f.CircuitBreaker.HalfOpenAfterSeconds
	}
	if f.CircuitBreaker.TimeoutSeconds != nil {
		cfg.CircuitBreaker.TimeoutSeconds = *f.CircuitBreaker.TimeoutSeconds
	}

	if f.Performance.HealthProbeIntervalSeconds != nil {
		cfg.Performance.HealthProbeIntervalSeconds = *f.Performance.HealthProbeIntervalSeconds
	}
	if f.Performance.Logging != nil {
		cfg.Performance.Logging = *f.Performance.Logging
	}

	cfg.Routing = make(map[provider.DataType]ChainSpec, len(f.Routing))
	for k, v := range f.Routing {
		cfg.Routing[provider.DataType(k)] = v
	}
	applyNewsAggregationDefault(cfg.Routing)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyNewsAggregationDefault implements the canonical default: News
// and MarketNews aggregate unless a routing entry explicitly overrides
// AggregateResults.
func applyNewsAggregationDefault(routing map[provider.DataType]ChainSpec) {
	for _, dt := range []provider.DataType{provider.News, provider.MarketNews} {
		chain, ok := routing[dt]
		if !ok {
			continue
		}
		if chain.AggregateResults == nil {
			t := true
			chain.AggregateResults = &t
			routing[dt] = chain
		}
	}
}

func validate(cfg *Config) error {
	if len(cfg.Providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}

	seen := make(map[string]struct{}, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider missing id")
		}
		if p.Type == "" {
			return fmt.Errorf("provider %q missing type", p.ID)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("duplicate provider id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
	}

	for dt, chain := range cfg.Routing {
		if chain.PrimaryProviderID != "" {
			if _, ok := seen[chain.PrimaryProviderID]; !ok {
				return fmt.Errorf("routing %s: primaryProviderId %q does not resolve to a declared provider", dt, chain.PrimaryProviderID)
			}
		}
		for _, fb := range chain.FallbackProviderIDs {
			if _, ok := seen[fb]; !ok {
				return fmt.Errorf("routing %s: fallbackProviderId %q does not resolve to a declared provider", dt, fb)
			}
		}
	}

	nd := cfg.NewsDeduplication
	if nd.SimilarityThreshold < 0.50 || nd.SimilarityThreshold > 0.99 {
		return fmt.Errorf("newsDeduplication.similarityThreshold %v out of range [0.50, 0.99]", nd.SimilarityThreshold)
	}
	if nd.TimestampWindowHours < 1 || nd.TimestampWindowHours > 168 {
		return fmt.Errorf("newsDeduplication.timestampWindowHours %v out of range [1, 168]", nd.TimestampWindowHours)
	}
	if nd.MaxArticlesForComparison < 10 || nd.MaxArticlesForComparison > 1000 {
		return fmt.Errorf("newsDeduplication.maxArticlesForComparison %v out of range [10, 1000]", nd.MaxArticlesForComparison)
	}

	return nil
}

// redactErr replaces any 16+ character alphanumeric run in err's message
// with [REDACTED], since config errors may quote raw file contents that
// include expanded secrets.
func redactErr(err error) error {
	return fmt.Errorf("%s", sanitize.Redact(err.Error()))
}
