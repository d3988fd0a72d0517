// Package router resolves provider chains per data type, executes them
// in failover or aggregation mode under per-provider breakers and
// health tracking, and shapes the final error surfaced to the protocol
// edge.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"finmux/internal/breaker"
	"finmux/internal/classify"
	"finmux/internal/config"
	"finmux/internal/dedup"
	"finmux/internal/health"
	"finmux/internal/provider"
	"finmux/internal/telemetry"
)

// AggregateFailure is raised when a chain is exhausted (failover) or
// every parallel peer fails (aggregation).
type AggregateFailure struct {
	DataType          provider.DataType
	AttemptedProviders []string
	ProviderErrors    map[string]ProviderError
	Kind              classify.Kind
}

type ProviderError struct {
	Kind    classify.Kind
	Message string
}

// Error lists each provider's kind and message without its ProviderId,
// since this text reaches clients; ProviderErrors keeps the IDs.
func (f *AggregateFailure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "router: all providers failed for %s (kind=%s): ", f.DataType, f.Kind)
	ids := make([]string, 0, len(f.ProviderErrors))
	for id := range f.ProviderErrors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		pe := f.ProviderErrors[id]
		parts = append(parts, fmt.Sprintf("%s(%s)", pe.Kind, pe.Message))
	}
	b.WriteString(strings.Join(parts, ", "))
	return b.String()
}

// providerHandle bundles the pieces the router needs per eligible
// provider for one request.
type providerHandle struct {
	id      string
	adapter provider.Adapter
	breaker *breaker.Breaker
}

// Router ties the registry, per-provider breakers, health monitor, and
// deduplicator together behind the failover/aggregation algorithms.
type Router struct {
	cfg      *config.Config
	registry *provider.Registry
	monitor  *health.Monitor
	tracer   trace.Tracer

	breakersMu sync.Mutex
	breakers   map[string]*breaker.Breaker
}

func New(cfg *config.Config, registry *provider.Registry, monitor *health.Monitor, tracer trace.Tracer) *Router {
	return &Router{cfg: cfg, registry: registry, monitor: monitor, tracer: tracer, breakers: make(map[string]*breaker.Breaker)}
}

func (r *Router) breakerFor(id string) *breaker.Breaker {
	r.breakersMu.Lock()
	defer r.breakersMu.Unlock()
	b, ok := r.breakers[id]
	if !ok {
		bc := r.cfg.CircuitBreaker
		b = breaker.New(breaker.Config{
			Enabled:              bc.Enabled,
			FailureThreshold:     bc.FailureThreshold,
			HalfOpenAfterSeconds: bc.HalfOpenAfterSeconds,
			TimeoutSeconds:       bc.TimeoutSeconds,
		})
		r.breakers[id] = b
	}
	return b
}

// resolveChain builds the eligible ProviderId order for dt: explicit
// routing if configured, otherwise all enabled providers by ascending
// priority, deduplicated and filtered to registered adapters.
func (r *Router) resolveChain(dt provider.DataType) []providerHandle {
	var ids []string
	if chain, ok := r.cfg.Routing[dt]; ok {
		ids = append(ids, chain.PrimaryProviderID)
		ids = append(ids, chain.FallbackProviderIDs...)
	} else {
		type ranked struct {
			id       string
			priority int
		}
		var enabled []ranked
		for _, p := range r.cfg.Providers {
			if p.Enabled {
				enabled = append(enabled, ranked{id: p.ID, priority: p.Priority})
			}
		}
		sort.SliceStable(enabled, func(i, j int) bool { return enabled[i].priority < enabled[j].priority })
		for _, e := range enabled {
			ids = append(ids, e.id)
		}
	}

	seen := make(map[string]struct{}, len(ids))
	var handles []providerHandle
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		adapter, ok := r.registry.Lookup(id)
		if !ok {
			continue
		}
		handles = append(handles, providerHandle{id: id, adapter: adapter, breaker: r.breakerFor(id)})
	}
	return handles
}

func (r *Router) aggregationEnabled(dt provider.DataType) bool {
	if chain, ok := r.cfg.Routing[dt]; ok && chain.AggregateResults != nil {
		return *chain.AggregateResults
	}
	return dt == provider.News || dt == provider.MarketNews
}

func (r *Router) chainTimeout(dt provider.DataType) time.Duration {
	if chain, ok := r.cfg.Routing[dt]; ok && chain.TimeoutSeconds > 0 {
		return time.Duration(chain.TimeoutSeconds) * time.Second
	}
	return 0
}

// Execute runs one request for dt with args, choosing failover or
// aggregation mode per configuration.
func (r *Router) Execute(ctx context.Context, dt provider.DataType, args provider.Args) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, r.tracer, "router.execute", "", string(dt))
	defer span.End()

	if timeout := r.chainTimeout(dt); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	chain := r.resolveChain(dt)
	if r.aggregationEnabled(dt) {
		return r.executeAggregate(ctx, dt, args, chain)
	}
	return r.executeFailover(ctx, dt, args, chain)
}

// executeFailover tries providers strictly in order, stopping on the
// first success, on caller cancellation, or on a NotFound outcome.
func (r *Router) executeFailover(ctx context.Context, dt provider.DataType, args provider.Args, chain []providerHandle) (string, error) {
	attempted := make([]string, 0, len(chain))
	failures := make(map[string]ProviderError, len(chain))

	for _, h := range chain {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.Canceled) {
				return "", err
			}
			kind, _ := classify.Classify(err)
			r.monitor.RecordFailure(h.id, kind)
			attempted = append(attempted, h.id)
			failures[h.id] = ProviderError{Kind: kind, Message: err.Error()}
			break
		}
		if !r.monitor.IsHealthy(h.id) {
			continue
		}

		attempted = append(attempted, h.id)
		attemptCtx, span := telemetry.StartSpan(ctx, r.tracer, "router.attempt", h.id, string(dt))
		start := time.Now()
		result, opErr := h.breaker.Execute(attemptCtx, func(callCtx context.Context) (string, error) {
			return h.adapter.Execute(callCtx, dt, args)
		})
		span.End()

		if opErr == nil {
			r.monitor.RecordSuccess(h.id, time.Since(start))
			return result, nil
		}

		if errors.Is(opErr, context.Canceled) {
			return "", opErr
		}

		if errors.Is(opErr, breaker.ErrCircuitOpen) {
			r.monitor.RecordFailure(h.id, classify.ServiceError)
			failures[h.id] = ProviderError{Kind: classify.ServiceError, Message: opErr.Error()}
			continue
		}

		kind, cancelled := classify.Classify(opErr)
		if cancelled {
			return "", opErr
		}
		r.monitor.RecordFailure(h.id, kind)
		failures[h.id] = ProviderError{Kind: kind, Message: opErr.Error()}

		if kind == classify.NotFound {
			return "", shapeFailure(dt, attempted, failures)
		}
	}

	return "", shapeFailure(dt, attempted, failures)
}

type aggregateOutcome struct {
	id      string
	payload string
	err     error
	kind    classify.Kind
}

// executeAggregate fans out to every eligible provider concurrently and
// waits for all to settle before reducing successes, preserving chain
// order for determinism.
func (r *Router) executeAggregate(ctx context.Context, dt provider.DataType, args provider.Args, chain []providerHandle) (string, error) {
	eligible := make([]providerHandle, 0, len(chain))
	for _, h := range chain {
		if r.monitor.IsHealthy(h.id) {
			eligible = append(eligible, h)
		}
	}

	outcomes := make([]aggregateOutcome, len(eligible))
	var wg sync.WaitGroup
	wg.Add(len(eligible))
	for i, h := range eligible {
		go func(i int, h providerHandle) {
			defer wg.Done()
			attemptCtx, span := telemetry.StartSpan(ctx, r.tracer, "router.attempt", h.id, string(dt))
			defer span.End()
			start := time.Now()
			result, opErr := h.breaker.Execute(attemptCtx, func(callCtx context.Context) (string, error) {
				return h.adapter.Execute(callCtx, dt, args)
			})
			if opErr == nil {
				r.monitor.RecordSuccess(h.id, time.Since(start))
				outcomes[i] = aggregateOutcome{id: h.id, payload: result}
				return
			}
			if errors.Is(opErr, context.Canceled) {
				outcomes[i] = aggregateOutcome{id: h.id, err: opErr}
				return
			}
			if errors.Is(opErr, breaker.ErrCircuitOpen) {
				r.monitor.RecordFailure(h.id, classify.ServiceError)
				outcomes[i] = aggregateOutcome{id: h.id, err: opErr, kind: classify.ServiceError}
				return
			}
			kind, cancelled := classify.Classify(opErr)
			if cancelled {
				outcomes[i] = aggregateOutcome{id: h.id, err: opErr}
				return
			}
			r.monitor.RecordFailure(h.id, kind)
			outcomes[i] = aggregateOutcome{id: h.id, err: opErr, kind: kind}
		}(i, h)
	}
	wg.Wait()

	if errors.Is(ctx.Err(), context.Canceled) {
		for _, o := range outcomes {
			if errors.Is(o.err, context.Canceled) {
				return "", o.err
			}
		}
		return "", ctx.Err()
	}

	attempted := make([]string, 0, len(eligible))
	successes := make(map[string]string, len(eligible))
	failures := make(map[string]ProviderError, len(eligible))
	for _, o := range outcomes {
		attempted = append(attempted, o.id)
		if o.err == nil {
			successes[o.id] = o.payload
			continue
		}
		failures[o.id] = ProviderError{Kind: o.kind, Message: o.err.Error()}
	}

	if len(successes) == 0 {
		return "", shapeFailure(dt, attempted, failures)
	}

	order := make([]string, 0, len(successes))
	for _, h := range eligible {
		if _, ok := successes[h.id]; ok {
			order = append(order, h.id)
		}
	}

	if isNewsType(dt) && r.cfg.NewsDeduplication.Enabled {
		deduped, err := dedup.Deduplicate(ctx, order, successes, dedup.Config{
			SimilarityThreshold:      r.cfg.NewsDeduplication.SimilarityThreshold,
			TimestampWindowHours:     r.cfg.NewsDeduplication.TimestampWindowHours,
			MaxArticlesForComparison: r.cfg.NewsDeduplication.MaxArticlesForComparison,
		})
		if err == nil {
			return deduped, nil
		}
		return rawMerge(order, successes), nil
	}

	return rawMerge(order, successes), nil
}

func isNewsType(dt provider.DataType) bool {
	return dt == provider.News || dt == provider.MarketNews
}

func rawMerge(order []string, successes map[string]string) string {
	parts := make([]string, 0, len(order))
	for _, id := range order {
		parts = append(parts, successes[id])
	}
	return strings.Join(parts, "\n\n")
}

// shapeFailure applies the §4.7 error-shaping table: all-NotFound
// surfaces NotFound, all-RateLimitExceeded surfaces that kind,
// otherwise ServiceError.
func shapeFailure(dt provider.DataType, attempted []string, failures map[string]ProviderError) *AggregateFailure {
	kind := classify.ServiceError
	if len(failures) > 0 {
		allSame := true
		var first classify.Kind
		first = ""
		for _, pe := range failures {
			if first == "" {
				first = pe.Kind
			} else if pe.Kind != first {
				allSame = false
				break
			}
		}
		if allSame && (first == classify.NotFound || first == classify.RateLimitExceeded) {
			kind = first
		}
	}
	return &AggregateFailure{DataType: dt, AttemptedProviders: attempted, ProviderErrors: failures, Kind: kind}
}

// HealthSnapshot exposes a per-provider health.Status for introspection.
func (r *Router) HealthSnapshot(id string) health.Status {
	return r.monitor.Status(id)
}

// BreakerMetrics exposes a per-provider breaker.Metrics for
// introspection. Providers with no recorded activity yet get a
// zero-value Closed breaker's metrics.
func (r *Router) BreakerMetrics(id string) breaker.Metrics {
	return r.breakerFor(id).Metrics()
}
