// Package fetch downloads the artifacts of a resolved plan into the
// shared cache.
//
// The orchestrator runs a bounded worker pool. Every artifact key has
// at most one download in flight per cache, process wide, even across
// concurrent installations: later callers wait for the first download
// and then read the cache. Transient failures are retried with backoff;
// a terminal failure only fails the artifact it belongs to, the rest of
// the batch keeps going. Nothing outside the cache is written.
package fetch

import (
	"context"
	stderrors "errors"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/arthur-debert/modkit/pkg/cache"
	"github.com/arthur-debert/modkit/pkg/errors"
	"github.com/arthur-debert/modkit/pkg/logging"
	"github.com/arthur-debert/modkit/pkg/manifest"
	"github.com/arthur-debert/modkit/pkg/progress"
	"github.com/arthur-debert/modkit/pkg/resolver"
)

// DefaultConcurrency bounds simultaneous transfers
const DefaultConcurrency = 14

// Transport produces the bytes of one component's artifact
type Transport interface {
	Fetch(ctx context.Context, c *manifest.Component) (io.ReadCloser, error)
}

// Store is the part of the cache the orchestrator needs
type Store interface {
	Root() string
	Has(key manifest.ArtifactKey) bool
	AdmitContext(ctx context.Context, key manifest.ArtifactKey, r io.Reader, expect cache.Expectation) (*cache.Entry, error)
}

// inflight deduplicates downloads across every orchestrator in the
// process. Keys are scoped by cache root.
var inflight singleflight.Group

// Orchestrator fetches plan artifacts into a Store
type Orchestrator struct {
	store       Store
	transport   Transport
	concurrency int
	retry       RetryPolicy
	timeout     time.Duration
	sleep       func(context.Context, time.Duration) error
	metrics     *Metrics
	reporter    progress.Reporter
	tracer      trace.Tracer
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithConcurrency sets the worker pool size
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithRetry replaces the retry policy
func WithRetry(p RetryPolicy) Option {
	return func(o *Orchestrator) { o.retry = p }
}

// WithAttemptTimeout bounds a single download attempt
func WithAttemptTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithSleep replaces the backoff wait, for tests
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// WithMetrics records Prometheus metrics
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithReporter sends per-artifact progress events
func WithReporter(r progress.Reporter) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.reporter = r
		}
	}
}

// New creates an orchestrator
func New(store Store, transport Transport, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		transport:   transport,
		concurrency: DefaultConcurrency,
		retry:       DefaultRetryPolicy(),
		sleep:       sleepCtx,
		reporter:    progress.Nop,
		tracer:      otel.Tracer("github.com/arthur-debert/modkit/pkg/fetch"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// FetchAll makes every artifact of plan available in the cache. The
// report is always returned; the error is FETCH when any artifact
// failed and CANCELLED when ctx ended first.
func (o *Orchestrator) FetchAll(ctx context.Context, plan *resolver.Plan) (*Report, error) {
	log := logging.GetLogger("fetch")
	start := time.Now()

	ctx, span := o.tracer.Start(ctx, "fetch.all",
		trace.WithAttributes(attribute.String("modkit.manifest_version", plan.ManifestVersion)))
	defer span.End()
	ctx = manifest.NewContext(ctx, plan.Manifest())

	report := &Report{Failed: make(map[manifest.ArtifactKey]error)}
	var pending []resolver.Artifact
	for _, a := range plan.Artifacts() {
		if o.store.Has(a.Key) {
			report.Cached = append(report.Cached, a.Key)
			if o.metrics != nil {
				o.metrics.cacheHits.Inc()
			}
			continue
		}
		pending = append(pending, a)
	}

	total := len(pending)
	log.Info().
		Int("fetch", total).
		Int("cached", len(report.Cached)).
		Int("concurrency", o.concurrency).
		Msg("Fetching artifacts")

	var (
		mu   sync.Mutex
		done int
	)
	g := new(errgroup.Group)
	g.SetLimit(o.concurrency)

	for i, a := range pending {
		if ctx.Err() != nil {
			for _, rest := range pending[i:] {
				report.Skipped = append(report.Skipped, rest.Key)
			}
			break
		}
		a := a
		g.Go(func() error {
			err := o.fetchOne(ctx, a)

			mu.Lock()
			defer mu.Unlock()
			done++
			if err != nil {
				report.Failed[a.Key] = err
			} else {
				report.Fetched = append(report.Fetched, a.Key)
			}
			o.reporter.Report(progress.Event{
				Step:  progress.StepFetching,
				Item:  a.Component.ID,
				Done:  done,
				Total: total,
				Err:   err,
			})
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(start)
	sortKeys(report.Fetched)

	if len(report.Failed) > 0 {
		report.Affected = plan.Affected(report.FailedKeys())
	}

	if ctx.Err() != nil {
		span.SetStatus(codes.Error, "cancelled")
		return report, errors.Wrap(ctx.Err(), errors.ErrCancelled, "fetch cancelled").
			WithDetail("skipped", len(report.Skipped)).
			WithDetail("fetched", len(report.Fetched))
	}

	if len(report.Failed) > 0 {
		keys := report.FailedKeys()
		names := make([]string, len(keys))
		for i, k := range keys {
			names[i] = k.String()
		}
		first := report.Failed[keys[0]]
		err := errors.Wrapf(first, errors.ErrFetch, "%d of %d artifacts failed", len(keys), total).
			WithDetail("artifacts", names).
			WithDetail("components", report.Affected)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Message)
		log.Error().
			Strs("artifacts", names).
			Strs("components", report.Affected).
			Msg("Fetch failed")
		return report, err
	}

	span.SetAttributes(
		attribute.Int("modkit.fetched", len(report.Fetched)),
		attribute.Int("modkit.cached", len(report.Cached)),
	)
	span.SetStatus(codes.Ok, "")
	log.Info().
		Int("fetched", len(report.Fetched)).
		Dur("duration", report.Duration).
		Msg("Artifacts ready")
	return report, nil
}

// fetchOne joins or starts the single in-flight download for a.Key. A
// follower whose leader was cancelled takes over. A cancelled leader
// waits for its own download to stop so nothing it started is admitted
// after FetchAll returned.
func (o *Orchestrator) fetchOne(ctx context.Context, a resolver.Artifact) error {
	flightKey := o.store.Root() + "|" + a.Key.Digest()

	for {
		var leading atomic.Bool
		ch := inflight.DoChan(flightKey, func() (interface{}, error) {
			leading.Store(true)
			if ctx.Err() == nil && o.store.Has(a.Key) {
				return nil, nil
			}
			return nil, o.download(ctx, a)
		})

		select {
		case <-ctx.Done():
			if leading.Load() {
				<-ch
			}
			return errors.Wrap(ctx.Err(), errors.ErrCancelled, "fetch cancelled").
				WithDetail("artifact", a.Key.String())
		case res := <-ch:
			if res.Shared && o.metrics != nil {
				o.metrics.shared.Inc()
			}
			if res.Err == nil {
				return nil
			}
			if res.Shared && errors.IsErrorCode(res.Err, errors.ErrCancelled) && ctx.Err() == nil {
				// the leader's context ended, not ours
				continue
			}
			return res.Err
		}
	}
}

// download retries the transfer of a until it is admitted, fails
// terminally or runs out of attempts
func (o *Orchestrator) download(ctx context.Context, a resolver.Artifact) error {
	log := logging.GetLogger("fetch").With().
		Str("artifact", a.Key.String()).
		Str("component", a.Component.ID).
		Logger()

	ctx, span := o.tracer.Start(ctx, "fetch.artifact",
		trace.WithAttributes(
			attribute.String("modkit.artifact", a.Key.String()),
			attribute.String("modkit.source", a.Key.Source),
		))
	defer span.End()

	if o.metrics != nil {
		o.metrics.inflight.Inc()
		defer o.metrics.inflight.Dec()
	}
	start := time.Now()
	expect := cache.ExpectationFor(a.Component)

	attempts := o.retry.Attempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.ErrCancelled, "fetch cancelled").
				WithDetail("artifact", a.Key.String())
		}

		entry, err := o.attempt(ctx, a, expect)
		if err == nil {
			if o.metrics != nil {
				o.metrics.fetches.WithLabelValues(a.Key.Source, "success").Inc()
				o.metrics.bytes.Add(float64(entry.Size))
				o.metrics.duration.Observe(time.Since(start).Seconds())
			}
			span.SetAttributes(attribute.Int("modkit.attempts", attempt))
			log.Debug().Int("attempt", attempt).Int64("size", entry.Size).Msg("Fetched artifact")
			return nil
		}

		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), errors.ErrCancelled, "fetch cancelled").
				WithDetail("artifact", a.Key.String())
		}

		if !o.retry.Retryable(err) || attempt >= attempts {
			if o.metrics != nil {
				o.metrics.fetches.WithLabelValues(a.Key.Source, "failure").Inc()
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Warn().Err(err).Int("attempt", attempt).Msg("Artifact failed")
			return terminal(err, a, attempt)
		}

		delay := o.retry.Delay(attempt)
		if o.metrics != nil {
			o.metrics.retries.Inc()
		}
		o.reporter.Report(progress.Event{
			Step:    progress.StepFetching,
			Item:    a.Component.ID,
			Attempt: attempt + 1,
			Err:     err,
		})
		log.Debug().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("Retrying artifact")
		if err := o.sleep(ctx, delay); err != nil {
			return errors.Wrap(err, errors.ErrCancelled, "fetch cancelled").
				WithDetail("artifact", a.Key.String())
		}
	}
}

// attempt runs one transfer. The per-attempt timeout bounds the
// transport only; admission stops on the caller's cancellation.
func (o *Orchestrator) attempt(ctx context.Context, a resolver.Artifact, expect cache.Expectation) (*cache.Entry, error) {
	fetchCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	body, err := o.transport.Fetch(fetchCtx, a.Component)
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }()

	return o.store.AdmitContext(ctx, a.Key, body, expect)
}

// terminal attaches the artifact identity to err, keeping a code the
// error already carries (INTEGRITY, SOURCE_UNKNOWN)
func terminal(err error, a resolver.Artifact, attempts int) error {
	var e *errors.Error
	if stderrors.As(err, &e) && e.Code != errors.ErrFetch && e.Code != errors.ErrUnknown {
		return errors.Wrapf(err, e.Code, "artifact %s", a.Key).
			WithDetail("artifact", a.Key.String()).
			WithDetail("component", a.Component.ID).
			WithDetail("attempts", attempts)
	}
	return errors.Wrapf(err, errors.ErrFetch, "artifact %s", a.Key).
		WithDetail("artifact", a.Key.String()).
		WithDetail("component", a.Component.ID).
		WithDetail("attempts", attempts)
}

func sortKeys(keys []manifest.ArtifactKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
}
