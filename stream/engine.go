package stream

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pteich/elastic-tap/elastic"
)

const DefaultRequestTimeout = 30 * time.Second

// ErrRunConsumed is returned when the records of a Run are iterated twice.
var ErrRunConsumed = errors.New("stream run already consumed")

// Config holds configuration for Engine.
type Config struct {
	// PageSize is the number of hits requested per page.
	//
	// If PageSize is zero, the default of 1000 will be used.
	PageSize int

	// RequestInterval is a pause between two page requests.
	RequestInterval time.Duration

	// RequestTimeout bounds a single page request. A page request in flight
	// is not interrupted by cancellation of the run context; cancellation is
	// observed between pages.
	//
	// If RequestTimeout is zero, the default of 30 seconds will be used.
	RequestTimeout time.Duration

	// Veto optionally drops records after transformation.
	Veto VetoFunc

	// OnPage is called after all records of a page were handed to the
	// consumer, which makes it the place to checkpoint.
	OnPage func(PageEvent)

	// Logger holds an optional Logger. If Logger is nil, logging will be
	// disabled.
	Logger *zap.Logger

	// MeterProvider holds the OTel MeterProvider. If unset, the global OTel
	// MeterProvider will be used.
	MeterProvider metric.MeterProvider

	// TracerProvider holds the OTel TracerProvider used for page spans. If
	// unset, the global OTel TracerProvider will be used.
	TracerProvider trace.TracerProvider
}

// PageEvent describes a consumed page.
type PageEvent struct {
	Stream     string
	Page       int
	Hits       int
	Emitted    int
	Total      int64
	TotalKnown bool
	State      State
	Bookmark   Bookmark
}

// Engine drives the paging loop of single streams. It holds no per-stream
// state and can run several streams concurrently.
type Engine struct {
	fetcher elastic.PageFetcher
	config  Config
	logger  *zap.Logger
	metrics *metrics
	tracer  trace.Tracer
}

func NewEngine(fetcher elastic.PageFetcher, cfg Config) (*Engine, error) {
	if fetcher == nil {
		return nil, errors.New("page fetcher is nil")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.RequestInterval < 0 {
		return nil, fmt.Errorf("negative request interval %s", cfg.RequestInterval)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	ms, err := newMetrics(cfg.MeterProvider)
	if err != nil {
		return nil, err
	}

	return &Engine{
		fetcher: fetcher,
		config:  cfg,
		logger:  logger,
		metrics: ms,
		tracer:  tp.Tracer("github.com/pteich/elastic-tap"),
	}, nil
}

// Run prepares a run of def seeded with start. Nothing is fetched until the
// records are iterated.
func (e *Engine) Run(ctx context.Context, def Definition, start Bookmark) *Run {
	return &Run{
		ctx:         ctx,
		engine:      e,
		def:         def,
		start:       start,
		paginator:   NewPaginator(e.config.PageSize),
		transformer: NewTransformer(def, e.config.Veto),
		tracker:     NewTracker(def, start),
		logger:      e.logger.With(zap.String("stream", def.Name)),
		attrs:       metric.WithAttributes(attribute.String("stream", def.Name)),
	}
}

// Collect runs def to completion and returns all records and the final
// bookmark.
func (e *Engine) Collect(ctx context.Context, def Definition, start Bookmark) ([]Record, Bookmark, error) {
	run := e.Run(ctx, def, start)
	var records []Record
	for rec, err := range run.Records() {
		if err != nil {
			return records, run.Bookmark(), err
		}
		records = append(records, rec)
	}
	return records, run.Bookmark(), nil
}

// Run is a single paging sequence over one stream.
type Run struct {
	ctx         context.Context
	engine      *Engine
	def         Definition
	start       Bookmark
	paginator   *Paginator
	transformer *Transformer
	tracker     *Tracker
	logger      *zap.Logger
	attrs       metric.MeasurementOption

	consumed bool
	emitted  int64
	skipped  int64
	err      error
}

// Records lazily fetches pages and yields their records. Errors are fatal:
// the sequence ends after yielding one.
func (r *Run) Records() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		if r.consumed {
			yield(nil, ErrRunConsumed)
			return
		}
		r.consumed = true

		if err := r.def.Validate(); err != nil {
			r.err = err
			yield(nil, err)
			return
		}

		cfg := r.engine.config
		for r.paginator.State() == Active {
			if err := r.ctx.Err(); err != nil {
				r.err = err
				yield(nil, err)
				return
			}

			body, err := BuildSearch(r.def, r.start, r.paginator.Cursor(), cfg.PageSize)
			if err != nil {
				r.err = err
				yield(nil, err)
				return
			}

			page, err := r.fetch(body)
			if err != nil {
				r.err = err
				yield(nil, err)
				return
			}

			decision := r.paginator.Advance(page)
			emitted := 0
			for _, hit := range page.Hits {
				rec, err := r.transformer.Transform(hit)
				if err != nil {
					r.skipped++
					r.engine.metrics.recordsSkipped.Add(r.ctx, 1, r.attrs)
					r.logger.Debug("skipping hit", zap.Error(err))
					continue
				}
				if r.def.Incremental() {
					if err := r.tracker.Observe(rec); err != nil {
						r.err = err
						yield(nil, err)
						return
					}
				}
				emitted++
				r.emitted++
				r.engine.metrics.recordsEmitted.Add(r.ctx, 1, r.attrs)
				if !yield(rec, nil) {
					return
				}
			}

			r.logger.Debug("page consumed",
				zap.Int("page", r.paginator.Pages()),
				zap.Int("hits", len(page.Hits)),
				zap.Int("emitted", emitted),
				zap.Stringer("state", r.paginator.State()),
				zap.String("reason", decision.Reason),
			)
			if cfg.OnPage != nil {
				cfg.OnPage(PageEvent{
					Stream:     r.def.Name,
					Page:       r.paginator.Pages(),
					Hits:       len(page.Hits),
					Emitted:    emitted,
					Total:      page.Total,
					TotalKnown: page.TotalKnown,
					State:      r.paginator.State(),
					Bookmark:   r.tracker.Bookmark(),
				})
			}

			if decision.HasMore && cfg.RequestInterval > 0 {
				if err := sleep(r.ctx, cfg.RequestInterval); err != nil {
					r.err = err
					yield(nil, err)
					return
				}
			}
		}
	}
}

func (r *Run) fetch(body elastic.SearchBody) (*elastic.Page, error) {
	cfg := r.engine.config
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), cfg.RequestTimeout)
	defer cancel()

	ctx, span := r.engine.tracer.Start(ctx, "search "+r.def.Index, trace.WithAttributes(
		attribute.String("stream", r.def.Name),
		attribute.String("index", r.def.Index),
		attribute.Int("page", r.paginator.Pages()+1),
	))
	defer span.End()

	started := time.Now()
	page, err := r.engine.fetcher.Search(ctx, r.def.Index, body)
	r.engine.metrics.pageDuration.Record(r.ctx, time.Since(started).Seconds(), r.attrs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("stream %s page %d: %w", r.def.Name, r.paginator.Pages()+1, err)
	}

	span.SetAttributes(attribute.Int("hits", len(page.Hits)))
	r.engine.metrics.pagesFetched.Add(r.ctx, 1, r.attrs)
	r.engine.metrics.hitsFetched.Add(r.ctx, int64(len(page.Hits)), r.attrs)
	return page, nil
}

// Bookmark returns the highest replication key value seen so far, or the
// start bookmark if nothing was seen.
func (r *Run) Bookmark() Bookmark {
	return r.tracker.Bookmark()
}

// State returns the paginator state.
func (r *Run) State() State {
	return r.paginator.State()
}

// Pages returns the number of pages fetched.
func (r *Run) Pages() int {
	return r.paginator.Pages()
}

// Emitted returns the number of records yielded.
func (r *Run) Emitted() int64 {
	return r.emitted
}

// Skipped returns the number of hits dropped by the transformer.
func (r *Run) Skipped() int64 {
	return r.skipped
}

// Err returns the error that ended the run, if any.
func (r *Run) Err() error {
	return r.err
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
