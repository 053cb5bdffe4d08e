// Package tap syncs the streams of an Elasticsearch cluster to an output.
package tap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/cheggaaa/pb.v2"

	"github.com/pteich/elastic-tap/elastic"
	"github.com/pteich/elastic-tap/flags"
	"github.com/pteich/elastic-tap/formats"
	"github.com/pteich/elastic-tap/state"
	"github.com/pteich/elastic-tap/stream"
)

// Run validates conf, connects to the cluster and syncs all selected streams.
func Run(ctx context.Context, conf *flags.Flags, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := conf.Validate(); err != nil {
		return err
	}

	client, err := NewClient(conf, logger)
	if err != nil {
		return fmt.Errorf("connect to Elasticsearch %s: %w", conf.ElasticURL, err)
	}
	defer client.Stop()

	return New(conf, client, logger).Run(ctx)
}

// Tap syncs streams with an already connected client.
type Tap struct {
	conf   *flags.Flags
	client elastic.Client
	logger *zap.Logger
	now    func() time.Time

	barMu sync.Mutex
	bar   *pb.ProgressBar
}

// New expects conf to have passed Validate.
func New(conf *flags.Flags, client elastic.Client, logger *zap.Logger) *Tap {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tap{
		conf:   conf,
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

func (t *Tap) Run(ctx context.Context) error {
	defs, err := t.streams(ctx)
	if err != nil {
		return err
	}

	var schemas stream.SchemaProvider = stream.GenericSchema{}
	if t.conf.SchemaDir != "" {
		schemas = stream.DirSchema{Dir: t.conf.SchemaDir}
	}

	out, err := openOutput(t.conf.Outfile)
	if err != nil {
		return err
	}
	defer out.Close()

	if t.conf.Discover {
		if err := formats.WriteCatalog(ctx, out, defs, schemas); err != nil {
			return err
		}
		return out.Close()
	}

	store, err := state.Open(ctx, t.conf.StatePath)
	if err != nil {
		return err
	}
	defer store.Close()

	initial, err := store.Load(ctx)
	if err != nil {
		return err
	}

	if t.conf.Progress {
		t.bar = pb.New(0).SetWriter(os.Stderr).Start()
		defer t.bar.Finish()
	}

	msgs := make(chan formats.Message, t.conf.PageSize)
	checkpoints := newCheckpointer(initial, store, msgs, t.logger)
	formatter := newFormatter(t.conf, out, t.bar)

	g, gctx := errgroup.WithContext(ctx)

	// The formatter drains the channel until the producers close it, so
	// records already queued are written even when the run is canceled.
	g.Go(func() error {
		return formatter.Run(context.WithoutCancel(gctx), msgs)
	})

	g.Go(func() error {
		defer close(msgs)

		producers, pctx := errgroup.WithContext(gctx)
		producers.SetLimit(t.conf.Parallel)
		for _, def := range defs {
			producers.Go(func() error {
				return t.syncStream(pctx, def, schemas, checkpoints, msgs)
			})
		}
		return producers.Wait()
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return out.Close()
}

// streams discovers the streams of the cluster and applies the selection.
func (t *Tap) streams(ctx context.Context) ([]stream.Definition, error) {
	kind, err := stream.ParseKind(t.conf.ReplicationKeyKind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", flags.ErrConfiguration, err)
	}

	defaults := stream.Defaults{
		PrimaryKeys:    t.conf.PrimaryKeys,
		ReplicationKey: t.conf.ReplicationKey,
		KeyKind:        kind,
		Tiebreaker:     t.conf.Tiebreaker,
		Hidden:         t.conf.IncludeHidden,
	}
	// only CSV output is limited to a column list
	if t.conf.OutFormat == flags.FormatCSV {
		defaults.Fields = t.conf.Fields
	}
	if t.conf.ReplicationMethod != "" {
		mode, err := stream.ParseMode(t.conf.ReplicationMethod)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", flags.ErrConfiguration, err)
		}
		defaults.Mode = mode
	}

	defs, err := stream.Discover(ctx, t.client, defaults)
	if err != nil {
		return nil, err
	}
	defs, err = stream.Select(defs, t.conf.Streams)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", flags.ErrConfiguration, err)
	}

	if t.conf.ElasticVersion >= 8 {
		for _, def := range defs {
			if sortsOnID(def) {
				t.logger.Warn("sorting on _id needs indices.id_field_data.enabled, set primary_keys to a keyword field",
					zap.String("stream", def.Name))
			}
		}
	}

	t.logger.Info("streams discovered", zap.Int("count", len(defs)))
	return defs, nil
}

func sortsOnID(def stream.Definition) bool {
	strategy, err := stream.StrategyFor(def.Mode)
	if err != nil {
		return false
	}
	for _, s := range strategy.Sort(def) {
		if s.Field == "_id" {
			return true
		}
	}
	return false
}

func (t *Tap) syncStream(ctx context.Context, def stream.Definition, schemas stream.SchemaProvider, checkpoints *checkpointer, msgs chan<- formats.Message) error {
	logger := t.logger.With(zap.String("stream", def.Name))

	start, err := t.startBookmark(def, checkpoints, logger)
	if err != nil {
		return err
	}

	schema, err := schemas.Schema(ctx, def)
	if err != nil {
		return err
	}
	var bookmarkProps []string
	if def.Incremental() {
		bookmarkProps = []string{def.BookmarkProperty()}
	}
	if err := send(ctx, msgs, formats.SchemaMessage(def.Name, schema, def.KeyProperties(), bookmarkProps)); err != nil {
		return err
	}

	var pageErr error
	engine, err := stream.NewEngine(t.client, stream.Config{
		PageSize:        t.conf.PageSize,
		RequestInterval: t.conf.RequestIntervalDuration(),
		RequestTimeout:  t.conf.RequestTimeoutDuration(),
		Logger:          t.logger,
		OnPage: func(ev stream.PageEvent) {
			if ev.Page == 1 && ev.TotalKnown {
				t.addTotal(ev.Total)
			}
			if pageErr != nil || !def.Incremental() || t.conf.Checkpoint != flags.CheckpointPage {
				return
			}
			pageErr = checkpoints.checkpoint(ctx, def.Name, ev.Bookmark)
		},
	})
	if err != nil {
		return err
	}

	logger.Info("syncing stream", zap.String("index", def.Index), zap.String("mode", string(def.Mode)), zap.Any("start", start.Value))

	run := engine.Run(ctx, def, start)
	for rec, err := range run.Records() {
		if err != nil {
			return err
		}
		if pageErr != nil {
			return pageErr
		}
		if err := send(ctx, msgs, formats.RecordMessage(def.Name, rec, t.now().UTC())); err != nil {
			return err
		}
	}
	if pageErr != nil {
		return pageErr
	}

	if def.Incremental() {
		if err := checkpoints.checkpoint(ctx, def.Name, run.Bookmark()); err != nil {
			return err
		}
	}

	logger.Info("stream synced",
		zap.Int("pages", run.Pages()),
		zap.Int64("records", run.Emitted()),
		zap.Int64("skipped", run.Skipped()),
		zap.Any("bookmark", run.Bookmark().Value),
	)
	return nil
}

// startBookmark resumes from the stored bookmark, or from the configured
// start date when there is none.
func (t *Tap) startBookmark(def stream.Definition, checkpoints *checkpointer, logger *zap.Logger) (stream.Bookmark, error) {
	if !def.Incremental() {
		return stream.Bookmark{}, nil
	}

	if b, ok := checkpoints.bookmark(def.Name); ok && !b.IsZero() {
		if b.Key == def.BookmarkProperty() {
			return b, nil
		}
		logger.Warn("ignoring bookmark of a different replication key",
			zap.String("stored", b.Key), zap.String("configured", def.BookmarkProperty()))
	}

	if t.conf.StartDate == "" {
		return stream.Bookmark{Key: def.BookmarkProperty(), Kind: def.KeyKind}, nil
	}
	kind, value, err := stream.ParseStart(def.KeyKind, t.conf.StartDate)
	if err != nil {
		return stream.Bookmark{}, fmt.Errorf("%w: start date: %v", flags.ErrConfiguration, err)
	}
	b, err := stream.NewBookmark(def.BookmarkProperty(), kind, value)
	if err != nil {
		return stream.Bookmark{}, fmt.Errorf("%w: start date: %v", flags.ErrConfiguration, err)
	}
	return b, nil
}

func (t *Tap) addTotal(n int64) {
	if t.bar == nil {
		return
	}
	t.barMu.Lock()
	defer t.barMu.Unlock()
	t.bar.SetTotal(t.bar.Total() + n)
}

func send(ctx context.Context, msgs chan<- formats.Message, msg formats.Message) error {
	select {
	case msgs <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsConfigurationError reports whether err was caused by invalid settings.
func IsConfigurationError(err error) bool {
	return errors.Is(err, flags.ErrConfiguration)
}
