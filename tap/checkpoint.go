package tap

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/pteich/elastic-tap/formats"
	"github.com/pteich/elastic-tap/state"
	"github.com/pteich/elastic-tap/stream"
)

// checkpointer owns the state document shared by all streams. A STATE
// message is queued behind the records it covers and persisted only when the
// formatter acknowledges it.
type checkpointer struct {
	mu     sync.Mutex
	state  state.State
	store  state.Store
	msgs   chan<- formats.Message
	logger *zap.Logger
}

func newCheckpointer(initial state.State, store state.Store, msgs chan<- formats.Message, logger *zap.Logger) *checkpointer {
	return &checkpointer{
		state:  initial.Clone(),
		store:  store,
		msgs:   msgs,
		logger: logger,
	}
}

// bookmark returns the stored bookmark of a stream.
func (c *checkpointer) bookmark(name string) (stream.Bookmark, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.state.Bookmarks[name]
	return b, ok
}

// checkpoint records b for the stream and queues a STATE message. Updating
// and queueing happen under one lock so STATE messages reach the output in
// the order the state evolved.
func (c *checkpointer) checkpoint(ctx context.Context, name string, b stream.Bookmark) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Bookmarks[name] = b
	snapshot := c.state.Clone()

	msg := formats.StateMessage(snapshot, func() error {
		if err := c.store.Save(context.WithoutCancel(ctx), snapshot); err != nil {
			return err
		}
		c.logger.Debug("state saved", zap.String("stream", name), zap.Any("bookmark", b.Value))
		return nil
	})

	select {
	case c.msgs <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
