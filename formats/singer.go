package formats

import (
	"bufio"
	"context"
	"io"

	"gopkg.in/cheggaaa/pb.v2"

	"github.com/pteich/elastic-tap/elastic"
)

// Singer writes every message as one JSON line.
type Singer struct {
	Outfile    io.Writer
	ProgessBar *pb.ProgressBar
}

func (s Singer) Run(ctx context.Context, msgs <-chan Message) error {
	w := bufio.NewWriter(s.Outfile)
	enc := elastic.JSON.NewEncoder(w)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return flush(w, s.Outfile)
			}

			if err := enc.Encode(msg); err != nil {
				return err
			}

			switch msg.Type {
			case TypeRecord:
				if s.ProgessBar != nil {
					s.ProgessBar.Increment()
				}
			case TypeState:
				if err := flush(w, s.Outfile); err != nil {
					return err
				}
			}
			if err := ack(msg); err != nil {
				return err
			}
		}
	}
}

func flush(w *bufio.Writer, out io.Writer) error {
	if err := w.Flush(); err != nil {
		return err
	}
	if f, ok := out.(flusher); ok {
		return f.Flush()
	}
	return nil
}
