package formats

import (
	"bufio"
	"context"
	"io"

	"gopkg.in/cheggaaa/pb.v2"

	"github.com/pteich/elastic-tap/elastic"
)

// Raw writes every record with its hit metadata as one line.
type Raw struct {
	Outfile    io.Writer
	ProgessBar *pb.ProgressBar
}

func (r Raw) Run(ctx context.Context, msgs <-chan Message) error {
	w := bufio.NewWriter(r.Outfile)
	enc := elastic.JSON.NewEncoder(w)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				// the stream is complete
				return flush(w, r.Outfile)
			}

			switch msg.Type {
			case TypeRecord:
				if err := enc.Encode(msg.Record); err != nil {
					return err
				}
				if r.ProgessBar != nil {
					r.ProgessBar.Increment()
				}
			case TypeState:
				if err := flush(w, r.Outfile); err != nil {
					return err
				}
			}
			if err := ack(msg); err != nil {
				return err
			}
		}
	}
}
