package formats

import (
	"bufio"
	"context"
	"io"

	"gopkg.in/cheggaaa/pb.v2"

	"github.com/pteich/elastic-tap/elastic"
)

// JSON writes the source document of every record as one line.
type JSON struct {
	Outfile    io.Writer
	ProgessBar *pb.ProgressBar
}

func (j JSON) Run(ctx context.Context, msgs <-chan Message) error {
	w := bufio.NewWriter(j.Outfile)
	enc := elastic.JSON.NewEncoder(w)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return flush(w, j.Outfile)
			}

			switch msg.Type {
			case TypeRecord:
				if err := enc.Encode(document(msg.Record)); err != nil {
					return err
				}
				if j.ProgessBar != nil {
					j.ProgessBar.Increment()
				}
			case TypeState:
				if err := flush(w, j.Outfile); err != nil {
					return err
				}
			}
			if err := ack(msg); err != nil {
				return err
			}
		}
	}
}
