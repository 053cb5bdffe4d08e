package formats

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"regexp"

	"gopkg.in/cheggaaa/pb.v2"
)

var lineBreaks = regexp.MustCompile(`\x{000D}\x{000A}|[\x{000A}\x{000B}\x{000C}\x{000D}\x{0085}\x{2028}\x{2029}]`)

// CSV writes one row per record. Columns are Fields or, when empty, the
// sorted leaf keys of the first record.
type CSV struct {
	Fields     []string
	Outfile    io.Writer
	ProgessBar *pb.ProgressBar
}

func (c CSV) Run(ctx context.Context, msgs <-chan Message) error {
	w := csv.NewWriter(c.Outfile)

	header := append([]string(nil), c.Fields...)
	if len(header) > 0 {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("write CSV header: %w", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return c.flush(w)
			}

			switch msg.Type {
			case TypeRecord:
				doc := flatten(document(msg.Record))
				if header == nil {
					header = leafKeys(doc)
					if err := w.Write(header); err != nil {
						return fmt.Errorf("write CSV header: %w", err)
					}
				}
				if err := w.Write(row(header, doc)); err != nil {
					return fmt.Errorf("write CSV data: %w", err)
				}
				if c.ProgessBar != nil {
					c.ProgessBar.Increment()
				}
			case TypeState:
				if err := c.flush(w); err != nil {
					return err
				}
			}
			if err := ack(msg); err != nil {
				return err
			}
		}
	}
}

func (c CSV) flush(w *csv.Writer) error {
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	if f, ok := c.Outfile.(flusher); ok {
		return f.Flush()
	}
	return nil
}

func row(header []string, doc map[string]interface{}) []string {
	out := make([]string, 0, len(header))
	for _, field := range header {
		val, ok := doc[field]
		if !ok || val == nil {
			out = append(out, "")
			continue
		}
		out = append(out, formatValue(val))
	}
	return out
}

func formatValue(val interface{}) string {
	switch val := val.(type) {
	case json.Number:
		return val.String()
	case int64:
		return fmt.Sprintf("%d", val)
	case float64:
		d := int(val)
		if val == float64(d) {
			return fmt.Sprintf("%d", d)
		}
		return fmt.Sprintf("%f", val)
	case string:
		return removeLBR(val)
	default:
		return removeLBR(fmt.Sprintf("%v", val))
	}
}

func removeLBR(text string) string {
	return lineBreaks.ReplaceAllString(text, ``)
}
