package tap

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"gopkg.in/cheggaaa/pb.v2"

	"github.com/pteich/elastic-tap/flags"
	"github.com/pteich/elastic-tap/formats"
)

type output struct {
	io.Writer
	closers []io.Closer
}

// Close closes the gzip stream before the file beneath it.
func (o *output) Close() error {
	var firstErr error
	closers := o.closers
	o.closers = nil
	for _, c := range closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Flush pushes compressed data down to the file.
func (o *output) Flush() error {
	if f, ok := o.Writer.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

func openOutput(path string) (*output, error) {
	if path == "" || path == "-" {
		return &output{Writer: os.Stdout}, nil
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output file %s: %w", path, err)
	}
	if !strings.HasSuffix(path, ".gz") {
		return &output{Writer: f, closers: []io.Closer{f}}, nil
	}

	gz := gzip.NewWriter(f)
	return &output{Writer: gz, closers: []io.Closer{gz, f}}, nil
}

func newFormatter(conf *flags.Flags, out io.Writer, bar *pb.ProgressBar) formats.Formatter {
	switch conf.OutFormat {
	case flags.FormatJSON:
		return formats.JSON{
			Outfile:    out,
			ProgessBar: bar,
		}
	case flags.FormatRAW:
		return formats.Raw{
			Outfile:    out,
			ProgessBar: bar,
		}
	case flags.FormatCSV:
		return formats.CSV{
			Fields:     conf.Fields,
			Outfile:    out,
			ProgessBar: bar,
		}
	default:
		return formats.Singer{
			Outfile:    out,
			ProgessBar: bar,
		}
	}
}
