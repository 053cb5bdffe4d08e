package flags

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pteich/elastic-tap/stream"
)

const (
	FormatSinger = "singer"
	FormatJSON   = "json"
	FormatCSV    = "csv"
	FormatRAW    = "raw"

	CheckpointEnd  = "end"
	CheckpointPage = "page"
)

// ErrConfiguration marks settings that make a run impossible. It is raised
// before any request is sent.
var ErrConfiguration = errors.New("configuration error")

type Flags struct {
	ElasticURL       string `cli:"url" cliAlt:"c" env:"TAP_URL_BASE" usage:"Base URL of the Elasticsearch cluster"`
	ElasticVersion   int    `cli:"elastic-version" env:"TAP_ELASTIC_VERSION" usage:"Major version of the Elasticsearch cluster [7|8|9]"`
	ElasticUser      string `cli:"user" env:"TAP_USER" usage:"Elasticsearch username"`
	ElasticPass      string `cli:"pass" env:"TAP_PASS" usage:"Elasticsearch password"`
	ElasticVerifySSL bool   `cli:"verifySSL" env:"TAP_VERIFY_SSL" usage:"Verify SSL certificate"`
	ElasticClientCrt string `cli:"client-crt" env:"TAP_CLIENT_CRT" usage:"Path to client certificate file"`
	ElasticClientKey string `cli:"client-key" env:"TAP_CLIENT_KEY" usage:"Path to client key file"`
	UserAgent        string `cli:"user-agent" env:"TAP_USER_AGENT" usage:"User-Agent header sent with every request"`

	PageSize        int     `cli:"page-size" env:"TAP_PAGE_SIZE" usage:"Number of documents requested per page"`
	StartDate       string  `cli:"start-date" env:"TAP_START_DATE" usage:"Initial bookmark for incremental streams without state"`
	RequestInterval float64 `cli:"request-interval" env:"TAP_REQUEST_INTERVAL" usage:"Seconds to wait between two page requests"`
	RequestTimeout  int     `cli:"request-timeout" env:"TAP_REQUEST_TIMEOUT" usage:"Timeout of a single page request in seconds"`

	ReplicationKey     string `cli:"replication-key" env:"TAP_REPLICATION_KEY" usage:"Source field used for incremental replication"`
	ReplicationKeyKind string `cli:"replication-key-kind" env:"TAP_REPLICATION_KEY_KIND" usage:"Type of the replication key [timestamp|epoch|numeric|string], inferred when empty"`
	ReplicationMethod  string `cli:"replication-method" env:"TAP_REPLICATION_METHOD" usage:"FULL_TABLE or INCREMENTAL, INCREMENTAL when a replication key is set"`
	Tiebreaker         string `cli:"tiebreaker" env:"TAP_TIEBREAKER" usage:"Unique field appended to the sort to make paging total"`
	PrimaryKeyList     string `cli:"primary-keys" env:"TAP_PRIMARY_KEYS" usage:"Primary key fields as comma separated list"`
	StreamList         string `cli:"streams" env:"TAP_STREAMS" usage:"Streams to sync as comma separated list, all when empty"`
	IncludeHidden      bool   `cli:"include-hidden" env:"TAP_INCLUDE_HIDDEN" usage:"Include indices and aliases starting with a dot"`

	StatePath  string `cli:"state" env:"TAP_STATE" usage:"State file, .db or .sqlite for an SQLite store"`
	Checkpoint string `cli:"checkpoint" env:"TAP_CHECKPOINT" usage:"When to persist bookmarks [end|page]"`

	OutFormat string `cli:"outformat" cliAlt:"f" env:"TAP_OUTFORMAT" usage:"Format of the output data [singer|json|raw|csv]"`
	Outfile   string `cli:"outfile" cliAlt:"o" env:"TAP_OUTFILE" usage:"Path to output file, - for stdout, .gz for gzip"`
	Fieldlist string `cli:"fields" env:"TAP_FIELDS" usage:"CSV columns as comma separated list"`
	SchemaDir string `cli:"schema-dir" env:"TAP_SCHEMA_DIR" usage:"Directory with <stream>.json schema files"`

	Parallel int  `cli:"parallel" env:"TAP_PARALLEL" usage:"Number of streams synced concurrently"`
	Discover bool `cli:"discover" env:"TAP_DISCOVER" usage:"Print the catalog of discovered streams and exit"`
	Progress bool `cli:"progress" env:"TAP_PROGRESS" usage:"Show a progress bar on stderr"`

	APM      bool   `cli:"apm" env:"TAP_APM" usage:"Instrument Elasticsearch requests with Elastic APM"`
	Trace    bool   `cli:"trace" env:"TAP_TRACE" usage:"Log raw Elasticsearch requests (v7 client)"`
	LogLevel string `cli:"log-level" env:"TAP_LOG_LEVEL" usage:"Log level [debug|info|warn|error]"`

	Fields      []string
	PrimaryKeys []string
	Streams     []string
}

// Defaults returns the flags with all defaults applied.
func Defaults() Flags {
	return Flags{
		ElasticURL:     "",
		ElasticVersion: 8,
		PageSize:       1000,
		RequestTimeout: 30,
		Checkpoint:     CheckpointEnd,
		OutFormat:      FormatSinger,
		Outfile:        "-",
		Parallel:       1,
		LogLevel:       "info",
	}
}

// Validate checks the flags and splits the list options.
func (f *Flags) Validate() error {
	if strings.TrimSpace(f.ElasticURL) == "" {
		return fmt.Errorf("%w: url_base is required", ErrConfiguration)
	}
	u, err := url.Parse(f.ElasticURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: invalid url_base %q", ErrConfiguration, f.ElasticURL)
	}

	switch f.ElasticVersion {
	case 7, 8, 9:
	default:
		return fmt.Errorf("%w: unsupported Elasticsearch version %d", ErrConfiguration, f.ElasticVersion)
	}

	if f.PageSize <= 0 {
		return fmt.Errorf("%w: page size must be positive, got %d", ErrConfiguration, f.PageSize)
	}
	if f.RequestInterval < 0 {
		return fmt.Errorf("%w: request interval must not be negative", ErrConfiguration)
	}
	if f.RequestTimeout < 0 {
		return fmt.Errorf("%w: request timeout must not be negative", ErrConfiguration)
	}
	if f.Parallel <= 0 {
		f.Parallel = 1
	}

	kind, err := stream.ParseKind(f.ReplicationKeyKind)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if f.StartDate != "" {
		if _, _, err := stream.ParseStart(kind, f.StartDate); err != nil {
			return fmt.Errorf("%w: start date: %v", ErrConfiguration, err)
		}
	}

	switch strings.ToUpper(f.ReplicationMethod) {
	case "", "FULL", "FULL_TABLE":
	case "INCREMENTAL":
		if f.ReplicationKey == "" {
			return fmt.Errorf("%w: INCREMENTAL replication requires a replication key", ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown replication method %q", ErrConfiguration, f.ReplicationMethod)
	}

	switch f.Checkpoint {
	case CheckpointEnd, CheckpointPage:
	case "":
		f.Checkpoint = CheckpointEnd
	default:
		return fmt.Errorf("%w: unknown checkpoint policy %q", ErrConfiguration, f.Checkpoint)
	}

	switch f.OutFormat {
	case FormatSinger, FormatJSON, FormatCSV, FormatRAW:
	case "":
		f.OutFormat = FormatSinger
	default:
		return fmt.Errorf("%w: unknown output format %q", ErrConfiguration, f.OutFormat)
	}

	if (f.ElasticClientCrt == "") != (f.ElasticClientKey == "") {
		return fmt.Errorf("%w: client certificate and key must be set together", ErrConfiguration)
	}

	if f.Fieldlist != "" {
		f.Fields = splitList(f.Fieldlist)
	}
	if f.PrimaryKeyList != "" {
		f.PrimaryKeys = splitList(f.PrimaryKeyList)
	}
	if f.StreamList != "" {
		f.Streams = splitList(f.StreamList)
	}
	return nil
}

func (f *Flags) RequestIntervalDuration() time.Duration {
	return time.Duration(f.RequestInterval * float64(time.Second))
}

func (f *Flags) RequestTimeoutDuration() time.Duration {
	return time.Duration(f.RequestTimeout) * time.Second
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
