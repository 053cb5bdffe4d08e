package stream

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pteich/elastic-tap/elastic"
)

// Defaults are applied to every discovered stream.
type Defaults struct {
	PrimaryKeys    []string
	ReplicationKey string
	KeyKind        Kind
	Tiebreaker     string
	// Fields limits the fetched _source of every stream.
	Fields []string
	// Mode defaults to INCREMENTAL when a replication key is set.
	Mode Mode
	// Hidden includes indices and aliases starting with a dot.
	Hidden bool
}

// Discover lists the aliases of the cluster and returns one stream per alias,
// or per index for indices without an alias, ordered by name.
func Discover(ctx context.Context, d elastic.Discoverer, defaults Defaults) ([]Definition, error) {
	indices, err := d.Aliases(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover streams: %w", err)
	}

	mode := defaults.Mode
	if mode == "" {
		mode = ModeFull
		if defaults.ReplicationKey != "" {
			mode = ModeIncremental
		}
	}

	names := make(map[string]struct{})
	for index, aliases := range indices {
		if len(aliases) == 0 {
			names[index] = struct{}{}
			continue
		}
		for _, alias := range aliases {
			names[alias] = struct{}{}
		}
	}

	defs := make([]Definition, 0, len(names))
	for name := range names {
		if !defaults.Hidden && strings.HasPrefix(name, ".") {
			continue
		}
		def := Definition{
			Name:           name,
			Index:          name,
			PrimaryKeys:    append([]string(nil), defaults.PrimaryKeys...),
			ReplicationKey: defaults.ReplicationKey,
			KeyKind:        defaults.KeyKind,
			Tiebreaker:     defaults.Tiebreaker,
			Fields:         append([]string(nil), defaults.Fields...),
			Mode:           mode,
		}
		if len(def.PrimaryKeys) == 0 {
			def.PrimaryKeys = []string{"_id"}
		}
		if err := def.Validate(); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}

// Select keeps the streams named in names, in the order of defs. An empty
// selection keeps all streams.
func Select(defs []Definition, names []string) ([]Definition, error) {
	if len(names) == 0 {
		return defs, nil
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			wanted[n] = false
		}
	}

	var selected []Definition
	for _, def := range defs {
		if _, ok := wanted[def.Name]; ok {
			wanted[def.Name] = true
			selected = append(selected, def)
		}
	}

	var missing []string
	for n, found := range wanted {
		if !found {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("unknown streams: %s", strings.Join(missing, ", "))
	}
	return selected, nil
}
