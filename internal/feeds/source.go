package feeds

import (
	"fmt"
	"strings"
	"time"

	"tibridge/internal/config"
)

// Kind selects how a feed body is parsed.
type Kind string

const (
	KindPlain  Kind = "plain"
	KindScored Kind = "scored"
	KindCSV    Kind = "csv"
)

// Source is one public threat feed. The shape of its body is fixed by Kind
// and the kind-specific fields.
type Source struct {
	Name    string
	URL     string
	Kind    Kind
	Timeout time.Duration

	// Threshold is the score an entry of a scored list must strictly exceed.
	Threshold float64

	// TypeMarker and AddressColumn describe CSV exports: rows without a field
	// equal to TypeMarker are skipped, the address is read from AddressColumn.
	TypeMarker    string
	AddressColumn int
}

func (s Source) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("feed source without name")
	}
	if s.URL == "" {
		return fmt.Errorf("feed source %s: url is empty", s.Name)
	}
	switch s.Kind {
	case KindPlain, KindScored, KindCSV:
	default:
		return fmt.Errorf("feed source %s: unknown kind %q", s.Name, s.Kind)
	}
	if s.AddressColumn < 0 {
		return fmt.Errorf("feed source %s: negative address column", s.Name)
	}
	return nil
}

// SourcesFromConfig converts the configured feed list, dropping disabled
// entries. Order is preserved.
func SourcesFromConfig(cfg config.Config) []Source {
	sources := make([]Source, 0, len(cfg.Feeds.Sources))
	for _, fs := range cfg.Feeds.Sources {
		if fs.Disabled {
			continue
		}
		sources = append(sources, SourceFromSetting(fs))
	}
	return sources
}

func SourceFromSetting(fs config.FeedSource) Source {
	return Source{
		Name:          fs.Name,
		URL:           strings.TrimSpace(fs.URL),
		Kind:          Kind(strings.ToLower(strings.TrimSpace(fs.Kind))),
		Timeout:       fs.FetchTimeout(),
		Threshold:     fs.Threshold,
		TypeMarker:    fs.TypeMarker,
		AddressColumn: fs.AddressColumn,
	}
}
