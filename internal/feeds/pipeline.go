// Package feeds downloads public threat feeds and records every accepted
// address as an OSINT observation.
package feeds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"tibridge/internal/config"
	"tibridge/internal/counters"
	"tibridge/internal/domain"
	"tibridge/internal/metrics"
	"tibridge/internal/observation"
)

const maxFeedBytes = 32 << 20

var ErrHostBlocked = errors.New("feed host is blocked")

// SourceResult is the outcome of one source within a cycle. A failed source
// has Err set and contributes nothing.
type SourceResult struct {
	Name     string        `json:"name"`
	Accepted int           `json:"accepted"`
	New      int           `json:"new"`
	Rejected int           `json:"rejected"`
	Took     time.Duration `json:"took"`
	Err      error         `json:"-"`
}

func (r SourceResult) Failed() bool { return r.Err != nil }

// CycleReport aggregates one ingestion cycle.
type CycleReport struct {
	Reason   string         `json:"reason"`
	Started  time.Time      `json:"started"`
	Finished time.Time      `json:"finished"`
	Sources  []SourceResult `json:"sources"`
	New      int64          `json:"new"`
}

// HistorySink persists cycle reports. It is optional.
type HistorySink interface {
	RecordFeedCycle(ctx context.Context, report CycleReport) error
}

type Pipeline struct {
	client   *http.Client
	recorder *observation.Recorder
	counters *counters.Maintainer
	sources  func() []Source
	history  HistorySink
}

type Option func(*Pipeline)

// WithSources replaces the configured source list, mainly for tests.
func WithSources(sources ...Source) Option {
	return func(p *Pipeline) {
		p.sources = func() []Source { return sources }
	}
}

func WithHistory(h HistorySink) Option {
	return func(p *Pipeline) { p.history = h }
}

func NewPipeline(client *http.Client, recorder *observation.Recorder, c *counters.Maintainer, opts ...Option) *Pipeline {
	if client == nil {
		client = http.DefaultClient
	}
	p := &Pipeline{
		client:   client,
		recorder: recorder,
		counters: c,
		sources:  func() []Source { return SourcesFromConfig(config.GetConfig()) },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunCycle processes every source once, in order. A source failure is
// recorded in its SourceResult and the cycle moves on; only a store failure
// aborts the cycle. The summed new-entry count is added to the OSINT total.
func (p *Pipeline) RunCycle(ctx context.Context, reason string) (CycleReport, error) {
	report := CycleReport{Reason: reason, Started: time.Now().UTC()}
	seen := make(map[string]struct{})

	for _, src := range p.sources() {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		res, err := p.ingest(ctx, src, seen)
		if err != nil {
			return report, fmt.Errorf("feed %s: %w", src.Name, err)
		}
		report.Sources = append(report.Sources, res)
		report.New += int64(res.New)
		metrics.AddFeedResult(res.Name, res.Accepted, res.New, res.Failed())

		if res.Failed() {
			log.Warn("Feed source failed", "source", res.Name, "error", res.Err)
			continue
		}
		log.Info("Feed source processed",
			"source", res.Name,
			"accepted", humanize.Comma(int64(res.Accepted)),
			"new", humanize.Comma(int64(res.New)),
			"took", res.Took.Round(time.Millisecond),
		)
	}

	if err := p.counters.FeedCycleCompleted(ctx, report.New); err != nil {
		return report, fmt.Errorf("update osint counters: %w", err)
	}
	report.Finished = time.Now().UTC()

	if p.history != nil {
		if err := p.history.RecordFeedCycle(ctx, report); err != nil {
			log.Warn("Failed to record feed cycle history", "error", err)
		}
	}

	log.Info("Feed cycle completed",
		"reason", reason,
		"sources", len(report.Sources),
		"new", humanize.Comma(report.New),
		"took", humanize.RelTime(report.Started, report.Finished, "", ""),
	)
	return report, nil
}

// ingest fetches and records one source. The returned error is non-nil only
// for store failures; everything else is reported through SourceResult.Err.
func (p *Pipeline) ingest(ctx context.Context, src Source, seen map[string]struct{}) (SourceResult, error) {
	started := time.Now()
	res := SourceResult{Name: src.Name}

	candidates, err := p.fetch(ctx, src)
	if err != nil {
		res.Err = err
		res.Took = time.Since(started)
		return res, nil
	}

	for _, candidate := range candidates {
		if _, dup := seen[candidate]; dup {
			continue
		}
		seen[candidate] = struct{}{}

		created, err := p.recorder.Record(ctx, domain.SourceOSINT, candidate, src.Name)
		if errors.Is(err, observation.ErrInvalidAddress) {
			res.Rejected++
			continue
		}
		if err != nil {
			return res, err
		}
		res.Accepted++
		if created {
			res.New++
		}
	}

	res.Took = time.Since(started)
	return res, nil
}

func (p *Pipeline) fetch(ctx context.Context, src Source) ([]string, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	if config.IsHostBlocked(src.URL) {
		return nil, fmt.Errorf("%w: %s", ErrHostBlocked, src.URL)
	}

	timeout := src.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	candidates, err := Parse(src, io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return candidates, nil
}
