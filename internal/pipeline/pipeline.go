package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/reservoir-etl/internal/domain"
	"github.com/couchcryptid/reservoir-etl/internal/observability"
)

// Locator resolves the archive URL. It never fails; on error it falls back.
type Locator interface {
	Locate(ctx context.Context) string
}

// Fetcher downloads the archive bytes.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Extractor pulls the tabular payload out of the archive.
type Extractor interface {
	Extract(data []byte) (domain.Payload, error)
}

// Parser reads a payload into a table.
type Parser interface {
	Parse(ctx context.Context, payload domain.Payload) (domain.Table, error)
}

// Transformer maps a table onto canonical records.
type Transformer interface {
	Transform(table domain.Table) []domain.NormalizedRecord
}

// Store persists snapshots and reports the last commit.
type Store interface {
	Commit(ctx context.Context, records []domain.NormalizedRecord) (domain.UpdateMetadata, error)
	Metadata(ctx context.Context) (domain.UpdateMetadata, error)
}

// Notifier announces a committed snapshot. Failures do not fail the run.
type Notifier interface {
	Notify(ctx context.Context, event domain.SnapshotCommitted) error
}

// Stages groups the collaborators of a run.
type Stages struct {
	Locator     Locator
	Fetcher     Fetcher
	Extractor   Extractor
	Parser      Parser
	Transformer Transformer
	Store       Store
	Notifier    Notifier // optional
}

// Result summarizes a successful run.
type Result struct {
	RunID          string
	SourceURL      string
	Payload        string
	Kind           domain.PayloadKind
	RowsParsed     int
	RecordsDropped int
	Metadata       domain.UpdateMetadata
}

// Pipeline runs the locate, fetch, extract, parse, normalize and commit
// stages in order. Any stage error aborts the run before the store is touched.
type Pipeline struct {
	stages  Stages
	logger  *slog.Logger
	metrics *observability.Metrics
	running atomic.Bool
}

// New creates a Pipeline with the given stages and observability.
func New(stages Stages, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		stages:  stages,
		logger:  logger,
		metrics: metrics,
	}
}

// CheckReadiness returns nil once a snapshot has been committed.
func (p *Pipeline) CheckReadiness(ctx context.Context) error {
	if _, err := p.stages.Store.Metadata(ctx); err != nil {
		return fmt.Errorf("check store: %w", err)
	}
	return nil
}

// RunOnce executes one ingestion run. It returns domain.ErrRunInProgress if
// another run is in flight.
func (p *Pipeline) RunOnce(ctx context.Context) (Result, error) {
	if !p.running.CompareAndSwap(false, true) {
		return Result{}, domain.ErrRunInProgress
	}
	defer p.running.Store(false)

	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	res := Result{RunID: uuid.NewString()}
	logger := p.logger.With("run_id", res.RunID)
	start := time.Now()
	logger.Info("pipeline run started")

	if err := p.run(ctx, logger, &res); err != nil {
		stage := domain.Stage(err)
		p.metrics.RunsTotal.WithLabelValues(stage).Inc()
		logger.Error("pipeline run failed", "stage", stage, "error", err, "duration", time.Since(start))
		return res, err
	}

	p.metrics.RunsTotal.WithLabelValues("success").Inc()
	p.metrics.LastSuccessTimestamp.Set(float64(res.Metadata.LastUpdatedAt.Unix()))
	logger.Info("pipeline run completed",
		"records", res.Metadata.TotalRecords,
		"dropped", res.RecordsDropped,
		"duration", time.Since(start),
	)

	p.notify(ctx, logger, res)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger, res *Result) error {
	s := p.stages

	done := p.timeStage("locate")
	res.SourceURL = s.Locator.Locate(ctx)
	done()
	logger.Info("archive located", "url", res.SourceURL)

	done = p.timeStage("fetch")
	data, err := s.Fetcher.Fetch(ctx, res.SourceURL)
	done()
	if err != nil {
		return err
	}
	p.metrics.ArchiveBytes.Set(float64(len(data)))
	logger.Info("archive downloaded", "url", res.SourceURL, "bytes", len(data))

	done = p.timeStage("extract")
	payload, err := s.Extractor.Extract(data)
	done()
	if err != nil {
		return err
	}
	res.Payload, res.Kind = payload.Name, payload.Kind

	done = p.timeStage("parse")
	table, err := s.Parser.Parse(ctx, payload)
	done()
	if err != nil {
		return err
	}
	res.RowsParsed = len(table.Rows)
	p.metrics.RowsParsed.Set(float64(res.RowsParsed))

	done = p.timeStage("normalize")
	records := s.Transformer.Transform(table)
	done()
	kept, dropped := domain.Persistable(records)
	res.RecordsDropped = dropped
	p.metrics.RecordsDropped.Set(float64(dropped))
	if len(kept) == 0 {
		return &domain.ParseError{Kind: payload.Kind, Name: payload.Name, Err: noStorableRecords(records)}
	}
	if dropped > 0 {
		logger.Warn("records without entity or valid date will not be stored", "dropped", dropped)
	}

	done = p.timeStage("commit")
	meta, err := s.Store.Commit(ctx, records)
	done()
	if err != nil {
		return err
	}
	res.Metadata = meta
	p.metrics.RecordsCommitted.Set(float64(meta.TotalRecords))
	return nil
}

func noStorableRecords(records []domain.NormalizedRecord) error {
	if fields := domain.UnboundFields(records); len(fields) > 0 {
		return fmt.Errorf("%w: no row has a value for %s", domain.ErrNoStorableRecords, strings.Join(fields, ", "))
	}
	return fmt.Errorf("%w: none of %d rows has both an entity name and a valid date", domain.ErrNoStorableRecords, len(records))
}

func (p *Pipeline) notify(ctx context.Context, logger *slog.Logger, res Result) {
	if p.stages.Notifier == nil {
		return
	}
	err := p.stages.Notifier.Notify(ctx, domain.SnapshotCommitted{
		RunID:          res.RunID,
		SourceURL:      res.SourceURL,
		PayloadName:    res.Payload,
		PayloadKind:    res.Kind,
		RowsParsed:     res.RowsParsed,
		RecordsDropped: res.RecordsDropped,
		TotalRecords:   res.Metadata.TotalRecords,
		LastUpdatedAt:  res.Metadata.LastUpdatedAt,
	})
	if err != nil {
		p.metrics.NotifyErrors.Inc()
		logger.Warn("snapshot notification failed", "error", err)
	}
}

func (p *Pipeline) timeStage(stage string) func() {
	start := time.Now()
	return func() {
		p.metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}
