package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/reservoir-etl/internal/domain"
	"github.com/couchcryptid/reservoir-etl/internal/observability"
	"github.com/couchcryptid/reservoir-etl/internal/pipeline"
)

// --- mocks ---

type mockLocator struct{ url string }

func (m *mockLocator) Locate(_ context.Context) string { return m.url }

type mockFetcher struct {
	data    []byte
	err     error
	block   chan struct{} // when set, Fetch waits until it is closed
	started chan struct{}
}

func (m *mockFetcher) Fetch(ctx context.Context, _ string) ([]byte, error) {
	if m.started != nil {
		close(m.started)
	}
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.data, m.err
}

type mockExtractor struct {
	payload domain.Payload
	err     error
}

func (m *mockExtractor) Extract(_ []byte) (domain.Payload, error) { return m.payload, m.err }

type mockParser struct {
	table domain.Table
	err   error
}

func (m *mockParser) Parse(_ context.Context, _ domain.Payload) (domain.Table, error) {
	return m.table, m.err
}

type mockStore struct {
	mu        sync.Mutex
	committed [][]domain.NormalizedRecord
	meta      domain.UpdateMetadata
	err       error
}

func (m *mockStore) Commit(_ context.Context, records []domain.NormalizedRecord) (domain.UpdateMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.UpdateMetadata{}, m.err
	}
	m.committed = append(m.committed, records)
	kept, _ := domain.Persistable(records)
	m.meta = domain.UpdateMetadata{LastUpdatedAt: time.Date(2024, 2, 1, 6, 30, 0, 0, time.UTC), TotalRecords: len(kept)}
	return m.meta, nil
}

func (m *mockStore) Metadata(_ context.Context) (domain.UpdateMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.committed) == 0 {
		return domain.UpdateMetadata{}, domain.ErrNoSnapshot
	}
	return m.meta, nil
}

type mockNotifier struct {
	events []domain.SnapshotCommitted
	err    error
}

func (m *mockNotifier) Notify(_ context.Context, event domain.SnapshotCommitted) error {
	m.events = append(m.events, event)
	return m.err
}

// --- helpers ---

const testURL = "https://example.test/BD-Embalses.zip"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleTable() domain.Table {
	return domain.Table{
		Name:    "Sheet1",
		Headers: []string{"EMBALSE_NOMBRE", "AMBITO_NOMBRE", "FECHA", "AGUA_TOTAL", "AGUA_ACTUAL"},
		Rows: []domain.RawRow{
			{"EMBALSE_NOMBRE": "Alarcón", "AMBITO_NOMBRE": "Júcar", "FECHA": "2024-01-29", "AGUA_TOTAL": "200", "AGUA_ACTUAL": "91,00"},
			{"EMBALSE_NOMBRE": "Buendía", "AMBITO_NOMBRE": "Tajo", "FECHA": "2024-01-29", "AGUA_TOTAL": "0", "AGUA_ACTUAL": "n/a"},
			{"EMBALSE_NOMBRE": "Sin Fecha", "AMBITO_NOMBRE": "Tajo", "FECHA": "pronto", "AGUA_TOTAL": "10", "AGUA_ACTUAL": "1"},
		},
	}
}

type harness struct {
	fetcher   *mockFetcher
	extractor *mockExtractor
	parser    *mockParser
	store     *mockStore
	notifier  *mockNotifier
	metrics   *observability.Metrics
	pipeline  *pipeline.Pipeline
}

func newHarness() *harness {
	h := &harness{
		fetcher:   &mockFetcher{data: []byte("zip")},
		extractor: &mockExtractor{payload: domain.Payload{Name: "BD-Embalses.xlsx", Kind: domain.KindSpreadsheet}},
		parser:    &mockParser{table: sampleTable()},
		store:     &mockStore{},
		notifier:  &mockNotifier{},
		metrics:   observability.NewMetricsForTesting(),
	}
	h.pipeline = pipeline.New(pipeline.Stages{
		Locator:     &mockLocator{url: testURL},
		Fetcher:     h.fetcher,
		Extractor:   h.extractor,
		Parser:      h.parser,
		Transformer: pipeline.NewTransformer(discardLogger()),
		Store:       h.store,
		Notifier:    h.notifier,
	}, discardLogger(), h.metrics)
	return h
}

// --- tests ---

func TestPipeline_RunOnce_HappyPath(t *testing.T) {
	h := newHarness()

	res, err := h.pipeline.RunOnce(context.Background())
	require.NoError(t, err)

	_, err = uuid.Parse(res.RunID)
	require.NoError(t, err, "run id should be a uuid")
	assert.Equal(t, testURL, res.SourceURL)
	assert.Equal(t, "BD-Embalses.xlsx", res.Payload)
	assert.Equal(t, domain.KindSpreadsheet, res.Kind)
	assert.Equal(t, 3, res.RowsParsed)
	assert.Equal(t, 1, res.RecordsDropped)
	assert.Equal(t, 2, res.Metadata.TotalRecords)

	require.Len(t, h.store.committed, 1)
	records := h.store.committed[0]
	require.Len(t, records, 3)
	assert.Equal(t, 91.0, *records[0].CurrentVolumeHM3)
	assert.Equal(t, 45.5, *records[0].PercentFull)
	assert.Nil(t, records[1].CurrentVolumeHM3)
	assert.Nil(t, records[1].PercentFull)
	assert.False(t, records[2].HasValidDate())

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RunsTotal.WithLabelValues("success")))
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.RowsParsed))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.RecordsCommitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RecordsDropped))
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.ArchiveBytes))
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.PipelineRunning))

	require.Len(t, h.notifier.events, 1)
	want := domain.SnapshotCommitted{
		RunID:          res.RunID,
		SourceURL:      testURL,
		PayloadName:    "BD-Embalses.xlsx",
		PayloadKind:    domain.KindSpreadsheet,
		RowsParsed:     3,
		RecordsDropped: 1,
		TotalRecords:   2,
		LastUpdatedAt:  res.Metadata.LastUpdatedAt,
	}
	if diff := cmp.Diff(want, h.notifier.events[0]); diff != "" {
		t.Errorf("event mismatch (-want +got):\n%s", diff)
	}
}

func TestPipeline_RunOnce_StageFailuresAbortBeforeCommit(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(h *harness)
		wantStage string
	}{
		{
			name:      "fetch",
			setup:     func(h *harness) { h.fetcher.err = &domain.FetchError{URL: testURL, StatusCode: 503, Err: errors.New("unavailable")} },
			wantStage: "fetch",
		},
		{
			name:      "unsupported format",
			setup:     func(h *harness) { h.extractor.err = &domain.UnsupportedFormatError{Entries: []string{"notes.pdf"}} },
			wantStage: "extract",
		},
		{
			name:      "tooling unavailable",
			setup:     func(h *harness) { h.parser.err = &domain.ToolingUnavailableError{Tool: "mdb-export", Guidance: "install mdbtools"} },
			wantStage: "parse",
		},
		{
			name:      "parse",
			setup:     func(h *harness) { h.parser.err = &domain.ParseError{Kind: domain.KindSpreadsheet, Err: errors.New("corrupt")} },
			wantStage: "parse",
		},
		{
			name:      "commit",
			setup:     func(h *harness) { h.store.err = &domain.CommitError{Op: "swap", Err: errors.New("locked")} },
			wantStage: "commit",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			tt.setup(h)

			_, err := h.pipeline.RunOnce(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.wantStage, domain.Stage(err))

			assert.Empty(t, h.store.committed)
			assert.Empty(t, h.notifier.events)
			assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RunsTotal.WithLabelValues(tt.wantStage)))
			assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.RunsTotal.WithLabelValues("success")))
		})
	}
}

func TestPipeline_RunOnce_NothingStorableAbortsBeforeCommit(t *testing.T) {
	tests := []struct {
		name      string
		headers   []string
		row       domain.RawRow
		wantField string
	}{
		{
			name:      "date column renamed",
			headers:   []string{"EMBALSE_NOMBRE", "DIA_MEDICION", "AGUA_TOTAL", "AGUA_ACTUAL"},
			row:       domain.RawRow{"EMBALSE_NOMBRE": "Alarcón", "DIA_MEDICION": "2024-01-29", "AGUA_TOTAL": "200", "AGUA_ACTUAL": "91"},
			wantField: domain.FieldObservationDate,
		},
		{
			name:      "entity column renamed",
			headers:   []string{"PRESA", "FECHA", "AGUA_TOTAL", "AGUA_ACTUAL"},
			row:       domain.RawRow{"PRESA": "Alarcón", "FECHA": "2024-01-29", "AGUA_TOTAL": "200", "AGUA_ACTUAL": "91"},
			wantField: domain.FieldEntityName,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.parser.table = domain.Table{Name: "Sheet1", Headers: tt.headers, Rows: []domain.RawRow{tt.row, tt.row}}

			res, err := h.pipeline.RunOnce(context.Background())
			var parseErr *domain.ParseError
			require.ErrorAs(t, err, &parseErr)
			require.ErrorIs(t, err, domain.ErrNoStorableRecords)
			assert.Contains(t, err.Error(), tt.wantField)
			assert.Equal(t, "parse", domain.Stage(err))
			assert.Equal(t, 2, res.RecordsDropped)

			assert.Empty(t, h.store.committed)
			assert.Empty(t, h.notifier.events)
			assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RunsTotal.WithLabelValues("parse")))
			assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.RecordsDropped))
		})
	}
}

func TestPipeline_RunOnce_DroppedGaugeTracksLatestRun(t *testing.T) {
	h := newHarness()

	_, err := h.pipeline.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RecordsDropped))

	clean := sampleTable()
	clean.Rows = clean.Rows[:2]
	h.parser.table = clean

	res, err := h.pipeline.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.RecordsDropped)
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.RecordsDropped))
}

func TestPipeline_RunOnce_NotifyFailureIsNotFatal(t *testing.T) {
	h := newHarness()
	h.notifier.err = errors.New("broker down")

	_, err := h.pipeline.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, h.store.committed, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.NotifyErrors))
}

func TestPipeline_RunOnce_RefusesOverlap(t *testing.T) {
	h := newHarness()
	h.fetcher.block = make(chan struct{})
	h.fetcher.started = make(chan struct{})

	errCh := make(chan error, 1)
	go func() {
		_, err := h.pipeline.RunOnce(context.Background())
		errCh <- err
	}()

	<-h.fetcher.started
	_, err := h.pipeline.RunOnce(context.Background())
	require.ErrorIs(t, err, domain.ErrRunInProgress)

	close(h.fetcher.block)
	require.NoError(t, <-errCh)
	assert.Len(t, h.store.committed, 1)

	// the guard is released once the run finishes
	h.fetcher.block = nil
	h.fetcher.started = nil
	_, err = h.pipeline.RunOnce(context.Background())
	require.NoError(t, err)
}

func TestPipeline_CheckReadiness(t *testing.T) {
	h := newHarness()

	err := h.pipeline.CheckReadiness(context.Background())
	require.ErrorIs(t, err, domain.ErrNoSnapshot)

	_, err = h.pipeline.RunOnce(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.pipeline.CheckReadiness(context.Background()))
}

func TestPipeline_WithoutNotifier(t *testing.T) {
	h := newHarness()
	p := pipeline.New(pipeline.Stages{
		Locator:     &mockLocator{url: testURL},
		Fetcher:     h.fetcher,
		Extractor:   h.extractor,
		Parser:      h.parser,
		Transformer: pipeline.NewTransformer(discardLogger()),
		Store:       h.store,
	}, discardLogger(), h.metrics)

	_, err := p.RunOnce(context.Background())
	require.NoError(t, err)
}

func TestRecordTransformer_AliasOverride(t *testing.T) {
	table := domain.Table{
		Headers: []string{"PANTANO", "DIA", "CAPACIDAD"},
		Rows:    []domain.RawRow{{"PANTANO": "Alarcón", "DIA": "2024-01-29", "CAPACIDAD": "1112"}},
	}
	tfm := pipeline.NewTransformer(discardLogger(),
		domain.Alias{Source: "PANTANO", Field: domain.FieldEntityName},
		domain.Alias{Source: "DIA", Field: domain.FieldObservationDate},
	)

	records := tfm.Transform(table)
	require.Len(t, records, 1)
	assert.Equal(t, "Alarcón", records[0].EntityName)
	assert.Equal(t, "2024-01-29", records[0].ObservationDate)
	assert.Equal(t, 1112.0, *records[0].CapacityHM3)
}
