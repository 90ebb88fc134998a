package pipeline

import (
	"log/slog"

	"github.com/couchcryptid/reservoir-etl/internal/domain"
)

// RecordTransformer implements Transformer with the domain normalizer and
// logs how the source columns were bound.
type RecordTransformer struct {
	normalizer *domain.Normalizer
	logger     *slog.Logger
}

// NewTransformer creates a RecordTransformer. Alias overrides take
// precedence over the built-in column aliases.
func NewTransformer(logger *slog.Logger, overrides ...domain.Alias) *RecordTransformer {
	return &RecordTransformer{
		normalizer: domain.NewNormalizer(overrides...),
		logger:     logger,
	}
}

func (t *RecordTransformer) Transform(table domain.Table) []domain.NormalizedRecord {
	binding := t.normalizer.Binding(table.Headers)
	t.logger.Info("columns resolved",
		"table", table.Name,
		"bound", binding.Fields,
		"unmapped", binding.Unmapped,
	)
	for _, field := range []string{domain.FieldEntityName, domain.FieldObservationDate} {
		if _, ok := binding.Fields[field]; !ok {
			t.logger.Warn("required column not found, rows will be dropped", "field", field, "headers", table.Headers)
		}
	}
	return t.normalizer.Normalize(table)
}
