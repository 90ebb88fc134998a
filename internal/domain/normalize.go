package domain

// Normalizer maps parsed tables onto the canonical record schema.
type Normalizer struct {
	aliases []Alias
}

// NewNormalizer creates a Normalizer. Overrides are evaluated before the
// default aliases, so they win when both match a table.
func NewNormalizer(overrides ...Alias) *Normalizer {
	aliases := make([]Alias, 0, len(overrides)+len(DefaultAliases()))
	aliases = append(aliases, overrides...)
	aliases = append(aliases, DefaultAliases()...)
	return &Normalizer{aliases: aliases}
}

// Normalize converts every row of the table. It never fails: malformed
// cells become nulls and unparseable dates leave ObservationDate empty so
// the store can exclude the row.
func (n *Normalizer) Normalize(table Table) []NormalizedRecord {
	binding := Resolve(n.aliases, table.Headers)
	records := make([]NormalizedRecord, 0, len(table.Rows))
	for _, row := range table.Rows {
		records = append(records, normalizeRow(row, binding))
	}
	return records
}

// Binding exposes the column resolution for a header set, for logging.
func (n *Normalizer) Binding(headers []string) ColumnBinding {
	return Resolve(n.aliases, headers)
}

func normalizeRow(row RawRow, b ColumnBinding) NormalizedRecord {
	cell := func(field string) string {
		h, ok := b.Fields[field]
		if !ok {
			return ""
		}
		return row[h]
	}

	rec := NormalizedRecord{
		BasinName:        stringPtr(cell(FieldBasinName)),
		ObservationDate:  ParseDate(cell(FieldObservationDate)),
		CapacityHM3:      ParseNumber(cell(FieldCapacityHM3)),
		CurrentVolumeHM3: ParseNumber(cell(FieldCurrentVolumeHM3)),
		PercentFull:      ParseNumber(cell(FieldPercentFull)),
		HasHydropowerUse: ParseFlag(cell(FieldHasHydropowerUse)),
	}
	if name := stringPtr(cell(FieldEntityName)); name != nil {
		rec.EntityName = *name
	}
	if rec.PercentFull == nil {
		rec.PercentFull = PercentFull(rec.CapacityHM3, rec.CurrentVolumeHM3)
	}

	for _, h := range b.Unmapped {
		v := row[h]
		if v == "" {
			continue
		}
		if rec.Extra == nil {
			rec.Extra = make(map[string]string)
		}
		rec.Extra[CanonicalHeader(h)] = v
	}
	return rec
}
