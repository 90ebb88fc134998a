package domain

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Canonical field names of the normalized schema.
const (
	FieldEntityName       = "entity_name"
	FieldBasinName        = "basin_name"
	FieldObservationDate  = "observation_date"
	FieldCapacityHM3      = "capacity_hm3"
	FieldCurrentVolumeHM3 = "current_volume_hm3"
	FieldPercentFull      = "percent_full"
	FieldHasHydropowerUse = "has_hydropower_use"
)

var canonicalFields = map[string]bool{
	FieldEntityName:       true,
	FieldBasinName:        true,
	FieldObservationDate:  true,
	FieldCapacityHM3:      true,
	FieldCurrentVolumeHM3: true,
	FieldPercentFull:      true,
	FieldHasHydropowerUse: true,
}

// Alias maps one canonical source header onto a canonical field.
type Alias struct {
	Source string `yaml:"source"`
	Field  string `yaml:"field"`
}

// DefaultAliases lists every header spelling seen across bulletin releases,
// most recent first. Order matters: the first alias present in a table wins.
func DefaultAliases() []Alias {
	return []Alias{
		{"EMBALSE_NOMBRE", FieldEntityName},
		{"EMBALSE", FieldEntityName},
		{"NOMBRE_EMBALSE", FieldEntityName},
		{"NOMBRE", FieldEntityName},

		{"AMBITO_NOMBRE", FieldBasinName},
		{"CUENCA", FieldBasinName},
		{"AMBITO", FieldBasinName},

		{"FECHA", FieldObservationDate},

		{"AGUA_TOTAL", FieldCapacityHM3},
		{"CAPACIDAD", FieldCapacityHM3},
		{"CAPACIDAD_TOTAL", FieldCapacityHM3},
		{"CAP_TOTAL", FieldCapacityHM3},

		{"AGUA_ACTUAL", FieldCurrentVolumeHM3},
		{"VOLUMEN", FieldCurrentVolumeHM3},

		{"PORCENTAJE", FieldPercentFull},
		{"PORC", FieldPercentFull},

		{"ELECTRICO_FLAG", FieldHasHydropowerUse},
	}
}

// fuzzyKeywords bind a field still unmapped after the alias pass to the
// first header containing one of the keywords.
var fuzzyKeywords = []struct {
	field    string
	keywords []string
}{
	{FieldObservationDate, []string{"FECHA", "DATE"}},
	{FieldBasinName, []string{"CUENCA"}},
}

// aliasFile is the on-disk shape of COLUMN_ALIASES_FILE.
type aliasFile struct {
	Aliases []Alias `yaml:"aliases"`
}

// LoadAliases reads extra aliases from a YAML file. Every alias must name
// a canonical field.
func LoadAliases(path string) ([]Alias, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read alias file: %w", err)
	}
	var f aliasFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode alias file %s: %w", path, err)
	}
	for i, a := range f.Aliases {
		if !canonicalFields[a.Field] {
			return nil, fmt.Errorf("alias %d (%q): unknown field %q", i, a.Source, a.Field)
		}
		if strings.TrimSpace(a.Source) == "" {
			return nil, fmt.Errorf("alias %d: empty source header", i)
		}
		f.Aliases[i].Source = CanonicalHeader(a.Source)
	}
	return f.Aliases, nil
}

// ColumnBinding is the result of resolving a table's headers: canonical
// field to verbatim source header, plus the headers left unmapped.
type ColumnBinding struct {
	Fields   map[string]string
	Unmapped []string
}

// Resolve binds headers to canonical fields. Aliases are evaluated in order
// and the first present alias wins per field; fuzzy keywords fill the gaps.
// Headers that canonicalize to the same name keep only the first.
func Resolve(aliases []Alias, headers []string) ColumnBinding {
	byCanonical := make(map[string]string, len(headers))
	order := make([]string, 0, len(headers))
	for _, h := range headers {
		c := CanonicalHeader(h)
		if c == "" {
			continue
		}
		if _, dup := byCanonical[c]; dup {
			continue
		}
		byCanonical[c] = h
		order = append(order, c)
	}

	fields := make(map[string]string)
	used := make(map[string]bool)
	for _, a := range aliases {
		if _, bound := fields[a.Field]; bound {
			continue
		}
		if h, ok := byCanonical[a.Source]; ok && !used[a.Source] {
			fields[a.Field] = h
			used[a.Source] = true
		}
	}

	for _, fk := range fuzzyKeywords {
		if _, bound := fields[fk.field]; bound {
			continue
		}
	search:
		for _, c := range order {
			if used[c] {
				continue
			}
			for _, kw := range fk.keywords {
				if strings.Contains(c, kw) {
					fields[fk.field] = byCanonical[c]
					used[c] = true
					break search
				}
			}
		}
	}

	var unmapped []string
	for _, c := range order {
		if !used[c] {
			unmapped = append(unmapped, byCanonical[c])
		}
	}
	return ColumnBinding{Fields: fields, Unmapped: unmapped}
}
