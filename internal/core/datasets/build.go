package datasets

import (
	"fmt"

	"github.com/JonMunkholm/bulkimport/internal/core"
)

// recordBuilder converts a validated row into a core.Record. Every field is
// normalized and converted to the pgtype matching its FieldType.
func recordBuilder(specs []core.FieldSpec, keyColumn string) core.BuildRecordFunc {
	return func(row []string, idx core.HeaderIndex) (core.Record, error) {
		rec := core.Record{Values: make(map[string]any, len(specs))}
		for _, spec := range specs {
			raw := core.Cell(row, idx, spec.Name)
			if raw != "" && spec.Normalizer != nil {
				raw = spec.Normalizer(raw)
			}
			rec.Values[spec.Column()] = convert(raw, spec.Type)
			if spec.Name == keyColumn {
				rec.Key = raw
			}
		}
		if rec.Key == "" {
			return core.Record{}, fmt.Errorf("%s: required field is empty", keyColumn)
		}
		return rec, nil
	}
}

func convert(raw string, t core.FieldType) any {
	switch t {
	case core.FieldNumeric:
		return core.ToPgNumeric(raw)
	case core.FieldDate:
		return core.ToPgDate(raw)
	case core.FieldBool:
		return core.ToPgBool(raw)
	default:
		return core.ToPgText(raw)
	}
}
