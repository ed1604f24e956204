package core

// validation.go checks import configurations and rows before anything is
// written.
//
// Validation happens at three levels:
//  1. Configuration: dataset, strategy and reference are checked at start
//  2. Header: required columns must be present in the located header row
//  3. Row: each cell is checked against its FieldSpec (type, format, enum)

import (
	"fmt"
	"strings"
)

// ValidationError represents a single validation error for a field.
type ValidationError struct {
	Field   string // Field/column name
	Value   string // The invalid value
	Message string // Human-readable error message
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// ValidationErrors is every problem found in one row.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

// ValidateConfig resolves the dataset named by cfg and checks that the rest
// of the configuration fits it.
func ValidateConfig(cfg ImportConfig) (Dataset, error) {
	if strings.TrimSpace(cfg.Dataset) == "" {
		return Dataset{}, &ConfigError{Field: "dataset", Reason: "is required"}
	}
	ds, ok := Get(cfg.Dataset)
	if !ok {
		return Dataset{}, &ConfigError{Field: "dataset", Reason: fmt.Sprintf("%q is unknown", cfg.Dataset)}
	}
	if !cfg.Strategy.Valid() {
		return Dataset{}, &ConfigError{Field: "strategy", Reason: fmt.Sprintf("%q is not one of insert, upsert, replace", cfg.Strategy)}
	}
	if ds.ReferenceField == "" {
		return ds, nil
	}
	if cfg.Reference == "" {
		return Dataset{}, &ConfigError{Field: "reference", Reason: "is required for " + ds.Info.Key}
	}
	if len(ds.Info.References) > 0 && !containsFold(ds.Info.References, cfg.Reference) {
		return Dataset{}, &ConfigError{
			Field:  "reference",
			Reason: fmt.Sprintf("must be one of: %s", strings.Join(ds.Info.References, ", ")),
		}
	}
	return ds, nil
}

// RowValidator validates rows against a dataset's field specifications.
type RowValidator struct {
	specs     []FieldSpec
	headerIdx HeaderIndex
}

// NewRowValidator creates a validator for the given specs and header index.
func NewRowValidator(specs []FieldSpec, headerIdx HeaderIndex) *RowValidator {
	return &RowValidator{
		specs:     specs,
		headerIdx: headerIdx,
	}
}

// ValidateRow validates a single CSV row and returns every problem, or nil.
func (v *RowValidator) ValidateRow(row []string) error {
	var errs ValidationErrors

	for _, spec := range v.specs {
		pos, ok := v.headerIdx[strings.ToLower(spec.Name)]
		if !ok || pos >= len(row) {
			if spec.Required {
				errs = append(errs, ValidationError{
					Field:   spec.Name,
					Message: "missing required column",
				})
			}
			continue
		}

		raw := CleanCell(row[pos])

		if raw == "" {
			if spec.Required && !spec.AllowEmpty {
				errs = append(errs, ValidationError{
					Field:   spec.Name,
					Message: "required field is empty",
				})
			}
			continue
		}

		if spec.Normalizer != nil {
			raw = spec.Normalizer(raw)
		}

		if err := ValidateCell(raw, spec); err != nil {
			errs = append(errs, ValidationError{
				Field:   spec.Name,
				Value:   raw,
				Message: err.Error(),
			})
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// ValidateCell validates a single cell value against a field specification.
// Empty values are valid; required-ness is checked by the row validator.
func ValidateCell(value string, spec FieldSpec) error {
	if value == "" {
		return nil
	}

	switch spec.Type {
	case FieldNumeric:
		if !ToPgNumeric(value).Valid {
			return fmt.Errorf("invalid number format")
		}
	case FieldDate:
		if !ToPgDate(value).Valid {
			return fmt.Errorf("invalid date format (use YYYY-MM-DD or similar)")
		}
	case FieldBool:
		if !ToPgBool(value).Valid {
			return fmt.Errorf("must be yes/no, true/false, or 1/0")
		}
	case FieldEnum:
		if len(spec.EnumValues) > 0 && !containsFold(spec.EnumValues, value) {
			return fmt.Errorf("invalid enum, must be one of: %s", strings.Join(spec.EnumValues, ", "))
		}
	}
	return nil
}

// ValidateHeaders validates that all required columns exist in the CSV headers.
// Returns a mapping from column name to index, or an error listing missing columns.
func ValidateHeaders(headers []string, specs []FieldSpec) (HeaderIndex, error) {
	idx := MakeHeaderIndex(headers)
	if missing := missingColumns(idx, specs); len(missing) > 0 {
		return nil, fmt.Errorf("missing required column: %s", strings.Join(missing, ", "))
	}
	return idx, nil
}

func missingColumns(idx HeaderIndex, specs []FieldSpec) []string {
	var missing []string
	for _, spec := range specs {
		if !spec.Required {
			continue
		}
		if _, ok := idx[strings.ToLower(spec.Name)]; !ok {
			missing = append(missing, spec.Name)
		}
	}
	return missing
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}
