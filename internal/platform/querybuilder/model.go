package querybuilder

import (
	"errors"
	"reflect"
	"strings"
)

// InsertModel builds a single-row insert from a struct's db tags.
func InsertModel(table string, model any, suffix string) (string, []any, error) {
	cols, vals, err := modelColumns(model)
	if err != nil {
		return "", nil, err
	}
	return InsertInto(table).Columns(cols...).Values(vals...).Suffix(suffix).ToSQL()
}

// UpsertModel builds an insert that, on conflict over conflictCols, overwrites
// every other column except those listed in keep.
func UpsertModel(table string, model any, conflictCols []string, keep ...string) (string, []any, error) {
	if len(conflictCols) == 0 {
		return "", nil, errors.New("upsert conflict columns are required")
	}
	cols, vals, err := modelColumns(model)
	if err != nil {
		return "", nil, err
	}

	skip := make(map[string]struct{}, len(conflictCols)+len(keep))
	for _, c := range conflictCols {
		skip[c] = struct{}{}
	}
	for _, c := range keep {
		skip[c] = struct{}{}
	}

	updates := make([]string, 0, len(cols))
	for _, c := range cols {
		if _, ok := skip[c]; ok {
			continue
		}
		updates = append(updates, c+" = EXCLUDED."+c)
	}

	suffix := "ON CONFLICT (" + strings.Join(conflictCols, ", ") + ") DO NOTHING"
	if len(updates) > 0 {
		suffix = "ON CONFLICT (" + strings.Join(conflictCols, ", ") + ") DO UPDATE SET " + strings.Join(updates, ", ")
	}
	return InsertInto(table).Columns(cols...).Values(vals...).Suffix(suffix).ToSQL()
}

func modelColumns(model any) ([]string, []any, error) {
	value := reflect.ValueOf(model)
	for value.Kind() == reflect.Pointer {
		if value.IsNil() {
			return nil, nil, errors.New("model cannot be nil")
		}
		value = value.Elem()
	}
	if value.Kind() != reflect.Struct {
		return nil, nil, errors.New("model must be struct")
	}

	typ := value.Type()
	cols := make([]string, 0, typ.NumField())
	vals := make([]any, 0, typ.NumField())
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}
		col, _, _ := strings.Cut(field.Tag.Get("db"), ",")
		col = strings.TrimSpace(col)
		if col == "" || col == "-" {
			continue
		}
		cols = append(cols, col)
		vals = append(vals, value.Field(i).Interface())
	}
	if len(cols) == 0 {
		return nil, nil, errors.New("model has no db columns")
	}
	return cols, vals, nil
}
