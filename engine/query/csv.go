package query

import (
	"encoding/csv"
	"fmt"
	"sort"
	"strings"
	"time"
)

// EncodeCSV renders rows with alphabetized columns. The header covers the
// union of all row fields; missing cells stay empty.
func EncodeCSV(rows []map[string]any) (string, error) {
	if len(rows) == 0 {
		return "", fmt.Errorf("no results")
	}

	fieldSet := make(map[string]struct{})
	for _, row := range rows {
		for k := range row {
			fieldSet[k] = struct{}{}
		}
	}
	fields := make([]string, 0, len(fieldSet))
	for k := range fieldSet {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	var sb strings.Builder
	w := csv.NewWriter(&sb)
	if err := w.Write(fields); err != nil {
		return "", err
	}
	for _, row := range rows {
		record := make([]string, len(fields))
		for i, field := range fields {
			record[i] = csvCell(row[field])
		}
		if err := w.Write(record); err != nil {
			return "", err
		}
	}
	w.Flush()
	return sb.String(), w.Error()
}

func csvCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case time.Time:
		return t.UTC().Format("2006-01-02T15:04:05.999999-07:00")
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
