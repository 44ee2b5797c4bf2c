// Package export writes the artifact of a hierarchical extraction: one CSV
// table of records plus per-record history documents and attachments.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/ajitpratap0/relay/pkg/connector/core"
	"github.com/ajitpratap0/relay/pkg/json"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// TableOptions controls column layout
type TableOptions struct {
	// PriorityFields lead the table in the given order
	PriorityFields []string
	// StepFields are the step attributes repeated per step group
	StepFields []string
}

// DefaultStepFields are used when no step fields are configured
var DefaultStepFields = []string{"name", "status", "description", "expected", "actual"}

// Table is an in-memory CSV table
type Table struct {
	Header []string
	Rows   [][]string
}

// BuildTable lays out records as rows. Columns are the priority fields,
// then every other field seen in any record sorted by name, then one group
// of step columns per step position ("Step 1 Name", "Step 1 Status", ...)
// up to the largest step count of any record.
func BuildTable(records []core.Record, resources map[string]*core.SubResources, opts TableOptions) *Table {
	stepFields := opts.StepFields
	if len(stepFields) == 0 {
		stepFields = DefaultStepFields
	}

	priority := make(map[string]struct{}, len(opts.PriorityFields))
	for _, f := range opts.PriorityFields {
		priority[f] = struct{}{}
	}

	dynamic := make(map[string]struct{})
	maxSteps := 0
	for _, rec := range records {
		for k := range rec {
			if _, ok := priority[k]; !ok {
				dynamic[k] = struct{}{}
			}
		}
		if res := resources[rec.ID()]; res != nil && len(res.Steps) > maxSteps {
			maxSteps = len(res.Steps)
		}
	}

	dynamicFields := make([]string, 0, len(dynamic))
	for k := range dynamic {
		dynamicFields = append(dynamicFields, k)
	}
	sort.Strings(dynamicFields)

	title := cases.Title(language.English)
	header := make([]string, 0, len(opts.PriorityFields)+len(dynamicFields)+maxSteps*len(stepFields))
	header = append(header, opts.PriorityFields...)
	header = append(header, dynamicFields...)
	for n := 1; n <= maxSteps; n++ {
		for _, f := range stepFields {
			header = append(header, "Step "+strconv.Itoa(n)+" "+title.String(f))
		}
	}

	fields := make([]string, 0, len(opts.PriorityFields)+len(dynamicFields))
	fields = append(fields, opts.PriorityFields...)
	fields = append(fields, dynamicFields...)

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		row := make([]string, 0, len(header))
		for _, f := range fields {
			row = append(row, Cell(rec[f]))
		}

		var steps []core.Record
		if res := resources[rec.ID()]; res != nil {
			steps = res.Steps
		}
		for n := 0; n < maxSteps; n++ {
			for _, f := range stepFields {
				if n < len(steps) {
					row = append(row, Cell(steps[n][f]))
				} else {
					row = append(row, "")
				}
			}
		}
		rows = append(rows, row)
	}

	return &Table{Header: header, Rows: rows}
}

// Cell formats one value for a CSV cell. Nested values are written as JSON.
func Cell(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]interface{}, []interface{}, core.Record:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	default:
		return fmt.Sprint(t)
	}
}

// WriteCSV writes the table to w
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}
