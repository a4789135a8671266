package stages

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jdziat/extractq/pkg/core"
	"github.com/jdziat/extractq/pkg/jobctx"
)

// Stage names of the tabular pipeline, in order.
const (
	FileProcessing = "file_processing"
	Extraction     = "extraction"
	Validation     = "validation"
	Finalization   = "finalization"
	Storage        = "storage"
)

// DefaultMaxRows bounds the rows read from one upload.
const DefaultMaxRows = 100_000

// ErrUnsupportedInput is returned for uploads the tabular stages cannot read.
var ErrUnsupportedInput = errors.New("stages: unsupported input")

// Table is a parsed table: a header and its rows.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Record is one row keyed by column name.
type Record = map[string]any

// Result is the final extraction result of one job.
type Result struct {
	Tables []ResultTable `json:"tables"`
}

// ResultTable is one extracted table.
type ResultTable struct {
	Columns []string `json:"columns"`
	Records []Record `json:"records"`
}

// TabularOption configures the tabular stages.
type TabularOption interface {
	applyTabular(*tabularConfig)
}

type tabularOptionFunc func(*tabularConfig)

func (f tabularOptionFunc) applyTabular(c *tabularConfig) { f(c) }

type tabularConfig struct {
	schema       map[string]any
	maxRows      int
	inferNumbers bool
	sheetPrefix  string
}

// RecordSchema validates every record against a JSON schema instead of the
// default, which only requires the extracted columns to be present.
func RecordSchema(schema map[string]any) TabularOption {
	return tabularOptionFunc(func(c *tabularConfig) {
		c.schema = schema
	})
}

// MaxRows bounds the number of data rows accepted per upload.
func MaxRows(n int) TabularOption {
	return tabularOptionFunc(func(c *tabularConfig) {
		if n > 0 {
			c.maxRows = n
		}
	})
}

// InferNumbers controls whether numeric cells become JSON numbers.
// Enabled by default.
func InferNumbers(enabled bool) TabularOption {
	return tabularOptionFunc(func(c *tabularConfig) {
		c.inferNumbers = enabled
	})
}

// SheetPrefix sets the worksheet name prefix of Excel output.
func SheetPrefix(prefix string) TabularOption {
	return tabularOptionFunc(func(c *tabularConfig) {
		if prefix != "" {
			c.sheetPrefix = prefix
		}
	})
}

// Tabular returns the five stages that extract tables from a CSV upload
// and store the result in artifacts.
func Tabular(artifacts core.ArtifactStore, opts ...TabularOption) []core.Stage {
	cfg := tabularConfig{
		maxRows:      DefaultMaxRows,
		inferNumbers: true,
		sheetPrefix:  "Table",
	}
	for _, opt := range opts {
		opt.applyTabular(&cfg)
	}

	t := &tabular{config: cfg, artifacts: artifacts}
	return []core.Stage{
		NewFunc(FileProcessing, t.parse),
		NewFunc(Extraction, t.extract),
		NewFunc(Validation, t.validate),
		NewFunc(Finalization, t.finalize),
		NewFunc(Storage, t.store),
	}
}

type tabular struct {
	config    tabularConfig
	artifacts core.ArtifactStore
}

var tableSeparator = regexp.MustCompile(`\r?\n[ \t]*\r?\n`)

func (t *tabular) parse(ctx context.Context, sc *core.StageContext) (core.StageResult, error) {
	job := sc.Job
	if job.InputType != "" && job.InputType != core.InputTable {
		return core.StageResult{}, core.NoRetry(fmt.Errorf("%w: %s documents are not tabular", ErrUnsupportedInput, job.InputType))
	}

	data := bytes.TrimPrefix(job.Input, []byte("\xef\xbb\xbf"))
	parts := [][]byte{data}
	if job.MultipleTables {
		parts = nil
		for _, p := range tableSeparator.Split(string(data), -1) {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, []byte(p))
			}
		}
	}

	var tables []Table
	rows := 0
	for i, part := range parts {
		table, err := readTable(part)
		if err != nil {
			return core.StageResult{}, core.NoRetry(fmt.Errorf("table %d: %w", i+1, err))
		}
		rows += len(table.Rows)
		if rows > t.config.maxRows {
			return core.StageResult{}, core.NoRetry(fmt.Errorf("%w: more than %d rows", ErrUnsupportedInput, t.config.maxRows))
		}
		tables = append(tables, table)
	}
	if len(tables) == 0 {
		return core.StageResult{}, core.NoRetry(fmt.Errorf("%w: no table found", ErrUnsupportedInput))
	}
	jobctx.Logger(ctx).Debug("upload parsed", "tables", len(tables), "rows", rows)

	return core.StageResult{
		Message: fmt.Sprintf("Read %d rows from %s", rows, job.InputFilename),
		Output:  tables,
	}, nil
}

func readTable(data []byte) (Table, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = 0

	records, err := r.ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("%w: %v", ErrUnsupportedInput, err)
	}
	if len(records) == 0 {
		return Table{}, fmt.Errorf("%w: missing header row", ErrUnsupportedInput)
	}

	header := make([]string, len(records[0]))
	seen := make(map[string]bool, len(header))
	for i, h := range records[0] {
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		if seen[h] {
			return Table{}, fmt.Errorf("%w: duplicate column %q", ErrUnsupportedInput, h)
		}
		seen[h] = true
		header[i] = h
	}
	return Table{Columns: header, Rows: records[1:]}, nil
}

func (t *tabular) extract(_ context.Context, sc *core.StageContext) (core.StageResult, error) {
	tables, ok := core.OutputAs[[]Table](sc, FileProcessing)
	if !ok {
		return core.StageResult{}, core.NoRetry(errors.New("no parsed tables"))
	}

	wanted := sc.Job.RequestedColumns()
	if len(wanted) == 0 {
		return core.StageResult{Message: "Extracted all columns", Output: tables}, nil
	}

	out := make([]Table, 0, len(tables))
	for ti, table := range tables {
		index := make(map[string]int, len(table.Columns))
		for i, c := range table.Columns {
			index[strings.ToLower(c)] = i
		}

		positions := make([]int, len(wanted))
		for i, w := range wanted {
			pos, ok := index[strings.ToLower(w)]
			if !ok {
				return core.StageResult{}, core.NoRetry(fmt.Errorf("table %d: column %q not found", ti+1, w))
			}
			positions[i] = pos
		}

		projected := Table{Columns: append([]string(nil), wanted...), Rows: make([][]string, len(table.Rows))}
		for r, row := range table.Rows {
			cells := make([]string, len(positions))
			for i, pos := range positions {
				cells[i] = row[pos]
			}
			projected.Rows[r] = cells
		}
		out = append(out, projected)
	}

	return core.StageResult{
		Message: fmt.Sprintf("Extracted %d columns", len(wanted)),
		Output:  out,
	}, nil
}

func (t *tabular) validate(_ context.Context, sc *core.StageContext) (core.StageResult, error) {
	tables, ok := core.OutputAs[[]Table](sc, Extraction)
	if !ok {
		return core.StageResult{}, core.NoRetry(errors.New("no extracted tables"))
	}

	result := make([]ResultTable, 0, len(tables))
	count := 0
	for ti, table := range tables {
		schema, err := compileSchema(t.recordSchema(table.Columns))
		if err != nil {
			return core.StageResult{}, core.NoRetry(err)
		}

		records := make([]Record, len(table.Rows))
		for r, row := range table.Rows {
			rec := t.toRecord(table.Columns, row)
			if err := schema.Validate(rec); err != nil {
				return core.StageResult{}, core.NoRetry(fmt.Errorf("table %d row %d does not match schema: %w", ti+1, r+1, err))
			}
			records[r] = rec
		}
		count += len(records)
		result = append(result, ResultTable{Columns: table.Columns, Records: records})
	}

	return core.StageResult{
		Message: fmt.Sprintf("Validated %d records", count),
		Output:  result,
	}, nil
}

func (t *tabular) recordSchema(columns []string) map[string]any {
	if t.config.schema != nil {
		return t.config.schema
	}
	props := make(map[string]any, len(columns))
	required := make([]any, len(columns))
	for i, c := range columns {
		props[c] = map[string]any{"type": []any{"string", "number", "null"}}
		required[i] = c
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func (t *tabular) toRecord(columns, row []string) Record {
	rec := make(Record, len(columns))
	for i, c := range columns {
		cell := strings.TrimSpace(row[i])
		switch {
		case cell == "":
			rec[c] = nil
		case t.config.inferNumbers:
			if f, err := strconv.ParseFloat(cell, 64); err == nil {
				rec[c] = f
				continue
			}
			rec[c] = cell
		default:
			rec[c] = cell
		}
	}
	return rec
}

func compileSchema(schema map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("record.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	compiled, err := compiler.Compile("record.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

func (t *tabular) finalize(_ context.Context, sc *core.StageContext) (core.StageResult, error) {
	tables, ok := core.OutputAs[[]ResultTable](sc, Validation)
	if !ok {
		return core.StageResult{}, core.NoRetry(errors.New("no validated tables"))
	}

	result := Result{Tables: tables}
	if !sc.Job.MultipleTables && len(tables) > 1 {
		result.Tables = tables[:1]
	}
	return core.StageResult{
		Message: fmt.Sprintf("Assembled %d tables", len(result.Tables)),
		Output:  result,
	}, nil
}
