package stages

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/jdziat/extractq/pkg/core"
	"github.com/jdziat/extractq/pkg/jobctx"
)

// Content types of stored artifacts.
const (
	ContentTypeJSON  = "application/json"
	ContentTypeCSV   = "text/csv"
	ContentTypeExcel = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

func (t *tabular) store(ctx context.Context, sc *core.StageContext) (core.StageResult, error) {
	result, ok := core.OutputAs[Result](sc, Finalization)
	if !ok {
		return core.StageResult{}, core.NoRetry(errors.New("no final result"))
	}

	job := sc.Job
	data, contentType, ext, err := t.serialize(result, job.OutputFormat)
	if err != nil {
		return core.StageResult{}, core.NoRetry(err)
	}

	artifact := &core.Artifact{
		JobID:       job.ID,
		Filename:    artifactName(job.InputFilename, ext),
		ContentType: contentType,
		Data:        data,
	}
	if err := t.artifacts.SaveArtifact(ctx, artifact); err != nil {
		return core.StageResult{}, core.Transient(fmt.Errorf("save artifact: %w", err))
	}
	jobctx.Logger(ctx).Debug("artifact saved", "artifact_id", artifact.ID, "bytes", len(data))

	return core.StageResult{
		Message:  fmt.Sprintf("Saved %s (%d bytes)", artifact.Filename, len(data)),
		Output:   artifact.ID,
		Artifact: artifact.ID,
	}, nil
}

func (t *tabular) serialize(result Result, format core.OutputFormat) ([]byte, string, string, error) {
	switch format {
	case core.FormatCSV:
		data, err := encodeCSV(result)
		return data, ContentTypeCSV, ".csv", err
	case core.FormatExcel:
		data, err := t.encodeExcel(result)
		return data, ContentTypeExcel, ".xlsx", err
	case core.FormatJSON, "":
		data, err := json.Marshal(result)
		return data, ContentTypeJSON, ".json", err
	}
	return nil, "", "", fmt.Errorf("unknown output format %q", format)
}

// encodeCSV writes tables one after another, separated by an empty line.
func encodeCSV(result Result) ([]byte, error) {
	var buf bytes.Buffer
	for i, table := range result.Tables {
		if i > 0 {
			buf.WriteString("\n")
		}
		w := csv.NewWriter(&buf)
		if err := w.Write(table.Columns); err != nil {
			return nil, err
		}
		for _, rec := range table.Records {
			if err := w.Write(cells(table.Columns, rec)); err != nil {
				return nil, err
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, fmt.Errorf("csv write: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// encodeExcel writes one worksheet per table.
func (t *tabular) encodeExcel(result Result) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	for ti, table := range result.Tables {
		sheet := fmt.Sprintf("%s %d", t.config.sheetPrefix, ti+1)
		if ti == 0 {
			if err := f.SetSheetName("Sheet1", sheet); err != nil {
				return nil, err
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}

		for i, h := range table.Columns {
			cell, _ := excelize.CoordinatesToCellName(i+1, 1)
			_ = f.SetCellValue(sheet, cell, h)
		}
		for r, rec := range table.Records {
			for i, c := range table.Columns {
				if rec[c] == nil {
					continue
				}
				cell, _ := excelize.CoordinatesToCellName(i+1, r+2)
				_ = f.SetCellValue(sheet, cell, rec[c])
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func cells(columns []string, rec Record) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		switch v := rec[c].(type) {
		case nil:
		case float64:
			out[i] = strconv.FormatFloat(v, 'f', -1, 64)
		case string:
			out[i] = v
		default:
			out[i] = fmt.Sprint(v)
		}
	}
	return out
}

func artifactName(input, ext string) string {
	base := strings.TrimSuffix(input, filepath.Ext(input))
	if base == "" {
		base = "extraction"
	}
	return base + "_extracted" + ext
}
