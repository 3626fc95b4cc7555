// Package excel reads competing phases and material records from spreadsheets
// and exports the rule catalog as a workbook.
package excel

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"gomatter/domain/material"
	"gomatter/internal"
	"gomatter/ports"
)

// Table is a header row plus trimmed cell values keyed by lowercased header
type Table struct {
	Headers []string
	Rows    []map[string]string
}

// DataReader reads the first sheet of an xlsx workbook or a csv file
type DataReader struct {
	filePath string
	fileType string // "xlsx" or "csv"
	logger   *internal.Logger
}

// NewDataReader picks the format from the file extension
func NewDataReader(filePath string, logger *internal.Logger) *DataReader {
	fileType := "xlsx"
	if strings.EqualFold(filepath.Ext(filePath), ".csv") {
		fileType = "csv"
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &DataReader{filePath: filePath, fileType: fileType, logger: logger}
}

// ReadTable loads the raw table
func (r *DataReader) ReadTable() (*Table, error) {
	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s file not found: %s", strings.ToUpper(r.fileType), r.filePath)
	}

	var rows [][]string
	var err error
	if r.fileType == "csv" {
		rows, err = r.readCSV()
	} else {
		rows, err = r.readXLSX()
	}
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%s must have a header row and at least one data row", r.filePath)
	}
	return r.processRows(rows), nil
}

func (r *DataReader) readXLSX() ([][]string, error) {
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook %s has no sheets", r.filePath)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", sheets[0], err)
	}
	r.logger.Debug("[DataReader] %s: sheet %s read (%d rows)", r.filePath, sheets[0], len(rows))
	return rows, nil
}

func (r *DataReader) readCSV() ([][]string, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}
	return rows, nil
}

func (r *DataReader) processRows(rows [][]string) *Table {
	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.ToLower(strings.TrimSpace(h))
	}

	t := &Table{Headers: headers}
	for _, row := range rows[1:] {
		data := make(map[string]string, len(headers))
		blank := true
		for j, cell := range row {
			if j >= len(headers) || headers[j] == "" {
				continue
			}
			cell = strings.TrimSpace(cell)
			if cell != "" {
				blank = false
			}
			data[headers[j]] = cell
		}
		if !blank {
			t.Rows = append(t.Rows, data)
		}
	}
	return t
}

var energyColumns = []string{"formation_energy_per_atom", "formation_energy", "energy"}

// ReadReferencePhases reads formula, formation energy (eV/atom) and optional source columns
func (r *DataReader) ReadReferencePhases() ([]ports.ReferencePhase, error) {
	t, err := r.ReadTable()
	if err != nil {
		return nil, err
	}
	if !t.has("formula") {
		return nil, fmt.Errorf("%s: missing formula column", r.filePath)
	}
	energyCol := ""
	for _, c := range energyColumns {
		if t.has(c) {
			energyCol = c
			break
		}
	}
	if energyCol == "" {
		return nil, fmt.Errorf("%s: missing formation energy column", r.filePath)
	}

	source := strings.TrimSuffix(filepath.Base(r.filePath), filepath.Ext(r.filePath))
	out := make([]ports.ReferencePhase, 0, len(t.Rows))
	for i, row := range t.Rows {
		comp, err := material.ParseFormula(row["formula"])
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", r.filePath, i+2, err)
		}
		e, err := strconv.ParseFloat(row[energyCol], 64)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: bad %s %q", r.filePath, i+2, energyCol, row[energyCol])
		}
		p := ports.ReferencePhase{Formula: comp.Normalized, Composition: comp, FormationEnergy: e, Source: row["source"]}
		if p.Source == "" {
			p.Source = source
		}
		out = append(out, p)
	}
	r.logger.Info("[DataReader] Loaded %d reference phases from %s", len(out), r.filePath)
	return out, nil
}

// MaterialRow is one spreadsheet row destined for the materials database
type MaterialRow struct {
	Formula    string
	Properties material.PropertyRecord
}

// ReadMaterials treats every column other than formula as a property. Numeric
// cells become numbers, true/false become booleans, the rest stay text.
func (r *DataReader) ReadMaterials() ([]MaterialRow, error) {
	t, err := r.ReadTable()
	if err != nil {
		return nil, err
	}
	if !t.has("formula") {
		return nil, fmt.Errorf("%s: missing formula column", r.filePath)
	}

	out := make([]MaterialRow, 0, len(t.Rows))
	for i, row := range t.Rows {
		if _, err := material.ParseFormula(row["formula"]); err != nil {
			return nil, fmt.Errorf("%s row %d: %w", r.filePath, i+2, err)
		}
		props := material.PropertyRecord{}
		for _, h := range t.Headers {
			cell := row[h]
			if h == "" || h == "formula" || cell == "" {
				continue
			}
			props[h] = cellValue(cell)
		}
		out = append(out, MaterialRow{Formula: row["formula"], Properties: props})
	}
	return out, nil
}

func cellValue(cell string) material.Value {
	if f, err := strconv.ParseFloat(cell, 64); err == nil {
		return material.Number(f)
	}
	switch strings.ToLower(cell) {
	case "true":
		return material.Bool(true)
	case "false":
		return material.Bool(false)
	}
	return material.Text(cell)
}

func (t *Table) has(col string) bool {
	for _, h := range t.Headers {
		if h == col {
			return true
		}
	}
	return false
}
