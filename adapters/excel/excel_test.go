package excel

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"gomatter/domain/material"
	"gomatter/internal"
	"gomatter/internal/testkit"
)

func writeWorkbook(t *testing.T, rows [][]interface{}) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &rows[i]))
	}
	path := filepath.Join(t.TempDir(), "phases.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestReadReferencePhasesXLSX(t *testing.T) {
	path := writeWorkbook(t, [][]interface{}{
		{"Formula", "Formation_Energy_Per_Atom", "Source"},
		{"Fe2O3", -1.7, "mp"},
		{"FeO", -1.4, ""},
		{"", "", ""},
	})

	phases, err := NewDataReader(path, internal.NewNopLogger()).ReadReferencePhases()
	require.NoError(t, err)
	require.Len(t, phases, 2)

	assert.Equal(t, "Fe2O3", phases[0].Formula)
	assert.Equal(t, -1.7, phases[0].FormationEnergy)
	assert.Equal(t, "mp", phases[0].Source)
	assert.Equal(t, []string{"Fe", "O"}, phases[0].Composition.Symbols())
	assert.Equal(t, "phases", phases[1].Source, "source defaults to the file name")
}

func TestReadReferencePhasesErrors(t *testing.T) {
	tests := []struct {
		name string
		rows [][]interface{}
	}{
		{"no formula column", [][]interface{}{{"name", "energy"}, {"x", 1.0}}},
		{"no energy column", [][]interface{}{{"formula"}, {"NaCl"}}},
		{"bad energy", [][]interface{}{{"formula", "energy"}, {"NaCl", "low"}}},
		{"bad formula", [][]interface{}{{"formula", "energy"}, {"Qq", -1.0}}},
		{"header only", [][]interface{}{{"formula", "energy"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDataReader(writeWorkbook(t, tt.rows), internal.NewNopLogger()).ReadReferencePhases()
			assert.Error(t, err)
		})
	}
}

func TestReadMaterialsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "materials.csv")
	body := "formula,band_gap,crystal_system,is_metal\nNaCl,4.38,cubic,false\nCu,0,,true\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	rows, err := NewDataReader(path, internal.NewNopLogger()).ReadMaterials()
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "NaCl", rows[0].Formula)
	assert.Equal(t, material.Number(4.38), rows[0].Properties[material.PropBandGap])
	assert.Equal(t, material.Text("cubic"), rows[0].Properties[material.PropCrystalSystem])
	assert.Equal(t, material.Bool(false), rows[0].Properties[material.PropIsMetal])

	assert.False(t, rows[1].Properties.Has(material.PropCrystalSystem), "empty cells are absent")
	assert.Equal(t, material.Bool(true), rows[1].Properties[material.PropIsMetal])
}

func TestReaderMissingFile(t *testing.T) {
	_, err := NewDataReader(filepath.Join(t.TempDir(), "nope.xlsx"), nil).ReadTable()
	assert.Error(t, err)
}

func TestRuleExporter(t *testing.T) {
	store := testkit.CatalogStore()
	exp := NewRuleExporter(store)

	var buf bytes.Buffer
	require.NoError(t, exp.WriteTo(&buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{rulesSheet, summarySheet}, f.GetSheetList())

	rows, err := f.GetRows(rulesSheet)
	require.NoError(t, err)
	require.Len(t, rows, len(store.All())+1)
	assert.Equal(t, "id", rows[0][0])
	assert.Equal(t, string(store.All()[0].ID), rows[1][0])

	summary, err := f.GetRows(summarySheet)
	require.NoError(t, err)
	assert.Equal(t, []string{"total_rules", "11"}, summary[2])
}

func TestRuleExporterSaveAs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.xlsx")
	require.NoError(t, NewRuleExporter(testkit.CatalogStore()).SaveAs(path))

	phasesReader := NewDataReader(path, internal.NewNopLogger())
	table, err := phasesReader.ReadTable()
	require.NoError(t, err)
	assert.Contains(t, table.Headers, "confidence")
	assert.Len(t, table.Rows, 11)
}
