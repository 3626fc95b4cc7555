package excel

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"gomatter/domain/rules"
	"gomatter/internal/rulestore"
)

const (
	rulesSheet   = "Rules"
	summarySheet = "Summary"
)

var ruleHeaders = []interface{}{"id", "category", "statement", "predicate", "confidence", "evidence_strength", "applications", "sources", "citation"}

// RuleExporter writes the rule catalog and its statistics as a workbook
type RuleExporter struct {
	Rules []rules.Rule
	Stats rulestore.Stats
}

// NewRuleExporter snapshots the store's rules and statistics
func NewRuleExporter(store *rulestore.Store) *RuleExporter {
	return &RuleExporter{Rules: store.All(), Stats: store.Stats()}
}

// Build creates the workbook; the caller closes it
func (e *RuleExporter) Build() (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", rulesSheet); err != nil {
		f.Close()
		return nil, err
	}
	if err := e.writeRules(f); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		f.Close()
		return nil, err
	}
	if err := e.writeSummary(f); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// SaveAs writes the workbook to path
func (e *RuleExporter) SaveAs(path string) error {
	f, err := e.Build()
	if err != nil {
		return err
	}
	defer f.Close()
	return f.SaveAs(path)
}

// WriteTo streams the workbook, e.g. as an HTTP response body
func (e *RuleExporter) WriteTo(w io.Writer) error {
	f, err := e.Build()
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

func (e *RuleExporter) writeRules(f *excelize.File) error {
	if err := f.SetSheetRow(rulesSheet, "A1", &ruleHeaders); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	last, _ := excelize.CoordinatesToCellName(len(ruleHeaders), 1)
	if err := f.SetCellStyle(rulesSheet, "A1", last, bold); err != nil {
		return err
	}

	for i, r := range e.Rules {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []interface{}{
			string(r.ID),
			string(r.Category),
			r.Statement,
			r.PredicateText,
			r.Confidence,
			string(r.Strength()),
			strings.Join(r.Applications, ", "),
			strings.Join(r.Sources, ", "),
			r.Citation,
		}
		if err := f.SetSheetRow(rulesSheet, cell, &row); err != nil {
			return err
		}
	}
	if len(e.Rules) > 0 {
		end, _ := excelize.CoordinatesToCellName(len(ruleHeaders), len(e.Rules)+1)
		if err := f.AutoFilter(rulesSheet, "A1:"+end, nil); err != nil {
			return err
		}
	}
	return nil
}

func (e *RuleExporter) writeSummary(f *excelize.File) error {
	s := e.Stats
	rows := [][]interface{}{
		{"metric", "value"},
		{"version", s.Version},
		{"total_rules", s.TotalRules},
		{"mean_confidence", s.MeanConfidence},
		{"median_confidence", s.MedianConfidence},
		{"stddev_confidence", s.StdDevConfidence},
		{"high_confidence", s.Confidence.High},
		{"medium_confidence", s.Confidence.Medium},
		{"low_confidence", s.Confidence.Low},
		{"source_papers", s.SourcePapers},
		{"cross_validated", s.CrossValidated},
		{"application_tagged", s.ApplicationTagged},
		{"quality_score", s.QualityScore},
	}
	for _, c := range rules.AllCategories {
		rows = append(rows, []interface{}{"category:" + string(c), s.ByCategory[c]})
	}
	strengths := make([]string, 0, len(s.ByStrength))
	for k := range s.ByStrength {
		strengths = append(strengths, k)
	}
	sort.Strings(strengths)
	for _, k := range strengths {
		rows = append(rows, []interface{}{"strength:" + k, s.ByStrength[k]})
	}

	for i := range rows {
		cell := fmt.Sprintf("A%d", i+1)
		if err := f.SetSheetRow(summarySheet, cell, &rows[i]); err != nil {
			return err
		}
	}
	return nil
}
