package rulestore

import (
	"math"

	"github.com/montanaflynn/stats"

	"gomatter/domain/rules"
)

// ConfidenceBins counts rules by confidence band
type ConfidenceBins struct {
	High   int `json:"high"`   // >= 0.8
	Medium int `json:"medium"` // [0.6, 0.8)
	Low    int `json:"low"`    // < 0.6
}

// Stats summarizes the quality of the loaded rule catalog
type Stats struct {
	Version           int64                  `json:"version"`
	TotalRules        int                    `json:"total_rules"`
	ByCategory        map[rules.Category]int `json:"by_category"`
	ByStrength        map[string]int         `json:"by_evidence_strength"`
	Confidence        ConfidenceBins         `json:"confidence_bins"`
	MeanConfidence    float64                `json:"mean_confidence"`
	MedianConfidence  float64                `json:"median_confidence"`
	StdDevConfidence  float64                `json:"stddev_confidence"`
	SourcePapers      int                    `json:"source_papers"`
	CrossValidated    int                    `json:"cross_validated"`
	ApplicationTagged int                    `json:"application_tagged"`
	QualityScore      float64                `json:"quality_score"`
}

// Stats computes catalog statistics over the current snapshot
func (s *Store) Stats() Stats {
	return ComputeStats(s.Snapshot())
}

// ComputeStats computes catalog statistics over a snapshot
func ComputeStats(snap *Snapshot) Stats {
	out := Stats{
		Version:    snap.Version(),
		TotalRules: snap.Len(),
		ByCategory: snap.CategoryCounts(),
		ByStrength: map[string]int{},
	}
	if out.TotalRules == 0 {
		out.SourcePapers = len(snap.papers)
		return out
	}

	papers := make(map[string]struct{}, len(snap.papers))
	for id := range snap.papers {
		papers[id] = struct{}{}
	}

	confidences := make(stats.Float64Data, 0, snap.Len())
	for _, r := range snap.rules {
		confidences = append(confidences, r.Confidence)
		out.ByStrength[string(r.Strength())]++

		switch {
		case r.Confidence >= 0.8:
			out.Confidence.High++
		case r.Confidence >= 0.6:
			out.Confidence.Medium++
		default:
			out.Confidence.Low++
		}
		if r.CrossValidated() {
			out.CrossValidated++
		}
		if len(r.Applications) > 0 {
			out.ApplicationTagged++
		}
		for _, src := range r.Sources {
			papers[src] = struct{}{}
		}
	}
	out.SourcePapers = len(papers)

	out.MeanConfidence, _ = confidences.Mean()
	out.MedianConfidence, _ = confidences.Median()
	out.StdDevConfidence, _ = confidences.StandardDeviation()

	total := float64(out.TotalRules)
	highShare := float64(out.Confidence.High) / total
	lowShare := float64(out.Confidence.Low) / total
	cvShare := float64(out.CrossValidated) / total
	appCoverage := math.Min(1, float64(out.ApplicationTagged)/(0.5*total))

	score := 0.4*highShare + 0.3*cvShare + 0.2*appCoverage + 0.1*(1-lowShare)
	out.QualityScore, _ = stats.Round(score, 4)
	return out
}
