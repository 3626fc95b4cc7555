package rulestore

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gomatter/domain/rules"
)

func TestComputeStats(t *testing.T) {
	store := openSample(t)
	st := store.Stats()

	assert.Equal(t, 4, st.TotalRules)
	assert.Equal(t, 2, st.ByCategory[rules.CategoryElectronic])
	assert.Equal(t, 1, st.ByCategory[rules.CategoryStability])
	assert.Equal(t, 1, st.ByCategory[rules.CategorySynthesis])

	// confidences 1.0, 0.95, 0.9, 0.8
	assert.Equal(t, ConfidenceBins{High: 4}, st.Confidence)
	assert.Equal(t, 3, st.ByStrength["strong"])
	assert.Equal(t, 1, st.ByStrength["medium"])
	assert.InDelta(t, 0.9125, st.MeanConfidence, 1e-9)
	assert.InDelta(t, 0.925, st.MedianConfidence, 1e-9)

	assert.Equal(t, 1, st.CrossValidated)
	assert.Equal(t, 2, st.ApplicationTagged)
	assert.Equal(t, 2, st.SourcePapers, "p1 from metadata and sources, p2 from sources")

	// 0.4*1 + 0.3*0.25 + 0.2*min(1, 2/2) + 0.1*(1-0)
	assert.InDelta(t, 0.775, st.QualityScore, 1e-9)
}

func TestComputeStatsEmpty(t *testing.T) {
	st := FromRules().Stats()
	assert.Equal(t, 0, st.TotalRules)
	assert.Equal(t, 0.0, st.QualityScore)
}
