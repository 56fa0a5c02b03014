package risk

// CorrelationTable is a static, symmetric adjacency map of pairwise asset
// correlations, keyed by asset symbol. Loaded from configuration data.
type CorrelationTable struct {
	pairs map[string]map[string]float64
}

// NewCorrelationTable builds a table from raw config. Lookups are
// symmetric regardless of which direction the file declares.
func NewCorrelationTable(raw map[string]map[string]float64) *CorrelationTable {
	pairs := make(map[string]map[string]float64, len(raw))
	add := func(a, b string, c float64) {
		if pairs[a] == nil {
			pairs[a] = make(map[string]float64)
		}
		pairs[a][b] = c
	}
	for a, row := range raw {
		for b, c := range row {
			add(a, b, c)
			add(b, a, c)
		}
	}
	return &CorrelationTable{pairs: pairs}
}

// Correlation returns the pairwise correlation between two assets, zero when
// unknown. An asset is fully correlated with itself.
func (t *CorrelationTable) Correlation(a, b string) float64 {
	if a == b {
		return 1
	}
	if row, ok := t.pairs[a]; ok {
		return row[b]
	}
	return 0
}

// CorrelatedExposure sums current exposure weighted by correlation to the
// candidate asset.
func (t *CorrelationTable) CorrelatedExposure(asset string, exposure map[string]float64) float64 {
	var total float64
	for other, notional := range exposure {
		if c := t.Correlation(asset, other); c > 0 {
			total += notional * c
		}
	}
	return total
}
