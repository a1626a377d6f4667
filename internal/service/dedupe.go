package service

import (
	"slices"

	"github.com/homeyield/selection-server-go/internal/model"
)

// Deduplicate keeps one selection per case-insensitive asset type: the one
// with the latest SelectedAt, or the first encountered on an exact tie. The
// result is ordered most recent first; equal timestamps keep input order.
func Deduplicate(rows []model.AssetSelection) []model.AssetSelection {
	index := make(map[string]int, len(rows))
	out := make([]model.AssetSelection, 0, len(rows))

	for _, row := range rows {
		key := row.NormalizedAssetType()
		i, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, row)
			continue
		}
		if row.SelectedAt.After(out[i].SelectedAt) {
			out[i] = row
		}
	}

	slices.SortStableFunc(out, func(a, b model.AssetSelection) int {
		return b.SelectedAt.Compare(a.SelectedAt)
	})
	return out
}

// BuildView deduplicates rows and totals the result. Totals never include
// superseded re-selections.
func BuildView(rows []model.AssetSelection) *model.SelectionView {
	view := &model.SelectionView{Selections: Deduplicate(rows)}
	for _, s := range view.Selections {
		view.TotalMonthlyRevenue += s.MonthlyRevenue
		view.TotalSetupCost += s.SetupCost
	}
	return view
}
