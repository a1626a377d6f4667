package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeyield/selection-server-go/internal/model"
)

func sel(id, assetType string, at time.Time, revenue float64) model.AssetSelection {
	return model.AssetSelection{ID: id, AssetType: assetType, SelectedAt: at, MonthlyRevenue: revenue}
}

func TestBuildView(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC)
	t2 := t1.Add(time.Second)

	t.Run("keeps the latest re-selection and totals the deduplicated set", func(t *testing.T) {
		view := BuildView([]model.AssetSelection{
			sel("a", "parking", t1, 100),
			sel("b", "parking", t2, 150),
			sel("c", "pool", t1, 80),
		})

		require.Len(t, view.Selections, 2)
		assert.Equal(t, "b", view.Selections[0].ID)
		assert.Equal(t, 150.0, view.Selections[0].MonthlyRevenue)
		assert.Equal(t, "pool", view.Selections[1].AssetType)
		assert.Equal(t, 80.0, view.Selections[1].MonthlyRevenue)
		assert.Equal(t, 230.0, view.TotalMonthlyRevenue)
	})

	t.Run("groups asset types case-insensitively", func(t *testing.T) {
		view := BuildView([]model.AssetSelection{
			sel("a", "Rooftop", t2, 200),
			sel("b", "rooftop ", t1, 180),
		})

		require.Len(t, view.Selections, 1)
		assert.Equal(t, "a", view.Selections[0].ID)
		assert.Equal(t, 200.0, view.TotalMonthlyRevenue)
	})

	t.Run("exact timestamp tie keeps the first encountered", func(t *testing.T) {
		view := BuildView([]model.AssetSelection{
			sel("first", "garden", t1, 10),
			sel("second", "garden", t1, 20),
		})

		require.Len(t, view.Selections, 1)
		assert.Equal(t, "first", view.Selections[0].ID)
	})

	t.Run("orders most recent first", func(t *testing.T) {
		t3 := t2.Add(time.Second)
		view := BuildView([]model.AssetSelection{
			sel("pool", "pool", t1, 1),
			sel("storage", "storage", t3, 1),
			sel("bandwidth", "bandwidth", t2, 1),
		})

		ids := []string{view.Selections[0].ID, view.Selections[1].ID, view.Selections[2].ID}
		assert.Equal(t, []string{"storage", "bandwidth", "pool"}, ids)
	})

	t.Run("sums setup cost over deduplicated rows", func(t *testing.T) {
		a := sel("a", "rooftop", t1, 100)
		a.SetupCost = 5000
		b := sel("b", "rooftop", t2, 120)
		b.SetupCost = 4000

		view := BuildView([]model.AssetSelection{a, b})
		assert.Equal(t, 4000.0, view.TotalSetupCost)
	})

	t.Run("empty input", func(t *testing.T) {
		view := BuildView(nil)
		assert.Empty(t, view.Selections)
		assert.NotNil(t, view.Selections)
		assert.Zero(t, view.TotalMonthlyRevenue)
	})
}
