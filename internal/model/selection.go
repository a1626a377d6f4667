package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Known asset categories. AssetType stays free-form; these only name the
// categories the estimator produces.
const (
	AssetTypeRooftop   = "rooftop"
	AssetTypeParking   = "parking"
	AssetTypePool      = "pool"
	AssetTypeBandwidth = "bandwidth"
	AssetTypeStorage   = "storage"
	AssetTypeGarden    = "garden"
)

type AssetSelection struct {
	ID             string           `db:"id" json:"id"`
	UserID         *string          `db:"user_id" json:"userId,omitempty"`
	SessionID      *string          `db:"session_id" json:"sessionId,omitempty"`
	AnalysisID     *string          `db:"analysis_id" json:"analysisId,omitempty"`
	AssetType      string           `db:"asset_type" json:"assetType"`
	AssetData      *json.RawMessage `db:"asset_data" json:"assetData,omitempty"`
	MonthlyRevenue float64          `db:"monthly_revenue" json:"monthlyRevenue"`
	SetupCost      float64          `db:"setup_cost" json:"setupCost"`
	ROIMonths      *float64         `db:"roi_months" json:"roiMonths,omitempty"`
	SelectedAt     time.Time        `db:"selected_at" json:"selectedAt"`
}

// Owner reports the owner tag of the row. Rows written through the repository
// always carry exactly one tag.
func (s AssetSelection) Owner() Owner {
	if s.UserID != nil {
		return UserOwner(*s.UserID)
	}
	if s.SessionID != nil {
		return SessionOwner(*s.SessionID)
	}
	return Owner{}
}

// NormalizedAssetType is the grouping key of the deduplicated read view.
func (s AssetSelection) NormalizedAssetType() string {
	return NormalizeAssetType(s.AssetType)
}

func NormalizeAssetType(assetType string) string {
	return strings.ToLower(strings.TrimSpace(assetType))
}

type CreateSelectionParams struct {
	ID             string
	Owner          Owner
	AnalysisID     *string
	AssetType      string
	AssetData      *json.RawMessage
	MonthlyRevenue float64
	SetupCost      float64
	ROIMonths      *float64
	SelectedAt     time.Time
}

// SelectionView is the deduplicated read model of one owner's selections.
type SelectionView struct {
	Selections          []AssetSelection `json:"selections"`
	TotalMonthlyRevenue float64          `json:"totalMonthlyRevenue"`
	TotalSetupCost      float64          `json:"totalSetupCost"`
}
