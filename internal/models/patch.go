package models

import "time"

// TaskPatch is a partial task update. A nil field means "not provided" and is
// never written; the Clear flags are the explicit "set to null" path for the
// nullable columns. search_method and status are deliberately absent: the
// track is immutable after creation and status moves only through lifecycle
// transitions.
type TaskPatch struct {
	Category    *string
	Title       *string
	Description *string
	Location    *string
	Latitude    *float64
	Longitude   *float64
	Budget      *int64
	PricingType *string
	StartDate   *time.Time

	ClearStartDate   bool
	ClearCoordinates bool
}

// IsZero reports whether the patch carries no changes at all.
func (p TaskPatch) IsZero() bool {
	return p.Category == nil && p.Title == nil && p.Description == nil &&
		p.Location == nil && p.Latitude == nil && p.Longitude == nil &&
		p.Budget == nil && p.PricingType == nil && p.StartDate == nil &&
		!p.ClearStartDate && !p.ClearCoordinates
}
