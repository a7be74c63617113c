package dues

import "time"

// Validate checks the occupancy interval invariants.
func (o Occupant) Validate() error {
	if o.ID == "" {
		return NewValidationError("allottee_id", "required")
	}
	if !o.Status.Valid() {
		return NewValidationError("status", "unknown occupancy status "+string(o.Status))
	}
	if o.Status == StatusOccupied && o.EndDate != nil {
		return NewValidationError("allotment_end_date", "must be empty while OCCUPIED")
	}
	if o.Status != StatusOccupied && o.EndDate == nil {
		return NewValidationError("allotment_end_date", "required once "+string(o.Status))
	}
	if o.EndDate != nil && !o.StartDate.IsZero() && o.EndDate.Before(o.StartDate) {
		return NewValidationError("allotment_end_date", "before allotment start date")
	}
	return nil
}

// OccupiesDuring reports whether the occupancy interval overlaps period,
// compared at month granularity and inclusive at both ends.
//
//   - OCCUPIED: start <= period (an unknown start counts as always)
//   - VACATED/TRANSFERRED: start <= period <= end
func (o Occupant) OccupiesDuring(period Period) bool {
	startsBy := o.StartDate.IsZero() || PeriodOf(o.StartDate).BeforeOrEqual(period)

	switch o.Status {
	case StatusOccupied:
		return startsBy
	case StatusVacated, StatusTransferred:
		if o.EndDate == nil || o.StartDate.IsZero() {
			return false
		}
		return startsBy && PeriodOf(*o.EndDate).AfterOrEqual(period)
	}
	return false
}

// DateOnly truncates t to a UTC calendar date.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
