/*
Package occupancy applies allotment status changes to the occupant directory.

PURPOSE:
  The estate office reports who moved in, vacated or was transferred. Those
  changes decide billing eligibility, so they are validated as a batch and
  written atomically.

TRANSITIONS:
  OCCUPIED                start = effective date, end cleared
  VACATED / TRANSFERRED   start kept from the existing record (effective
                          date when new), end = effective date

  An update that would leave end before start rejects the batch.
*/
package occupancy

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/warp/quarter-dues/dues"
)

// StatusUpdate is one allottee change as reported by the estate office.
type StatusUpdate struct {
	OccupantID    dues.OccupantID      `json:"allottee_id"`
	ReferenceID   dues.ReferenceID     `json:"employee_id"`
	QuarterID     dues.QuarterID       `json:"quarter_id"`
	Name          string               `json:"name,omitempty"`
	Status        dues.OccupancyStatus `json:"status"`
	EffectiveDate string               `json:"effective_date"`
}

const dateLayout = "2006-01-02"

type Updater struct {
	directory dues.DirectoryWriter
	clock     dues.Clock
	logger    *log.Logger
}

func NewUpdater(directory dues.DirectoryWriter, clock dues.Clock, logger *log.Logger) *Updater {
	if clock == nil {
		clock = dues.SystemClock{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Updater{directory: directory, clock: clock, logger: logger}
}

// Apply validates every update, then saves the resulting occupants in one
// write. Returns the number of occupants saved.
func (u *Updater) Apply(ctx context.Context, updates []StatusUpdate) (int, error) {
	if len(updates) == 0 {
		return 0, dues.NewValidationError("updates", "required")
	}

	now := u.clock.Now()
	pending := make(map[dues.OccupantID]dues.Occupant, len(updates))
	order := make([]dues.OccupantID, 0, len(updates))

	for i, up := range updates {
		effective, err := validate(i, up)
		if err != nil {
			return 0, err
		}

		// Later updates in the same batch build on earlier ones
		current, seen := pending[up.OccupantID]
		if !seen {
			existing, err := u.directory.GetOccupant(ctx, up.OccupantID)
			if err != nil {
				return 0, dues.NewSystemError("lookup occupant", err)
			}
			if existing != nil {
				current = *existing
			} else {
				current = dues.Occupant{ID: up.OccupantID}
			}
			order = append(order, up.OccupantID)
		}

		next, err := transition(current, up, effective)
		if err != nil {
			return 0, err
		}
		next.UpdatedAt = now
		pending[up.OccupantID] = next
	}

	occupants := make([]dues.Occupant, 0, len(order))
	for _, id := range order {
		occupants = append(occupants, pending[id])
	}
	if err := u.directory.SaveOccupants(ctx, occupants); err != nil {
		return 0, dues.NewSystemError("save occupants", err)
	}

	for _, o := range occupants {
		u.logger.Printf("[Occupancy] %s (%s) now %s", o.ID, o.QuarterID, o.Status)
	}
	return len(occupants), nil
}

func validate(i int, up StatusUpdate) (time.Time, error) {
	field := func(name string) string { return fmt.Sprintf("updates[%d].%s", i, name) }

	if strings.TrimSpace(string(up.OccupantID)) == "" {
		return time.Time{}, dues.NewValidationError(field("allottee_id"), "required")
	}
	if strings.TrimSpace(string(up.QuarterID)) == "" {
		return time.Time{}, dues.NewValidationError(field("quarter_id"), "required")
	}
	if !up.Status.Valid() {
		return time.Time{}, dues.NewValidationError(field("status"), fmt.Sprintf("unknown status %q", up.Status))
	}
	if up.EffectiveDate == "" {
		return time.Time{}, dues.NewValidationError(field("effective_date"), "required")
	}
	effective, err := time.Parse(dateLayout, up.EffectiveDate)
	if err != nil {
		return time.Time{}, dues.NewValidationError(field("effective_date"), "expected YYYY-MM-DD")
	}
	return effective, nil
}

func transition(current dues.Occupant, up StatusUpdate, effective time.Time) (dues.Occupant, error) {
	next := current
	next.QuarterID = up.QuarterID
	next.Status = up.Status
	if up.ReferenceID != "" {
		next.ReferenceID = up.ReferenceID
	}
	if up.Name != "" {
		next.Name = up.Name
	}

	switch up.Status {
	case dues.StatusOccupied:
		next.StartDate = effective
		next.EndDate = nil
	default:
		if next.StartDate.IsZero() {
			next.StartDate = effective
		}
		end := effective
		next.EndDate = &end
	}

	if err := next.Validate(); err != nil {
		return dues.Occupant{}, err
	}
	return next, nil
}
