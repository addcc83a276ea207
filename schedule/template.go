/*
Package schedule provides JSON to session conversion.

PURPOSE:
  Converts a class's JSON weekly schedule template into concrete Session
  rows for a month. This enables schedule configuration without code
  changes - staff define the weekly pattern in JSON, and the generator
  materializes each month's calendar from it.

JSON SCHEMA:
  {
    "slots": [
      {"weekday": "monday", "start_time": "17:30", "end_time": "19:00"},
      {"weekday": "thursday", "start_time": "17:30", "end_time": "19:00"}
    ]
  }

GENERATION SEMANTICS:
  - One Scheduled session per matching weekday in the month, keyed by
    (class, date, start_time).
  - Generation is idempotent: existing sessions are skipped, never
    overwritten, so a staff status change (Held, Canceled, Holiday)
    survives regeneration.
  - Sessions default to the class's default teacher; staff reassign
    per session afterwards.

SEE ALSO:
  - core/entities.go: Session type and ScheduleTemplate field
  - core/store.go: ScheduleStore.UpsertSessions contract
*/
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atlas/tuition-engine/core"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// SlotJSON is one weekly meeting in the template.
type SlotJSON struct {
	Weekday   string `json:"weekday"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// TemplateJSON is the JSON representation of a weekly schedule.
type TemplateJSON struct {
	Slots []SlotJSON `json:"slots"`
}

// Slot is a validated weekly meeting.
type Slot struct {
	Weekday   time.Weekday
	StartTime string
	EndTime   string
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseTemplate validates a JSON weekly template.
func ParseTemplate(raw string) ([]Slot, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var tpl TemplateJSON
	if err := json.Unmarshal([]byte(raw), &tpl); err != nil {
		return nil, fmt.Errorf("invalid schedule template: %w", err)
	}

	slots := make([]Slot, 0, len(tpl.Slots))
	for i, s := range tpl.Slots {
		day, ok := weekdays[strings.ToLower(s.Weekday)]
		if !ok {
			return nil, core.Validationf("slots", fmt.Sprintf("slot %d: unknown weekday %q", i, s.Weekday))
		}
		start, err := time.Parse("15:04", s.StartTime)
		if err != nil {
			return nil, core.Validationf("slots", fmt.Sprintf("slot %d: bad start_time %q", i, s.StartTime))
		}
		end, err := time.Parse("15:04", s.EndTime)
		if err != nil {
			return nil, core.Validationf("slots", fmt.Sprintf("slot %d: bad end_time %q", i, s.EndTime))
		}
		if !end.After(start) {
			return nil, core.Validationf("slots", fmt.Sprintf("slot %d: end_time must be after start_time", i))
		}
		slots = append(slots, Slot{Weekday: day, StartTime: s.StartTime, EndTime: s.EndTime})
	}
	return slots, nil
}

// =============================================================================
// GENERATOR
// =============================================================================

// Report summarizes one generation run.
type Report struct {
	ClassID string `json:"classId"`
	Month   string `json:"month"`
	Created int    `json:"created"`
	Skipped int    `json:"skipped"`
}

type Generator struct {
	Roster core.RosterStore
	Store  core.ScheduleStore
}

func NewGenerator(roster core.RosterStore, store core.ScheduleStore) *Generator {
	return &Generator{Roster: roster, Store: store}
}

// GenerateMonth materializes the class's weekly template over the month.
// Idempotent: re-running reports everything skipped.
func (g *Generator) GenerateMonth(ctx context.Context, classID core.ClassID, month core.Month) (*Report, error) {
	class, err := g.Roster.Class(ctx, classID)
	if err != nil {
		return nil, err
	}
	if class == nil {
		return nil, core.ErrClassNotFound
	}

	slots, err := ParseTemplate(class.ScheduleTemplate)
	if err != nil {
		return nil, err
	}

	report := &Report{ClassID: string(classID), Month: month.String()}
	var sessions []core.Session
	for d := month.Start(); d.Before(month.End()); d = d.AddDate(0, 0, 1) {
		for _, slot := range slots {
			if d.Weekday() != slot.Weekday {
				continue
			}
			sessions = append(sessions, core.Session{
				ID:        core.SessionID(uuid.NewString()),
				ClassID:   classID,
				Date:      d,
				StartTime: slot.StartTime,
				EndTime:   slot.EndTime,
				TeacherID: class.DefaultTeacherID,
				Status:    core.SessionScheduled,
			})
		}
	}

	created, skipped, err := g.Store.UpsertSessions(ctx, sessions)
	if err != nil {
		return nil, err
	}
	report.Created, report.Skipped = created, skipped
	return report, nil
}
