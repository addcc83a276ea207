/*
Package points manages the gamification leaderboard: monthly point awards
and the audited end-of-month reset that archives a leaderboard instead of
destroying it.

reset.go - Leaderboard reads and the reset operation

RESET SEMANTICS:
  Reset moves the month's matching entries to the archive and deletes
  them from the live table in one store transaction, then the leaderboard
  reads empty for that scope. Re-running the same reset archives zero
  rows and is not an error. History stays queryable from the archive.
*/
package points

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/atlas/tuition-engine/core"
)

// Rank is one leaderboard row.
type Rank struct {
	StudentID string `json:"studentId"`
	Points    int    `json:"points"`
}

// ResetResult reports how many awards a reset archived.
type ResetResult struct {
	Month    string `json:"month"`
	Archived int    `json:"archived"`
}

type Service struct {
	Store core.PointsStore
	Now   func() time.Time
}

func NewService(store core.PointsStore) *Service {
	return &Service{Store: store, Now: time.Now}
}

// Leaderboard totals the month's live awards per student, optionally
// scoped to one class, highest first. Ties order by student id.
func (s *Service) Leaderboard(ctx context.Context, month core.Month, classID *core.ClassID) ([]Rank, error) {
	entries, err := s.Store.PointsEntries(ctx, month, classID, nil)
	if err != nil {
		return nil, err
	}

	totals := make(map[core.StudentID]int)
	for _, e := range entries {
		totals[e.StudentID] += e.Points
	}

	ranks := make([]Rank, 0, len(totals))
	for id, pts := range totals {
		ranks = append(ranks, Rank{StudentID: string(id), Points: pts})
	}
	sort.Slice(ranks, func(i, j int) bool {
		if ranks[i].Points != ranks[j].Points {
			return ranks[i].Points > ranks[j].Points
		}
		return ranks[i].StudentID < ranks[j].StudentID
	})
	return ranks, nil
}

// Reset archives and clears the month's awards for the given scope.
// Admin-only; the archive, delete, and audit row commit together.
func (s *Service) Reset(ctx context.Context, actor core.Actor, month core.Month, classID *core.ClassID, studentID *core.StudentID) (*ResetResult, error) {
	if !actor.IsAdmin() {
		return nil, core.ErrNotAuthorized
	}

	scope := map[string]any{"month": month.String()}
	if classID != nil {
		scope["class_id"] = *classID
	}
	if studentID != nil {
		scope["student_id"] = *studentID
	}
	diff, _ := json.Marshal(map[string]any{"scope": scope})

	audit := core.AuditEntry{
		ID:          uuid.NewString(),
		Action:      "points.reset",
		Entity:      "points",
		EntityID:    month.String(),
		ActorUserID: actor.ID,
		Diff:        string(diff),
		OccurredAt:  s.Now().UTC(),
	}

	archived, err := s.Store.ArchivePoints(ctx, month, classID, studentID, audit)
	if err != nil {
		return nil, err
	}
	return &ResetResult{Month: month.String(), Archived: archived}, nil
}
