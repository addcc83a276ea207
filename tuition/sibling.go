/*
sibling.go - Family-wide sibling discount policy

PURPOSE:
  Decides, per (family, month), which student gets the sibling discount
  and at what percent. The policy is deliberately pro-poor: among the
  qualifying siblings the one with the LOWEST highest-class tuition wins.

RULES:
  1. Eligibility: >= 2 active students of the family with positive
     projected tuition (base > 0) in the month.
  2. A multi-class student contributes their highest-tuition single
     class, not their summed tuition.
  3. Winner: lowest contribution. Ties break on the FNV-1a hash of
     "studentID|month" (then student id), never arrival order, so
     recomputation always picks the same student.
  4. Percent: family override if present, else 5%. Applied only to the
     winner's selected class.
  5. Retroactive: eligibility reached mid-month applies from the start
     of the month, not prorated.
  6. Recomputation overwrites the (family, month) state row; safe to
     re-run on a cron, never double-applies.
*/
package tuition

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"sort"
	"time"

	"github.com/atlas/tuition-engine/core"
)

// DefaultSiblingPercent applies when the family has no override.
const DefaultSiblingPercent = 5

// =============================================================================
// SIBLING ENGINE
// =============================================================================

type SiblingEngine struct {
	Roster     core.RosterStore
	Discounts  core.DiscountStore
	Aggregator *Aggregator
}

func NewSiblingEngine(roster core.RosterStore, discounts core.DiscountStore, agg *Aggregator) *SiblingEngine {
	return &SiblingEngine{Roster: roster, Discounts: discounts, Aggregator: agg}
}

// Evaluate computes the sibling outcome for (family, month) without
// persisting anything. Same inputs always produce the same state.
func (se *SiblingEngine) Evaluate(ctx context.Context, familyID core.FamilyID, month core.Month, asOf time.Time) (core.SiblingDiscountState, error) {
	state := core.SiblingDiscountState{
		FamilyID:   familyID,
		Month:      month,
		Status:     core.SiblingPending,
		Percent:    DefaultSiblingPercent,
		ComputedAt: asOf.UTC(),
	}

	family, err := se.Roster.Family(ctx, familyID)
	if err != nil {
		return state, err
	}
	if family == nil {
		return state, core.ErrFamilyNotFound
	}
	if family.SiblingDiscountPct != nil {
		state.Percent = *family.SiblingDiscountPct
	}

	students, err := se.Roster.StudentsByFamily(ctx, familyID)
	if err != nil {
		return state, err
	}

	type candidate struct {
		studentID    core.StudentID
		classID      core.ClassID
		contribution core.Amount
	}
	var candidates []candidate

	for _, s := range students {
		if !s.IsActive {
			continue
		}
		agg, err := se.Aggregator.Aggregate(ctx, s.ID, month, asOf)
		if err != nil {
			return state, err
		}
		classID, contribution := agg.HighestClass()
		if !contribution.IsPositive() {
			continue
		}
		candidates = append(candidates, candidate{studentID: s.ID, classID: classID, contribution: contribution})
	}

	if len(candidates) < 2 {
		return state, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.contribution.Equal(b.contribution) {
			return a.contribution.LessThan(b.contribution)
		}
		ha, hb := tieBreakHash(a.studentID, month), tieBreakHash(b.studentID, month)
		if ha != hb {
			return ha < hb
		}
		return a.studentID < b.studentID
	})

	winner := candidates[0]
	state.Status = core.SiblingAssigned
	state.WinnerStudentID = &winner.studentID
	state.WinnerClassID = &winner.classID
	return state, nil
}

// Recompute evaluates and overwrites the persisted state for the month.
func (se *SiblingEngine) Recompute(ctx context.Context, familyID core.FamilyID, month core.Month, asOf time.Time) (core.SiblingDiscountState, error) {
	state, err := se.Evaluate(ctx, familyID, month, asOf)
	if err != nil {
		return state, err
	}
	if err := se.Discounts.SaveSiblingState(ctx, state); err != nil {
		return state, err
	}
	return state, nil
}

// tieBreakHash hashes (student, month) with FNV-1a. The hash depends only
// on the pair, so re-runs - including tie-break cases - are reproducible.
func tieBreakHash(studentID core.StudentID, month core.Month) uint64 {
	h := fnv.New64a()
	h.Write([]byte(string(studentID) + "|" + month.String()))
	return h.Sum64()
}

// =============================================================================
// BATCH RECOMPUTATION - the compute-sibling-discounts operation
// =============================================================================

// SiblingResult is one family's outcome in a batch recomputation.
type SiblingResult struct {
	FamilyID        core.FamilyID `json:"family_id"`
	StudentID       string        `json:"student_id"`
	Status          string        `json:"status"`
	WinnerClassName string        `json:"winner_class_name,omitempty"`
}

// SiblingReport summarizes a batch recomputation.
type SiblingReport struct {
	Processed int             `json:"processed"`
	Results   []SiblingResult `json:"results"`
	Errors    []string        `json:"errors,omitempty"`
}

// RecomputeAll re-evaluates every active family for the month. Per-family
// failures are accumulated and the batch continues.
func (se *SiblingEngine) RecomputeAll(ctx context.Context, month core.Month, asOf time.Time) (*SiblingReport, error) {
	families, err := se.Roster.ListFamilies(ctx, true)
	if err != nil {
		return nil, err
	}

	report := &SiblingReport{}
	for _, f := range families {
		state, err := se.Recompute(ctx, f.ID, month, asOf)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("Family %s: %v", f.ID, err))
			continue
		}
		report.Processed++

		result := SiblingResult{FamilyID: f.ID, Status: string(state.Status)}
		if state.WinnerStudentID != nil {
			result.StudentID = string(*state.WinnerStudentID)
		}
		if state.WinnerClassID != nil {
			if class, err := se.Roster.Class(ctx, *state.WinnerClassID); err == nil && class != nil {
				result.WinnerClassName = class.Name
			}
		}
		report.Results = append(report.Results, result)
	}

	if len(report.Errors) > 0 {
		log.Printf("[Sibling] recompute %s: %d processed, %d failed", month, report.Processed, len(report.Errors))
	}
	return report, nil
}
