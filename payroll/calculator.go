/*
Package payroll computes teacher compensation from the same session data
tuition bills against: a session billed to students is a session paid to
its teacher, so the two sides of the book agree by construction.

calculator.go - Monthly payroll computation

RULES:
  - Only Held sessions count. Canceled, Holiday, and still-Scheduled
    sessions pay nothing.
  - pay = hourly_rate * (sum of session minutes / 60), rounded half-up
    to whole VND once at the end, never per session.
  - A session with end <= start or an unparsable time is a data error:
    it lands in the summary's DataErrors counter instead of
    SessionsCount, contributes 0 minutes, and never fails the run.
  - Summaries are upserted per (teacher, month); recomputation resets
    the amounts, it never accumulates.
*/
package payroll

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas/tuition-engine/core"
)

// TeacherLine is one teacher's computed compensation.
type TeacherLine struct {
	TeacherID     string `json:"teacherId"`
	TeacherName   string `json:"teacherName"`
	HourlyRateVND int64  `json:"hourlyRateVnd"`
	TotalMinutes  int    `json:"totalMinutes"`
	SessionsCount int    `json:"sessionsCount"`
	DataErrors    int    `json:"dataErrors,omitempty"`
	TotalAmount   int64  `json:"totalAmount"`
}

// Result is the full monthly payroll view.
type Result struct {
	Month         string        `json:"month"`
	PayrollData   []TeacherLine `json:"payrollData"`
	GrandTotal    int64         `json:"grandTotal"`
	TotalTeachers int           `json:"totalTeachers"`
}

type Calculator struct {
	Roster core.RosterStore
	Store  core.PayrollStore
	Now    func() time.Time
}

func NewCalculator(roster core.RosterStore, store core.PayrollStore) *Calculator {
	return &Calculator{Roster: roster, Store: store, Now: time.Now}
}

// Calculate computes the month and upserts the per-teacher summaries.
// A nil teacherID covers every active teacher; a non-nil one restricts
// the run to that teacher, active or not. Re-running after a session
// correction overwrites the affected rows with the corrected amounts.
func (c *Calculator) Calculate(ctx context.Context, month core.Month, teacherID *core.TeacherID) (*Result, error) {
	var teachers []core.Teacher
	if teacherID != nil {
		teacher, err := c.Roster.Teacher(ctx, *teacherID)
		if err != nil {
			return nil, err
		}
		if teacher == nil {
			return nil, core.ErrTeacherNotFound
		}
		teachers = []core.Teacher{*teacher}
	} else {
		var err error
		teachers, err = c.Roster.ListTeachers(ctx, true)
		if err != nil {
			return nil, err
		}
	}

	now := c.Now().UTC()
	result := &Result{Month: month.String()}
	grand := core.ZeroVND()

	for _, t := range teachers {
		line, err := c.teacherMonth(ctx, t, month)
		if err != nil {
			return nil, err
		}

		summary := core.PayrollSummary{
			TeacherID:     t.ID,
			Month:         month,
			TotalMinutes:  line.TotalMinutes,
			TotalAmount:   core.VND(line.TotalAmount),
			SessionsCount: line.SessionsCount,
			DataErrors:    line.DataErrors,
			ComputedAt:    now,
		}
		if err := c.Store.UpsertPayrollSummary(ctx, summary); err != nil {
			return nil, err
		}

		result.PayrollData = append(result.PayrollData, line)
		grand = grand.Add(summary.TotalAmount)
	}

	sort.Slice(result.PayrollData, func(i, j int) bool {
		return result.PayrollData[i].TeacherID < result.PayrollData[j].TeacherID
	})
	result.GrandTotal = grand.Int64()
	result.TotalTeachers = len(result.PayrollData)
	return result, nil
}

func (c *Calculator) teacherMonth(ctx context.Context, t core.Teacher, month core.Month) (TeacherLine, error) {
	line := TeacherLine{
		TeacherID:     string(t.ID),
		TeacherName:   t.FullName,
		HourlyRateVND: t.HourlyRateVND.Int64(),
	}

	sessions, err := c.Roster.SessionsByTeacher(ctx, t.ID, month.Start(), month.End())
	if err != nil {
		return line, err
	}

	for _, s := range sessions {
		if s.Status != core.SessionHeld {
			continue
		}
		mins := s.DurationMinutes()
		if mins == 0 {
			line.DataErrors++
			continue
		}
		line.SessionsCount++
		line.TotalMinutes += mins
	}

	// Single rounding step: rate * totalMinutes / 60, half-up to whole VND.
	hours := decimal.NewFromInt(int64(line.TotalMinutes)).Div(decimal.NewFromInt(60))
	line.TotalAmount = t.HourlyRateVND.MulRound(hours).Int64()
	return line, nil
}
