// Package loanstatus classifies outstanding loans against the current date
// and decides dispatch eligibility. All functions are pure and total: bad
// policy values degrade to "not eligible", never to an error.
package loanstatus

import (
	"sort"
	"time"

	"github.com/ptc-library/notifier/internal/model"
)

// DisplayWindowDays is the fixed "due soon" badge window shown on the
// dashboard. It is deliberately a separate knob from the configurable
// reminder_days_before dispatch threshold: one decides what badge to show,
// the other when to actually notify.
const DisplayWindowDays = 2

// DueDate derives the due date from the borrow date and the policy's
// loan_due_days.
func DueDate(borrowDate time.Time, loanDueDays int) time.Time {
	return dateOf(borrowDate).AddDate(0, 0, loanDueDays)
}

// DaysRemaining returns due - today in whole days; negative when overdue.
func DaysRemaining(dueDate, today time.Time) int {
	return int(dateOf(dueDate).Sub(dateOf(today)).Hours() / 24)
}

// Classify maps a loan's dates onto a status:
//
//	overdue  iff due_date < today
//	due_soon iff today <= due_date <= today + windowDays
//	ok       otherwise
//
// A borrow date in the future yields ok, not an error.
func Classify(borrowDate, today time.Time, loanDueDays, windowDays int) model.LoanStatus {
	due := DueDate(borrowDate, loanDueDays)
	day := dateOf(today)

	switch {
	case due.Before(day):
		return model.StatusOverdue
	case !due.After(day.AddDate(0, 0, windowDays)):
		return model.StatusDueSoon
	default:
		return model.StatusOK
	}
}

// Decorate fills the derived fields of a loan view: due date, days
// remaining and the display status badge. With an unparsable loan_due_days
// the loan is left classified ok with a zero due date; eligibility checks
// reject it independently.
func Decorate(l model.Loan, today time.Time, policy model.NotificationPolicy) model.Loan {
	if policy.LoanDueDays < 0 {
		l.Status = model.StatusOK
		return l
	}

	l.DueDate = DueDate(l.BorrowDate, policy.LoanDueDays)
	l.DaysRemaining = DaysRemaining(l.DueDate, today)
	l.Status = Classify(l.BorrowDate, today, policy.LoanDueDays, DisplayWindowDays)
	return l
}

// ReminderEligible reports whether a decorated loan should receive a
// due-soon reminder on this run.
func ReminderEligible(l model.Loan, policy model.NotificationPolicy) bool {
	if policy.LoanDueDays < 0 || policy.ReminderDaysBefore < 0 {
		return false
	}

	return l.Status == model.StatusDueSoon && l.DaysRemaining == policy.ReminderDaysBefore
}

// AlertEligible reports whether a decorated loan should receive an overdue
// alert on this run.
func AlertEligible(l model.Loan, policy model.NotificationPolicy) bool {
	if policy.LoanDueDays < 0 || policy.OverdueAlertDaysAfter < 0 {
		return false
	}

	return l.Status == model.StatusOverdue && abs(l.DaysRemaining) >= policy.OverdueAlertDaysAfter
}

// Eligible dispatches to the check matching the notification kind. Unknown
// kinds are never eligible.
func Eligible(kind model.TemplateType, l model.Loan, policy model.NotificationPolicy) bool {
	switch kind {
	case model.TemplateDueReminder:
		return ReminderEligible(l, policy)
	case model.TemplateOverdueAlert:
		return AlertEligible(l, policy)
	default:
		return false
	}
}

// SelectRepresentative picks the single loan that stands in for a user with
// several eligible loans: earliest due date wins, lowest loan id breaks
// ties. The input slice is not modified.
func SelectRepresentative(loans []model.Loan) model.Loan {
	picked := loans[0]
	for _, l := range loans[1:] {
		if l.DueDate.Before(picked.DueDate) ||
			(l.DueDate.Equal(picked.DueDate) && l.LoanID < picked.LoanID) {
			picked = l
		}
	}

	return picked
}

// SortByDueDate orders loans by due date ascending, matching the loans
// screen ordering of the admin UI.
func SortByDueDate(loans []model.Loan) {
	sort.Slice(loans, func(i, j int) bool {
		if loans[i].DueDate.Equal(loans[j].DueDate) {
			return loans[i].LoanID < loans[j].LoanID
		}
		return loans[i].DueDate.Before(loans[j].DueDate)
	})
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
