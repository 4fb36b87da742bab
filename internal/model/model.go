package model

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// LoanStatus classifies an active loan against the current date.
type LoanStatus string

const (
	StatusOK      LoanStatus = "ok"
	StatusDueSoon LoanStatus = "due_soon"
	StatusOverdue LoanStatus = "overdue"
)

// TemplateType identifies one of the closed set of message template slots.
type TemplateType string

const (
	TemplateDueReminder  TemplateType = "due_reminder"
	TemplateOverdueAlert TemplateType = "overdue_alert"
	TemplateNewBook      TemplateType = "new_book"
	TemplateCustom       TemplateType = "custom"
)

// Loan is the read-only view of an outstanding loan joined with book and
// user display fields. DueDate, DaysRemaining and Status are derived from
// the current date and the notification policy; they are never persisted.
type Loan struct {
	LoanID        int64      `json:"loan_id"`
	BookID        string     `json:"book_id"`
	UserID        string     `json:"user_id"`
	BorrowDate    time.Time  `json:"borrow_date"`
	Title         string     `json:"title"`
	Author        string     `json:"author"`
	UserName      string     `json:"user_name"`
	Phone         string     `json:"phone"`
	DueDate       time.Time  `json:"due_date"`
	DaysRemaining int        `json:"days_remaining"`
	Status        LoanStatus `json:"status"`
}

// Book carries the fields needed for a new-book broadcast.
type Book struct {
	BookID string `json:"book_id"`
	Title  string `json:"title"`
	Author string `json:"author"`
	Genre  string `json:"genre"`
}

// UserLoanCount is a precomputed per-user eligibility row used to
// short-circuit bulk runs before any gateway calls.
type UserLoanCount struct {
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	LoanCount int    `json:"loan_count"`
}

// InvalidDays marks a policy value that was present in storage but could not
// be parsed as a non-negative integer. Eligibility checks treat it as
// "never eligible" rather than failing the run.
const InvalidDays = -1

// Policy setting keys as stored in the settings table.
const (
	SettingLoanDueDays           = "loan_due_days"
	SettingReminderDaysBefore    = "reminder_days_before"
	SettingOverdueAlertDaysAfter = "overdue_alert_days_after"
)

// NotificationPolicy holds the configurable day-count thresholds governing
// due dates and notification timing.
type NotificationPolicy struct {
	LoanDueDays           int `json:"loan_due_days"`
	ReminderDaysBefore    int `json:"reminder_days_before"`
	OverdueAlertDaysAfter int `json:"overdue_alert_days_after"`
}

// DefaultPolicy returns the policy used when a setting is absent from storage.
func DefaultPolicy() NotificationPolicy {
	return NotificationPolicy{
		LoanDueDays:           14,
		ReminderDaysBefore:    2,
		OverdueAlertDaysAfter: 1,
	}
}

// ParsePolicy builds a NotificationPolicy from raw settings values. A missing
// key falls back to its default; a value that is not a non-negative integer
// becomes InvalidDays so the affected check evaluates to "not eligible"
// instead of raising.
func ParsePolicy(values map[string]string) NotificationPolicy {
	p := DefaultPolicy()
	p.LoanDueDays = parseDays(values, SettingLoanDueDays, p.LoanDueDays)
	p.ReminderDaysBefore = parseDays(values, SettingReminderDaysBefore, p.ReminderDaysBefore)
	p.OverdueAlertDaysAfter = parseDays(values, SettingOverdueAlertDaysAfter, p.OverdueAlertDaysAfter)
	return p
}

func parseDays(values map[string]string, key string, def int) int {
	raw, ok := values[key]
	if !ok {
		return def
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return InvalidDays
	}

	return n
}

// MessageTemplate is stored content with named {placeholder} tokens.
// Content is opaque at storage time; placeholder validation happens at
// render time only.
type MessageTemplate struct {
	Type    TemplateType `json:"type"`
	Content string       `json:"content"`
}

// Item outcome statuses within a batch.
const (
	ItemSent    = "sent"
	ItemFailed  = "failed"
	ItemSkipped = "skipped"
)

// BatchItemOutcome records the terminal state of a single eligible unit.
// Skipped items carry a descriptive error and count toward Failed.
type BatchItemOutcome struct {
	LoanID    int64  `json:"loan_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	BookTitle string `json:"book_title,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// BatchResult aggregates per-item outcomes of one notification batch.
// Invariant: Total == Success + Failed.
type BatchResult struct {
	Total   int                `json:"total"`
	Success int                `json:"success"`
	Failed  int                `json:"failed"`
	Details []BatchItemOutcome `json:"details"`
}

// Add records one outcome and updates the aggregate counters.
func (r *BatchResult) Add(o BatchItemOutcome) {
	if o.Status == ItemSent {
		r.Success++
	} else {
		r.Failed++
	}

	r.Details = append(r.Details, o)
}

// DailyReport is the combined result of one scheduled run: due reminders
// first, then overdue alerts, with plain sums across both batches.
type DailyReport struct {
	RunID         uuid.UUID   `json:"run_id"`
	Timestamp     time.Time   `json:"timestamp"`
	DueReminders  BatchResult `json:"due_reminders"`
	OverdueAlerts BatchResult `json:"overdue_alerts"`
	TotalSent     int         `json:"total_sent"`
	TotalFailed   int         `json:"total_failed"`
}

// NotificationSummary holds pending-notification counts for the dashboard.
type NotificationSummary struct {
	DueSoon      int `json:"due_soon"`
	Overdue      int `json:"overdue"`
	TotalPending int `json:"total_pending"`
}
