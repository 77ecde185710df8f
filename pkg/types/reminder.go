package types

import (
	"fmt"
	"time"
)

// Recurrence describes how a reminder repeats after firing.
type Recurrence string

const (
	RecurrenceNone    Recurrence = ""
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
)

// ReminderStatus is the delivery state of a reminder.
type ReminderStatus string

const (
	ReminderPending   ReminderStatus = "pending"
	ReminderTriggered ReminderStatus = "triggered"
	ReminderDismissed ReminderStatus = "dismissed"
)

// Reminder is a time-based prompt surfaced through the notify hub when
// RemindAt passes. Recurring reminders are rescheduled instead of retired.
type Reminder struct {
	ID         int64          `json:"id"`
	Content    string         `json:"content"`
	RemindAt   time.Time      `json:"remind_at"`
	Recurrence Recurrence     `json:"recurrence,omitempty"`
	Status     ReminderStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Validate checks the reminder's invariants before it reaches the store.
func (r *Reminder) Validate() error {
	if r.Content == "" {
		return fmt.Errorf("%w: reminder content is empty", ErrConstraintViolation)
	}
	switch r.Recurrence {
	case RecurrenceNone, RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly:
	default:
		return fmt.Errorf("%w: unknown recurrence %q", ErrConstraintViolation, r.Recurrence)
	}
	return nil
}

// NextOccurrence returns the reminder time after one recurrence period, or
// the zero time for one-shot reminders.
func (r *Reminder) NextOccurrence() time.Time {
	switch r.Recurrence {
	case RecurrenceDaily:
		return r.RemindAt.AddDate(0, 0, 1)
	case RecurrenceWeekly:
		return r.RemindAt.AddDate(0, 0, 7)
	case RecurrenceMonthly:
		return r.RemindAt.AddDate(0, 1, 0)
	}
	return time.Time{}
}
