package model

import "time"

// Frequency is the unit of a recurrence step.
type Frequency string

const (
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
	FrequencyYearly  Frequency = "YEARLY"
)

// RecurrencePattern generates a chain of future occurrences. The chain
// terminates once the next occurrence would fall after EndDate.
type RecurrencePattern struct {
	Frequency Frequency  `json:"frequency"`
	Interval  int        `json:"interval"`
	EndDate   *time.Time `json:"endDate,omitempty"`
}

// NextOccurrence returns the occurrence following from, or nil when the
// chain terminates. Month and year steps use calendar-aware addition with
// Go's date normalization (Jan 31 + 1 month lands in early March).
func (p RecurrencePattern) NextOccurrence(from time.Time) *time.Time {
	var next time.Time
	switch p.Frequency {
	case FrequencyDaily:
		next = from.AddDate(0, 0, p.Interval)
	case FrequencyWeekly:
		next = from.AddDate(0, 0, p.Interval*7)
	case FrequencyMonthly:
		next = from.AddDate(0, p.Interval, 0)
	case FrequencyYearly:
		next = from.AddDate(p.Interval, 0, 0)
	default:
		return nil
	}
	if p.EndDate != nil && next.After(*p.EndDate) {
		return nil
	}
	return &next
}

// ScheduledRequest is a notification request with a future execution plan.
type ScheduledRequest struct {
	UserID            string             `json:"userId"`
	Type              string             `json:"type"`
	Channel           Channel            `json:"channel"`
	TemplateID        string             `json:"templateId,omitempty"`
	Data              map[string]any     `json:"data,omitempty"`
	ScheduledAt       time.Time          `json:"scheduledAt"`
	Timezone          string             `json:"timezone,omitempty"`
	IsRecurring       bool               `json:"isRecurring,omitempty"`
	RecurrencePattern *RecurrencePattern `json:"recurrencePattern,omitempty"`
}
