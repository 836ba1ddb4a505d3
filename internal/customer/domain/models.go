package domain

import (
	"time"

	"gorm.io/datatypes"
)

type Customer struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Terms     PaymentTerms      `json:"terms" gorm:"embedded"`
	Metadata  datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// PaymentTerms is a customer's invoicing rule. ClosingDay is the work-date
// cutoff the upstream producer applies when deriving billing dates; it is
// stored here for completeness but not consulted by the engine. The due
// date is the PaymentDay of the month PaymentMonthOffset months after the
// billing month, clamped to the month's last day.
type PaymentTerms struct {
	ClosingDay         int `json:"closing_day" gorm:"column:closing_day"`
	PaymentMonthOffset int `json:"payment_month_offset" gorm:"column:payment_month_offset"`
	PaymentDay         int `json:"payment_day" gorm:"column:payment_day"`
}

// DueDate computes the payment due date for an aggregate billed on
// billingDate. PaymentDay values past the end of the target month (31 in a
// 30-day month, 99 as an explicit end-of-month marker) clamp to the last
// day.
func (t PaymentTerms) DueDate(billingDate time.Time) time.Time {
	y, m, _ := billingDate.Date()
	first := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).AddDate(0, t.PaymentMonthOffset, 0)
	lastDay := first.AddDate(0, 1, -1).Day()

	day := t.PaymentDay
	if day <= 0 || day > lastDay {
		day = lastDay
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}
