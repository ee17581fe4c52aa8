// Package quote estimates a refinance rate and payment and dates the rate
// lock in NYSE business days.
package quote

import (
	"math"
	"time"

	"github.com/scmhub/calendar"
)

const (
	baseRate   = 6.1
	termMonths = 360

	// Adjustment for credit ranges not in the table.
	unknownCreditAdjust = 0.7
)

var creditAdjust = map[string]float64{
	"760+":      -0.35,
	"720-759":   -0.1,
	"680-719":   0.2,
	"below-680": 0.65,
}

// Params are the inputs of a quote. They also form its cache identity.
type Params struct {
	Zip            string  `json:"zip"`
	CreditRange    string  `json:"creditRange"`
	HomeValue      float64 `json:"homeValue"`
	CurrentBalance float64 `json:"currentBalance"`
}

// Quote is an estimated rate and 30-year payment.
type Quote struct {
	EstimatedRate  float64 `json:"estimatedRate"`
	MonthlyPayment int64   `json:"monthlyPayment"`
	RefreshedAt    string  `json:"refreshedAt"`
	LockExpiresOn  string  `json:"lockExpiresOn,omitempty"`
}

// Calculator computes quotes. The zero value is not usable; use NewCalculator.
type Calculator struct {
	lockDays int
	location *time.Location
	nyse     *calendar.Calendar
	now      func() time.Time
}

// NewCalculator creates a calculator whose rate locks run lockDays business
// days in timezone. Zero lockDays omits the lock date.
func NewCalculator(lockDays int, timezone string) *Calculator {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	return &Calculator{
		lockDays: lockDays,
		location: loc,
		nyse:     calendar.XNYS(),
		now:      time.Now,
	}
}

// Compute prices p.
func (c *Calculator) Compute(p Params) Quote {
	rate := Rate(p)
	now := c.now()

	q := Quote{
		EstimatedRate:  rate,
		MonthlyPayment: MonthlyPayment(rate, p.CurrentBalance),
		RefreshedAt:    now.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
	if c.lockDays > 0 {
		q.LockExpiresOn = c.LockExpiry(now)
	}
	return q
}

// Rate returns the estimated annual rate in percent, rounded to 2 decimals.
func Rate(p Params) float64 {
	ltv := 1.0
	if p.HomeValue > 0 {
		ltv = p.CurrentBalance / p.HomeValue
	}

	var ltvAdjust float64
	switch {
	case ltv > 0.8:
		ltvAdjust = 0.55
	case ltv > 0.65:
		ltvAdjust = 0.25
	default:
		ltvAdjust = 0.05
	}

	credit, ok := creditAdjust[p.CreditRange]
	if !ok {
		credit = unknownCreditAdjust
	}
	return math.Round((baseRate+ltvAdjust+credit)*100) / 100
}

// MonthlyPayment amortizes principal over 360 months at rate percent.
func MonthlyPayment(rate, principal float64) int64 {
	r := rate / 100 / 12
	denominator := 1 - math.Pow(1+r, -termMonths)
	if denominator <= 0 {
		return 0
	}
	return int64(math.Round(r * principal / denominator))
}

// LockExpiry returns the date lockDays NYSE business days after from.
func (c *Calculator) LockExpiry(from time.Time) string {
	day := from.In(c.location)
	// Noon avoids DST edges when stepping whole days.
	day = time.Date(day.Year(), day.Month(), day.Day(), 12, 0, 0, 0, c.location)

	for n := 0; n < c.lockDays; {
		day = day.AddDate(0, 0, 1)
		if c.nyse.IsBusinessDay(day) {
			n++
		}
	}
	return day.Format("2006-01-02")
}
