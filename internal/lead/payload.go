// Package lead validates lead submissions and accepts them exactly once per
// idempotency key.
package lead

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Amount is a money value that accepts a JSON number or a numeric string.
// Values that cannot be read as a number decode to NaN and fail validation.
type Amount float64

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = 0
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("amount: %w", err)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*a = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*a = Amount(math.NaN())
			return nil
		}
		*a = Amount(f)
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		*a = Amount(math.NaN())
		return nil
	}
	*a = Amount(f)
	return nil
}

// Float returns the amount, or NaN when a is nil.
func (a *Amount) Float() float64 {
	if a == nil {
		return math.NaN()
	}
	return float64(*a)
}

// Contact is the borrower's contact details.
type Contact struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Zip      string `json:"zip"`
}

// Loan describes the property and existing mortgage.
type Loan struct {
	HomeValue      *Amount `json:"homeValue"`
	CurrentBalance *Amount `json:"currentBalance"`
	CreditRange    string  `json:"creditRange"`
}

// Consent records the borrower's agreement.
type Consent struct {
	Agreed bool `json:"agreed"`
}

// Submission is the body of a lead submission. Unknown fields are ignored.
type Submission struct {
	IdempotencyKey string  `json:"idempotencyKey"`
	Contact        Contact `json:"contact"`
	Loan           Loan    `json:"loan"`
	Consent        Consent `json:"consent"`
}

// Result is returned for every accepted or replayed submission.
type Result struct {
	TrackingID   string `json:"trackingId"`
	AcceptedAt   string `json:"acceptedAt"`
	Deduplicated bool   `json:"deduplicated"`
}
