package lead

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// Field groups reported in validation errors.
const (
	GroupContact = "contact"
	GroupLoan    = "loan"
	GroupConsent = "consent"
	GroupRequest = "request"
)

const minHomeValue = 50000

var (
	emailRE    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	zipRE      = regexp.MustCompile(`^\d{5}$`)
	nonDigitRE = regexp.MustCompile(`\D`)
)

// ValidationError maps group -> field -> message. The contact, loan and
// consent groups are always present, possibly empty.
type ValidationError struct {
	Groups map[string]map[string]string
}

func newValidationError() *ValidationError {
	return &ValidationError{Groups: map[string]map[string]string{
		GroupContact: {},
		GroupLoan:    {},
		GroupConsent: {},
	}}
}

func (e *ValidationError) add(group, field, msg string) {
	if e.Groups[group] == nil {
		e.Groups[group] = map[string]string{}
	}
	e.Groups[group][field] = msg
}

// HasErrors reports whether any group holds a field error.
func (e *ValidationError) HasErrors() bool {
	for _, fields := range e.Groups {
		if len(fields) > 0 {
			return true
		}
	}
	return false
}

func (e *ValidationError) Error() string {
	var parts []string
	for group, fields := range e.Groups {
		for field, msg := range fields {
			parts = append(parts, group+"."+field+": "+msg)
		}
	}
	if len(parts) == 0 {
		return "validation failed"
	}
	sort.Strings(parts)
	return "validation failed: " + strings.Join(parts, "; ")
}

// Validate checks sub and returns a *ValidationError when any rule fails.
func Validate(sub Submission) error {
	verr := newValidationError()

	validateContact(verr, sub.Contact)
	validateLoan(verr, sub.Loan)
	if !sub.Consent.Agreed {
		verr.add(GroupConsent, "agreed", "You must agree before submitting.")
	}
	if strings.TrimSpace(sub.IdempotencyKey) == "" {
		verr.add(GroupRequest, "idempotencyKey", "An idempotency key is required.")
	}

	if verr.HasErrors() {
		return verr
	}
	return nil
}

// ValidationFailure builds the error reported when validation is forced to
// fail. Groups hold whatever the payload actually got wrong.
func ValidationFailure(sub Submission) *ValidationError {
	if err := Validate(sub); err != nil {
		return err.(*ValidationError)
	}
	return newValidationError()
}

func validateContact(verr *ValidationError, c Contact) {
	if len([]rune(strings.TrimSpace(c.FullName))) < 2 {
		verr.add(GroupContact, "fullName", "Enter your full name.")
	}
	if !emailRE.MatchString(c.Email) {
		verr.add(GroupContact, "email", "Enter a valid email address.")
	}
	if len(nonDigitRE.ReplaceAllString(c.Phone, "")) != 10 {
		verr.add(GroupContact, "phone", "Enter a 10-digit phone number.")
	}
	if !zipRE.MatchString(c.Zip) {
		verr.add(GroupContact, "zip", "Enter a valid 5-digit ZIP code.")
	}
}

func validateLoan(verr *ValidationError, l Loan) {
	homeValue := l.HomeValue.Float()
	currentBalance := l.CurrentBalance.Float()

	if !isFinite(homeValue) || homeValue < minHomeValue {
		verr.add(GroupLoan, "homeValue", "Home value must be at least $50,000.")
	}
	if !isFinite(currentBalance) || currentBalance < 0 {
		verr.add(GroupLoan, "currentBalance", "Current balance must be zero or greater.")
	}
	if isFinite(homeValue) && isFinite(currentBalance) && currentBalance > homeValue {
		verr.add(GroupLoan, "currentBalance", "Current balance cannot exceed home value.")
	}
	if l.CreditRange == "" {
		verr.add(GroupLoan, "creditRange", "Select your credit range.")
	}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
