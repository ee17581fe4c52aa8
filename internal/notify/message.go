package notify

import (
	"fmt"
	"strings"
	"time"
)

// Accepted describes a lead accepted for the first time.
type Accepted struct {
	TrackingID     string    `json:"trackingId"`
	IdempotencyKey string    `json:"idempotencyKey"`
	AcceptedAt     time.Time `json:"acceptedAt"`
	ScenarioID     string    `json:"scenarioId,omitempty"`
	Zip            string    `json:"zip,omitempty"`
	CreditRange    string    `json:"creditRange,omitempty"`
}

// FormatAcceptedMessage creates the ntfy notification body.
func FormatAcceptedMessage(a Accepted) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Tracking ID: %s\n", a.TrackingID))
	sb.WriteString(fmt.Sprintf("Accepted: %s", a.AcceptedAt.UTC().Format(time.RFC3339)))
	if a.Zip != "" {
		sb.WriteString(fmt.Sprintf("\nZIP: %s", a.Zip))
	}
	if a.CreditRange != "" {
		sb.WriteString(fmt.Sprintf("\nCredit: %s", a.CreditRange))
	}
	if a.ScenarioID != "" {
		sb.WriteString(fmt.Sprintf("\nScenario: %s", a.ScenarioID))
	}

	return sb.String()
}
