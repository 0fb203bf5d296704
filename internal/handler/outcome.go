package handler

// Outcome is the explicit result of one command or scheduled run.
type Outcome int

const (
	OutcomeDelivered Outcome = iota
	OutcomeDisabled
	OutcomeCooldown
	OutcomeRejected
	OutcomeFailed
	// OutcomeUndelivered means content was produced but could not be sent.
	OutcomeUndelivered
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeDisabled:
		return "disabled"
	case OutcomeCooldown:
		return "cooldown"
	case OutcomeRejected:
		return "rejected"
	case OutcomeFailed:
		return "failed"
	case OutcomeUndelivered:
		return "undelivered"
	default:
		return "unknown"
	}
}
