package ldap

import "time"

// OutcomeKind classifies the result of an authentication attempt.
type OutcomeKind int

const (
	OutcomeFailed           OutcomeKind = iota // Infrastructure failure, credentials not judged
	OutcomeNotAuthenticated                    // Unknown user or wrong password
	OutcomeAuthenticated                       // Credentials verified
)

// String returns string representation of the outcome kind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeFailed:
		return "failed"
	case OutcomeNotAuthenticated:
		return "not_authenticated"
	case OutcomeAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Outcome is the single result delivered for an authentication attempt.
// Profile is set only for OutcomeAuthenticated, Err only for OutcomeFailed.
type Outcome struct {
	Kind    OutcomeKind
	Profile Profile
	Err     error
}

func failedOutcome(err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Err: err}
}

func notAuthenticatedOutcome() Outcome {
	return Outcome{Kind: OutcomeNotAuthenticated}
}

func authenticatedOutcome(profile Profile) Outcome {
	return Outcome{Kind: OutcomeAuthenticated, Profile: profile}
}

// Observer is notified once per finished attempt.
type Observer interface {
	ObserveOutcome(outcome string, duration time.Duration)
}

type noopObserver struct{}

func (noopObserver) ObserveOutcome(string, time.Duration) {}
