package services

// OutcomeKind names what a processor did with a message.
type OutcomeKind string

const (
	OutcomeReplied             OutcomeKind = "replied"
	OutcomeQuoted              OutcomeKind = "quoted"
	OutcomeConfirmed           OutcomeKind = "confirmed"
	OutcomeCancelled           OutcomeKind = "cancelled"
	OutcomePrompted            OutcomeKind = "prompted"
	OutcomeDropped             OutcomeKind = "dropped"
	OutcomeNotifiedConfigError OutcomeKind = "notified_config_error"
	OutcomeNotifiedOffline     OutcomeKind = "notified_offline"
	OutcomeNotifiedFailure     OutcomeKind = "notified_failure"
)

// Outcome is the result of processing one inbound message.
type Outcome struct {
	Kind OutcomeKind
	// Reply is the text sent to the customer, if any.
	Reply string
	// OrderID is set for OutcomeConfirmed.
	OrderID string
	// QuoteID is set for OutcomeQuoted and OutcomeConfirmed.
	QuoteID string
	// Reason explains OutcomeDropped.
	Reason string
}

func dropped(reason string) Outcome { return Outcome{Kind: OutcomeDropped, Reason: reason} }
