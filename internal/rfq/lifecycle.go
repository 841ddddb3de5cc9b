package rfq

// Event triggers a status transition.
type Event string

const (
	EventSend     Event = "send"
	EventComplete Event = "complete"
	// EventCancel exists in the table only. Nothing exposes it.
	EventCancel Event = "cancel"
)

type transition struct {
	from []Status
	to   Status
}

var transitions = map[Event]transition{
	EventSend:     {from: []Status{StatusDraft}, to: StatusSent},
	EventComplete: {from: []Status{StatusSent}, to: StatusCompleted},
	EventCancel:   {from: []Status{StatusDraft, StatusSent, StatusCompleted}, to: StatusCancelled},
}

// Next returns the status reached by applying event to current.
func Next(current Status, event Event) (Status, error) {
	t, ok := transitions[event]
	if !ok {
		return current, ErrInvalidTransition
	}
	for _, from := range t.from {
		if from == current {
			return t.to, nil
		}
	}
	return current, ErrInvalidTransition
}

// Terminal reports whether no exposed transition leaves s.
func Terminal(s Status) bool {
	return s == StatusCompleted || s == StatusCancelled
}
