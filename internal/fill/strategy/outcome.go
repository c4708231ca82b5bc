// internal/fill/strategy/outcome.go
package strategy

// Outcome is the status a strategy reports for one attempt on one key.
type Outcome string

const (
	// Filled means the control now holds the target value.
	Filled Outcome = "FILLED"
	// AlreadySatisfied means the control already held the target; nothing was mutated.
	AlreadySatisfied Outcome = "ALREADY_SATISFIED"
	// NotYetPresent means the control is absent or not rendered yet.
	NotYetPresent Outcome = "NOT_YET_PRESENT"
	// InProgress means a partial action was performed and another scan pass must continue it.
	InProgress Outcome = "IN_PROGRESS"
	// Failed means the control is present but the action could not be applied.
	Failed Outcome = "FAILED"
)

// Resolved reports whether the outcome removes the key from further processing.
func (o Outcome) Resolved() bool {
	return o == Filled || o == AlreadySatisfied
}

// Activity reports whether the outcome counts as engine activity for quiescence purposes.
func (o Outcome) Activity() bool {
	return o.Resolved() || o == InProgress
}

func (o Outcome) String() string { return string(o) }
