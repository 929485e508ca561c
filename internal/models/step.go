package models

// StepAction is the typed action a free-text instruction resolves to
type StepAction string

const (
	ActionNavigate StepAction = "navigate"
	ActionClick    StepAction = "click"
	ActionType     StepAction = "type"
	ActionSelect   StepAction = "select"
	ActionScroll   StepAction = "scroll"
	ActionHover    StepAction = "hover"
	ActionWait     StepAction = "wait"
	ActionAssert   StepAction = "assert"
)

// IsInteraction reports whether the action needs a located DOM element
func (a StepAction) IsInteraction() bool {
	switch a {
	case ActionClick, ActionType, ActionSelect, ActionHover:
		return true
	default:
		return false
	}
}

// Scroll targets
const (
	ScrollTop    = "top"
	ScrollBottom = "bottom"
	ScrollUp     = "up"
	ScrollDown   = "down"
)

// DefaultWaitMs is used when a wait instruction carries no duration
const DefaultWaitMs = 3000

// ParsedStep is the structured form of one free-text instruction.
// It is produced once per instruction and never modified afterwards.
type ParsedStep struct {
	Action       StepAction `json:"action"`
	Target       string     `json:"target,omitempty"`
	Value        string     `json:"value,omitempty"`
	TimeoutMs    int        `json:"timeout_ms,omitempty"`
	OriginalText string     `json:"original_text"`
}
