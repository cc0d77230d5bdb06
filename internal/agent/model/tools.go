package model

// Candidate is a tool surfaced by retrieval for one turn.
type Candidate struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

// Decision values returned by the intent classifier.
const (
	DecisionFollowup = "followup"
	DecisionNew      = "new"
	// NoTool is the selected_tool value meaning "no tool".
	NoTool = "none"
)

// Decision is the structured output of one classification step.
type Decision struct {
	Decision     string `json:"decision"`
	SelectedTool string `json:"selected_tool"`
	Reason       string `json:"reason"`
}
