package summary

// Section is one titled group of bullet points in a summary.
type Section struct {
	Title   string   `json:"title"`
	Bullets []string `json:"bullets"`
}

// Document is the structured summary of one recording. Raw always
// carries the full unparsed model output, even when structured
// parsing succeeded, so the summary stays auditable.
type Document struct {
	Sections     []Section `json:"sections"`
	Participants []string  `json:"participants,omitempty"`
	Decisions    []string  `json:"decisions,omitempty"`
	ActionItems  []string  `json:"action_items,omitempty"`
	Questions    []string  `json:"questions,omitempty"`
	Raw          string    `json:"raw"`
}
