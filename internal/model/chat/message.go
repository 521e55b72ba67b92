package chat

// Submission is the single frame a client sends after the socket opens.
type Submission struct {
	Question string   `json:"question"`
	History  []string `json:"history"`
}

// ReferenceItem is the wire shape of a reference inside a token frame.
type ReferenceItem struct {
	PageURL   string `json:"page_url"`
	PageTitle string `json:"page_title"`
}

// TokenEvent is one streamed fragment of a bot answer.
type TokenEvent struct {
	Token      string          `json:"token"`
	References []ReferenceItem `json:"references"`
	Completed  bool            `json:"completed"`
}

// TurnReferences converts the wire references into turn references.
// A nil slice stays nil so an absent list is distinguishable from an empty one.
func (e TokenEvent) TurnReferences() []Reference {
	if e.References == nil {
		return nil
	}
	refs := make([]Reference, len(e.References))
	for i, item := range e.References {
		refs[i] = Reference{URL: item.PageURL, Title: item.PageTitle}
	}
	return refs
}

// ErrorFrame is sent by the chat server in place of a token frame when it fails.
type ErrorFrame struct {
	Error string `json:"error"`
}
