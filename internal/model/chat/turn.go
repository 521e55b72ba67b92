package chat

// Speaker identifies who produced a turn.
type Speaker string

const (
	User Speaker = "user"
	Bot  Speaker = "bot"
)

// Reference points at a documentation page that backs a bot answer.
type Reference struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Turn is one message unit of a conversation.
//
// User turns are complete on creation and never change. Bot turns start
// incomplete, grow by concatenation and become complete on the terminal event.
type Turn struct {
	Speaker    Speaker     `json:"userType"`
	Text       string      `json:"message"`
	Complete   bool        `json:"completed"`
	References []Reference `json:"references,omitempty"`
	// Err is set when a bot turn was closed by a failure instead of a terminal event.
	Err string `json:"error,omitempty"`
}

// Transcript is the ordered list of turns of one session, oldest first.
type Transcript []Turn

// Last returns the trailing turn, if any.
func (t Transcript) Last() (Turn, bool) {
	if len(t) == 0 {
		return Turn{}, false
	}
	return t[len(t)-1], true
}

// Clone returns a deep copy that shares no backing arrays with t.
func (t Transcript) Clone() Transcript {
	if t == nil {
		return nil
	}
	out := make(Transcript, len(t))
	for i, turn := range t {
		if turn.References != nil {
			turn.References = append([]Reference(nil), turn.References...)
		}
		out[i] = turn
	}
	return out
}
