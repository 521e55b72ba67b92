package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/bytebrain/docchat/internal/model/chat"
	"github.com/bytebrain/docchat/internal/service/transcript"
	"github.com/bytebrain/docchat/internal/session"
)

// renderer prints bot turns as they grow. User turns are not echoed, the
// terminal already shows what was typed.
type renderer struct {
	mu      sync.Mutex
	out     io.Writer
	turn    int // index of the first turn not fully printed
	printed int // bytes of that turn's text already printed
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out}
}

func (r *renderer) onChange(t chat.Transcript, _ session.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.turn < len(t) {
		turn := t[r.turn]
		if turn.Speaker == chat.User {
			r.advance()
			continue
		}

		if len(turn.Text) > r.printed {
			fmt.Fprint(r.out, turn.Text[r.printed:])
			r.printed = len(turn.Text)
		}
		if !turn.Complete {
			return
		}
		r.finish(turn)
		r.advance()
	}
}

func (r *renderer) finish(turn chat.Turn) {
	fmt.Fprintln(r.out)
	if turn.Err != "" {
		fmt.Fprintf(r.out, "[error] %s\n", turn.Err)
	}
	for _, ref := range turn.References {
		fmt.Fprintf(r.out, "  - %s <%s>\n", ref.Title, ref.URL)
	}
	if _, related := transcript.RelatedQuestions(turn.Text); len(related) > 0 {
		fmt.Fprintf(r.out, "  try asking: %s\n", strings.Join(related, " | "))
	}
	fmt.Fprintln(r.out)
}

func (r *renderer) advance() {
	r.turn++
	r.printed = 0
}
