package client

import (
	"fmt"
	"io"
	"strings"
)

// renderTurn prints an answer with its sources, or an error turn with its
// code. Content filter messages are printed as received.
func renderTurn(w io.Writer, t *Turn) {
	if t.IsError() {
		fmt.Fprintf(w, "! %s: %s\n", t.ErrorCode, t.ErrorMessage)
		return
	}

	fmt.Fprintln(w, strings.TrimSpace(t.Answer))
	if t.Degraded {
		fmt.Fprintln(w, "(search timed out, answered without sources)")
	}
	if len(t.References) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Sources:")
		for _, r := range t.References {
			fmt.Fprintf(w, "  - %s (%s)\n", r.Title, r.Path)
		}
	}
}

func renderHistory(w io.Writer, turns []Turn) {
	if len(turns) == 0 {
		fmt.Fprintln(w, "No turns yet")
		return
	}
	for i := range turns {
		fmt.Fprintf(w, "[%d] > %s\n", i+1, turns[i].Query)
		renderTurn(w, &turns[i])
		fmt.Fprintln(w)
	}
}
