// Package reasoning splits streamed model output into the visible answer and
// the hidden reasoning enclosed in <thinking>...</thinking> spans.
package reasoning

import "strings"

const (
	StartTag = "<thinking>"
	EndTag   = "</thinking>"
)

// StreamState is the accumulated classification of one model response.
// Visible and Hidden only ever grow.
type StreamState struct {
	Visible      string `json:"visible"`
	Hidden       string `json:"hidden"`
	InsideHidden bool   `json:"inside_hidden"`
}

// Apply routes fragment into the visible or hidden buffer and returns the
// updated state. Fragments for one response must be applied in arrival order.
// A tag split across two fragments is not recognised; its text lands in
// whichever buffer was open.
func Apply(state StreamState, fragment string) StreamState {
	if fragment == "" {
		return state
	}

	var visible, hidden strings.Builder
	visible.WriteString(state.Visible)
	hidden.WriteString(state.Hidden)
	inside := state.InsideHidden

	rest := fragment
	for len(rest) > 0 {
		if inside {
			i := strings.Index(rest, EndTag)
			if i < 0 {
				hidden.WriteString(rest)
				break
			}
			hidden.WriteString(rest[:i])
			rest = rest[i+len(EndTag):]
			inside = false
			continue
		}
		i := strings.Index(rest, StartTag)
		if i < 0 {
			visible.WriteString(rest)
			break
		}
		visible.WriteString(rest[:i])
		rest = rest[i+len(StartTag):]
		inside = true
	}

	return StreamState{
		Visible:      visible.String(),
		Hidden:       hidden.String(),
		InsideHidden: inside,
	}
}

// Finalize returns the final buffers. An unterminated hidden span keeps its
// partial text in hidden.
func Finalize(state StreamState) (visible, hidden string) {
	return state.Visible, state.Hidden
}
