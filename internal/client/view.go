package client

import (
	"fmt"
	"io"
	"strings"

	"github.com/zhouzirui/tavern-chat/internal/model/chat"
)

// RenderFunc converts accumulated reply text into displayable output. It must
// be pure so that re-rendering the whole buffer on every update is safe.
type RenderFunc func(text string) string

// LiveView redraws a streamed reply. Each update replaces the previous frame
// with a full render of the accumulated text; nothing is appended
// incrementally. When the output is not interactive only the final frame is
// written.
type LiveView struct {
	out         io.Writer
	render      RenderFunc
	interactive bool

	frame string
	lines int
}

// NewLiveView draws frames produced by render onto out.
func NewLiveView(out io.Writer, render RenderFunc, interactive bool) *LiveView {
	return &LiveView{out: out, render: render, interactive: interactive}
}

// Update redraws the view for the full text received so far.
func (v *LiveView) Update(text string) {
	v.frame = v.render(text)
	if v.interactive {
		v.redraw()
	}
}

// Finish writes the final frame. An incomplete reply keeps its partial text
// and is marked as such.
func (v *LiveView) Finish(text string, incomplete bool) {
	v.frame = v.render(text)
	if incomplete {
		v.frame = strings.TrimRight(v.frame, "\n") + "\n[response incomplete]\n"
	}
	if v.interactive {
		v.redraw()
		return
	}
	fmt.Fprint(v.out, v.frame)
}

// Frame returns the most recent render.
func (v *LiveView) Frame() string {
	return v.frame
}

func (v *LiveView) redraw() {
	if v.lines > 0 {
		// cursor up to the first line of the previous frame, then erase below
		fmt.Fprintf(v.out, "\x1b[%dF\x1b[J", v.lines)
	}
	fmt.Fprint(v.out, v.frame)
	v.lines = strings.Count(v.frame, "\n")
}

// WriteTranscript renders every turn exactly once, in order.
func WriteTranscript(out io.Writer, transcript chat.Transcript, render RenderFunc) {
	for _, turn := range transcript {
		fmt.Fprintf(out, "%s:\n", turn.Role)
		for _, part := range turn.Parts {
			fmt.Fprint(out, render(part.Text))
		}
		fmt.Fprintln(out)
	}
}
