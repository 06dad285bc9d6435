package tui

import "github.com/charmbracelet/bubbles/viewport"

type span struct{ top, height int }

// lineViewport exposes the bubbles viewport to the pane in line units.
type lineViewport struct {
	vp     *viewport.Model
	layout map[string]span
	total  int
}

func (v *lineViewport) ScrollTop() int    { return v.vp.YOffset }
func (v *lineViewport) ScrollHeight() int { return max(v.total, v.vp.Height) }
func (v *lineViewport) ClientHeight() int { return v.vp.Height }

// ScrollTo ignores smooth; terminals jump.
func (v *lineViewport) ScrollTo(top int, _ bool) {
	v.vp.SetYOffset(top)
}

func (v *lineViewport) Locate(id string) (int, int, bool) {
	s, ok := v.layout[id]
	return s.top, s.height, ok
}
