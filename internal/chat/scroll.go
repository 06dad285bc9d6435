package chat

type ScrollIntent int

const (
	IntentNone ScrollIntent = iota
	IntentBottom
	IntentPreserve
)

func (i ScrollIntent) String() string {
	switch i {
	case IntentBottom:
		return "bottom"
	case IntentPreserve:
		return "preserve"
	default:
		return "none"
	}
}

// scrollAnchor is the geometry recorded just before older messages are
// prepended. When the first loaded message could be located, its offset
// from the viewport top is kept too, so appends during the same render do
// not skew the restore.
type scrollAnchor struct {
	height int
	top    int
	id     string
	offset int
}

func (a *scrollAnchor) target(vp Viewport) int {
	if a.id != "" {
		if top, _, ok := vp.Locate(a.id); ok {
			return top + a.offset
		}
	}
	return a.top + vp.ScrollHeight() - a.height
}

type scrollCoordinator struct {
	intent ScrollIntent
	// queued is a bottom follow that arrived while a preserve was pending;
	// it is applied on the render after the preserve.
	queued bool
	// jumpTo is the last seen message to center on for the first render.
	jumpTo           string
	initialScrollSet bool
	userScrolling    bool
	debounce         Timer
	atBottom         bool
}

func (s *scrollCoordinator) reset() {
	*s = scrollCoordinator{atBottom: true}
}

func (s *scrollCoordinator) stop() {
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
}

func (s *scrollCoordinator) planInitialJump(lastSeenID string) {
	s.jumpTo = lastSeenID
}

func (s *scrollCoordinator) preserve() {
	if s.intent == IntentBottom {
		s.queued = true
	}
	s.intent = IntentPreserve
}

func (s *scrollCoordinator) follow() {
	if s.intent == IntentPreserve {
		s.queued = true
		return
	}
	s.intent = IntentBottom
}

func (p *Pane) Intent() ScrollIntent { return p.scroll.intent }

// AtBottom reports the last known bottom state of the viewport.
func (p *Pane) AtBottom() bool { return p.scroll.atBottom }

// UserScrolling reports whether a hand scroll happened within the
// debounce window.
func (p *Pane) UserScrolling() bool { return p.scroll.userScrolling }

func (p *Pane) measureAtBottom() bool {
	if p.vp == nil {
		return true
	}
	return p.vp.ScrollHeight()-p.vp.ScrollTop()-p.vp.ClientHeight() <= p.opts.BottomThreshold
}

func (p *Pane) nearTop() bool {
	return p.vp != nil && p.vp.ScrollTop() <= p.opts.TopThreshold
}

func (p *Pane) maxTop() int {
	top := p.vp.ScrollHeight() - p.vp.ClientHeight()
	if top < 0 {
		return 0
	}
	return top
}

func (p *Pane) scrollToBottom(smooth bool) {
	p.vp.ScrollTo(p.maxTop(), smooth)
	p.scroll.intent = IntentNone
	p.scroll.atBottom = true
}

// Rendered is the render-complete callback. The host calls it once the
// current message list has been laid out; pending scroll work that needs
// the new geometry runs here.
func (p *Pane) Rendered() {
	if p.room == "" || p.vp == nil {
		return
	}
	s := &p.scroll

	if !s.initialScrollSet && p.loaded && p.timeline.Len() > 0 {
		p.initialJump()
		s.atBottom = p.measureAtBottom()
		if s.atBottom && p.settleUnseen() {
			p.notifyChanged()
		}
		return
	}

	if s.intent == IntentPreserve {
		st, ok := p.state.(stateLoadingMore)
		if ok && st.preserving != nil {
			p.vp.ScrollTo(st.preserving.target(p.vp), false)
			p.state = stateReady{}
			if p.measureAtBottom() {
				for _, id := range st.fresh {
					p.markSeen(id)
				}
			}
		}
		s.intent = IntentNone
		if s.queued {
			s.queued = false
			s.intent = IntentBottom
		}
	}

	if s.intent == IntentBottom && !s.userScrolling {
		p.scrollToBottom(true)
	} else if s.intent != IntentBottom {
		s.atBottom = p.measureAtBottom()
	}

	if s.atBottom && !s.userScrolling && p.settleUnseen() {
		p.notifyChanged()
	}
}

// initialJump runs once per room activation: center on the last seen
// message when there is one, otherwise land on the bottom. Neither
// animates.
func (p *Pane) initialJump() {
	s := &p.scroll
	s.initialScrollSet = true
	s.intent = IntentNone
	s.queued = false
	if s.jumpTo != "" {
		if top, height, ok := p.vp.Locate(s.jumpTo); ok {
			target := top - (p.vp.ClientHeight()-height)/2
			if target < 0 {
				target = 0
			}
			if limit := p.maxTop(); target > limit {
				target = limit
			}
			p.vp.ScrollTo(target, false)
			return
		}
	}
	p.vp.ScrollTo(p.maxTop(), false)
}

// Scrolled is called by the host for every user driven scroll event.
// Programmatic scrolls must not be reported.
func (p *Pane) Scrolled() {
	if p.room == "" || p.vp == nil {
		return
	}
	s := &p.scroll
	if s.intent == IntentPreserve {
		return
	}
	s.userScrolling = true
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = p.after(p.opts.ScrollDebounce, p.scrollSettled)

	s.atBottom = p.measureAtBottom()
	if !s.atBottom && s.intent == IntentBottom {
		// The user left the bottom; a follow deferred by the scroll is dropped.
		s.intent = IntentNone
	}
	if s.atBottom && p.settleUnseen() {
		p.notifyChanged()
	}
	if p.nearTop() {
		p.LoadOlder()
	}
}

func (p *Pane) scrollSettled() {
	s := &p.scroll
	s.debounce = nil
	s.userScrolling = false
	if s.intent == IntentBottom && p.vp != nil {
		p.scrollToBottom(true)
		p.notifyChanged()
	}
}

// JumpToLatest is the "N new messages" affordance: everything unseen is
// marked seen and the viewport goes to the bottom.
func (p *Pane) JumpToLatest() {
	if p.room == "" {
		return
	}
	p.settleUnseen()
	s := &p.scroll
	switch {
	case s.intent == IntentPreserve:
		s.queued = true
	case p.vp != nil:
		s.stop()
		s.userScrolling = false
		p.scrollToBottom(true)
	default:
		s.intent = IntentBottom
	}
	p.notifyChanged()
}

func (p *Pane) requestBottom() {
	p.scroll.follow()
}
