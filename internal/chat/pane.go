package chat

import (
	"context"
	"errors"
	"io"
	"time"

	"marketchat/internal/logger"
	"marketchat/internal/models"
	"marketchat/internal/types"
)

var (
	ErrNoRoom       = errors.New("no active room")
	ErrSendInFlight = errors.New("a send is already in flight")
	ErrEmptyMessage = errors.New("message has no text and no attachment")
	ErrNoUploads    = errors.New("attachments need a backend and an executor")
)

// Backend is the REST side the pane consumes.
type Backend interface {
	History(ctx context.Context, roomID, cursor string) (types.HistoryPage, error)
	RoomInfo(ctx context.Context, roomID string) (types.RoomInfo, error)
	PrepareUpload(ctx context.Context, req types.PrepareUploadRequest) (types.PrepareUploadResponse, error)
	Upload(ctx context.Context, fileURL string, body io.Reader, size int64, contentType string, progress func(sent int64)) error
}

// Emitter publishes on the duplex channel. Emit must not block.
type Emitter interface {
	Emit(t types.EventType, room string, data any) error
}

// Viewport is the scrollable surface messages are rendered into. Units are
// whatever the host measures in: pixels in a browser, lines in a terminal.
type Viewport interface {
	ScrollTop() int
	ScrollHeight() int
	ClientHeight() int
	ScrollTo(top int, smooth bool)
	// Locate reports where a rendered message sits.
	Locate(messageID string) (top, height int, ok bool)
}

type NoticeLevel int

const (
	NoticeTransient NoticeLevel = iota
	NoticeBlocking
)

type Notice struct {
	Level    NoticeLevel
	Text     string
	Err      error
	UploadID string
}

type Notifier interface {
	Notify(n Notice)
}

// Executor runs blocking work off the loop. done must be handed back to
// the loop after work returns.
type Executor interface {
	Go(work func(ctx context.Context), done func())
}

type Timer interface {
	Stop() bool
}

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Options struct {
	BottomThreshold int
	TopThreshold    int
	ScrollDebounce  time.Duration
	TypingIdle      time.Duration
	UploadLinger    time.Duration
	ConfirmTimeout  time.Duration
	EchoWindow      time.Duration
}

func DefaultOptions() Options {
	return Options{
		BottomThreshold: 50,
		TopThreshold:    80,
		ScrollDebounce:  300 * time.Millisecond,
		TypingIdle:      2 * time.Second,
		UploadLinger:    3 * time.Second,
		ConfirmTimeout:  15 * time.Second,
		EchoWindow:      time.Minute,
	}
}

type Deps struct {
	Self     models.Participant
	Backend  Backend
	Emitter  Emitter
	Viewport Viewport
	Notifier Notifier
	Executor Executor
	Clock    Clock
	// Post re-enters the loop. Timer callbacks and progress reports go
	// through it.
	Post func(func())
	// Changed is called after every mutation the host should render. The
	// host calls Rendered once the new state is laid out.
	Changed func()
	// Focus moves input focus to the compose box.
	Focus   func()
	Log     *logger.Logger
	Options Options
}

// loadState is the history loader's state. Exactly one is active.
type loadState interface{ loadStateName() string }

type stateIdle struct{}

type stateLoadingInitial struct{ token uint64 }

type stateLoadingMore struct {
	token uint64
	// preserving is set once the older page has been merged and stays
	// set until the host reports the render.
	preserving *scrollAnchor
	// fresh holds the merged messages from others not yet seen; they get
	// receipts if the restored viewport turns out to be at the bottom.
	fresh []string
}

type stateReady struct{}

func (stateIdle) loadStateName() string           { return "idle" }
func (stateLoadingInitial) loadStateName() string { return "loadingInitial" }
func (stateLoadingMore) loadStateName() string    { return "loadingMore" }
func (stateReady) loadStateName() string          { return "ready" }

// Pane is the synchronization state machine of one chat pane. It is not
// safe for concurrent use: every method must run on the loop that Post
// feeds.
type Pane struct {
	self     models.Participant
	backend  Backend
	emitter  Emitter
	vp       Viewport
	notifier Notifier
	exec     Executor
	clock    Clock
	post     func(func())
	changed  func()
	focus    func()
	log      *logger.Logger
	opts     Options

	room        string
	token       uint64
	state       loadState
	loaded      bool
	cursor      string
	hasMore     bool
	timeline    *Timeline
	counterpart *models.Participant
	lastSeenID  string
	unseen      map[string]struct{}
	typing      map[string]string

	scroll   scrollCoordinator
	composer composer
}

func NewPane(d Deps) *Pane {
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	if d.Options == (Options{}) {
		d.Options = DefaultOptions()
	}
	if d.Clock == nil {
		d.Clock = RealClock{}
	}
	if d.Post == nil {
		d.Post = func(fn func()) { fn() }
	}
	p := &Pane{
		self:     d.Self,
		backend:  d.Backend,
		emitter:  d.Emitter,
		vp:       d.Viewport,
		notifier: d.Notifier,
		exec:     d.Executor,
		clock:    d.Clock,
		post:     d.Post,
		changed:  d.Changed,
		focus:    d.Focus,
		log:      d.Log.With("component", "PANE"),
		opts:     d.Options,
	}
	p.reset()
	return p
}

func (p *Pane) reset() {
	p.state = stateIdle{}
	p.loaded = false
	p.cursor = ""
	p.hasMore = true
	p.timeline = NewTimeline()
	p.counterpart = nil
	p.lastSeenID = ""
	p.unseen = make(map[string]struct{})
	p.typing = make(map[string]string)
	p.scroll.reset()
	p.composer.reset()
}

// Open activates a room: it announces membership, loads room info and the
// first history page. Opening the active room again retries a failed
// first load.
func (p *Pane) Open(roomID string) {
	if roomID == "" {
		return
	}
	if roomID == p.room {
		if !p.loaded {
			p.loadPage()
		}
		return
	}
	p.Leave()

	p.token++
	p.room = roomID
	p.log.Info("opening room", "room", roomID)
	p.emit(types.EventJoinRoom, types.Membership{UserID: p.self.ID})
	p.loadRoomInfo()
	p.loadPage()
	p.notifyChanged()
}

// Leave deactivates the current room. In flight completions for it are
// discarded when they land.
func (p *Pane) Leave() {
	if p.room == "" {
		return
	}
	p.log.Info("leaving room", "room", p.room)
	p.stopTypingNow()
	p.emit(types.EventLeaveRoom, types.Membership{UserID: p.self.ID})
	p.stopTimers()
	p.token++
	p.room = ""
	p.reset()
	p.notifyChanged()
}

// Room is the active room id, empty when none is open.
func (p *Pane) Room() string { return p.room }

// State names the loader state.
func (p *Pane) State() string { return p.state.loadStateName() }

func (p *Pane) HasMore() bool { return p.hasMore }

func (p *Pane) Messages() []models.Message { return p.timeline.Snapshot() }

func (p *Pane) Message(id string) (models.Message, bool) {
	m, ok := p.timeline.Get(id)
	if !ok {
		return models.Message{}, false
	}
	return m.Clone(), true
}

func (p *Pane) Counterpart() (models.Participant, bool) {
	if p.counterpart == nil {
		return models.Participant{}, false
	}
	return *p.counterpart, true
}

// LastSeenID is the newest message from someone else the current user had
// already seen when the room was opened.
func (p *Pane) LastSeenID() string { return p.lastSeenID }

// UnseenCount drives the "N new messages" affordance.
func (p *Pane) UnseenCount() int { return len(p.unseen) }

// Typing lists the display names of participants currently typing.
func (p *Pane) Typing() []string {
	out := make([]string, 0, len(p.typing))
	for id, name := range p.typing {
		if name == "" {
			name = id
		}
		out = append(out, name)
	}
	return out
}

func (p *Pane) current(token uint64, room string) bool {
	return token == p.token && room == p.room
}

func (p *Pane) loading() bool {
	switch p.state.(type) {
	case stateLoadingInitial, stateLoadingMore:
		return true
	}
	return false
}

func (p *Pane) emit(t types.EventType, data any) error {
	if p.emitter == nil || p.room == "" {
		return ErrNoRoom
	}
	if err := p.emitter.Emit(t, p.room, data); err != nil {
		p.log.Warn("emit failed", "event", t, "room", p.room, "error", err)
		return err
	}
	return nil
}

func (p *Pane) notify(n Notice) {
	if p.notifier != nil {
		p.notifier.Notify(n)
	}
}

func (p *Pane) notifyChanged() {
	if p.changed != nil {
		p.changed()
	}
}

// after schedules fn on the loop once d has passed. fn only runs if the
// room activation that scheduled it is still current.
func (p *Pane) after(d time.Duration, fn func()) Timer {
	token, room := p.token, p.room
	return p.clock.AfterFunc(d, func() {
		p.post(func() {
			if !p.current(token, room) {
				return
			}
			fn()
		})
	})
}

func (p *Pane) stopTimers() {
	p.scroll.stop()
	p.composer.stop()
}

func (p *Pane) loadRoomInfo() {
	if p.backend == nil || p.exec == nil {
		return
	}
	token, room := p.token, p.room
	var info types.RoomInfo
	var err error
	p.exec.Go(func(ctx context.Context) {
		info, err = p.backend.RoomInfo(ctx, room)
	}, func() {
		if !p.current(token, room) {
			p.log.Debug("discarding stale room info", "room", room)
			return
		}
		if err != nil {
			p.log.Error("room info failed", "room", room, "error", err)
			p.notify(Notice{Level: NoticeTransient, Text: "Could not load conversation details", Err: err})
			return
		}
		if len(info.Participants) == 0 {
			p.log.Warn("room info has no participants", "room", room)
			return
		}
		r := models.Room{ID: room, Participants: info.Participants}
		other, ok := r.Counterpart(p.self.ID)
		if !ok {
			p.log.Warn("room info has no counterpart", "room", room)
			return
		}
		p.counterpart = &other
		p.notifyChanged()
	})
}
