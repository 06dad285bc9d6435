package chat

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"marketchat/internal/models"
	"marketchat/internal/types"
)

var (
	self  = models.Participant{ID: "u-self", Name: "Ada"}
	other = models.Participant{ID: "u-other", Name: "Bo"}
	epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
)

type fakeTimer struct {
	at      time.Time
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// fakeClock fires timers synchronously from Advance.
type fakeClock struct {
	now    time.Time
	seq    int
	timers []*fakeTimer
}

func newFakeClock() *fakeClock { return &fakeClock{now: epoch.Add(time.Hour)} }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.seq++
	t := &fakeTimer{at: c.now.Add(d), seq: c.seq, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	end := c.now.Add(d)
	for {
		var due []*fakeTimer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && !t.at.After(end) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			break
		}
		sort.Slice(due, func(i, j int) bool {
			if due[i].at.Equal(due[j].at) {
				return due[i].seq < due[j].seq
			}
			return due[i].at.Before(due[j].at)
		})
		t := due[0]
		t.fired = true
		c.now = t.at
		t.fn()
	}
	c.now = end
}

type job struct {
	work func(ctx context.Context)
	done func()
}

// queueExecutor holds work until the test runs it.
type queueExecutor struct {
	jobs []job
}

func (e *queueExecutor) Go(work func(ctx context.Context), done func()) {
	e.jobs = append(e.jobs, job{work: work, done: done})
}

func (e *queueExecutor) Pending() int { return len(e.jobs) }

// RunAt completes the i-th queued job.
func (e *queueExecutor) RunAt(i int) {
	j := e.jobs[i]
	e.jobs = append(e.jobs[:i:i], e.jobs[i+1:]...)
	j.work(context.Background())
	j.done()
}

// Flush completes every job, including ones queued while flushing.
func (e *queueExecutor) Flush() {
	for len(e.jobs) > 0 {
		e.RunAt(0)
	}
}

type emitted struct {
	Type types.EventType
	Room string
	Data any
}

type recordingEmitter struct {
	events []emitted
	err    error
}

func (r *recordingEmitter) Emit(t types.EventType, room string, data any) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, emitted{Type: t, Room: room, Data: data})
	return nil
}

func (r *recordingEmitter) Count(t types.EventType) int {
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (r *recordingEmitter) Last(t types.EventType) (emitted, bool) {
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == t {
			return r.events[i], true
		}
	}
	return emitted{}, false
}

func (r *recordingEmitter) Reset() { r.events = nil }

// rowViewport lays every message out as a fixed height row.
type rowViewport struct {
	rows    func() []models.Message
	row     int
	client  int
	top     int
	smooth  bool
	scrolls int
}

func (v *rowViewport) ScrollHeight() int { return len(v.rows()) * v.row }
func (v *rowViewport) ClientHeight() int { return v.client }
func (v *rowViewport) ScrollTop() int    { return v.top }

func (v *rowViewport) ScrollTo(top int, smooth bool) {
	limit := v.ScrollHeight() - v.client
	if limit < 0 {
		limit = 0
	}
	v.top = min(max(top, 0), limit)
	v.smooth = smooth
	v.scrolls++
}

func (v *rowViewport) Locate(id string) (int, int, bool) {
	for i, m := range v.rows() {
		if m.ID == id {
			return i * v.row, v.row, true
		}
	}
	return 0, 0, false
}

type pageKey struct{ room, cursor string }

type fakeBackend struct {
	pages      map[pageKey]types.HistoryPage
	historyErr error
	info       map[string]types.RoomInfo
	prepErr    error
	uploadErr  error
	uploaded   []string
	calls      []pageKey
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		pages: make(map[pageKey]types.HistoryPage),
		info:  make(map[string]types.RoomInfo),
	}
}

func (b *fakeBackend) History(_ context.Context, roomID, cursor string) (types.HistoryPage, error) {
	b.calls = append(b.calls, pageKey{roomID, cursor})
	if b.historyErr != nil {
		return types.HistoryPage{}, b.historyErr
	}
	return b.pages[pageKey{roomID, cursor}], nil
}

func (b *fakeBackend) RoomInfo(_ context.Context, roomID string) (types.RoomInfo, error) {
	info, ok := b.info[roomID]
	if !ok {
		return types.RoomInfo{}, fmt.Errorf("room %s not found", roomID)
	}
	return info, nil
}

func (b *fakeBackend) PrepareUpload(_ context.Context, req types.PrepareUploadRequest) (types.PrepareUploadResponse, error) {
	if b.prepErr != nil {
		return types.PrepareUploadResponse{}, b.prepErr
	}
	return types.PrepareUploadResponse{
		FileURL:   "https://files.test/put/" + req.Filename,
		PublicURL: "https://files.test/" + req.Filename,
	}, nil
}

func (b *fakeBackend) Upload(_ context.Context, fileURL string, body io.Reader, size int64, _ string, progress func(int64)) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	progress(int64(len(data)) / 2)
	if b.uploadErr != nil {
		return b.uploadErr
	}
	progress(size)
	b.uploaded = append(b.uploaded, fileURL)
	return nil
}

type noticeLog struct {
	notices []Notice
}

func (n *noticeLog) Notify(x Notice) { n.notices = append(n.notices, x) }

type fixture struct {
	pane    *Pane
	clock   *fakeClock
	exec    *queueExecutor
	emitter *recordingEmitter
	vp      *rowViewport
	backend *fakeBackend
	notices *noticeLog
	changes int
	focused int
}

func newFixture() *fixture {
	f := &fixture{
		clock:   newFakeClock(),
		exec:    &queueExecutor{},
		emitter: &recordingEmitter{},
		backend: newFakeBackend(),
		notices: &noticeLog{},
	}
	f.vp = &rowViewport{row: 20, client: 200}
	f.pane = NewPane(Deps{
		Self:     self,
		Backend:  f.backend,
		Emitter:  f.emitter,
		Viewport: f.vp,
		Notifier: f.notices,
		Executor: f.exec,
		Clock:    f.clock,
		Changed:  func() { f.changes++ },
		Focus:    func() { f.focused++ },
	})
	f.vp.rows = f.pane.Messages
	return f
}

// open activates room and completes the first load, then renders.
func (f *fixture) open(room string) {
	f.pane.Open(room)
	f.exec.Flush()
	f.pane.Rendered()
}

func msg(id string, from models.Participant, at int, seenBy ...string) models.Message {
	return models.Message{
		ID:        id,
		RoomID:    "room-1",
		Sender:    from,
		Text:      "text of " + id,
		SeenBy:    append([]string{}, seenBy...),
		CreatedAt: epoch.Add(time.Duration(at) * time.Second),
	}
}

// series builds messages m<from>..m<to>, one second apart.
func series(from, to int, sender models.Participant, seenBy ...string) []models.Message {
	var out []models.Message
	for i := from; i <= to; i++ {
		out = append(out, msg(fmt.Sprintf("m%02d", i), sender, i, seenBy...))
	}
	return out
}

func ids(ms []models.Message) string {
	parts := make([]string, len(ms))
	for i, m := range ms {
		parts[i] = m.ID
	}
	return strings.Join(parts, ",")
}

func envelope(t types.EventType, room string, data any) types.Envelope {
	env, err := types.NewEnvelope(t, room, data)
	if err != nil {
		panic(err)
	}
	return env
}

func (f *fixture) deliver(m models.Message) {
	f.pane.HandleEvent(envelope(types.EventReceiveMessage, m.RoomID, types.ReceiveMessage{Message: m}))
}
