// Package tui is a terminal chat pane driven by the chat state machine.
package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"marketchat/internal/chat"
	"marketchat/internal/models"
)

// loopMsg carries work posted to the pane loop. The bubbletea update loop
// is the pane loop.
type loopMsg struct{ fn func() }

const (
	noticeTTL = 4 * time.Second
	// Rendered may trigger another render; bound the chain per update.
	maxSettle = 4
)

// Model renders one chat.Session. All pane calls happen inside Update.
type Model struct {
	session *chat.Session
	pane    *chat.Pane
	self    models.Participant

	room     string
	viewport viewport.Model
	input    textinput.Model
	lines    *lineViewport
	width    int
	height   int

	dirty    bool
	notice   string
	blocking bool
	noticeAt time.Time
	now      func() time.Time
}

// Host collects the callbacks a session needs from the terminal side.
// Bind them into chat.Deps before the session is built, then call Attach.
type Host struct {
	m    *Model
	post func(tea.Msg)
}

func NewHost() *Host {
	vp := viewport.New(0, 0)
	vp.MouseWheelDelta = 3
	in := textinput.New()
	in.Placeholder = "Write a message, /help for commands"
	in.Prompt = "› "
	in.Focus()

	m := &Model{viewport: vp, input: in, now: time.Now}
	m.lines = &lineViewport{vp: &m.viewport, layout: map[string]span{}}
	return &Host{m: m}
}

// SetSender wires the program's Send. Until then posts are dropped.
func (h *Host) SetSender(send func(tea.Msg)) { h.post = send }

func (h *Host) Post(fn func()) {
	if h.post != nil {
		h.post(loopMsg{fn: fn})
	}
}

func (h *Host) Viewport() chat.Viewport { return h.m.lines }

func (h *Host) Changed() { h.m.dirty = true }

func (h *Host) Focus() { h.m.input.Focus() }

// Notify runs on the loop, so it records the notice directly.
func (h *Host) Notify(n chat.Notice) { h.m.setNotice(n) }

// Attach binds the built session and the room to open on start.
func (h *Host) Attach(s *chat.Session, self models.Participant, room string) *Model {
	h.m.session = s
	h.m.pane = s.Pane()
	h.m.self = self
	h.m.room = room
	return h.m
}

// Options adapts pane thresholds to line units.
func Options() chat.Options {
	o := chat.DefaultOptions()
	o.BottomThreshold = 1
	o.TopThreshold = 2
	return o
}

func (m *Model) setNotice(n chat.Notice) {
	text := n.Text
	if n.Err != nil {
		text += ": " + n.Err.Error()
	}
	m.notice = text
	m.blocking = n.Level == chat.NoticeBlocking
	m.noticeAt = m.now()
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, func() tea.Msg {
		return loopMsg{fn: func() { m.session.Open(m.room) }}
	})
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	cmd := m.update(msg)
	m.settle()
	return m, cmd
}

func (m *Model) update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case loopMsg:
		msg.fn()
		return nil
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		m.dirty = true
		return nil
	case tea.MouseMsg:
		var cmd tea.Cmd
		before := m.viewport.YOffset
		m.viewport, cmd = m.viewport.Update(msg)
		if m.viewport.YOffset != before {
			m.pane.Scrolled()
		}
		return cmd
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.Type {
	case tea.KeyCtrlC:
		return tea.Quit
	case tea.KeyEsc:
		m.notice, m.blocking = "", false
		m.pane.ClearReply()
		return nil
	case tea.KeyPgUp, tea.KeyPgDown, tea.KeyHome, tea.KeyEnd:
		var cmd tea.Cmd
		before := m.viewport.YOffset
		m.viewport, cmd = m.viewport.Update(msg)
		if msg.Type == tea.KeyHome {
			m.viewport.GotoTop()
		}
		if msg.Type == tea.KeyEnd {
			m.viewport.GotoBottom()
		}
		if m.viewport.YOffset != before {
			m.pane.Scrolled()
		}
		return cmd
	case tea.KeyEnter:
		return m.submit()
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if v := m.input.Value(); v != before && !strings.HasPrefix(v, "/") {
		m.pane.SetText(v)
	}
	return cmd
}

func (m *Model) submit() tea.Cmd {
	value := strings.TrimSpace(m.input.Value())
	if strings.HasPrefix(value, "/") {
		m.input.Reset()
		return m.command(value)
	}
	if v := m.input.Value(); v != m.pane.Draft().Text {
		m.pane.SetText(v)
	}
	err := m.pane.Send()
	switch {
	case err == nil:
		if m.pane.Draft().Text == "" {
			m.input.Reset()
		}
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrSendInFlight):
		m.setNotice(chat.Notice{Text: err.Error()})
	}
	return nil
}

// command runs a slash command. Message references are the short ids
// shown next to each message; without one the newest fitting message is
// used.
func (m *Model) command(line string) tea.Cmd {
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "quit", "q":
		return tea.Quit
	case "attach":
		if arg == "" {
			m.setNotice(chat.Notice{Text: "usage: /attach <path>"})
			return nil
		}
		att, err := chat.FileAttachment(arg)
		if err != nil {
			m.setNotice(chat.Notice{Text: "Could not attach file", Err: err})
			return nil
		}
		m.pane.Attach(att)
	case "detach":
		m.pane.ClearAttachment()
	case "reply":
		id, ok := m.resolve(arg, func(msg *models.Message) bool { return !msg.Deleted && msg.Delivery == models.DeliveryConfirmed })
		if !ok || !m.pane.ReplyTo(id) {
			m.setNotice(chat.Notice{Text: "No message to reply to"})
		}
	case "delete":
		id, ok := m.resolve(arg, func(msg *models.Message) bool {
			return msg.Sender.ID == m.self.ID && !msg.Deleted && msg.Delivery == models.DeliveryConfirmed
		})
		if !ok {
			m.setNotice(chat.Notice{Text: "No message of yours to delete"})
			return nil
		}
		if err := m.pane.Delete(id); err != nil {
			m.setNotice(chat.Notice{Text: "Could not delete", Err: err})
		}
	case "latest":
		m.pane.JumpToLatest()
	case "older":
		if !m.pane.LoadOlder() {
			m.setNotice(chat.Notice{Text: "Nothing older to load"})
		}
	case "help":
		m.setNotice(chat.Notice{Text: "/attach <path>  /detach  /reply [id]  /delete [id]  /latest  /older  /quit"})
	default:
		m.setNotice(chat.Notice{Text: fmt.Sprintf("unknown command /%s", name)})
	}
	return nil
}

func (m *Model) resolve(ref string, fits func(*models.Message) bool) (string, bool) {
	msgs := m.pane.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := &msgs[i]
		if !fits(msg) {
			continue
		}
		if ref == "" || strings.HasPrefix(short(msg.ID), ref) {
			return msg.ID, true
		}
	}
	return "", false
}

// settle re-renders after pane mutations and reports each render back
// until the pane stops changing.
func (m *Model) settle() {
	if m.width == 0 {
		return
	}
	for i := 0; i < maxSettle && m.dirty; i++ {
		m.dirty = false
		m.render()
		m.pane.Rendered()
	}
	if m.notice != "" && !m.blocking && m.now().Sub(m.noticeAt) > noticeTTL {
		m.notice = ""
	}
}

func (m *Model) render() {
	content, layout := renderMessages(m.pane.Messages(), m.self.ID, m.width)
	m.lines.layout = layout
	m.lines.total = strings.Count(content, "\n") + 1
	if content == "" {
		m.lines.total = 0
	}
	m.viewport.SetContent(content)
	m.resize()
}

func (m *Model) footer() []string {
	var out []string
	if names := m.pane.Typing(); len(names) > 0 {
		out = append(out, statusStyle.Render(strings.Join(names, ", ")+" typing…"))
	}
	if n := m.pane.UnseenCount(); n > 0 && !m.pane.AtBottom() {
		out = append(out, noticeStyle.Render(fmt.Sprintf("↓ %d new messages (/latest)", n)))
	}
	if ups := renderUploads(m.pane.Uploads()); ups != "" {
		out = append(out, ups)
	}
	d := m.pane.Draft()
	if d.ReplyTo != nil {
		out = append(out, quoteStyle.Render("replying to "+d.ReplyTo.Sender.Name+": "+d.ReplyTo.Text+" (esc to cancel)"))
	}
	if d.Attachment != nil {
		out = append(out, statusStyle.Render("📎 "+d.Attachment.Name+" (/detach)"))
	}
	if m.notice != "" {
		style := statusStyle
		if m.blocking {
			style = errorStyle
		}
		out = append(out, style.Render(m.notice))
	}
	return out
}

func (m *Model) header() string {
	title := "conversation"
	if cp, ok := m.pane.Counterpart(); ok {
		title = cp.Name
	}
	if m.pane.State() != "ready" {
		title += " · loading"
	}
	return headerStyle.Render(title)
}

func (m *Model) resize() {
	if m.width == 0 {
		return
	}
	m.viewport.Width = m.width
	m.input.Width = m.width - 4
	used := lipgloss.Height(m.header()) + len(m.footer()) + 1
	m.viewport.Height = max(m.height-used, 1)
}

func (m *Model) View() string {
	if m.pane == nil || m.width == 0 {
		return ""
	}
	parts := []string{m.header(), m.viewport.View()}
	parts = append(parts, m.footer()...)
	parts = append(parts, m.input.View())
	return strings.Join(parts, "\n")
}
