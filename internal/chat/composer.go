package chat

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"marketchat/internal/models"
	"marketchat/internal/types"
)

const localIDPrefix = "local-"

// Attachment is a file selected for sending. Open is called once per
// attempt so a failed upload can be retried.
type Attachment struct {
	Name string
	Type string
	Size int64
	Open func() (io.ReadCloser, error)
}

// FileAttachment builds an Attachment backed by a file on disk.
func FileAttachment(path string) (*Attachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("attach %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("attach %s: is a directory", path)
	}
	ctype := mime.TypeByExtension(filepath.Ext(path))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	return &Attachment{
		Name: filepath.Base(path),
		Type: ctype,
		Size: info.Size(),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

type Draft struct {
	Text       string
	Attachment *Attachment
	ReplyTo    *models.ReplyRef
}

type composer struct {
	draft       Draft
	sending     bool
	typingTimer Timer
	uploads     map[string]*models.PendingUpload
	lingers     map[string]Timer
	// pending maps optimistic local ids to their confirmation timers.
	pending map[string]Timer
}

func (c *composer) reset() {
	*c = composer{
		uploads: make(map[string]*models.PendingUpload),
		lingers: make(map[string]Timer),
		pending: make(map[string]Timer),
	}
}

func (c *composer) stop() {
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
	for _, t := range c.lingers {
		t.Stop()
	}
	for _, t := range c.pending {
		t.Stop()
	}
}

func (p *Pane) Draft() Draft { return p.composer.draft }

// Sending reports whether the compose box is locked by a send in flight.
func (p *Pane) Sending() bool { return p.composer.sending }

// Uploads lists the attachments still shown with progress.
func (p *Pane) Uploads() []models.PendingUpload {
	out := make([]models.PendingUpload, 0, len(p.composer.uploads))
	for _, u := range p.composer.uploads {
		out = append(out, *u)
	}
	return out
}

// SetText records a keystroke driven change of the compose text. Every call
// emits typing; stopTyping follows once no input arrived for TypingIdle.
func (p *Pane) SetText(text string) {
	if p.room == "" {
		return
	}
	p.composer.draft.Text = text
	p.emit(types.EventTyping, types.Typing{UserID: p.self.ID, Name: p.self.Name})
	c := &p.composer
	if c.typingTimer != nil {
		c.typingTimer.Stop()
	}
	c.typingTimer = p.after(p.opts.TypingIdle, func() {
		c.typingTimer = nil
		p.emit(types.EventStopTyping, types.Typing{UserID: p.self.ID, Name: p.self.Name})
	})
}

func (p *Pane) stopTypingNow() {
	c := &p.composer
	if c.typingTimer == nil {
		return
	}
	c.typingTimer.Stop()
	c.typingTimer = nil
	p.emit(types.EventStopTyping, types.Typing{UserID: p.self.ID, Name: p.self.Name})
}

func (p *Pane) Attach(a *Attachment) {
	if p.composer.sending {
		return
	}
	p.composer.draft.Attachment = a
	p.notifyChanged()
}

func (p *Pane) ClearAttachment() {
	if p.composer.sending {
		return
	}
	p.composer.draft.Attachment = nil
	p.notifyChanged()
}

// ReplyTo makes messageID the pending reply target and focuses the input.
func (p *Pane) ReplyTo(messageID string) bool {
	m, ok := p.timeline.Get(messageID)
	if !ok || m.Deleted || strings.HasPrefix(m.ID, localIDPrefix) {
		return false
	}
	p.composer.draft.ReplyTo = m.Quote()
	if p.focus != nil {
		p.focus()
	}
	p.notifyChanged()
	return true
}

func (p *Pane) ClearReply() {
	if p.composer.draft.ReplyTo == nil {
		return
	}
	p.composer.draft.ReplyTo = nil
	p.notifyChanged()
}

// Send sends the draft: its text, its attachment and its reply target. An
// empty draft or a send already in flight make it a no-op, reported
// through the returned error.
func (p *Pane) Send() error {
	if p.room == "" {
		return ErrNoRoom
	}
	c := &p.composer
	if c.sending {
		return ErrSendInFlight
	}
	text := strings.TrimSpace(c.draft.Text)
	att := c.draft.Attachment
	if text == "" && att == nil {
		return ErrEmptyMessage
	}
	reply := c.draft.ReplyTo
	p.stopTypingNow()

	if att == nil {
		if err := p.emitSend(text, "", "", reply); err != nil {
			p.notify(Notice{Level: NoticeTransient, Text: "Message not sent", Err: err})
			return err
		}
		p.notifyChanged()
		return nil
	}
	if p.backend == nil || p.exec == nil {
		p.notify(Notice{Level: NoticeTransient, Text: "Attachments are unavailable", Err: ErrNoUploads})
		return ErrNoUploads
	}
	p.startUpload(text, att, reply)
	p.notifyChanged()
	return nil
}

// emitSend publishes the message, inserts the optimistic entry and clears
// the draft. The server echo replaces the entry later.
func (p *Pane) emitSend(text, mediaURL, fileName string, reply *models.ReplyRef) error {
	ev := types.SendMessage{Text: text, MediaURL: mediaURL, FileName: fileName}
	if reply != nil {
		ev.ReplyTo = reply.ID
	}
	if err := p.emit(types.EventSendMessage, ev); err != nil {
		return err
	}

	local := models.Message{
		ID:        localIDPrefix + uuid.NewString(),
		RoomID:    p.room,
		Sender:    p.self,
		Text:      text,
		MediaURL:  mediaURL,
		FileName:  fileName,
		ReplyTo:   reply,
		SeenBy:    []string{},
		CreatedAt: p.clock.Now(),
		Delivery:  models.DeliverySending,
	}
	p.timeline.Insert(local)
	id := local.ID
	p.composer.pending[id] = p.after(p.opts.ConfirmTimeout, func() {
		p.failPending(id, fmt.Errorf("no confirmation within %s", p.opts.ConfirmTimeout))
	})

	p.composer.draft = Draft{}
	p.requestBottom()
	return nil
}

// reconcile swaps the oldest matching optimistic entry for the confirmed
// echo m. Matching is by sender, room, content and a timestamp window.
func (p *Pane) reconcile(m models.Message) bool {
	var match *models.Message
	p.timeline.Each(func(local *models.Message) bool {
		if local.Delivery != models.DeliverySending || local.RoomID != m.RoomID ||
			local.Sender.ID != m.Sender.ID || local.Text != m.Text ||
			local.MediaURL != m.MediaURL || local.FileName != m.FileName {
			return true
		}
		diff := m.CreatedAt.Sub(local.CreatedAt)
		if diff < 0 {
			diff = -diff
		}
		if diff > p.opts.EchoWindow {
			return true
		}
		match = local
		return false
	})
	if match == nil {
		return false
	}
	if t, ok := p.composer.pending[match.ID]; ok {
		t.Stop()
		delete(p.composer.pending, match.ID)
	}
	if m.ReplyTo == nil {
		m.ReplyTo = match.ReplyTo
	}
	p.timeline.Replace(match.ID, m)
	return true
}

func (p *Pane) failPending(id string, cause error) {
	if t, ok := p.composer.pending[id]; ok {
		t.Stop()
		delete(p.composer.pending, id)
	}
	if !p.timeline.Remove(id) {
		return
	}
	p.log.Warn("optimistic message dropped", "room", p.room, "error", cause)
	p.notify(Notice{Level: NoticeTransient, Text: "Message could not be delivered", Err: cause})
	p.notifyChanged()
}

// failed handles a server rejection. A rejected send drops the oldest
// optimistic entry with the same text, or the oldest one at all.
func (p *Pane) failed(f types.Failure) {
	if f.Op != types.EventSendMessage {
		p.log.Warn("server rejected event", "op", f.Op, "code", f.Code, "message", f.Message)
		p.notify(Notice{Level: NoticeTransient, Text: f.Message})
		return
	}
	var oldest, exact string
	p.timeline.Each(func(m *models.Message) bool {
		if m.Delivery != models.DeliverySending {
			return true
		}
		if oldest == "" {
			oldest = m.ID
		}
		if m.Text == f.Text {
			exact = m.ID
			return false
		}
		return true
	})
	target := exact
	if target == "" {
		target = oldest
	}
	if target == "" {
		return
	}
	p.failPending(target, fmt.Errorf("%s: %s", f.Code, f.Message))
}

func (p *Pane) startUpload(text string, att *Attachment, reply *models.ReplyRef) {
	c := &p.composer
	c.sending = true
	up := &models.PendingUpload{
		ID:     uuid.NewString(),
		Name:   att.Name,
		Size:   att.Size,
		Type:   att.Type,
		Status: models.UploadPreparing,
	}
	c.uploads[up.ID] = up

	token, room, id := p.token, p.room, up.ID
	onLoop := func(fn func()) {
		p.post(func() {
			if p.current(token, room) {
				fn()
			}
		})
	}
	progress := func(sent int64) {
		onLoop(func() { p.uploadProgress(id, sent) })
	}

	var prep types.PrepareUploadResponse
	var err error
	p.exec.Go(func(ctx context.Context) {
		prep, err = p.backend.PrepareUpload(ctx, types.PrepareUploadRequest{
			Filename:    att.Name,
			ContentType: att.Type,
			Size:        att.Size,
		})
		if err != nil {
			err = fmt.Errorf("prepare upload: %w", err)
			return
		}
		onLoop(func() { p.uploadStatus(id, models.UploadUploading) })

		var body io.ReadCloser
		body, err = att.Open()
		if err != nil {
			err = fmt.Errorf("open attachment: %w", err)
			return
		}
		defer body.Close()
		if err = p.backend.Upload(ctx, prep.FileURL, body, att.Size, att.Type, progress); err != nil {
			err = fmt.Errorf("upload: %w", err)
		}
	}, func() {
		if !p.current(token, room) {
			p.log.Debug("discarding stale upload", "room", room, "upload", id)
			return
		}
		p.uploadFinished(id, text, att, reply, prep, err)
	})
}

func (p *Pane) uploadProgress(id string, sent int64) {
	up, ok := p.composer.uploads[id]
	if !ok || up.Size <= 0 {
		return
	}
	before := up.Progress
	up.Advance(int(sent * 100 / up.Size))
	if up.Progress != before {
		p.notifyChanged()
	}
}

func (p *Pane) uploadStatus(id string, status models.UploadStatus) {
	if up, ok := p.composer.uploads[id]; ok && !up.Status.Terminal() {
		up.Status = status
		p.notifyChanged()
	}
}

func (p *Pane) uploadFinished(id, text string, att *Attachment, reply *models.ReplyRef, prep types.PrepareUploadResponse, err error) {
	c := &p.composer
	c.sending = false
	up, ok := c.uploads[id]
	if !ok {
		return
	}

	if err == nil {
		up.Status = models.UploadProcessing
		err = p.emitSend(text, prep.PublicURL, att.Name, reply)
	}
	if err != nil {
		up.Status = models.UploadFailed
		up.Err = err.Error()
		p.log.Error("attachment send failed", "room", p.room, "file", att.Name, "error", err)
		p.notify(Notice{Level: NoticeBlocking, Text: "Could not send " + att.Name, Err: err, UploadID: id})
	} else {
		up.Status = models.UploadCompleted
		up.Advance(100)
	}
	c.lingers[id] = p.after(p.opts.UploadLinger, func() {
		delete(c.uploads, id)
		delete(c.lingers, id)
		p.notifyChanged()
	})
	p.notifyChanged()
}

// Delete asks the server to tombstone one of the current user's messages.
func (p *Pane) Delete(messageID string) error {
	m, ok := p.timeline.Get(messageID)
	if !ok || m.Deleted {
		return fmt.Errorf("delete %s: not found", messageID)
	}
	if m.Sender.ID != p.self.ID {
		return fmt.Errorf("delete %s: not the author", messageID)
	}
	if m.Delivery != models.DeliveryConfirmed {
		return fmt.Errorf("delete %s: not delivered yet", messageID)
	}
	return p.emit(types.EventDeleteMessage, types.DeleteMessage{MessageID: messageID})
}
