package chat

import (
	"marketchat/internal/models"
	"marketchat/internal/types"
)

// LiveEvents are the channel events a pane subscribes to while a room is
// active.
var LiveEvents = []types.EventType{
	types.EventReceiveMessage,
	types.EventMessageSeen,
	types.EventUserTyping,
	types.EventUserStopTyping,
	types.EventMessageDeleted,
	types.EventError,
}

// HandleEvent folds one validated channel event into the pane. Events for
// any other room are ignored.
func (p *Pane) HandleEvent(env types.Envelope) {
	if p.room == "" || env.Room != p.room {
		p.log.Debug("ignoring event for inactive room", "event", env.Type, "room", env.Room)
		return
	}
	var err error
	switch env.Type {
	case types.EventReceiveMessage:
		var ev types.ReceiveMessage
		if err = env.Bind(&ev); err == nil {
			p.receive(ev.Message)
		}
	case types.EventMessageSeen:
		var ev types.MessageSeen
		if err = env.Bind(&ev); err == nil {
			p.seen(ev)
		}
	case types.EventUserTyping, types.EventUserStopTyping:
		var ev types.Typing
		if err = env.Bind(&ev); err == nil {
			p.typingChanged(ev, env.Type == types.EventUserTyping)
		}
	case types.EventMessageDeleted:
		var ev types.MessageDeleted
		if err = env.Bind(&ev); err == nil {
			p.deleted(ev)
		}
	case types.EventError:
		var ev types.Failure
		if err = env.Bind(&ev); err == nil {
			p.failed(ev)
		}
	default:
		p.log.Debug("unhandled event", "event", env.Type)
		return
	}
	if err != nil {
		p.log.Warn("dropping malformed event", "event", env.Type, "error", err)
	}
}

func (p *Pane) receive(m models.Message) {
	if m.ID == "" || p.timeline.Has(m.ID) {
		return
	}
	m.Delivery = models.DeliveryConfirmed
	mine := m.Sender.ID == p.self.ID
	if mine && p.reconcile(m) {
		p.requestBottom()
		p.notifyChanged()
		return
	}
	p.timeline.Insert(m)

	switch {
	case mine:
		p.requestBottom()
	case p.scroll.atBottom:
		p.requestBottom()
		p.markSeen(m.ID)
	default:
		if !m.HasSeen(p.self.ID) {
			p.unseen[m.ID] = struct{}{}
		}
	}
	p.notifyChanged()
}

func (p *Pane) seen(ev types.MessageSeen) {
	m, ok := p.timeline.Get(ev.MessageID)
	if !ok {
		return
	}
	if m.MarkSeen(ev.UserID) {
		if ev.UserID == p.self.ID {
			delete(p.unseen, m.ID)
		}
		p.notifyChanged()
	}
}

func (p *Pane) typingChanged(ev types.Typing, active bool) {
	if ev.UserID == p.self.ID {
		return
	}
	if active {
		if name, ok := p.typing[ev.UserID]; ok && name == ev.Name {
			return
		}
		p.typing[ev.UserID] = ev.Name
	} else {
		if _, ok := p.typing[ev.UserID]; !ok {
			return
		}
		delete(p.typing, ev.UserID)
	}
	p.notifyChanged()
}

func (p *Pane) deleted(ev types.MessageDeleted) {
	m, ok := p.timeline.Get(ev.MessageID)
	if !ok || m.Deleted {
		return
	}
	m.Deleted = true
	delete(p.unseen, m.ID)
	p.notifyChanged()
}
