package chat

import (
	"context"

	"marketchat/internal/models"
	"marketchat/internal/types"
)

// LoadOlder requests the page before the oldest loaded message. It reports
// whether a request was started; a load already in flight or an exhausted
// history make it a no-op.
func (p *Pane) LoadOlder() bool {
	if !p.loaded {
		return false
	}
	return p.loadPage()
}

// loadPage starts the first page load when nothing has been loaded yet,
// otherwise the next older page.
func (p *Pane) loadPage() bool {
	if p.room == "" || p.backend == nil || p.exec == nil {
		return false
	}
	if p.loading() {
		return false
	}
	initial := !p.loaded
	if !initial && !p.hasMore {
		return false
	}

	token, room := p.token, p.room
	cursor := ""
	if initial {
		p.state = stateLoadingInitial{token: token}
	} else {
		cursor = p.cursor
		p.state = stateLoadingMore{token: token}
	}
	p.log.Debug("loading history", "room", room, "cursor", cursor, "initial", initial)

	var page types.HistoryPage
	var err error
	p.exec.Go(func(ctx context.Context) {
		page, err = p.backend.History(ctx, room, cursor)
	}, func() {
		p.historyLoaded(token, room, initial, page, err)
	})
	return true
}

func (p *Pane) historyLoaded(token uint64, room string, initial bool, page types.HistoryPage, err error) {
	if !p.current(token, room) {
		p.log.Debug("discarding stale history page", "room", room)
		return
	}
	if err != nil {
		p.log.Error("history load failed", "room", room, "error", err)
		if p.loaded {
			p.state = stateReady{}
		} else {
			p.state = stateIdle{}
		}
		p.notify(Notice{Level: NoticeTransient, Text: "Could not load messages", Err: err})
		p.notifyChanged()
		return
	}

	if initial {
		p.applyFirstPage(page)
	} else {
		p.applyOlderPage(page)
	}
	p.notifyChanged()
}

func (p *Pane) applyFirstPage(page types.HistoryPage) {
	p.timeline.Merge(page.Messages)
	p.cursor = page.NextCursor
	p.hasMore = page.HasMore
	p.loaded = true
	p.state = stateReady{}

	p.lastSeenID = ""
	p.timeline.Each(func(m *models.Message) bool {
		if m.Sender.ID == p.self.ID || m.Deleted {
			return true
		}
		if m.HasSeen(p.self.ID) {
			p.lastSeenID = m.ID
		} else {
			p.unseen[m.ID] = struct{}{}
		}
		return true
	})
	p.scroll.planInitialJump(p.lastSeenID)
}

func (p *Pane) applyOlderPage(page types.HistoryPage) {
	var anchor *scrollAnchor
	if p.vp != nil {
		anchor = &scrollAnchor{height: p.vp.ScrollHeight(), top: p.vp.ScrollTop()}
		p.timeline.Each(func(m *models.Message) bool {
			if top, _, ok := p.vp.Locate(m.ID); ok {
				anchor.id = m.ID
				anchor.offset = anchor.top - top
			}
			return false
		})
	}
	added := p.timeline.Merge(page.Messages)
	p.cursor = page.NextCursor
	p.hasMore = page.HasMore

	if len(added) == 0 || anchor == nil {
		p.state = stateReady{}
		return
	}
	var fresh []string
	for _, m := range added {
		if m.Sender.ID != p.self.ID && !m.Deleted && !m.HasSeen(p.self.ID) {
			fresh = append(fresh, m.ID)
		}
	}
	p.state = stateLoadingMore{token: p.token, preserving: anchor, fresh: fresh}
	p.scroll.preserve()
}

// Resync pulls the newest page again after the channel reconnected and
// folds anything missed in as if it had arrived live.
func (p *Pane) Resync() {
	if p.room == "" || !p.loaded {
		return
	}
	p.emit(types.EventJoinRoom, types.Membership{UserID: p.self.ID})
	if p.backend == nil || p.exec == nil {
		return
	}
	token, room := p.token, p.room
	var page types.HistoryPage
	var err error
	p.exec.Go(func(ctx context.Context) {
		page, err = p.backend.History(ctx, room, "")
	}, func() {
		if !p.current(token, room) {
			return
		}
		if err != nil {
			p.log.Warn("resync failed", "room", room, "error", err)
			return
		}
		for _, m := range page.Messages {
			p.receive(m)
		}
	})
}

// markSeen records the current user has observed id and emits the
// receipt. Own messages and already seen ones are skipped.
func (p *Pane) markSeen(id string) {
	m, ok := p.timeline.Get(id)
	if !ok || m.Sender.ID == p.self.ID || m.Delivery != models.DeliveryConfirmed {
		return
	}
	if !m.MarkSeen(p.self.ID) {
		return
	}
	p.emit(types.EventMarkAsSeen, types.MarkAsSeen{MessageID: id, UserID: p.self.ID})
}

// settleUnseen marks every unseen message seen, oldest first.
func (p *Pane) settleUnseen() bool {
	if len(p.unseen) == 0 {
		return false
	}
	p.timeline.Each(func(m *models.Message) bool {
		if _, ok := p.unseen[m.ID]; ok {
			p.markSeen(m.ID)
		}
		return true
	})
	clear(p.unseen)
	return true
}
