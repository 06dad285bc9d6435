package hub

import (
	"context"
	"errors"
	"strings"
	"time"

	"marketchat/internal/metrics"
	"marketchat/internal/models"
	"marketchat/internal/repository"
	"marketchat/internal/types"
)

const (
	handleTimeout  = 5 * time.Second
	warningBackoff = 3 * time.Second
	maxTextLength  = 4000
)

const (
	codeInvalid     = "invalid"
	codeForbidden   = "forbidden"
	codeNotJoined   = "not_joined"
	codeNotFound    = "not_found"
	codeRateLimited = "rate_limited"
	codeInternal    = "internal"
)

// rejection is a failure reported back to the publisher.
type rejection struct {
	code string
	msg  string
}

func (r *rejection) Error() string { return r.code + ": " + r.msg }

func reject(code, msg string) error { return &rejection{code: code, msg: msg} }

func (c *Client) handle(frame []byte) {
	env, err := types.Decode(frame)
	if err != nil {
		metrics.Events.WithLabelValues("unknown", "invalid").Inc()
		c.Hub.log.Debug("dropping malformed frame", "user", c.user.ID, "error", err)
		return
	}
	if !env.Type.ServerBound() {
		metrics.Events.WithLabelValues(string(env.Type), "invalid").Inc()
		return
	}

	switch env.Type {
	case types.EventTyping, types.EventStopTyping:
		if !c.typing.Allow() {
			metrics.Events.WithLabelValues(string(env.Type), "rate_limited").Inc()
			return
		}
	case types.EventJoinRoom, types.EventLeaveRoom:
	default:
		if !c.Limiter.Allow() {
			metrics.Events.WithLabelValues(string(env.Type), "rate_limited").Inc()
			if env.Type == types.EventSendMessage || time.Since(c.LastWarning) > warningBackoff {
				c.LastWarning = time.Now()
				c.fail(env, reject(codeRateLimited, "slow down"))
			}
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	switch env.Type {
	case types.EventJoinRoom:
		err = c.joinRoom(ctx, env.Room)
	case types.EventLeaveRoom:
		c.leaveRoom(env.Room)
	case types.EventSendMessage:
		err = c.sendMessage(ctx, env)
	case types.EventMarkAsSeen:
		err = c.markAsSeen(ctx, env)
	case types.EventTyping:
		err = c.relayTyping(ctx, env.Room, types.EventUserTyping)
	case types.EventStopTyping:
		err = c.relayTyping(ctx, env.Room, types.EventUserStopTyping)
	case types.EventDeleteMessage:
		err = c.deleteMessage(ctx, env)
	}

	if err != nil {
		metrics.Events.WithLabelValues(string(env.Type), "rejected").Inc()
		c.fail(env, err)
		return
	}
	metrics.Events.WithLabelValues(string(env.Type), "ok").Inc()
}

func (c *Client) fail(env types.Envelope, err error) {
	f := types.Failure{Op: env.Type, Code: codeInternal, Message: "something went wrong", At: time.Now().UTC()}
	var r *rejection
	if errors.As(err, &r) {
		f.Code, f.Message = r.code, r.msg
	} else {
		c.Hub.log.Error("event failed", "event", env.Type, "room", env.Room, "user", c.user.ID, "error", err)
	}
	if env.Type == types.EventSendMessage {
		var body types.SendMessage
		if env.Bind(&body) == nil {
			f.Text = body.Text
		}
	}
	out, encErr := types.NewEnvelope(types.EventError, env.Room, f)
	if encErr != nil {
		return
	}
	raw, encErr := out.Encode()
	if encErr != nil {
		return
	}
	c.Hub.submit(op{kind: opReply, client: c, raw: raw})
}

func (c *Client) isJoined(room string) bool {
	_, ok := c.joined[room]
	return ok
}

func (c *Client) joinRoom(ctx context.Context, room string) error {
	ok, err := c.Hub.roomRepo.IsParticipant(ctx, room, c.user.ID)
	if err != nil {
		return err
	}
	if !ok {
		return reject(codeForbidden, "not a participant of this room")
	}
	c.joined[room] = struct{}{}
	c.Hub.submit(op{kind: opJoin, client: c, room: room})
	return nil
}

func (c *Client) leaveRoom(room string) {
	if !c.isJoined(room) {
		return
	}
	delete(c.joined, room)
	c.Hub.submit(op{kind: opLeave, client: c, room: room})
}

func (c *Client) sendMessage(ctx context.Context, env types.Envelope) error {
	if !c.isJoined(env.Room) {
		return reject(codeNotJoined, "join the room first")
	}
	var body types.SendMessage
	if err := env.Bind(&body); err != nil {
		return reject(codeInvalid, err.Error())
	}
	body.Text = strings.TrimSpace(body.Text)
	if body.Text == "" && body.MediaURL == "" {
		return reject(codeInvalid, "message is empty")
	}
	if len(body.Text) > maxTextLength {
		return reject(codeInvalid, "message is too long")
	}
	if prefix := c.Hub.opts.MediaPrefix; body.MediaURL != "" && prefix != "" && !strings.HasPrefix(body.MediaURL, prefix) {
		return reject(codeInvalid, "attachment was not uploaded here")
	}

	msg := &models.Message{
		RoomID:   env.Room,
		Sender:   c.user,
		Text:     body.Text,
		MediaURL: body.MediaURL,
		FileName: body.FileName,
	}
	if body.MediaURL == "" {
		msg.FileName = ""
	}
	if body.ReplyTo != "" {
		target, err := c.Hub.messages.Get(ctx, body.ReplyTo)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && target.RoomID != env.Room) {
			return reject(codeNotFound, "replied message does not exist")
		}
		if err != nil {
			return err
		}
		if target.Deleted {
			return reject(codeInvalid, "cannot reply to a deleted message")
		}
		msg.ReplyTo = target.Quote()
	}

	if err := c.Hub.messages.Save(ctx, msg); err != nil {
		return err
	}
	return c.broadcast(ctx, types.EventReceiveMessage, env.Room, types.ReceiveMessage{Message: *msg}, nil)
}

func (c *Client) markAsSeen(ctx context.Context, env types.Envelope) error {
	if !c.isJoined(env.Room) {
		return reject(codeNotJoined, "join the room first")
	}
	var body types.MarkAsSeen
	if err := env.Bind(&body); err != nil {
		return reject(codeInvalid, err.Error())
	}
	grew, err := c.Hub.messages.MarkSeen(ctx, env.Room, body.MessageID, c.user.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return reject(codeNotFound, "message does not exist")
	}
	if err != nil {
		return err
	}
	if !grew {
		return nil
	}
	return c.broadcast(ctx, types.EventMessageSeen, env.Room, types.MessageSeen{MessageID: body.MessageID, UserID: c.user.ID}, nil)
}

// relayTyping forwards typing state to the other members only. It is
// never persisted and unjoined attempts are dropped.
func (c *Client) relayTyping(ctx context.Context, room string, t types.EventType) error {
	if !c.isJoined(room) {
		return nil
	}
	return c.broadcast(ctx, t, room, types.Typing{UserID: c.user.ID, Name: c.user.Name}, c)
}

func (c *Client) deleteMessage(ctx context.Context, env types.Envelope) error {
	if !c.isJoined(env.Room) {
		return reject(codeNotJoined, "join the room first")
	}
	var body types.DeleteMessage
	if err := env.Bind(&body); err != nil {
		return reject(codeInvalid, err.Error())
	}
	err := c.Hub.messages.SoftDelete(ctx, env.Room, body.MessageID, c.user.ID)
	switch {
	case errors.Is(err, repository.ErrNotAuthor):
		return reject(codeForbidden, "only the author can delete a message")
	case errors.Is(err, repository.ErrNotFound):
		return reject(codeNotFound, "message does not exist")
	case err != nil:
		return err
	}
	return c.broadcast(ctx, types.EventMessageDeleted, env.Room, types.MessageDeleted{MessageID: body.MessageID}, nil)
}

func (c *Client) broadcast(ctx context.Context, t types.EventType, room string, data any, except *Client) error {
	env, err := types.NewEnvelope(t, room, data)
	if err != nil {
		return err
	}
	return c.Hub.publish(ctx, env, except)
}
