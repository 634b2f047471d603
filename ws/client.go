package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/clamor-chat/clamor/chat"
	"github.com/clamor-chat/clamor/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mitchellh/mapstructure"
	"gorm.io/datatypes"
)

const (
	maxMessageSize  = 4096
	pongWait        = 2 * time.Minute
	pingPeriod      = time.Minute
	writeWait       = 10 * time.Second
	sendChannelSize = 256
)

// Client is a middleman between one websocket connection and the hub. It is
// bound to exactly one verified identity for its whole lifetime.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	svc  *chat.Service
	user *types.User

	// Buffered channel of outbound frames.
	send chan []byte

	// closed when the read loop exits, after LeaveAll has run
	done chan struct{}

	// lifetime of the connection; cancelled when teardown starts so
	// in-flight store calls are abandoned with it
	ctx    context.Context
	cancel context.CancelFunc

	// teardown marker, guarded by hub.mu
	down bool
}

func NewClient(hub *Hub, conn *websocket.Conn, user *types.User, svc *chat.Service) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:     uuid.New().String(),
		hub:    hub,
		conn:   conn,
		svc:    svc,
		user:   user,
		send:   make(chan []byte, sendChannelSize),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *Client) Id() string { return c.id }

// Done is closed once the connection teardown (including LeaveAll) finished.
func (c *Client) Done() <-chan struct{} { return c.done }

// trySend queues a frame without ever blocking the caller. A client whose
// send buffer is full has a dead or hopelessly slow connection; the frame is
// dropped and the ping/pong deadline will reap it.
func (c *Client) trySend(raw []byte) {
	select {
	case c.send <- raw:
	default:
		c.hub.log.Warn("dropping frame for slow client", "conn", c.id, "user", c.user.Id)
	}
}

func (c *Client) ack(seq int64, forEvent string, data interface{}, err error) {
	ack := types.Ack{
		Event: types.EventAck,
		For:   forEvent,
		Seq:   seq,
	}
	if err != nil {
		ack.Ok = false
		ack.Envelope.Error = &types.WireError{Code: chat.CodeOf(err), Message: chat.WireMessageOf(err)}
	} else {
		ack.Ok = true
		ack.Data = data
	}
	raw, merr := json.Marshal(ack)
	if merr != nil {
		c.hub.log.Error("could not marshal ack", "error", merr)
		return
	}
	c.trySend(raw)
}

// ReadLoop pumps command frames from the websocket connection into the chat
// service. Teardown is owned here: when the loop exits, the client leaves
// every room before done is closed, so a disconnect is never best-effort.
//
// The application runs ReadLoop in a per-connection goroutine; all reads
// happen from this one goroutine.
func (c *Client) ReadLoop() {
	defer func() {
		c.cancel()
		c.hub.LeaveAll(c)
		c.conn.Close()
		close(c.done)
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("websocket closed unexpectedly", "conn", c.id, "error", err)
			}
			return
		}
		frame := types.WebsocketMessage{}
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.hub.log.Debug("could not unmarshal frame", "conn", c.id, "error", err)
			continue
		}
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(frame types.WebsocketMessage) {
	payload := make(map[string]interface{})
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			c.ack(frame.Seq, frame.Event, nil, chat.ErrInvalidInput("malformed payload"))
			return
		}
	}
	ctx := c.ctx

	switch frame.Event {
	case types.EventChannelJoin:
		p := types.JoinPayload{}
		if err := mapstructure.WeakDecode(payload, &p); err != nil || p.ChannelId == "" {
			c.ack(frame.Seq, frame.Event, nil, chat.ErrInvalidInput("channel_id required"))
			return
		}
		if !c.svc.CanAccessChannel(ctx, c.user.Id, p.ChannelId) {
			c.ack(frame.Seq, frame.Event, nil, chat.ErrForbidden("no access to channel"))
			return
		}
		if !c.hub.Join(c, p.ChannelId) {
			c.ack(frame.Seq, frame.Event, nil, chat.ErrServer("connection closing"))
			return
		}
		c.ack(frame.Seq, frame.Event, nil, nil)

	case types.EventChannelLeave:
		p := types.JoinPayload{}
		if err := mapstructure.WeakDecode(payload, &p); err != nil || p.ChannelId == "" {
			c.ack(frame.Seq, frame.Event, nil, chat.ErrInvalidInput("channel_id required"))
			return
		}
		c.hub.Leave(c, p.ChannelId)
		c.ack(frame.Seq, frame.Event, nil, nil)

	case types.EventMessageCreate:
		p := types.CreateMessagePayload{}
		if err := mapstructure.WeakDecode(payload, &p); err != nil {
			c.ack(frame.Seq, frame.Event, nil, chat.ErrInvalidInput("malformed payload"))
			return
		}
		if p.ChannelId == "" || p.Content == "" {
			c.ack(frame.Seq, frame.Event, nil, chat.ErrInvalidInput("channel_id and content required"))
			return
		}
		var attachments datatypes.JSON
		if len(p.Attachments) > 0 {
			raw, err := json.Marshal(p.Attachments)
			if err != nil {
				c.ack(frame.Seq, frame.Event, nil, chat.ErrInvalidInput("malformed attachments"))
				return
			}
			attachments = raw
		}
		message, err := c.svc.CreateMessage(ctx, c.user.Id, p.ChannelId, p.Content, attachments, c.id)
		c.ack(frame.Seq, frame.Event, message, err)

	case types.EventMessageEdit:
		p := types.EditMessagePayload{}
		if err := mapstructure.WeakDecode(payload, &p); err != nil || p.MessageId == "" {
			c.ack(frame.Seq, frame.Event, nil, chat.ErrInvalidInput("message_id required"))
			return
		}
		message, err := c.svc.EditMessage(ctx, c.user.Id, p.MessageId, p.Content, c.id)
		c.ack(frame.Seq, frame.Event, message, err)

	case types.EventMessageDelete:
		p := types.DeleteMessagePayload{}
		if err := mapstructure.WeakDecode(payload, &p); err != nil || p.MessageId == "" {
			c.ack(frame.Seq, frame.Event, nil, chat.ErrInvalidInput("message_id required"))
			return
		}
		err := c.svc.DeleteMessage(ctx, c.user.Id, p.MessageId, c.id)
		if err != nil {
			c.ack(frame.Seq, frame.Event, nil, err)
			return
		}
		c.ack(frame.Seq, frame.Event, types.MessageDeletedPayload{Id: p.MessageId}, nil)

	default:
		c.ack(frame.Seq, frame.Event, nil, chat.ErrInvalidInput("unknown event"))
	}
}

// WriteLoop pumps frames from the send channel to the websocket connection.
// All writes happen from this one goroutine.
func (c *Client) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case raw := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				c.hub.log.Debug("could not write to websocket, exiting write loop", "conn", c.id)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.log.Debug("could not send ping, exiting write loop", "conn", c.id)
				return
			}

		case <-c.done:
			return
		}
	}
}

// SendConnected pushes the post-handshake greeting carrying the verified
// identity.
func (c *Client) SendConnected() {
	raw, err := json.Marshal(types.PushMessage{
		Event: types.EventConnected,
		Data:  types.Envelope{Ok: true, Data: types.ConnectedPayload{User: c.user}},
	})
	if err != nil {
		c.hub.log.Error("could not marshal connected event", "error", err)
		return
	}
	c.trySend(raw)
}
