package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 64
)

// Client is one websocket connection. readPump dispatches inbound frames to
// the hub; writePump owns every write to the socket.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	log  *zap.Logger

	send chan []byte
	ctx  context.Context
	stop context.CancelFunc
	once sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Client{
		id:   id,
		hub:  hub,
		conn: conn,
		log:  hub.log.With(zap.String("conn", id)),
		send: make(chan []byte, sendBuffer),
		ctx:  ctx,
		stop: cancel,
	}
}

func (c *Client) ID() string { return c.id }

// Deliver queues a frame; a client whose buffer is full loses the frame.
func (c *Client) Deliver(event string, payload any) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		c.log.Error("encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	select {
	case <-c.ctx.Done():
		return
	default:
	}
	select {
	case c.send <- frame:
	default:
		c.log.Warn("send buffer full, frame dropped", zap.String("event", event))
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		c.stop()
		c.conn.Close()
	})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Disconnect(c)
		c.close()
		c.log.Info("disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("read failed", zap.Error(err))
			}
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.log.Warn("malformed frame", zap.Error(err))
			continue
		}
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(frame Frame) {
	switch frame.Event {
	case EventJoinRoom:
		var roomID string
		if err := json.Unmarshal(frame.Data, &roomID); err != nil {
			c.log.Warn("joinRoom expects a record id", zap.Error(err))
			return
		}
		_ = c.hub.Join(c.ctx, c, roomID)
	case EventSendMessage:
		var req SendRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			c.log.Warn("malformed sendMessage", zap.Error(err))
			return
		}
		_ = c.hub.Send(c.ctx, req)
	default:
		c.log.Debug("ignored event", zap.String("event", frame.Event))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}
