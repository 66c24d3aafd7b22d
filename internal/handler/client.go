package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/unclebandit/linkcast-backend/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	outBuffer  = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// client owns one socket. Only writePump writes to ws.
type client struct {
	ws   *websocket.Conn
	log  zerolog.Logger
	out  chan model.PushMessage
	done chan struct{}
	once sync.Once
}

func newClient(ws *websocket.Conn, log zerolog.Logger) *client {
	c := &client{
		ws:   ws,
		log:  log,
		out:  make(chan model.PushMessage, outBuffer),
		done: make(chan struct{}),
	}
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.writePump()
	return c
}

func (c *client) send(msg model.PushMessage) {
	select {
	case c.out <- msg:
	case <-c.done:
	}
}

// forward copies frames from a hub subscription until it is cancelled.
func (c *client) forward(ch <-chan model.PushMessage) {
	for msg := range ch {
		c.send(msg)
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.out:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				c.log.Debug().Err(err).Msg("socket write failed")
				c.close()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func errorFrame(sessionID, message string) model.PushMessage {
	return model.PushMessage{Type: model.PushError, SessionID: sessionID, Message: message}
}
