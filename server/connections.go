package server

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrClientClosed  = errors.New("client closed")
	ErrSendQueueFull = errors.New("client send queue full")
)

// Client is one connected websocket peer. Outbound messages go through a
// bounded queue drained by the client's write pump.
type Client struct {
	ID          uuid.UUID
	Addr        string
	ConnectedAt time.Time

	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, addr string, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Client{
		ID:          uuid.New(),
		Addr:        addr,
		ConnectedAt: time.Now(),
		conn:        conn,
		send:        make(chan []byte, queueSize),
		done:        make(chan struct{}),
	}
}

// Send queues msg without blocking
func (c *Client) Send(msg []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		return ErrSendQueueFull
	}
}

// Close marks the client closed and closes its socket. The send queue is
// never closed; the write pump exits on done.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

func (c *Client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

type ClientList struct {
	clients map[uuid.UUID]*Client
	mu      sync.RWMutex
}

func NewClientList() *ClientList {
	cl := &ClientList{
		clients: make(map[uuid.UUID]*Client),
	}
	return cl
}

func (cl *ClientList) Add(client *Client) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.clients[client.ID] = client
}

// Remove reports whether id was a member
func (cl *ClientList) Remove(id uuid.UUID) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if _, ok := cl.clients[id]; !ok {
		return false
	}
	delete(cl.clients, id)
	return true
}

func (cl *ClientList) Get(id uuid.UUID) (*Client, bool) {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	client, ok := cl.clients[id]
	return client, ok
}

func (cl *ClientList) Len() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.clients)
}

func (cl *ClientList) Snapshot() []*Client {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	out := make([]*Client, 0, len(cl.clients))
	for _, c := range cl.clients {
		out = append(out, c)
	}
	return out
}

// Broadcast queues msg on every member. A member that cannot take the message
// is removed and closed; the rest are unaffected. Returns how many members
// accepted the message.
func (cl *ClientList) Broadcast(msg []byte) int {
	sent := 0
	for _, c := range cl.Snapshot() {
		if err := c.Send(msg); err != nil {
			if cl.Remove(c.ID) {
				c.Close()
			}
			continue
		}
		sent++
	}
	return sent
}
