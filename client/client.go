package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bosley/rtstt/logger"
	"github.com/bosley/rtstt/wire"
)

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	messageBuffer    = 64
)

type Config struct {
	// Server is host:port or a full ws:// or wss:// URL
	Server string

	// Use wss. Implied by a wss:// Server.
	TLS bool

	// Skip certificate verification
	Insecure bool

	// PEM certificate to trust for the server
	CertFile string
}

// Client streams audio frames to a server and receives its transcripts
type Client struct {
	conn   *websocket.Conn
	logger *logger.Logger

	writeMu  sync.Mutex
	messages chan wire.Message

	mu  sync.Mutex
	err error

	done      chan struct{}
	closeOnce sync.Once
}

func Dial(ctx context.Context, cfg Config, log *logger.Logger) (*Client, error) {
	log = log.Named("client")

	target, err := serverURL(cfg)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	if target.Scheme == "wss" {
		tlsConfig, err := createTLSConfig(cfg.Insecure, cfg.CertFile, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		dialer.TLSClientConfig = tlsConfig
	}

	conn, _, err := dialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	log.Info("Connected to server", logger.String("url", target.String()))

	c := &Client{
		conn:     conn,
		logger:   log,
		messages: make(chan wire.Message, messageBuffer),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func serverURL(cfg Config) (*url.URL, error) {
	raw := cfg.Server
	if raw == "" {
		return nil, errors.New("server address is required")
	}
	if !strings.Contains(raw, "://") {
		scheme := "ws"
		if cfg.TLS {
			scheme = "wss"
		}
		raw = scheme + "://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid server address: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}

func createTLSConfig(insecureMode bool, serverCertFile string, log *logger.Logger) (*tls.Config, error) {
	if insecureMode {
		log.Warn("Running in insecure mode. This should not be used in production!")
		return &tls.Config{InsecureSkipVerify: true}, nil
	}
	if serverCertFile == "" {
		return &tls.Config{}, nil
	}

	certPEM, err := os.ReadFile(serverCertFile)
	if err != nil {
		return nil, err
	}

	certPool := x509.NewCertPool()
	if !certPool.AppendCertsFromPEM(certPEM) {
		return nil, fmt.Errorf("failed to append server certificate")
	}

	return &tls.Config{
		RootCAs: certPool,
	}, nil
}

func (c *Client) readLoop() {
	defer close(c.messages)

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.setErr(err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		msg, err := wire.DecodeMessage(data)
		if err != nil {
			c.logger.Warn("Ignoring undecodable server message", logger.Error(err))
			continue
		}
		select {
		case c.messages <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Messages yields transcripts in arrival order and is closed when the
// connection ends
func (c *Client) Messages() <-chan wire.Message {
	return c.messages
}

// Err reports why the connection ended, nil for a clean close
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// SendSamples sends one frame of mono PCM16 audio recorded at sampleRate
func (c *Client) SendSamples(sampleRate uint32, samples []int16) error {
	frame, err := wire.EncodeSamples(sampleRate, samples)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

// Close sends a close frame and drops the connection
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
