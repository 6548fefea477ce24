package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bosley/rtstt/audio"
	"github.com/bosley/rtstt/logger"
	"github.com/bosley/rtstt/scribe"
	"github.com/bosley/rtstt/wire"
)

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Counted before the upgrade so shutdown cannot miss a connection mid-hijack
	s.handlers.Add(1)
	defer s.handlers.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", logger.Error(err), logger.String("remote_addr", r.RemoteAddr))
		return
	}

	client := NewClient(conn, r.RemoteAddr, s.cfg.SendQueueSize)
	s.clients.Add(client)

	go s.writePump(client)
	s.handleConnection(client)
}

// handleConnection reads frames in receipt order and feeds them to the scribe
// until the peer goes away or the server shuts down.
func (s *Server) handleConnection(client *Client) {
	log := s.logger.With(logger.String("client_id", client.ID.String()), logger.String("remote_addr", client.Addr))
	log.Info("Client connected", logger.Int("clients", s.clients.Len()))

	stop := context.AfterFunc(s.baseCtx, client.Close)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Connection handler panicked", logger.Any("panic", r))
		}
		stop()
		s.clients.Remove(client.ID)
		client.Close()
		log.Info("Client disconnected", logger.Int("clients", s.clients.Len()))
	}()

	conn := client.conn
	conn.SetReadLimit(s.cfg.ReadLimit)
	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		return nil
	})

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) && !client.Closed() {
				log.Warn("WebSocket read error", logger.Error(err))
			}
			return
		}
		// Any message from the peer counts as liveness
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		if msgType != websocket.BinaryMessage {
			log.Debug("Ignoring non-binary message")
			continue
		}
		if err := s.processFrame(msg); err != nil {
			log.Warn("Dropping frame", logger.Error(err))
		}
	}
}

// processFrame decodes one frame and feeds its audio. Every error it returns
// drops just that frame.
func (s *Server) processFrame(msg []byte) error {
	if !s.scribe.Ready() {
		return scribe.ErrNotReady
	}

	frame, err := wire.DecodeFrame(msg)
	if err != nil {
		return err
	}

	samples := audio.BytesToSamples(frame.Audio)
	resampled, err := audio.Resample(samples, int(frame.SampleRate), audio.TargetSampleRate)
	if err != nil {
		s.logger.Warn("Resampling failed, passing audio through",
			logger.Error(err),
			logger.Uint32("source_rate", frame.SampleRate),
			logger.Int("target_rate", audio.TargetSampleRate))
	}

	if err := s.scribe.Feed(resampled); err != nil {
		if errors.Is(err, scribe.ErrNotReady) {
			return err
		}
		return fmt.Errorf("feed failed: %w", err)
	}
	return nil
}

func (s *Server) writePump(client *Client) {
	ticker := time.NewTicker(s.pingPeriod())
	defer func() {
		ticker.Stop()
		client.Close()
	}()

	conn := client.conn
	for {
		select {
		case <-client.done:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case message := <-client.send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Debug("Write failed, closing client",
					logger.String("client_id", client.ID.String()), logger.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
