package server

import (
	"context"

	"github.com/bosley/rtstt/logger"
	"github.com/bosley/rtstt/scribe"
	"github.com/bosley/rtstt/wire"
)

func messageFor(ev scribe.Event) wire.Message {
	switch ev.Kind {
	case scribe.KindFinal:
		return wire.Message{Type: wire.TypeFullSentence, Text: ev.Text}
	default:
		return wire.Message{Type: wire.TypeRealtime, Text: ev.Text}
	}
}

// dispatch drains recognition events on the network side and broadcasts them
// until the events channel closes or ctx is done.
func (s *Server) dispatch(ctx context.Context, events <-chan scribe.Event) {
	defer close(s.dispatchDone)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				s.logger.Debug("Event stream closed, dispatcher exiting")
				return
			}

			out := messageFor(ev)
			msg, err := wire.EncodeMessage(out)
			if err != nil {
				s.logger.Error("Failed to encode transcript", logger.Error(err))
				continue
			}

			total := s.clients.Len()
			sent := s.clients.Broadcast(msg)
			if sent < total {
				s.logger.Warn("Broadcast did not reach every client",
					logger.String("type", out.Type),
					logger.Int("sent", sent),
					logger.Int("clients", total))
			}
			if ev.Kind == scribe.KindPartial {
				s.logger.Debug("Realtime text", logger.String("text", ev.Text), logger.Int("clients", sent))
			}
		}
	}
}
