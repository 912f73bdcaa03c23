package work

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"survivald/internal/model"
)

const streamBufferSize = 256

// StreamSource keeps a websocket subscription open to a trading venue's
// opportunity feed. Messages accumulate in a bounded buffer between
// heartbeat ticks; Discover drains whatever arrived since the last cycle.
// Execution settles over the venue's REST API.
type StreamSource struct {
	*HTTPSource
	streamURL string

	mu     sync.Mutex
	buffer []model.WorkOpportunity
}

// NewStreamSource creates a streaming trading source. Start must be called
// before the feed produces candidates.
func NewStreamSource(baseURL, streamURL string, ttl time.Duration) *StreamSource {
	return &StreamSource{
		HTTPSource: NewHTTPSource(model.CategoryTrading, baseURL, ttl),
		streamURL:  streamURL,
	}
}

func (s *StreamSource) Name() string { return "stream-trading" }

// Start runs the subscription loop until the context is cancelled,
// reconnecting with capped exponential backoff.
func (s *StreamSource) Start(ctx context.Context) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.streamURL, nil)
		if err != nil {
			logrus.WithField("url", s.streamURL).Warnf("opportunity stream dial failed: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
				backoff *= 2
				if backoff > 16*time.Second {
					backoff = 16 * time.Second
				}
			}
			continue
		}
		backoff = time.Second
		logrus.Info("opportunity stream connected")

		s.readLoop(ctx, conn)
		conn.Close()
	}
}

func (s *StreamSource) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			logrus.Warnf("opportunity stream read failed: %v", err)
			return
		}
		var c candidate
		if err := json.Unmarshal(message, &c); err != nil {
			logrus.Warnf("opportunity stream: malformed message: %v", err)
			continue
		}
		s.push(newOpportunity(model.CategoryTrading, c.Description, c.PayoutUSD, c.DurationMinutes, c.RiskLevel, s.ttl))
	}
}

func (s *StreamSource) push(opp model.WorkOpportunity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = append(s.buffer, opp)
	if len(s.buffer) > streamBufferSize {
		s.buffer = s.buffer[len(s.buffer)-streamBufferSize:]
	}
}

// Discover drains the buffered feed. Candidates are time-sensitive, so
// each discovery hands over only what arrived since the previous one.
func (s *StreamSource) Discover(_ context.Context) ([]model.WorkOpportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.buffer
	s.buffer = nil
	return out, nil
}
