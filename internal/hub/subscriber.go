// Copyright 2025 The adwd Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/warmonger0/adwd/internal/log"
)

const (
	// writeWait is the time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds inbound messages; clients are passive and
	// only liveness control frames are expected.
	maxMessageSize = 512
)

// subscriber is one live websocket connection on one topic. Clients are
// passive: the read side serves liveness only, never application data,
// and the send path never blocks on a receive.
type subscriber struct {
	topic  string
	conn   *websocket.Conn
	send   chan Frame
	logger *slog.Logger

	closeOnce sync.Once
	closedCh  chan struct{}
}

func newSubscriber(topic string, conn *websocket.Conn, queueDepth int, logger *slog.Logger) *subscriber {
	return &subscriber{
		topic:    topic,
		conn:     conn,
		send:     make(chan Frame, queueDepth),
		logger:   logger,
		closedCh: make(chan struct{}),
	}
}

// enqueue adds a frame to the send queue, dropping the oldest queued
// frame on overflow so a slow subscriber never blocks the hub.
func (s *subscriber) enqueue(frame Frame) {
	for {
		select {
		case <-s.closedCh:
			return
		case s.send <- frame:
			return
		default:
		}

		select {
		case <-s.send:
			s.logger.Debug("dropped oldest frame for slow subscriber",
				slog.String(log.TopicKey, s.topic))
		default:
		}
	}
}

// close marks the subscriber dead and closes the connection.
func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.closedCh)
		s.conn.Close()
	})
}

// writePump sends queued frames and periodic pings. It exits on the
// first failed write; a send failure only disconnects this subscriber.
func (s *subscriber) writePump(onDone func(*subscriber)) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
		onDone(s)
	}()

	for {
		select {
		case <-s.closedCh:
			return
		case frame := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(frame); err != nil {
				s.logger.Debug("subscriber send failed",
					slog.String(log.TopicKey, s.topic),
					log.Error(err))
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debug("subscriber ping failed",
					slog.String(log.TopicKey, s.topic),
					log.Error(err))
				return
			}
		}
	}
}

// readPump reads only for liveness: pongs refresh the read deadline and
// application messages are discarded. A read error prunes the
// subscriber without disrupting peers.
func (s *subscriber) readPump(onDone func(*subscriber)) {
	defer func() {
		s.close()
		onDone(s)
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
