package darkpool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Checker-Finance/darkpool-adapter/internal/metrics"
)

const (
	EventSubscriptions = "subscriptions"
	EventTaskUpdate    = "task_update"
	EventOrderUpdate   = "order_update"
	EventBalanceUpdate = "balance_update"
	EventFill          = "fill"
)

// TaskTopic is the topic carrying status updates for a relayer task.
func TaskTopic(taskID string) string { return "/v0/tasks/" + taskID }

// ClientMessage is a subscribe or unsubscribe request. Headers carry the
// auth signature over the serialized body.
type ClientMessage struct {
	Headers map[string]string `json:"headers"`
	Body    ClientMessageBody `json:"body"`
}

type ClientMessageBody struct {
	Method string `json:"method"` // subscribe | unsubscribe
	Topic  string `json:"topic"`
}

// ServerMessage is a message pushed by the relayer on a topic.
type ServerMessage struct {
	Topic string      `json:"topic"`
	Body  ServerEvent `json:"body"`
}

// ServerEvent is the tagged body of a server message. Raw holds the whole
// body so handlers can decode event specific fields.
type ServerEvent struct {
	Event         string
	Subscriptions []string
	Raw           json.RawMessage
}

func (e *ServerEvent) UnmarshalJSON(b []byte) error {
	var head struct {
		Event         string   `json:"event"`
		Subscriptions []string `json:"subscriptions"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return err
	}
	e.Event = head.Event
	e.Subscriptions = head.Subscriptions
	e.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// Decode unmarshals the raw event body into v.
func (e ServerEvent) Decode(v any) error {
	return json.Unmarshal(e.Raw, v)
}

// ErrStreamClosed is returned by Connect after Close.
var ErrStreamClosed = errors.New("stream closed")

// StreamHandler is called for every server message.
type StreamHandler func(msg *ServerMessage)

// Stream is an authenticated websocket subscription client. Subscribed
// topics are restored after a reconnect.
type Stream struct {
	url            string
	auth           *Authenticator
	logger         *zap.Logger
	dialer         websocket.Dialer
	reconnectDelay time.Duration

	conn    *websocket.Conn
	connMu  sync.RWMutex
	writeMu sync.Mutex

	handlers   []StreamHandler
	handlersMu sync.RWMutex

	topics   map[string]struct{}
	active   []string
	topicsMu sync.Mutex

	reconnecting atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
}

// NewStream returns a stream for the relayer websocket at url.
func NewStream(url string, auth *Authenticator, logger *zap.Logger) *Stream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stream{
		url:            url,
		auth:           auth,
		logger:         logger,
		dialer:         websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		reconnectDelay: 5 * time.Second,
		topics:         make(map[string]struct{}),
		done:           make(chan struct{}),
	}
}

// Connect dials the websocket, replays the wanted subscriptions and starts
// the read loop. A previous connection is closed. If a subscription cannot be
// sent the new connection is closed and the error returned.
func (s *Stream) Connect(ctx context.Context) error {
	select {
	case <-s.done:
		return ErrStreamClosed
	default:
	}
	s.logger.Info("stream.connecting", zap.String("url", s.url))

	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return &TransportError{Method: "GET", Path: s.url, Err: err}
	}

	sent := make(map[string]struct{})
	for _, topic := range s.wantedTopics() {
		if err := s.send(conn, "subscribe", topic); err != nil {
			_ = conn.Close()
			return err
		}
		sent[topic] = struct{}{}
	}

	s.connMu.Lock()
	select {
	case <-s.done:
		s.connMu.Unlock()
		_ = conn.Close()
		return ErrStreamClosed
	default:
	}
	prev := s.conn
	s.conn = conn
	s.connMu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	s.logger.Info("stream.connected")

	go s.readLoop(conn)

	// topics added while the subscriptions above were in flight
	for _, topic := range s.wantedTopics() {
		if _, ok := sent[topic]; ok {
			continue
		}
		if err := s.sendCurrent("subscribe", topic); err != nil {
			s.logger.Warn("stream.subscribe_failed", zap.String("topic", topic), zap.Error(err))
		}
	}
	return nil
}

// Close stops the stream; it does not reconnect afterwards.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.connMu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (s *Stream) IsConnected() bool {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.conn != nil
}

func (s *Stream) AddHandler(h StreamHandler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Subscribe asks the relayer to push messages on topic. Before Connect the
// topic is only recorded and is sent once the connection is up.
func (s *Stream) Subscribe(topic string) error {
	s.topicsMu.Lock()
	s.topics[topic] = struct{}{}
	s.topicsMu.Unlock()
	return s.sendCurrent("subscribe", topic)
}

// Unsubscribe stops messages on topic.
func (s *Stream) Unsubscribe(topic string) error {
	s.topicsMu.Lock()
	delete(s.topics, topic)
	s.topicsMu.Unlock()
	return s.sendCurrent("unsubscribe", topic)
}

// ActiveSubscriptions returns the topics the relayer last acknowledged.
func (s *Stream) ActiveSubscriptions() []string {
	s.topicsMu.Lock()
	defer s.topicsMu.Unlock()
	return append([]string(nil), s.active...)
}

func (s *Stream) wantedTopics() []string {
	s.topicsMu.Lock()
	defer s.topicsMu.Unlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (s *Stream) sendCurrent(method, topic string) error {
	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()
	if conn == nil {
		return nil
	}
	return s.send(conn, method, topic)
}

func (s *Stream) send(conn *websocket.Conn, method, topic string) error {
	body := ClientMessageBody{Method: method, Topic: topic}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	msg := ClientMessage{
		Headers: s.auth.Sign(method, topic, payload, s.auth.now()).Map(),
		Body:    body,
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteJSON(msg); err != nil {
		return &TransportError{Method: method, Path: topic, Err: err}
	}
	s.logger.Debug("stream.sent", zap.String("method", method), zap.String("topic", topic))
	return nil
}

func (s *Stream) readLoop(conn *websocket.Conn) {
	defer s.logger.Info("stream.read_loop_exited")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.connMu.Lock()
			current := s.conn == conn
			if current {
				s.conn = nil
			}
			s.connMu.Unlock()
			_ = conn.Close()
			if !current {
				// replaced by a newer connection
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.logger.Info("stream.closed_by_server")
			} else {
				s.logger.Warn("stream.read_failed", zap.Error(err))
			}
			s.scheduleReconnect()
			return
		}

		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("stream.decode_failed", zap.Error(err))
			continue
		}
		metrics.IncStreamMessage(msg.Body.Event)

		if msg.Body.Event == EventSubscriptions {
			s.topicsMu.Lock()
			s.active = append([]string(nil), msg.Body.Subscriptions...)
			s.topicsMu.Unlock()
		}
		s.notify(&msg)
	}
}

func (s *Stream) notify(msg *ServerMessage) {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	for _, h := range s.handlers {
		h(msg)
	}
}

// scheduleReconnect starts the reconnect loop unless one is already running.
func (s *Stream) scheduleReconnect() {
	if !s.reconnecting.CompareAndSwap(false, true) {
		return
	}
	s.armReconnect()
}

func (s *Stream) armReconnect() {
	s.logger.Info("stream.reconnect_scheduled", zap.Duration("delay", s.reconnectDelay))

	time.AfterFunc(s.reconnectDelay, func() {
		select {
		case <-s.done:
			s.reconnecting.Store(false)
			return
		default:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Connect(ctx); err != nil {
			if errors.Is(err, ErrStreamClosed) {
				s.reconnecting.Store(false)
				return
			}
			s.logger.Error("stream.reconnect_failed", zap.Error(err))
			s.armReconnect()
			return
		}
		s.reconnecting.Store(false)
	})
}
