package transport

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"coach-messaging/internal/models"
)

// WSChannel is a websocket push channel. It dials the backend event endpoint
// and reconnects with a fixed interval; callers observe outages only through
// Connected flipping to false.
type WSChannel struct {
	endpoint  string
	userID    string
	reconnect time.Duration
	log       zerolog.Logger

	events    chan models.Event
	connected atomic.Bool
	startOnce sync.Once
}

// NewWSChannel builds a WSChannel for the given event endpoint.
func NewWSChannel(endpoint, userID string, reconnect time.Duration, log zerolog.Logger) *WSChannel {
	if reconnect <= 0 {
		reconnect = 5 * time.Second
	}
	return &WSChannel{
		endpoint:  endpoint,
		userID:    userID,
		reconnect: reconnect,
		log:       log.With().Str("component", "ws").Logger(),
		events:    make(chan models.Event, 64),
	}
}

// Start begins the dial/read loop. Subsequent calls are no-ops.
func (w *WSChannel) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		go w.run(ctx)
	})
}

// Events returns the channel events are delivered on.
func (w *WSChannel) Events() <-chan models.Event {
	return w.events
}

// Connected reports whether a websocket connection is currently established.
func (w *WSChannel) Connected() bool {
	return w.connected.Load()
}

func (w *WSChannel) run(ctx context.Context) {
	defer close(w.events)

	target := w.endpoint
	if u, err := url.Parse(w.endpoint); err == nil {
		q := u.Query()
		q.Set("user_id", w.userID)
		u.RawQuery = q.Encode()
		target = u.String()
	}

	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
		if err != nil {
			w.log.Debug().Err(err).Msg("push dial failed, falling back to polling")
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.reconnect):
				continue
			}
		}

		w.connected.Store(true)
		w.log.Info().Str("endpoint", w.endpoint).Msg("push channel connected")
		w.readLoop(ctx, conn)
		w.connected.Store(false)

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.reconnect):
		}
	}
}

func (w *WSChannel) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	for {
		var ev models.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.log.Debug().Err(err).Msg("push read failed")
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case w.events <- ev:
		}
	}
}
