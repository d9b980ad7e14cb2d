// Package transport delivers a uniform event stream to the sync core,
// regardless of whether events arrive over a push channel or are synthesized
// from periodic polling.
package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"coach-messaging/internal/api"
	"coach-messaging/internal/models"
	"coach-messaging/internal/observability"
)

const defaultSeenMessages = 10_000

// PushChannel is an abstract subscribe-to-events primitive. Implementations
// reconnect on their own; Connected reports current health.
type PushChannel interface {
	Start(ctx context.Context)
	Events() <-chan models.Event
	Connected() bool
}

// Config tunes the polling fallback.
type Config struct {
	// CountPollInterval bounds how stale unread counts may get without push.
	CountPollInterval time.Duration

	// MessagePollInterval bounds how stale the open conversation may get
	// without push.
	MessagePollInterval time.Duration
}

// Adapter merges push delivery with polling fallback. While the push channel is
// healthy the poll timers tick but do nothing, so recovery from a push outage
// is bounded by one poll interval.
type Adapter struct {
	push   PushChannel
	data   api.DataService
	userID string
	cfg    Config
	log    zerolog.Logger

	mu         sync.Mutex
	active     string
	lastCounts map[string]int
	haveCounts bool
	seen       *seenSet
}

// Subscription controls one Connect call. Unsubscribe stops all timers and
// listeners; no events are delivered after it returns.
type Subscription struct {
	live   atomic.Bool
	cancel context.CancelFunc
}

// Unsubscribe tears the subscription down. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.live.Store(false)
	s.cancel()
}

// New builds an Adapter for the given viewer. push may be nil, in which case
// the adapter always polls.
func New(push PushChannel, data api.DataService, userID string, cfg Config, log zerolog.Logger) *Adapter {
	if cfg.CountPollInterval <= 0 {
		cfg.CountPollInterval = 30 * time.Second
	}
	if cfg.MessagePollInterval <= 0 {
		cfg.MessagePollInterval = 4 * time.Second
	}
	return &Adapter{
		push:       push,
		data:       data,
		userID:     userID,
		cfg:        cfg,
		log:        log.With().Str("component", "transport").Logger(),
		lastCounts: make(map[string]int),
		seen:       newSeenSet(defaultSeenMessages),
	}
}

// IsPushAvailable reports push-channel health. Dependent components key their
// own refresh decisions on this flag.
func (a *Adapter) IsPushAvailable() bool {
	return a.push != nil && a.push.Connected()
}

// SetActiveConversation steers the message poller at the conversation the user
// currently has open. Empty means none.
func (a *Adapter) SetActiveConversation(id string) {
	a.mu.Lock()
	a.active = id
	a.mu.Unlock()
}

// MarkSeen records message ids the caller already holds, so the poller does not
// replay them as NEW_MESSAGE events.
func (a *Adapter) MarkSeen(ids []string) {
	a.mu.Lock()
	for _, id := range ids {
		a.seen.add(id)
	}
	a.mu.Unlock()
}

// Connect begins delivering events to onEvent from a dedicated goroutine.
func (a *Adapter) Connect(onEvent func(models.Event)) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{cancel: cancel}
	sub.live.Store(true)

	if a.push != nil {
		a.push.Start(ctx)
	}
	go a.run(ctx, sub, onEvent)
	return sub
}

func (a *Adapter) run(ctx context.Context, sub *Subscription, onEvent func(models.Event)) {
	countTicker := time.NewTicker(a.cfg.CountPollInterval)
	defer countTicker.Stop()
	msgTicker := time.NewTicker(a.cfg.MessagePollInterval)
	defer msgTicker.Stop()

	var pushEvents <-chan models.Event
	if a.push != nil {
		pushEvents = a.push.Events()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-pushEvents:
			if !ok {
				pushEvents = nil
				continue
			}
			observability.SetPushConnected(true)
			a.emit(sub, onEvent, ev, "push")
		case <-countTicker.C:
			observability.SetPushConnected(a.IsPushAvailable())
			if a.IsPushAvailable() {
				continue
			}
			a.pollCounts(ctx, sub, onEvent)
		case <-msgTicker.C:
			if a.IsPushAvailable() {
				continue
			}
			a.pollMessages(ctx, sub, onEvent)
		}
	}
}

// emit delivers one event. Pushed events move the poll baselines in step, so a
// later poll does not synthesize a duplicate of them; poll-synthesized events
// never touch the baselines, since pollCounts already stored the authoritative
// snapshot they were diffed from.
func (a *Adapter) emit(sub *Subscription, onEvent func(models.Event), ev models.Event, source string) {
	fromPush := source == "push"

	a.mu.Lock()
	switch ev.Type {
	case models.EventNewMessage:
		if ev.Message != nil {
			if a.seen.has(ev.Message.ID) {
				a.mu.Unlock()
				return
			}
			a.seen.add(ev.Message.ID)
			// A pushed peer message raised the server-side count.
			if fromPush && a.haveCounts && ev.Message.SenderID != a.userID {
				a.lastCounts[ev.Message.ConversationID]++
			}
		}
	case models.EventCountDelta:
		if fromPush && ev.Delta != nil && a.haveCounts {
			next := a.lastCounts[ev.Delta.ConversationID] + ev.Delta.Delta
			if next < 0 {
				next = 0
			}
			a.lastCounts[ev.Delta.ConversationID] = next
		}
	case models.EventReadReceipt:
		// Only the viewer's own receipt zeroes their server-side count.
		if fromPush && ev.Receipt != nil && a.haveCounts && ev.Receipt.ReaderID == a.userID {
			a.lastCounts[ev.Receipt.ConversationID] = 0
		}
	}
	a.mu.Unlock()

	if !sub.live.Load() {
		return
	}
	observability.IncTransportEvent(string(ev.Type), source)
	onEvent(ev)
}

// pollCounts diffs successive unread snapshots into COUNT_DELTA events. The
// first successful poll only establishes the baseline: the coordinator seeds
// the ledger from its own initial fetch.
func (a *Adapter) pollCounts(ctx context.Context, sub *Subscription, onEvent func(models.Event)) {
	counts, err := a.data.FetchUnreadCounts(ctx)
	if err != nil {
		observability.IncPoll("counts", "error")
		a.log.Debug().Err(err).Msg("unread count poll failed")
		return
	}
	observability.IncPoll("counts", "ok")

	a.mu.Lock()
	first := !a.haveCounts
	var deltas []models.CountDelta
	for id, n := range counts.PerConversation {
		if !first && n != a.lastCounts[id] {
			deltas = append(deltas, models.CountDelta{ConversationID: id, Delta: n - a.lastCounts[id]})
		}
		a.lastCounts[id] = n
	}
	a.haveCounts = true
	a.mu.Unlock()

	for i := range deltas {
		delta := deltas[i]
		a.emit(sub, onEvent, models.Event{Type: models.EventCountDelta, Delta: &delta}, "poll")
	}
}

// pollMessages refreshes the open conversation, emitting NEW_MESSAGE for ids
// the core has not observed yet.
func (a *Adapter) pollMessages(ctx context.Context, sub *Subscription, onEvent func(models.Event)) {
	a.mu.Lock()
	active := a.active
	a.mu.Unlock()
	if active == "" {
		return
	}

	msgs, err := a.data.FetchMessages(ctx, active, api.Page{})
	if err != nil {
		observability.IncPoll("messages", "error")
		a.log.Debug().Err(err).Str("conversation_id", active).Msg("message poll failed")
		return
	}
	observability.IncPoll("messages", "ok")

	a.mu.Lock()
	var fresh []models.Message
	for _, m := range msgs {
		if !a.seen.has(m.ID) {
			fresh = append(fresh, m)
		}
	}
	a.mu.Unlock()

	for i := range fresh {
		msg := fresh[i]
		a.emit(sub, onEvent, models.Event{Type: models.EventNewMessage, Message: &msg}, "poll")
	}
}

// seenSet is a bounded set of message ids with FIFO eviction.
type seenSet struct {
	max int
	m   map[string]struct{}
	q   []string
}

func newSeenSet(max int) *seenSet {
	return &seenSet{max: max, m: make(map[string]struct{}, max)}
}

func (s *seenSet) has(id string) bool {
	_, ok := s.m[id]
	return ok
}

func (s *seenSet) add(id string) {
	if id == "" {
		return
	}
	if _, ok := s.m[id]; ok {
		return
	}
	s.m[id] = struct{}{}
	s.q = append(s.q, id)
	for len(s.q) > s.max {
		evict := s.q[0]
		s.q = s.q[1:]
		delete(s.m, evict)
	}
}
