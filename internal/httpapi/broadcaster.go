package httpapi

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/freeeve/lineage/internal/records"
	"github.com/freeeve/lineage/internal/remote"
)

// BroadcasterConfig configures the location feed.
type BroadcasterConfig struct {
	Logger       zerolog.Logger
	Worlds       []records.World // locations to pick from; see SetWorlds
	Interval     time.Duration   // default 5s
	WriteTimeout time.Duration   // default 5s
	Buffer       int             // queued pushes per subscriber before it is dropped (default 8)
	Metrics      *Metrics
	Pick         func(n int) int // default math/rand
}

// BroadcasterStats reports the feed state.
type BroadcasterStats struct {
	Subscribers int           `json:"subscribers"`
	Pushes      uint64        `json:"pushes"`
	Current     records.World `json:"current"`
}

type subscriber struct {
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (s *subscriber) close() { s.once.Do(func() { close(s.done) }) }

// Broadcaster pushes the current location to every WebSocket subscriber.
type Broadcaster struct {
	cfg      BroadcasterConfig
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	subs    map[*subscriber]struct{}
	worlds  []records.World
	current records.World
	last    []byte
	pushes  uint64
}

// NewBroadcaster returns a broadcaster over cfg.Worlds.
func NewBroadcaster(cfg BroadcasterConfig) *Broadcaster {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 8
	}
	if cfg.Pick == nil {
		cfg.Pick = rand.Intn
	}
	return &Broadcaster{
		cfg: cfg,
		log: cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		subs:   make(map[*subscriber]struct{}),
		worlds: cfg.Worlds,
	}
}

// SetWorlds replaces the locations picked from on later ticks.
func (b *Broadcaster) SetWorlds(worlds []records.World) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.worlds = worlds
}

// Run moves to a new random location every Interval until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()
	b.log.Info().Dur("interval", b.cfg.Interval).Msg("started location broadcaster")

	b.tick()
	for {
		select {
		case <-ctx.Done():
			b.closeAll()
			return ctx.Err()
		case <-ticker.C:
			b.tick()
		}
	}
}

func (b *Broadcaster) tick() {
	w, ok := b.next()
	if !ok {
		b.log.Debug().Msg("no worlds to broadcast")
		return
	}
	b.Publish(w)
}

// next picks a world different from the current one when there is a choice.
func (b *Broadcaster) next() (records.World, bool) {
	b.mu.Lock()
	cur, worlds := b.current, b.worlds
	b.mu.Unlock()
	if len(worlds) == 0 {
		return records.World{}, false
	}
	w := worlds[b.cfg.Pick(len(worlds))]
	if len(worlds) > 1 && w.Name == cur.Name {
		w = worlds[(b.cfg.Pick(len(worlds)-1)+indexOf(worlds, cur)+1)%len(worlds)]
	}
	return w, true
}

func indexOf(worlds []records.World, w records.World) int {
	for i := range worlds {
		if worlds[i].Name == w.Name {
			return i
		}
	}
	return 0
}

// Publish sends w to every subscriber. Subscribers whose queue is full are dropped.
func (b *Broadcaster) Publish(w records.World) {
	msg, err := json.Marshal(locationMessage{ID: remote.ID(w.ID), Name: w.Name})
	if err != nil {
		b.log.Error().Err(err).Msg("encode location")
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = w
	b.last = msg
	b.pushes++
	b.cfg.Metrics.push()
	for s := range b.subs {
		select {
		case s.send <- msg:
		default:
			b.cfg.Metrics.drop()
			b.log.Warn().Msg("dropping slow location subscriber")
			delete(b.subs, s)
			s.close()
		}
	}
	b.cfg.Metrics.setSubscribers(len(b.subs))
	b.log.Debug().Str("location", w.Name).Int("subscribers", len(b.subs)).Msg("location pushed")
}

// Stats returns a snapshot of the feed.
func (b *Broadcaster) Stats() BroadcasterStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BroadcasterStats{Subscribers: len(b.subs), Pushes: b.pushes, Current: b.current}
}

func (b *Broadcaster) add() *subscriber {
	s := &subscriber{send: make(chan []byte, b.cfg.Buffer), done: make(chan struct{})}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last != nil {
		s.send <- b.last
	}
	b.subs[s] = struct{}{}
	b.cfg.Metrics.setSubscribers(len(b.subs))
	return s
}

func (b *Broadcaster) remove(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s)
	s.close()
	b.cfg.Metrics.setSubscribers(len(b.subs))
}

func (b *Broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		delete(b.subs, s)
		s.close()
	}
	b.cfg.Metrics.setSubscribers(0)
}

// ServeHTTP upgrades the request and streams locations until either side leaves.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	s := b.add()
	defer b.remove(s)
	b.log.Info().Str("remote", r.RemoteAddr).Msg("location subscriber connected")

	// Reads only surface the close frame; any read error ends the subscription.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.close()
				return
			}
		}
	}()

	for {
		select {
		case <-s.done:
			deadline := time.Now().Add(b.cfg.WriteTimeout)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), deadline)
			b.log.Info().Str("remote", r.RemoteAddr).Msg("location subscriber left")
			return
		case msg := <-s.send:
			_ = conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				b.log.Debug().Err(err).Msg("location write failed")
				return
			}
		}
	}
}
