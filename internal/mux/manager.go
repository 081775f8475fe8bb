// Package mux holds the connection manager: the public surface for opening
// venue connections, routing their traffic onto the event bus and the
// cache, and keeping links alive through reconnects and liveness sweeps.
package mux

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"marketmux/config"
	"marketmux/internal/cache"
	"marketmux/internal/conn"
	"marketmux/internal/event"
	"marketmux/internal/metrics"
	"marketmux/internal/subs"
	"marketmux/internal/symbols"
	"marketmux/internal/venue"
	"marketmux/logger"
)

var (
	ErrCapacityExceeded  = errors.New("connection capacity exceeded")
	ErrConnectionExists  = errors.New("connection id already in use")
	ErrUnknownConnection = errors.New("unknown connection id")
	ErrVenueDisabled     = errors.New("venue is disabled")
)

// ConnectOptions names the venue (a key in the config venues map) and the
// optional initial subscriptions to install once the link is open.
type ConnectOptions struct {
	Venue    string
	Endpoint string
	Channels []string
	Symbols  []string
}

// managed pairs a connection with its reconnect policy and timer.
type managed struct {
	conn      *conn.Conn
	venueName string
	backoff   conn.Backoff
	reconnect bool
	timer     *time.Timer
	detached  bool
}

// Manager multiplexes many venue connections behind one API. Construct it
// with New; there is no package-level instance.
type Manager struct {
	cfg      *config.Config
	bus      *event.Bus
	cache    *cache.Cache
	registry *subs.Registry
	dialer   conn.Dialer
	log      *logger.Entry

	mu    sync.Mutex
	conns map[string]*managed
}

// New builds a Manager. dialer may be nil, selecting the websocket dialer.
func New(cfg *config.Config, bus *event.Bus, c *cache.Cache, dialer conn.Dialer) *Manager {
	if dialer == nil {
		dialer = conn.WSDialer{}
	}
	return &Manager{
		cfg:      cfg,
		bus:      bus,
		cache:    c,
		registry: subs.NewRegistry(),
		dialer:   dialer,
		log:      logger.GetLogger().WithComponent("manager"),
		conns:    make(map[string]*managed),
	}
}

// Connect opens a connection with the given id. The initial dial error is
// returned to the caller; reconnect machinery only engages once a link has
// been open.
func (m *Manager) Connect(ctx context.Context, id string, opts ConnectOptions) error {
	vcfg, ok := m.cfg.Venues[opts.Venue]
	if !ok {
		return fmt.Errorf("venue %q: %w", opts.Venue, venue.ErrUnknownVenue)
	}

	codec, err := venue.New(vcfg.Family)
	if err != nil {
		return err
	}

	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = vcfg.Endpoint
	}

	c := conn.New(conn.Options{
		ID:           id,
		Endpoint:     endpoint,
		Codec:        codec,
		Dialer:       m.dialer,
		QueueSize:    m.cfg.Manager.OutboundQueueSize,
		WriteTimeout: m.cfg.Manager.WriteTimeout,
		Limiter:      rate.NewLimiter(rate.Limit(m.cfg.Manager.SendRate), m.cfg.Manager.SendBurst),
		OnMessage:    m.handleMessage,
		OnClose:      m.handleClose,
	})

	mc := &managed{
		conn:      c,
		venueName: opts.Venue,
		reconnect: vcfg.Reconnect.Enabled != nil && *vcfg.Reconnect.Enabled,
		backoff: conn.Backoff{
			Initial:    vcfg.Reconnect.InitialBackoff,
			Max:        vcfg.Reconnect.MaxBackoff,
			Multiplier: vcfg.Reconnect.Multiplier,
		},
	}

	m.mu.Lock()
	if len(m.conns) >= m.cfg.Manager.MaxConnections {
		m.mu.Unlock()
		return ErrCapacityExceeded
	}
	if _, exists := m.conns[id]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrConnectionExists, id)
	}
	m.conns[id] = mc
	m.mu.Unlock()

	if err := c.Open(ctx); err != nil {
		m.mu.Lock()
		delete(m.conns, id)
		m.mu.Unlock()
		m.updateActiveGauge()
		return fmt.Errorf("connect %s: %w", id, err)
	}
	m.updateActiveGauge()
	m.bus.Emit(event.New(event.TypeConnected, id, codec.Family(), event.ConnEvent{ConnID: id, Venue: codec.Family()}))

	if len(opts.Channels) > 0 && len(opts.Symbols) > 0 {
		if err := m.Subscribe(ctx, id, opts.Channels, opts.Symbols); err != nil {
			return err
		}
	}
	return nil
}

// ConnectVenue opens a connection to a configured venue using its default
// channels and symbols, returning the generated connection id.
func (m *Manager) ConnectVenue(ctx context.Context, name string, symbols []string) (string, error) {
	vcfg, ok := m.cfg.Venues[name]
	if !ok {
		return "", fmt.Errorf("venue %q: %w", name, venue.ErrUnknownVenue)
	}
	if !vcfg.Enabled {
		return "", fmt.Errorf("venue %q: %w", name, ErrVenueDisabled)
	}
	if len(symbols) == 0 {
		symbols = vcfg.Symbols
	}

	id := name + "-" + strings.Split(uuid.NewString(), "-")[0]
	err := m.Connect(ctx, id, ConnectOptions{
		Venue:    name,
		Channels: vcfg.Channels,
		Symbols:  symbols,
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (m *Manager) lookup(id string) (*managed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mc, ok := m.conns[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}
	return mc, nil
}

// Subscribe registers the channel/symbol cross product and pushes the
// subscribe frames. On a down link only the registry entry is installed;
// the replay after reconnect sends the subscription exactly once.
func (m *Manager) Subscribe(ctx context.Context, id string, channels, symbols []string) error {
	mc, err := m.lookup(id)
	if err != nil {
		return err
	}

	frames, err := mc.conn.Codec().EncodeSubscribe(channels, symbols)
	if err != nil {
		return err
	}

	m.registry.Add(id, channels, symbols)
	for _, frame := range frames {
		if err := mc.conn.Send(ctx, frame, false); err != nil {
			if errors.Is(err, conn.ErrNotConnected) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Unsubscribe removes the registry entries and pushes unsubscribe frames.
// On a down link the removal alone suffices; the fresh session after
// reconnect never subscribed, so there is nothing to unsubscribe from.
func (m *Manager) Unsubscribe(ctx context.Context, id string, channels, symbols []string) error {
	mc, err := m.lookup(id)
	if err != nil {
		return err
	}

	frames, err := mc.conn.Codec().EncodeUnsubscribe(channels, symbols)
	if err != nil {
		return err
	}

	m.registry.Remove(id, channels, symbols)
	for _, frame := range frames {
		if err := mc.conn.Send(ctx, frame, false); err != nil {
			if errors.Is(err, conn.ErrNotConnected) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Send writes an arbitrary payload to the venue. With queueIfDown the
// payload survives an outage in the connection's outbound queue.
func (m *Manager) Send(ctx context.Context, id string, payload []byte, queueIfDown bool) error {
	mc, err := m.lookup(id)
	if err != nil {
		return err
	}
	return mc.conn.Send(ctx, payload, queueIfDown)
}

// Disconnect closes the connection for good: the reconnect timer is
// cancelled and the subscriptions are cleared. Unknown ids are a no-op so
// the call is idempotent.
func (m *Manager) Disconnect(id string) error {
	m.mu.Lock()
	mc, ok := m.conns[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.conns, id)
	mc.detached = true
	if mc.timer != nil {
		mc.timer.Stop()
		mc.timer = nil
	}
	m.mu.Unlock()

	err := mc.conn.Close()
	m.registry.Clear(id)
	m.updateActiveGauge()
	m.bus.Emit(event.New(event.TypeDisconnected, id, mc.conn.Family(), event.ConnEvent{ConnID: id, Venue: mc.conn.Family()}))
	return err
}

// DisconnectAll closes every connection and waits for the read loops to
// exit.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.conns))
	held := make([]*managed, 0, len(m.conns))
	for id, mc := range m.conns {
		ids = append(ids, id)
		held = append(held, mc)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(id string, mc *managed) {
			defer wg.Done()
			if err := m.Disconnect(id); err != nil {
				m.log.WithFields(logger.Fields{"conn_id": id}).WithError(err).Warn("disconnect failed")
			}
			mc.conn.Wait()
		}(ids[i], held[i])
	}
	wg.Wait()
}

// Connections returns the live connection ids in sorted order.
func (m *Manager) Connections() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StatsFor returns the counters of one connection.
func (m *Manager) StatsFor(id string) (conn.Stats, error) {
	mc, err := m.lookup(id)
	if err != nil {
		return conn.Stats{}, err
	}
	return mc.conn.Stats(), nil
}

// ManagerStats aggregates the per-connection counters.
type ManagerStats struct {
	Connections   int          `json:"connections"`
	Subscriptions int          `json:"subscriptions"`
	MessagesIn    uint64       `json:"messages_in"`
	MessagesOut   uint64       `json:"messages_out"`
	BytesIn       uint64       `json:"bytes_in"`
	BytesOut      uint64       `json:"bytes_out"`
	CachedSymbols int          `json:"cached_symbols"`
	Conns         []conn.Stats `json:"conns"`
}

// Stats returns a snapshot across every live connection.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	conns := make([]*managed, 0, len(m.conns))
	for _, mc := range m.conns {
		conns = append(conns, mc)
	}
	m.mu.Unlock()

	stats := ManagerStats{
		Connections:   len(conns),
		Subscriptions: m.registry.Count(),
		CachedSymbols: m.cache.Symbols(),
	}
	for _, mc := range conns {
		s := mc.conn.Stats()
		stats.MessagesIn += s.MessagesIn
		stats.MessagesOut += s.MessagesOut
		stats.BytesIn += s.BytesIn
		stats.BytesOut += s.BytesOut
		stats.Conns = append(stats.Conns, s)
	}
	sort.Slice(stats.Conns, func(i, j int) bool { return stats.Conns[i].ID < stats.Conns[j].ID })
	return stats
}

// Price returns the last cached price for symbol.
func (m *Manager) Price(symbol string) (cache.PriceEntry, bool) {
	return m.cache.Price(symbol)
}

// AllPrices returns every cached price entry.
func (m *Manager) AllPrices() map[string]cache.PriceEntry {
	return m.cache.AllPrices()
}

// Book returns the last cached order book for symbol.
func (m *Manager) Book(symbol string) (cache.Book, bool) {
	return m.cache.Book(symbol)
}

// On registers a bus handler; Off removes it.
func (m *Manager) On(t event.Type, h event.Handler) event.HandlerID {
	return m.bus.On(t, h)
}

func (m *Manager) Off(t event.Type, id event.HandlerID) {
	m.bus.Off(t, id)
}

func (m *Manager) updateActiveGauge() {
	m.mu.Lock()
	n := len(m.conns)
	m.mu.Unlock()
	metrics.SetActiveConnections(n)
}

// handleMessage is the inbound path: decode, cache, emit. Decode failures
// produce a parse-error event and leave the stream running.
func (m *Manager) handleMessage(c *conn.Conn, data []byte) {
	res, err := c.Codec().Decode(data)
	if err != nil {
		metrics.IncDecodeError(c.Family())
		m.log.WithFields(logger.Fields{"conn_id": c.ID()}).WithError(err).Warn("failed to decode frame")
		m.bus.Emit(event.New(event.TypeParseError, c.ID(), c.Family(), event.ParseError{
			ConnID: c.ID(),
			Venue:  c.Family(),
			Raw:    data,
			Err:    err,
		}))
		return
	}
	if res.Control {
		return
	}

	for _, msg := range res.Events {
		switch payload := msg.Payload.(type) {
		case event.Trade:
			entry := m.cache.SetPrice(symbols.Canonical(c.Family(), payload.Symbol), payload.Price, payload.Timestamp)
			m.bus.Emit(event.New(event.TypeTrade, c.ID(), c.Family(), payload))
			m.bus.Emit(event.New(event.TypePriceUpdate, c.ID(), c.Family(), event.PriceUpdate{
				Symbol:    entry.Symbol,
				Price:     entry.Price,
				Timestamp: entry.Timestamp,
			}))
		case event.Candle:
			m.bus.Emit(event.New(event.TypeCandle, c.ID(), c.Family(), payload))
			if !payload.Closed {
				continue
			}
			// A finished bar carries a settled close price.
			entry := m.cache.SetPrice(symbols.Canonical(c.Family(), payload.Symbol), payload.Close, payload.Timestamp)
			m.bus.Emit(event.New(event.TypePriceUpdate, c.ID(), c.Family(), event.PriceUpdate{
				Symbol:    entry.Symbol,
				Price:     entry.Price,
				Timestamp: entry.Timestamp,
			}))
		case event.OrderBookDelta:
			payload.Symbol = symbols.Canonical(c.Family(), payload.Symbol)
			m.cache.SetBook(payload, time.Now().UTC())
			m.bus.Emit(event.New(event.TypeOrderBook, c.ID(), c.Family(), payload))
		default:
			m.bus.Emit(event.New(msg.Type, c.ID(), c.Family(), payload))
		}
	}
}

// handleClose is the unclean-close path: emit the events and schedule a
// reconnect when the venue allows it.
func (m *Manager) handleClose(c *conn.Conn, cause error) {
	m.bus.Emit(event.New(event.TypeError, c.ID(), c.Family(), event.ConnEvent{ConnID: c.ID(), Venue: c.Family(), Err: cause}))
	m.bus.Emit(event.New(event.TypeDisconnected, c.ID(), c.Family(), event.ConnEvent{ConnID: c.ID(), Venue: c.Family(), Err: cause}))

	m.mu.Lock()
	mc, ok := m.conns[c.ID()]
	m.mu.Unlock()
	if !ok || mc.detached {
		return
	}

	if !mc.reconnect {
		m.log.WithFields(logger.Fields{"conn_id": c.ID()}).Warn("connection lost, reconnect disabled")
		return
	}
	m.scheduleReconnect(mc)
}

func (m *Manager) scheduleReconnect(mc *managed) {
	attempt := mc.conn.BumpAttempts()
	delay := mc.backoff.Delay(attempt)
	metrics.IncReconnect(mc.conn.Family())

	m.log.WithFields(logger.Fields{
		"conn_id": mc.conn.ID(),
		"attempt": attempt + 1,
		"delay":   delay.String(),
	}).Warn("scheduling reconnect")

	m.mu.Lock()
	if mc.detached {
		m.mu.Unlock()
		return
	}
	mc.timer = time.AfterFunc(delay, func() { m.reconnect(mc) })
	m.mu.Unlock()
}

func (m *Manager) reconnect(mc *managed) {
	m.mu.Lock()
	if mc.detached {
		m.mu.Unlock()
		return
	}
	mc.timer = nil
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Manager.WriteTimeout+10*time.Second)
	defer cancel()

	if err := mc.conn.Open(ctx); err != nil {
		if errors.Is(err, conn.ErrClosed) {
			// Disconnect won the race while the dial was in flight.
			return
		}
		m.log.WithFields(logger.Fields{"conn_id": mc.conn.ID()}).WithError(err).Warn("reconnect failed")
		m.scheduleReconnect(mc)
		return
	}

	id := mc.conn.ID()
	m.bus.Emit(event.New(event.TypeConnected, id, mc.conn.Family(), event.ConnEvent{ConnID: id, Venue: mc.conn.Family()}))
	m.replay(ctx, mc)
}

// replay re-sends every registered subscription after a reconnect, one
// frame batch per channel in deterministic order.
func (m *Manager) replay(ctx context.Context, mc *managed) {
	grouped := m.registry.Channels(mc.conn.ID())
	channels := make([]string, 0, len(grouped))
	for channel := range grouped {
		channels = append(channels, channel)
	}
	sort.Strings(channels)

	for _, channel := range channels {
		frames, err := mc.conn.Codec().EncodeSubscribe([]string{channel}, grouped[channel])
		if err != nil {
			m.log.WithFields(logger.Fields{"conn_id": mc.conn.ID(), "channel": channel}).WithError(err).Warn("replay encode failed")
			continue
		}
		for _, frame := range frames {
			// queueIfDown stays false: if the link dropped again the next
			// replay re-encodes from the registry anyway.
			if err := mc.conn.Send(ctx, frame, false); err != nil {
				m.log.WithFields(logger.Fields{"conn_id": mc.conn.ID(), "channel": channel}).WithError(err).Warn("replay send failed")
			}
		}
	}
}

// RunLiveness sweeps the connections every liveness period until ctx is
// cancelled. Idle past one heartbeat interval earns a ping; idle past two
// gets the link dropped so the reconnect path can recycle it.
func (m *Manager) RunLiveness(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Manager.LivenessPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx, time.Now())
		}
	}
}

func (m *Manager) sweep(ctx context.Context, now time.Time) {
	m.mu.Lock()
	conns := make([]*managed, 0, len(m.conns))
	for _, mc := range m.conns {
		conns = append(conns, mc)
	}
	m.mu.Unlock()

	heartbeat := m.cfg.Manager.HeartbeatInterval
	for _, mc := range conns {
		if mc.conn.State() != conn.StateOpen {
			continue
		}
		idle := now.Sub(mc.conn.LastActivity())
		switch {
		case idle > 2*heartbeat:
			m.log.WithFields(logger.Fields{
				"conn_id": mc.conn.ID(),
				"idle":    idle.String(),
			}).Warn("connection unresponsive, dropping")
			mc.conn.Drop()
		case idle > heartbeat:
			if err := mc.conn.Ping(ctx); err != nil {
				m.log.WithFields(logger.Fields{"conn_id": mc.conn.ID()}).WithError(err).Warn("ping failed")
			}
		}
	}
}
