package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"sr-zone-engine/internal/market"
)

// Settings configures the combined-stream client.
type Settings struct {
	BaseURL      string
	Symbols      []string
	Intervals    []market.Timeframe
	PingInterval time.Duration
	ReconnectMax time.Duration

	// APIKey, when set, is sent as the X-MBX-APIKEY header on dial.
	// Public combined streams work without it.
	APIKey string
}

// Client maintains a single combined websocket stream carrying trade
// prints and klines for every configured symbol. Callbacks fire on the
// read goroutine; downstream consumers must not block in them.
type Client struct {
	mu sync.RWMutex

	settings Settings
	logger   zerolog.Logger

	wsConn    *websocket.Conn
	isRunning bool
	stopChan  chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc

	onTick      func(market.PriceTick)
	onKline     func(symbol string, tf market.Timeframe, k market.Kline)
	onReconnect func()

	// One dial per second keeps a flapping endpoint from turning the
	// reconnect loop into a hammer.
	dialLimiter *rate.Limiter

	reconnects  atomic.Uint64
	lastMessage atomic.Int64
}

// combinedMessage is the wrapper format of /stream?streams= endpoints.
type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type tradeEvent struct {
	EventType string  `json:"e"`
	EventTime int64   `json:"E"`
	Symbol    string  `json:"s"`
	Price     float64 `json:"p,string"`
	Quantity  float64 `json:"q,string"`
	TradeTime int64   `json:"T"`
}

type klineEvent struct {
	EventType string    `json:"e"`
	EventTime int64     `json:"E"`
	Symbol    string    `json:"s"`
	Kline     klineData `json:"k"`
}

type klineData struct {
	OpenTime  int64   `json:"t"`
	CloseTime int64   `json:"T"`
	Interval  string  `json:"i"`
	Open      float64 `json:"o,string"`
	Close     float64 `json:"c,string"`
	High      float64 `json:"h,string"`
	Low       float64 `json:"l,string"`
	Volume    float64 `json:"v,string"`
	Closed    bool    `json:"x"`
}

// NewClient creates an unconnected client.
func NewClient(settings Settings, logger zerolog.Logger) *Client {
	if settings.PingInterval <= 0 {
		settings.PingInterval = 30 * time.Second
	}
	if settings.ReconnectMax <= 0 {
		settings.ReconnectMax = time.Minute
	}
	return &Client{
		settings:    settings,
		logger:      logger.With().Str("component", "stream").Logger(),
		stopChan:    make(chan struct{}),
		dialLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// SetTickCallback sets the callback for trade prints.
func (c *Client) SetTickCallback(cb func(market.PriceTick)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTick = cb
}

// SetKlineCallback sets the callback for closed candles.
func (c *Client) SetKlineCallback(cb func(symbol string, tf market.Timeframe, k market.Kline)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onKline = cb
}

// SetReconnectCallback sets a hook fired on every reconnection attempt.
func (c *Client) SetReconnectCallback(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnect = cb
}

// Start opens the stream and launches the read and ping loops.
func (c *Client) Start() error {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = true
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.mu.Unlock()

	go c.connect()
	go c.pingLoop()

	c.logger.Info().Int("symbols", len(c.settings.Symbols)).Msg("stream client started")
	return nil
}

// Stop closes the connection and stops the loops.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isRunning {
		return
	}
	c.isRunning = false
	close(c.stopChan)
	c.cancel()

	if c.wsConn != nil {
		c.wsConn.Close()
	}

	c.logger.Info().Msg("stream client stopped")
}

// IsRunning returns true while the client is live.
func (c *Client) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isRunning
}

// Reconnects returns how many times the connection was re-established.
func (c *Client) Reconnects() uint64 {
	return c.reconnects.Load()
}

// LastMessageAt returns the receive time of the most recent message.
func (c *Client) LastMessageAt() time.Time {
	ms := c.lastMessage.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// streamURL builds the combined-stream URL covering trades and klines
// for every configured symbol.
func (c *Client) streamURL() string {
	streams := make([]string, 0, len(c.settings.Symbols)*(1+len(c.settings.Intervals)))
	for _, symbol := range c.settings.Symbols {
		lower := strings.ToLower(symbol)
		streams = append(streams, lower+"@trade")
		for _, tf := range c.settings.Intervals {
			streams = append(streams, lower+"@kline_"+string(tf))
		}
	}
	return c.settings.BaseURL + "/stream?streams=" + strings.Join(streams, "/")
}

func (c *Client) running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isRunning
}

// connect dials and re-dials the stream until stopped.
func (c *Client) connect() {
	wsURL := c.streamURL()

	var header http.Header
	if c.settings.APIKey != "" {
		header = http.Header{"X-MBX-APIKEY": []string{c.settings.APIKey}}
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = c.settings.ReconnectMax
	bo.MaxElapsedTime = 0

	for {
		if !c.running() {
			return
		}

		if err := c.dialLimiter.Wait(c.ctx); err != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
		if err != nil {
			wait := bo.NextBackOff()
			c.noteReconnect()
			c.logger.Warn().Err(err).Dur("retry_in", wait).Msg("stream connection failed")
			select {
			case <-c.stopChan:
				return
			case <-time.After(wait):
			}
			continue
		}

		bo.Reset()
		c.mu.Lock()
		c.wsConn = conn
		c.mu.Unlock()

		c.logger.Info().Msg("stream connected")

		c.readLoop(conn)

		if !c.running() {
			return
		}

		c.noteReconnect()
		wait := bo.NextBackOff()
		c.logger.Warn().Dur("retry_in", wait).Msg("stream connection lost, reconnecting")
		select {
		case <-c.stopChan:
			return
		case <-time.After(wait):
		}
	}
}

func (c *Client) noteReconnect() {
	c.reconnects.Add(1)

	c.mu.RLock()
	cb := c.onReconnect
	c.mu.RUnlock()
	if cb != nil {
		cb()
	}
}

// readLoop reads messages until the connection drops.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info().Msg("stream closed normally")
			} else {
				c.logger.Warn().Err(err).Msg("stream read error")
			}
			return
		}

		c.lastMessage.Store(time.Now().UnixMilli())
		c.handleMessage(message)
	}
}

// pingLoop keeps the connection alive through idle stretches.
func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.settings.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.wsConn
			c.mu.RUnlock()

			if conn == nil {
				continue
			}
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Warn().Err(err).Msg("stream ping failed")
			}
		}
	}
}

// handleMessage unwraps the combined-stream envelope and dispatches by
// event type.
func (c *Client) handleMessage(message []byte) {
	var wrapper combinedMessage
	if err := json.Unmarshal(message, &wrapper); err != nil {
		c.logger.Debug().Err(err).Msg("failed to parse stream message")
		return
	}

	payload := wrapper.Data
	if len(payload) == 0 {
		payload = message
	}

	var baseEvent struct {
		EventType string `json:"e"`
	}
	if err := json.Unmarshal(payload, &baseEvent); err != nil {
		c.logger.Debug().Err(err).Msg("failed to parse event type")
		return
	}

	switch baseEvent.EventType {
	case "trade":
		c.handleTrade(payload)
	case "kline":
		c.handleKline(payload)
	}
}

func (c *Client) handleTrade(payload []byte) {
	var event tradeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		c.logger.Debug().Err(err).Msg("failed to parse trade event")
		return
	}

	c.mu.RLock()
	cb := c.onTick
	c.mu.RUnlock()

	if cb == nil {
		return
	}
	cb(market.PriceTick{
		Symbol:   event.Symbol,
		Price:    event.Price,
		Quantity: event.Quantity,
		Time:     time.UnixMilli(event.TradeTime),
	})
}

// handleKline forwards closed candles only. An open candle repeats every
// update and would distort volume baselines downstream.
func (c *Client) handleKline(payload []byte) {
	var event klineEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		c.logger.Debug().Err(err).Msg("failed to parse kline event")
		return
	}
	if !event.Kline.Closed {
		return
	}

	tf := market.Timeframe(event.Kline.Interval)
	if !tf.Valid() {
		return
	}

	c.mu.RLock()
	cb := c.onKline
	c.mu.RUnlock()

	if cb == nil {
		return
	}
	cb(event.Symbol, tf, market.Kline{
		OpenTime:  event.Kline.OpenTime,
		CloseTime: event.Kline.CloseTime,
		Open:      event.Kline.Open,
		High:      event.Kline.High,
		Low:       event.Kline.Low,
		Close:     event.Kline.Close,
		Volume:    event.Kline.Volume,
	})
}
