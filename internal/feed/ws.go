package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/lendcore/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message.
	pongWait = 30 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff.
	maxReconnectDelay = 60 * time.Second
)

// Pair names one subscribed price stream.
type Pair struct {
	Asset   domain.Brand
	Compare domain.Brand
}

// quoteMessage is the upstream wire shape.
type quoteMessage struct {
	Asset     string `json:"asset"`
	Compare   string `json:"compare"`
	AmountIn  string `json:"amount_in"`
	AmountOut string `json:"amount_out"`
	Timestamp string `json:"timestamp"`
}

type subscribeCmd struct {
	Op    string   `json:"op"`
	Pairs []string `json:"pairs"`
}

// WSFeed is a websocket client for a price-oracle stream. Every
// received quote is pushed to the fanout and written through to the
// quote cache so late joiners see the latest price immediately.
type WSFeed struct {
	wsURL  string
	pairs  []Pair
	fanout *Fanout
	cache  domain.QuoteCache
	logger *slog.Logger

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool

	done chan struct{}
}

// NewWSFeed creates a feed client for the given pairs.
func NewWSFeed(wsURL string, pairs []Pair, fanout *Fanout, cache domain.QuoteCache, logger *slog.Logger) *WSFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSFeed{
		wsURL:  wsURL,
		pairs:  pairs,
		fanout: fanout,
		cache:  cache,
		logger: logger.With(slog.String("component", "ws_feed")),
		done:   make(chan struct{}),
	}
}

// Run connects and pumps quotes until the context ends.
func (w *WSFeed) Run(ctx context.Context) error {
	if err := w.connect(ctx); err != nil {
		return err
	}
	go w.pingLoop()

	go func() {
		<-ctx.Done()
		w.Close()
	}()

	w.readLoop(ctx)
	return ctx.Err()
}

// Close shuts down the connection.
func (w *WSFeed) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)
	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}
	return nil
}

func (w *WSFeed) connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("feed: client is closed")
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	w.conn = conn

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	names := make([]string, 0, len(w.pairs))
	for _, p := range w.pairs {
		names = append(names, string(p.Asset)+"/"+string(p.Compare))
	}
	cmd := subscribeCmd{Op: "subscribe", Pairs: names}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("feed: marshal subscribe: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}

	w.logger.Info("feed connected", slog.String("url", w.wsURL), slog.Int("pairs", len(names)))
	return nil
}

func (w *WSFeed) readLoop(ctx context.Context) {
	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}
			if !w.reconnect(ctx) {
				return
			}
			continue
		}
		w.handleMessage(ctx, message)
	}
}

func (w *WSFeed) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()
			if conn == nil {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (w *WSFeed) handleMessage(ctx context.Context, raw []byte) {
	var msg quoteMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.Asset == "" || msg.Compare == "" {
		return
	}
	in, ok := new(big.Int).SetString(msg.AmountIn, 10)
	if !ok || in.Sign() <= 0 {
		return
	}
	out, ok := new(big.Int).SetString(msg.AmountOut, 10)
	if !ok || out.Sign() < 0 {
		return
	}
	ts := time.Now()
	if msg.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, msg.Timestamp); err == nil {
			ts = t
		}
	}

	asset := domain.Brand(msg.Asset)
	compare := domain.Brand(msg.Compare)
	q := domain.PriceQuote{
		AmountIn:  domain.NewAmountBig(asset, in),
		AmountOut: domain.NewAmountBig(compare, out),
		Timestamp: ts,
	}

	if w.cache != nil {
		if err := w.cache.SetQuote(ctx, asset, compare, q); err != nil {
			w.logger.Debug("cache quote failed", slog.String("error", err.Error()))
		}
	}
	w.fanout.Publish(asset, compare, q)
}

// reconnect re-establishes the connection with exponential backoff.
// Returns false when the client was closed while waiting.
func (w *WSFeed) reconnect(ctx context.Context) bool {
	delay := reconnectDelay
	for {
		select {
		case <-w.done:
			return false
		case <-time.After(delay):
		}

		dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err := w.connect(dialCtx)
		cancel()
		if err == nil {
			return true
		}
		w.logger.Warn("feed reconnect failed", slog.String("error", err.Error()))

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
