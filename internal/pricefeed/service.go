package pricefeed

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/GoPolymarket/autopilot/internal/pkg/logger"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const (
	ReconnBaseDelay = 1 * time.Second
	ReconnMaxDelay  = 30 * time.Second
	PingPeriod      = 15 * time.Second // Keep-alive interval
)

var errNoConnection = errors.New("no connection")

// Provider is what the oracle reads streaming prices from.
type Provider interface {
	Subscribe(assets []string)
	Price(asset string, maxAge time.Duration) (decimal.Decimal, bool)
}

// Service keeps a websocket price stream connected and feeds a PriceBook.
// Messages are a JSON object or array of objects with "asset" and "price".
type Service struct {
	url    string
	dialer *websocket.Dialer
	book   *PriceBook

	mu          sync.Mutex
	conn        *websocket.Conn
	subs        []string
	isConnected bool

	writeMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewService(url string) *Service {
	return &Service{
		url:    url,
		dialer: websocket.DefaultDialer,
		book:   NewPriceBook(),
	}
}

func (s *Service) Book() *PriceBook { return s.book }

// Start launches the connection loop in a background goroutine.
func (s *Service) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.runLoop(ctx)
}

// Stop closes the connection and waits for the loop to exit.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
	<-s.done
}

// Subscribe adds assets to the subscription list and updates the connection if active.
func (s *Service) Subscribe(assets []string) {
	s.mu.Lock()
	added := make([]string, 0, len(assets))
	for _, id := range assets {
		if id == "" || containsFold(s.subs, id) {
			continue
		}
		s.subs = append(s.subs, id)
		added = append(added, id)
	}
	connected := s.isConnected
	s.mu.Unlock()

	if len(added) > 0 && connected {
		if err := s.sendSubscribe(added); err != nil {
			logger.Warn("price feed subscribe failed", "error", err)
		}
	}
}

func (s *Service) Price(asset string, maxAge time.Duration) (decimal.Decimal, bool) {
	return s.book.Price(asset, maxAge)
}

func (s *Service) runLoop(ctx context.Context) {
	defer close(s.done)
	delay := ReconnBaseDelay

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.connect(ctx)
		if err != nil {
			logger.Error("price feed connection failed", "error", err, "retry_in", delay.String())
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > ReconnMaxDelay {
				delay = ReconnMaxDelay
			}
			continue
		}

		// Connected successfully
		delay = ReconnBaseDelay
		s.mu.Lock()
		s.conn = conn
		s.isConnected = true
		allSubs := append([]string(nil), s.subs...)
		s.mu.Unlock()

		if len(allSubs) > 0 {
			if err := s.sendSubscribe(allSubs); err != nil {
				logger.Error("price feed resubscribe failed", "error", err)
			}
		}

		pingDone := make(chan struct{})
		go s.pingLoop(ctx, conn, pingDone)
		s.readLoop(conn)
		close(pingDone)

		s.mu.Lock()
		s.isConnected = false
		s.conn = nil
		s.mu.Unlock()
	}
}

func (s *Service) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, err
	}

	// If we don't receive ANY data (or Pong) within PingPeriod + Buffer, we assume dead.
	readTimeout := PingPeriod + 10*time.Second
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	return conn, nil
}

func (s *Service) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, []byte{})
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *Service) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	readTimeout := PingPeriod + 10*time.Second

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			logger.Warn("price feed read error", "error", err)
			return
		}
		s.handleMessage(message)
	}
}

func (s *Service) handleMessage(message []byte) {
	if !gjson.ValidBytes(message) {
		return
	}
	parsed := gjson.ParseBytes(message)
	if parsed.IsArray() {
		parsed.ForEach(func(_, item gjson.Result) bool {
			s.applyQuote(item)
			return true
		})
		return
	}
	s.applyQuote(parsed)
}

func (s *Service) applyQuote(item gjson.Result) {
	asset := item.Get("asset").String()
	raw := item.Get("price")
	if asset == "" || !raw.Exists() {
		return
	}
	price, err := decimal.NewFromString(raw.String())
	if err != nil {
		return
	}
	s.book.Update(asset, price)
}

func (s *Service) sendSubscribe(assets []string) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errNoConnection
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(map[string]interface{}{
		"type":   "subscribe",
		"assets": assets,
	})
}

func containsFold(list []string, v string) bool {
	for _, existing := range list {
		if strings.EqualFold(existing, v) {
			return true
		}
	}
	return false
}
