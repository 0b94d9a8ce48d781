package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"FxAlert/internal/domain/models"
	"FxAlert/pkg/logger"
)

// EventInteractionCreate is the dispatch type carrying a command invocation.
const EventInteractionCreate = "INTERACTION_CREATE"

// Handler receives decoded interactions. It must not block for long: the
// read loop waits for it before reading the next frame.
type Handler func(in models.InboundInteraction)

// Client reads interactions from the platform websocket gateway and
// reconnects with a fixed delay when the connection drops.
type Client struct {
	url            string
	token          string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	dialer         *websocket.Dialer
	log            *logger.Logger
	now            func() time.Time

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

func New(url, token string, reconnectDelay, pingInterval time.Duration, l *logger.Logger) *Client {
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	if l == nil {
		l = logger.Nop()
	}
	return &Client{
		url:            url,
		token:          token,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		dialer:         websocket.DefaultDialer,
		log:            l,
		now:            time.Now,
	}
}

// Connect establishes the websocket connection.
func (c *Client) Connect(ctx context.Context) error {
	hdr := http.Header{}
	if c.token != "" {
		hdr.Set("Authorization", "Bot "+c.token)
	}
	conn, _, err := c.dialer.DialContext(ctx, c.url, hdr)
	if err != nil {
		return fmt.Errorf("gateway connect: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.log.Info("gateway connected", logger.String("url", c.url))
	return nil
}

type frame struct {
	Type string          `json:"t"`
	Data json.RawMessage `json:"d"`
}

type interactionOption struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

type interactionPayload struct {
	ID        string `json:"id"`
	Token     string `json:"token"`
	CreatedAt string `json:"created_at"`
	ChannelID string `json:"channel_id"`
	User      struct {
		ID string `json:"id"`
	} `json:"user"`
	Data struct {
		Name    string              `json:"name"`
		Options []interactionOption `json:"options"`
	} `json:"data"`
}

// parseInteraction decodes one gateway frame. ok is false for frames that
// are not interactions.
func parseInteraction(b []byte, received time.Time) (models.InboundInteraction, bool, error) {
	var f frame
	if err := json.Unmarshal(b, &f); err != nil {
		return models.InboundInteraction{}, false, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type != EventInteractionCreate {
		return models.InboundInteraction{}, false, nil
	}
	var p interactionPayload
	if err := json.Unmarshal(f.Data, &p); err != nil {
		return models.InboundInteraction{}, false, fmt.Errorf("decode interaction: %w", err)
	}
	if p.ID == "" || p.Token == "" {
		return models.InboundInteraction{}, false, errors.New("interaction without id or token")
	}

	created := received
	if p.CreatedAt != "" {
		t, err := time.Parse(time.RFC3339Nano, p.CreatedAt)
		if err == nil && !t.After(received) {
			created = t
		}
	}
	params := make(map[string]string, len(p.Data.Options))
	for _, o := range p.Data.Options {
		params[o.Name] = optionValue(o.Value)
	}
	in := models.NewInboundInteraction(p.ID, p.Token, created, strings.ToLower(p.Data.Name), params)
	in.UserID = p.User.ID
	in.ChannelID = p.ChannelID
	return in, true, nil
}

func optionValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// Run reads interactions until ctx is done, reconnecting on read errors.
func (c *Client) Run(ctx context.Context, h Handler) error {
	for {
		if !c.IsConnected() {
			if err := c.Connect(ctx); err != nil {
				c.log.Warn("gateway connect failed", logger.Error(err))
				if !sleepCtx(ctx, c.reconnectDelay) {
					return nil
				}
				continue
			}
		}
		err := c.readLoop(ctx, h)
		_ = c.Close()
		if ctx.Err() != nil {
			return nil
		}
		c.log.Warn("gateway disconnected", logger.Error(err))
		if !sleepCtx(ctx, c.reconnectDelay) {
			return nil
		}
	}
}

func (c *Client) readLoop(ctx context.Context, h Handler) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("gateway conn nil")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-loopCtx.Done()
		// unblocks ReadMessage on shutdown
		_ = conn.Close()
	}()
	if c.pingInterval > 0 {
		go c.pingLoop(loopCtx, conn)
	}

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("gateway read: %w", err)
		}
		in, ok, err := parseInteraction(b, c.now())
		if err != nil {
			c.log.Warn("gateway frame dropped", logger.Error(err))
			continue
		}
		if ok {
			h(in)
		}
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := c.now().Add(c.pingInterval)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.log.Debug("gateway ping failed", logger.Error(err))
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Close closes the websocket connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
