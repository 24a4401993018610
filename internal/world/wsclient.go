package world

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

// Frame types exchanged with the simulation bridge.
const (
	FrameHello    = "hello"
	FrameSnapshot = "snapshot"
	FrameAction   = "action"
	FrameReply    = "reply"
)

// Frame is the single JSON envelope used in both directions.
type Frame struct {
	Type         string    `json:"type"`
	Agent        string    `json:"agent,omitempty"`
	Capabilities []string  `json:"capabilities,omitempty"`
	Snapshot     *Snapshot `json:"snapshot,omitempty"`
	Action       *Action   `json:"action,omitempty"`
	Reply        *Reply    `json:"reply,omitempty"`
}

// DialConfig configures a bridge connection.
type DialConfig struct {
	Endpoint     string
	AgentID      string
	Token        string
	HelloTimeout time.Duration
	Logger       *slog.Logger
}

// Client is a Handle backed by a websocket connection to the bridge. A
// single reader goroutine owns the read side; writes may come from any
// goroutine.
type Client struct {
	conn   *websocket.Conn
	agent  string
	logger *slog.Logger

	snap  atomic.Pointer[Snapshot]
	alive atomic.Bool
	caps  []string

	mu      sync.Mutex
	pending map[string]chan Reply

	done chan struct{}
}

// Dial connects, sends a hello, and waits for the bridge hello that lists
// the actions it can perform.
func Dial(ctx context.Context, cfg DialConfig) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	helloTimeout := cfg.HelloTimeout
	if helloTimeout <= 0 {
		helloTimeout = 10 * time.Second
	}

	opts := &websocket.DialOptions{}
	if tok := strings.TrimSpace(cfg.Token); tok != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + tok}}
	}
	conn, _, err := websocket.Dial(ctx, cfg.Endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("dial bridge %s: %w", cfg.Endpoint, err)
	}
	conn.SetReadLimit(4 << 20)

	hctx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()
	if err := wsjson.Write(hctx, conn, Frame{Type: FrameHello, Agent: cfg.AgentID}); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "hello failed")
		return nil, fmt.Errorf("send hello: %w", err)
	}
	var hello Frame
	if err := wsjson.Read(hctx, conn, &hello); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "hello failed")
		return nil, fmt.Errorf("read hello: %w", err)
	}
	if hello.Type != FrameHello {
		_ = conn.Close(websocket.StatusProtocolError, "expected hello")
		return nil, fmt.Errorf("bridge sent %q before hello", hello.Type)
	}

	c := &Client{
		conn:    conn,
		agent:   cfg.AgentID,
		logger:  logger.With("component", "world", "agent_id", cfg.AgentID),
		caps:    hello.Capabilities,
		pending: make(map[string]chan Reply),
		done:    make(chan struct{}),
	}
	if hello.Snapshot != nil {
		s := hello.Snapshot.Clone()
		c.snap.Store(&s)
	}
	c.alive.Store(true)
	go c.readLoop(context.WithoutCancel(ctx))
	return c, nil
}

// Capabilities lists the action names the bridge advertised in its hello.
func (c *Client) Capabilities() []string {
	return append([]string(nil), c.caps...)
}

// Snapshot returns the latest snapshot, or a zero snapshot before the first one.
func (c *Client) Snapshot() Snapshot {
	if s := c.snap.Load(); s != nil {
		return s.Clone()
	}
	return Snapshot{}
}

func (c *Client) Connected() bool {
	return c.alive.Load()
}

// Done is closed once the connection is lost.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Do sends an action and waits for the matching reply.
func (c *Client) Do(ctx context.Context, a Action) (Reply, error) {
	if !c.Connected() {
		return Reply{}, ErrDisconnected
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	ch := make(chan Reply, 1)
	c.mu.Lock()
	c.pending[a.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, a.ID)
		c.mu.Unlock()
	}()

	if err := wsjson.Write(ctx, c.conn, Frame{Type: FrameAction, Agent: c.agent, Action: &a}); err != nil {
		if ctx.Err() != nil {
			return Reply{}, ctx.Err()
		}
		c.markDead(err)
		return Reply{}, fmt.Errorf("send action %s: %w", a.Name, ErrDisconnected)
	}

	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	case <-c.done:
		return Reply{}, ErrDisconnected
	}
}

// Close shuts the connection down.
func (c *Client) Close() error {
	c.markDead(nil)
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		var f Frame
		if err := wsjson.Read(ctx, c.conn, &f); err != nil {
			c.markDead(err)
			return
		}
		switch f.Type {
		case FrameSnapshot:
			if f.Snapshot != nil {
				s := f.Snapshot.Clone()
				if s.Taken.IsZero() {
					s.Taken = time.Now()
				}
				c.snap.Store(&s)
			}
		case FrameReply:
			if f.Reply == nil {
				continue
			}
			c.mu.Lock()
			ch, ok := c.pending[f.Reply.ID]
			c.mu.Unlock()
			if ok {
				select {
				case ch <- *f.Reply:
				default:
				}
			} else {
				c.logger.Debug("reply for abandoned action", "action_id", f.Reply.ID)
			}
		default:
			c.logger.Debug("ignoring bridge frame", "type", f.Type)
		}
	}
}

func (c *Client) markDead(err error) {
	if !c.alive.Swap(false) {
		return
	}
	if err != nil {
		c.logger.Error("bridge connection lost", "error", err)
	}
	close(c.done)
}
