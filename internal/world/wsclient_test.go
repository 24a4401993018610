package world

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// fakeBridge answers hello with one capability and a snapshot, then echoes
// every action as a successful reply.
func fakeBridge(t *testing.T, closeAfterHello bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()

		var hello Frame
		if err := wsjson.Read(ctx, conn, &hello); err != nil {
			return
		}
		snap := Snapshot{Health: 20, Food: 18, Inventory: map[string]int{"oak_log": 2}}
		if err := wsjson.Write(ctx, conn, Frame{Type: FrameHello, Capabilities: []string{"gather_wood"}, Snapshot: &snap}); err != nil {
			return
		}
		if closeAfterHello {
			return
		}
		for {
			var f Frame
			if err := wsjson.Read(ctx, conn, &f); err != nil {
				return
			}
			if f.Type != FrameAction || f.Action == nil {
				continue
			}
			reply := Reply{ID: f.Action.ID, Success: true, Message: "did " + f.Action.Name}
			if err := wsjson.Write(ctx, conn, Frame{Type: FrameReply, Reply: &reply}); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDial_HelloAndDo(t *testing.T) {
	srv := fakeBridge(t, false)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, DialConfig{Endpoint: wsURL(srv), AgentID: "a1"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if caps := c.Capabilities(); len(caps) != 1 || caps[0] != "gather_wood" {
		t.Fatalf("capabilities = %v", caps)
	}
	if got := c.Snapshot().Logs(); got != 2 {
		t.Fatalf("hello snapshot logs = %d", got)
	}

	reply, err := c.Do(ctx, Action{Name: "gather_wood"})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !reply.Success || reply.Message != "did gather_wood" {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestClient_DisconnectFailsDo(t *testing.T) {
	srv := fakeBridge(t, true)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, DialConfig{Endpoint: wsURL(srv), AgentID: "a1"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	select {
	case <-c.Done():
	case <-ctx.Done():
		t.Fatal("connection never reported lost")
	}
	if c.Connected() {
		t.Fatal("expected Connected() false after bridge closed")
	}
	if _, err := c.Do(ctx, Action{Name: "gather_wood"}); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("Do err = %v, want ErrDisconnected", err)
	}
}
