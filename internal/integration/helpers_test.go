package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tinkertanker/classroom-widgets-sub001/internal/app"
	"github.com/tinkertanker/classroom-widgets-sub001/internal/client"
	"github.com/tinkertanker/classroom-widgets-sub001/internal/config"
)

const waitTimeout = 2 * time.Second

// testServer is a complete application behind httptest
type testServer struct {
	app    *app.Application
	server *httptest.Server
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "classroom.db")

	application, err := app.NewApplication(cfg)
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := application.StartWorkers(ctx); err != nil {
		cancel()
		t.Fatalf("Failed to start workers: %v", err)
	}
	ts := &testServer{app: application, server: httptest.NewServer(application.Handler())}

	t.Cleanup(func() {
		ts.server.Close()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = application.Stop(stopCtx)
		cancel()
	})
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.server.URL, "http") + "/ws"
}

func (ts *testServer) getJSON(t *testing.T, path string, v interface{}) int {
	t.Helper()
	resp, err := http.Get(ts.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("GET %s returned invalid JSON: %v", path, err)
		}
	}
	return resp.StatusCode
}

type push struct {
	event string
	data  json.RawMessage
}

// testClient is one browser tab: a transport plus the pushes it received
type testClient struct {
	*client.WSTransport
	pushes chan push
}

func connect(t *testing.T, ts *testServer, onPush client.PushHandler) *testClient {
	t.Helper()
	tc := &testClient{pushes: make(chan push, 100)}
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	transport, err := client.Dial(ctx, ts.wsURL(), nil, func(event string, data json.RawMessage) {
		if onPush != nil {
			onPush(event, data)
		}
		tc.pushes <- push{event: event, data: data}
	})
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	tc.WSTransport = transport
	t.Cleanup(func() { transport.Close() })
	return tc
}

// request sends one event and fails the test unless it is acknowledged
// with success
func (tc *testClient) request(t *testing.T, event string, payload interface{}, reply interface{}) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	var raw json.RawMessage
	if err := tc.Request(ctx, event, payload, &raw); err != nil {
		t.Fatalf("%s failed: %v", event, err)
	}
	var ack struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &ack); err != nil || !ack.Success {
		t.Fatalf("%s rejected: %s", event, ack.Error)
	}
	if reply != nil {
		if err := json.Unmarshal(raw, reply); err != nil {
			t.Fatalf("%s ack did not decode: %v", event, err)
		}
	}
}

// waitFor returns the next push named event, skipping others
func (tc *testClient) waitFor(t *testing.T, event string, v interface{}) {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case p := <-tc.pushes:
			if p.event != event {
				continue
			}
			if v != nil {
				if err := json.Unmarshal(p.data, v); err != nil {
					t.Fatalf("%s push did not decode: %v", event, err)
				}
			}
			return
		case <-deadline:
			t.Fatalf("Timed out waiting for %s", event)
		}
	}
}

// eventually polls cond until it holds or the wait times out
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func hostOptions() client.Options {
	opts := client.DefaultOptions()
	opts.AttemptTimeout = time.Second
	opts.BaseBackoff = 10 * time.Millisecond
	opts.SettleDelay = 10 * time.Millisecond
	return opts
}
