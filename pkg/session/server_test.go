package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/yaml-schema-client/pkg/associations"
	"github.com/Sternrassler/yaml-schema-client/pkg/rpc"
	"github.com/Sternrassler/yaml-schema-client/pkg/telemetry"
)

// TestHelperProcess is not a real test. It acts as a minimal language
// server when run by the tests below.
func TestHelperProcess(t *testing.T) {
	mode := os.Getenv("YAML_CLIENT_HELPER_SERVER")
	if mode == "" {
		return
	}

	conn := rpc.NewConn(os.Stdin, os.Stdout)
	conn.OnRequest("initialize", func(context.Context, json.RawMessage) (any, error) {
		return map[string]any{"capabilities": map[string]any{}}, nil
	})
	conn.OnRequest("shutdown", func(context.Context, json.RawMessage) (any, error) {
		return nil, nil
	})
	conn.OnNotification("exit", func(context.Context, json.RawMessage) {
		os.Exit(0)
	})
	conn.OnNotification(associations.Notification, func(context.Context, json.RawMessage) {
		if mode == "crash" {
			fmt.Fprintln(os.Stderr, "[Error - 10:00:00] simulated crash")
			os.Exit(1)
		}
	})

	conn.Run(context.Background())
	os.Exit(0)
}

type countingService struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingService) Send(_ context.Context, e telemetry.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[e.Name]++
}
func (c *countingService) SendStartupEvent(context.Context)  {}
func (c *countingService) SendShutdownEvent(context.Context) {}

func (c *countingService) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[name]
}

func helperServer(mode string, maxRestarts int, svc telemetry.Service) *ServerProcess {
	return NewServerProcess(ServerConfig{
		Path:        os.Args[0],
		Args:        []string{"-test.run=TestHelperProcess"},
		Env:         []string{"YAML_CLIENT_HELPER_SERVER=" + mode},
		MaxRestarts: maxRestarts,
		Telemetry:   svc,
		Setup: func(ctx context.Context, conn *rpc.Conn) error {
			s, err := New(Options{Conn: conn, Fetcher: &stubFetcher{}})
			if err != nil {
				return err
			}
			return s.Start(ctx)
		},
	})
}

func TestServerProcess_GivesUpAfterRepeatedCrashes(t *testing.T) {
	svc := &countingService{}
	p := helperServer("crash", 1, svc)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	err := p.Run(ctx)
	if !errors.Is(err, ErrServerGaveUp) {
		t.Fatalf("Run() error = %v, want ErrServerGaveUp", err)
	}
	if p.Starts() != 2 {
		t.Errorf("Starts() = %d, want 2", p.Starts())
	}
	if got := svc.count(telemetry.EventServerError); got != 2 {
		t.Errorf("%s events = %d, want 2", telemetry.EventServerError, got)
	}
}

func TestServerProcess_StopsOnContextCancel(t *testing.T) {
	p := helperServer("serve", 3, telemetry.Nop{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(500 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if p.Starts() != 1 {
		t.Errorf("Starts() = %d, want 1", p.Starts())
	}
}

func TestServerProcess_MissingBinary(t *testing.T) {
	p := NewServerProcess(ServerConfig{Path: "/nonexistent/yaml-language-server", MaxRestarts: 0})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.Run(ctx); !errors.Is(err, ErrServerGaveUp) {
		t.Errorf("Run() error = %v, want ErrServerGaveUp", err)
	}
	if p.Starts() != 0 {
		t.Errorf("Starts() = %d, want 0", p.Starts())
	}
}
