package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

// startServer serves mux on a loopback listener and returns the server,
// its address, and a channel closed when Serve returns.
func startServer(t *testing.T, mux *http.ServeMux) (*http.Server, string, <-chan struct{}) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			t.Errorf("serve: %v", err)
		}
	}()
	return server, ln.Addr().String(), stopped
}

// The shutdown sequence logs start, drain, and stop in order; operators
// rely on that ordering when reading incident timelines.
func TestShutdown_LogOrdering(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server, addr, stopped := startServer(t, mux)
	logger.Info("starting server", "addr", addr)

	logger.Info("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		t.Errorf("shutdown: %v", err)
	}
	logger.Info("server stopped")

	select {
	case <-stopped:
	case <-time.After(15 * time.Second):
		t.Fatal("serve goroutine did not exit")
	}

	logs := logBuf.String()
	order := []string{"starting server", "shutting down server", "server stopped"}
	last := -1
	for _, msg := range order {
		idx := strings.Index(logs, msg)
		if idx == -1 {
			t.Fatalf("missing %q in logs", msg)
		}
		if idx < last {
			t.Errorf("%q logged out of order", msg)
		}
		last = idx
	}
}

// Shutdown must drain in-flight requests rather than cutting them off;
// a viewer polling occupancy mid-deploy should still get a response.
func TestShutdown_DrainsInFlightRequests(t *testing.T) {
	handlerStarted := make(chan struct{})
	handlerRelease := make(chan struct{})

	var mu sync.Mutex
	completed := false

	mux := http.NewServeMux()
	mux.HandleFunc("/rooms/main-hall/occupancy", func(w http.ResponseWriter, r *http.Request) {
		close(handlerStarted)
		<-handlerRelease

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"room_id":"main-hall","count":7}`))

		mu.Lock()
		completed = true
		mu.Unlock()
	})

	server, addr, stopped := startServer(t, mux)

	type result struct {
		resp *http.Response
		err  error
	}
	requestDone := make(chan result, 1)
	go func() {
		resp, err := http.Get("http://" + addr + "/rooms/main-hall/occupancy")
		requestDone <- result{resp, err}
	}()

	select {
	case <-handlerStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never received the request")
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	}()

	// Let shutdown begin before releasing the handler.
	time.Sleep(50 * time.Millisecond)
	close(handlerRelease)

	var res result
	select {
	case res = <-requestDone:
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight request never completed")
	}
	select {
	case <-shutdownDone:
	case <-time.After(15 * time.Second):
		t.Fatal("shutdown never completed")
	}
	<-stopped

	if res.err != nil {
		t.Fatalf("request: %v", res.err)
	}
	defer res.resp.Body.Close()
	if res.resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", res.resp.StatusCode)
	}
	body, _ := io.ReadAll(res.resp.Body)
	if !strings.Contains(string(body), `"count":7`) {
		t.Errorf("unexpected body %s", body)
	}

	mu.Lock()
	defer mu.Unlock()
	if !completed {
		t.Error("handler was cut off before writing its response")
	}
}

func TestShutdown_IdleServerIsClean(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server, _, stopped := startServer(t, mux)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		t.Errorf("idle shutdown returned %v", err)
	}
	<-stopped
}

func TestSignalNotify_TerminationSignals(t *testing.T) {
	for _, sig := range []syscall.Signal{syscall.SIGINT, syscall.SIGTERM} {
		t.Run(sig.String(), func(t *testing.T) {
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(quit)

			go func() {
				time.Sleep(50 * time.Millisecond)
				syscall.Kill(syscall.Getpid(), sig)
			}()

			select {
			case got := <-quit:
				if got != sig {
					t.Errorf("received %v, want %v", got, sig)
				}
			case <-time.After(2 * time.Second):
				t.Errorf("%v never delivered", sig)
			}
		})
	}
}
