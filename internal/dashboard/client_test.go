package dashboard

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/muurk/devboot/internal/status"
)

func nextSnapshot(t *testing.T, ch <-chan status.Snapshot) status.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatal("Watch channel closed early")
		}
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for snapshot")
		return status.Snapshot{}
	}
}

func TestWatch(t *testing.T) {
	st := status.New()
	st.SetClientMode(true)
	_, ts := newTestServer(t, Config{Status: st, KeepAlive: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := Watch(ctx, nil, ts.URL+"/")
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	if snap := nextSnapshot(t, ch); !snap.ClientMode || snap.NetworkReady {
		t.Errorf("Expected initial client-mode snapshot, got %+v", snap)
	}

	st.SetAddress("192.168.0.50/24")
	st.SetLink(status.LinkAddressAcquired)
	st.SetNetworkReady(true)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-ch:
			if snap.NetworkReady {
				if snap.Link != status.LinkAddressAcquired || snap.Address != "192.168.0.50/24" {
					t.Errorf("Unexpected ready snapshot %+v", snap)
				}
				cancel()
				for range ch {
				}
				return
			}
		case <-deadline:
			t.Fatal("Timed out waiting for ready snapshot")
		}
	}
}

func TestWatch_BadStatus(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	_, err := Watch(context.Background(), http.DefaultClient, ts.URL+"/nothing-here")
	if err == nil {
		t.Fatal("Expected error for a non-stream endpoint")
	}
}

func TestListenAndServe(t *testing.T) {
	srv := New(Config{Addr: "127.0.0.1:0"})
	addr, err := srv.Listen()
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	if again, _ := srv.Listen(); again.String() != addr.String() {
		t.Errorf("Expected second Listen to return %s, got %s", addr, again)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	resp, err := http.Get("http://" + addr.String() + "/api/status")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop")
	}
}
