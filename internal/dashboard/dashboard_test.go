package dashboard

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/muurk/devboot/internal/credentials"
	"github.com/muurk/devboot/internal/flash"
	"github.com/muurk/devboot/internal/kvstore"
	"github.com/muurk/devboot/internal/ota"
	"github.com/muurk/devboot/internal/partition"
	"github.com/muurk/devboot/internal/status"
)

func newTestStore(t *testing.T) *kvstore.Store {
	t.Helper()
	dev := flash.NewMemDevice(4 * flash.PageSize)
	pages, err := flash.NewPageAdapter(dev, 0, 4)
	if err != nil {
		t.Fatalf("NewPageAdapter() error = %v", err)
	}
	store := kvstore.New(pages)
	if err := store.Format(); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	return store
}

func newTestServer(t *testing.T, config Config) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(config)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestStatusEndpoint(t *testing.T) {
	st := status.New()
	st.SetClientMode(true)
	st.SetNetworkReady(true)
	st.SetAddress("192.168.0.50/24")
	_, ts := newTestServer(t, Config{Status: st, Version: "v1.0.0"})

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status error = %v", err)
	}
	defer resp.Body.Close()

	var got StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !got.ClientMode || !got.NetworkReady || got.Address != "192.168.0.50/24" {
		t.Errorf("Unexpected status %+v", got)
	}
	if got.Version != "v1.0.0" {
		t.Errorf("Expected version v1.0.0, got %q", got.Version)
	}
}

func TestIndexPage(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET / error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Expected HTML, got %q", ct)
	}
	var body bytes.Buffer
	body.ReadFrom(resp.Body)
	if !strings.Contains(body.String(), "index.js") {
		t.Error("Expected the page to load index.js")
	}
}

func postJSON(t *testing.T, url, body string) (*http.Response, SettingsResponse) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	defer resp.Body.Close()
	var out SettingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return resp, out
}

func TestWiFiSettings(t *testing.T) {
	store := newTestStore(t)
	_, ts := newTestServer(t, Config{Store: store})

	resp, out := postJSON(t, ts.URL+"/api/wifi", `{"ssid":"home","password":"secret","hostname":"lab"}`)
	if resp.StatusCode != http.StatusOK || !out.Verified {
		t.Fatalf("Expected verified update, got %d %+v", resp.StatusCode, out)
	}

	n, err := credentials.LoadNetwork(store)
	if err != nil {
		t.Fatalf("LoadNetwork() error = %v", err)
	}
	if n.SSID != "home" || n.Password != "secret" || n.Hostname != "lab" {
		t.Errorf("Unexpected stored network %+v", n)
	}
}

func TestWiFiSettings_Rejected(t *testing.T) {
	store := newTestStore(t)
	_, ts := newTestServer(t, Config{Store: store})

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"malformed", `{"ssid":`, http.StatusBadRequest},
		{"unknown field", `{"ssid":"x","channel":6}`, http.StatusBadRequest},
		{"missing ssid", `{"password":"secret"}`, http.StatusBadRequest},
		{"ssid too long", `{"ssid":"` + strings.Repeat("s", 33) + `","password":"p"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := postJSON(t, ts.URL+"/api/wifi", tt.body)
			if resp.StatusCode != tt.wantCode {
				t.Errorf("Expected %d, got %d (%s)", tt.wantCode, resp.StatusCode, out.Error)
			}
			if out.Verified {
				t.Error("Rejected update must not report verified")
			}
		})
	}
	if keys := store.Keys(); len(keys) != 0 {
		t.Errorf("Rejected updates must not write, found keys %v", keys)
	}
}

func TestMQTTSettings(t *testing.T) {
	store := newTestStore(t)
	_, ts := newTestServer(t, Config{Store: store})

	resp, out := postJSON(t, ts.URL+"/api/mqtt", `{"broker":"tcp://10.0.0.2:1883","client_id":"lab-1"}`)
	if resp.StatusCode != http.StatusOK || !out.Verified {
		t.Fatalf("Expected verified update, got %d %+v", resp.StatusCode, out)
	}
	m, err := credentials.LoadMessaging(store)
	if err != nil || m.Broker != "tcp://10.0.0.2:1883" || m.ClientID != "lab-1" {
		t.Errorf("Unexpected stored messaging %+v, %v", m, err)
	}
}

func TestSettings_NoStore(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	resp, _ := postJSON(t, ts.URL+"/api/mqtt", `{"broker":"tcp://x"}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without a store, got %d", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	resp, err := http.Get(ts.URL + "/api/wifi")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", resp.StatusCode)
	}
}

func readEvent(t *testing.T, r *bufio.Reader) []string {
	t.Helper()
	var lines []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("ReadString() error = %v", err)
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			return lines
		}
		lines = append(lines, line)
	}
}

func TestEvents(t *testing.T) {
	st := status.New()
	srv, ts := newTestServer(t, Config{Status: st, KeepAlive: 50 * time.Millisecond})

	resp, err := http.Get(ts.URL + "/events")
	if err != nil {
		t.Fatalf("GET /events error = %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected text/event-stream, got %q", ct)
	}
	r := bufio.NewReader(resp.Body)

	first := readEvent(t, r)
	if len(first) != 2 || first[0] != "event: "+EventName {
		t.Fatalf("Expected initial %s event, got %q", EventName, first)
	}
	if srv.ActiveStreams() != 1 {
		t.Errorf("Expected one active stream, got %d", srv.ActiveStreams())
	}

	st.SetNetworkReady(true)
	for {
		ev := readEvent(t, r)
		if len(ev) == 1 && ev[0] == ": keep-alive" {
			continue
		}
		if len(ev) != 2 || !strings.Contains(ev[1], `"network_ready":true`) {
			t.Fatalf("Expected snapshot with network_ready, got %q", ev)
		}
		break
	}

	if ev := readEvent(t, r); len(ev) != 1 || ev[0] != ": keep-alive" {
		t.Errorf("Expected keep-alive, got %q", ev)
	}
}

func TestWebSocketEcho(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	dialer := websocket.Dialer{Subprotocols: []string{"echo", "ignored_protocol"}}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if conn.Subprotocol() != Subprotocol {
		t.Errorf("Expected subprotocol %q, got %q", Subprotocol, conn.Subprotocol())
	}

	for _, msg := range []struct {
		typ  int
		data []byte
	}{
		{websocket.TextMessage, []byte("hello")},
		{websocket.BinaryMessage, []byte{0, 1, 2, 0xff}},
	} {
		if err := conn.WriteMessage(msg.typ, msg.data); err != nil {
			t.Fatalf("WriteMessage() error = %v", err)
		}
		typ, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage() error = %v", err)
		}
		if typ != msg.typ || !bytes.Equal(data, msg.data) {
			t.Errorf("Expected echo of %v, got %d %v", msg.data, typ, data)
		}
	}
}

func otaTable() *partition.Table {
	return &partition.Table{Entries: []partition.Entry{
		{Type: partition.TypeData, SubType: partition.SubTypeOTAData, Offset: 0xF000, Size: 0x2000, Label: "otadata"},
		{Type: partition.TypeApp, SubType: partition.SubTypeOTA0, Offset: 0x20000, Size: 0x10000, Label: "ota_0"},
		{Type: partition.TypeApp, SubType: partition.SubTypeOTA1, Offset: 0x30000, Size: 0x10000, Label: "ota_1"},
	}}
}

func TestOTAUpload(t *testing.T) {
	dev := flash.NewMemDevice(0x40000)
	mgr, err := ota.New(dev, otaTable())
	if err != nil {
		t.Fatalf("ota.New() error = %v", err)
	}
	st := status.New()
	var opened atomic.Int32
	newOTA := func() (*ota.Manager, error) {
		opened.Add(1)
		return ota.New(dev, otaTable())
	}
	_, ts := newTestServer(t, Config{Status: st, NewOTA: newOTA})

	image := bytes.Repeat([]byte{0xE9, 0x01, 0x02}, 1000)
	resp, err := http.Post(ts.URL+"/api/ota", "application/octet-stream", bytes.NewReader(image))
	if err != nil {
		t.Fatalf("POST /api/ota error = %v", err)
	}
	defer resp.Body.Close()

	var out OTAResponse
	json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d (%s)", resp.StatusCode, out.Error)
	}
	if out.Slot != "ota_0" || out.Written != uint32(len(image)) {
		t.Errorf("Unexpected response %+v", out)
	}
	if slot, _ := mgr.CurrentSlot(); slot != ota.SlotA {
		t.Errorf("Expected ota_0 selected, got %v", slot)
	}
	if st.FirmwareUpgradeInProgress() {
		t.Error("Upgrade flag must be cleared after the upload")
	}
	if n := opened.Load(); n != 1 {
		t.Errorf("Expected one OTA manager per upload, got %d", n)
	}
}

func TestOTAUpload_PartitionsUnavailable(t *testing.T) {
	newOTA := func() (*ota.Manager, error) {
		return ota.New(flash.NewMemDevice(0x40000), &partition.Table{})
	}
	_, ts := newTestServer(t, Config{NewOTA: newOTA})

	resp, err := http.Post(ts.URL+"/api/ota", "application/octet-stream", bytes.NewReader(make([]byte, 16)))
	if err != nil {
		t.Fatalf("POST /api/ota error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", resp.StatusCode)
	}
}

func TestOTAUpload_TooLarge(t *testing.T) {
	dev := flash.NewMemDevice(0x40000)
	mgr, _ := ota.New(dev, otaTable())
	newOTA := func() (*ota.Manager, error) { return ota.New(dev, otaTable()) }
	_, ts := newTestServer(t, Config{NewOTA: newOTA, MaxImageSize: 1024})

	resp, err := http.Post(ts.URL+"/api/ota", "application/octet-stream", bytes.NewReader(make([]byte, 4096)))
	if err != nil {
		t.Fatalf("POST /api/ota error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %d", resp.StatusCode)
	}
	if slot, _ := mgr.CurrentSlot(); slot != ota.SlotNone {
		t.Errorf("Aborted upload must not select a slot, got %v", slot)
	}
}
