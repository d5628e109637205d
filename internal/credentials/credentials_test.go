package credentials

import (
	"errors"
	"strings"
	"testing"

	"github.com/muurk/devboot/internal/defaults"
	"github.com/muurk/devboot/internal/flash"
	"github.com/muurk/devboot/internal/kvstore"
)

// fakeStore is an in-memory ReadWriter with the store's truncation rules.
type fakeStore struct {
	values   map[string][]byte
	failRead map[string]error
	failOn   string
	writes   []string
	// mangle, when set, rewrites a value as it is stored.
	mangle func(key string, value []byte) []byte
}

func newFakeStore(values map[string]string) *fakeStore {
	s := &fakeStore{values: map[string][]byte{}, failRead: map[string]error{}}
	for k, v := range values {
		s.values[k] = []byte(v)
	}
	return s
}

func (s *fakeStore) Read(key string, maxLen int) (kvstore.Value, error) {
	if err := s.failRead[key]; err != nil {
		return kvstore.Value{}, err
	}
	v, ok := s.values[key]
	if !ok {
		return kvstore.Value{}, &kvstore.StoreError{Op: kvstore.OpRead, Key: key, Err: kvstore.ErrNotFound}
	}
	out := kvstore.Value{Data: v, Length: len(v)}
	if len(v) > maxLen {
		out.Data = v[:maxLen]
		out.Truncated = true
	}
	return out, nil
}

func (s *fakeStore) Write(key string, value []byte) error {
	if key == s.failOn {
		return &kvstore.StoreError{Op: kvstore.OpCommit, Key: key, Err: errors.New("flash busy")}
	}
	s.writes = append(s.writes, key)
	if s.mangle != nil {
		value = s.mangle(key, value)
	}
	s.values[key] = append([]byte(nil), value...)
	return nil
}

func sentinelDefaults() defaults.Values {
	return defaults.Values{
		SSID:         defaults.SentinelSSID,
		Password:     defaults.SentinelPassword,
		Hostname:     defaults.DefaultHostname,
		MQTTBroker:   defaults.SentinelBroker,
		MQTTClientID: defaults.DefaultClientID,
	}
}

func TestResolveNetwork_Precedence(t *testing.T) {
	factory := sentinelDefaults()
	factory.SSID = "Factory1"

	tests := []struct {
		name       string
		stored     map[string]string
		compiled   defaults.Values
		wantSSID   string
		wantMode   NetworkMode
		wantSource Source
	}{
		{
			name:       "stored credentials win",
			stored:     map[string]string{KeySSID: "HomeNet", KeyPassword: "secret123", KeyHostname: "kitchen"},
			compiled:   factory,
			wantSSID:   "HomeNet",
			wantMode:   ModeClient,
			wantSource: SourceStored,
		},
		{
			name:       "empty stored ssid falls back to compiled",
			stored:     map[string]string{KeySSID: "", KeyPassword: "secret123", KeyHostname: "kitchen"},
			compiled:   factory,
			wantSSID:   "Factory1",
			wantMode:   ModeClient,
			wantSource: SourceCompiled,
		},
		{
			name:       "sentinel compiled default means access point",
			stored:     map[string]string{KeySSID: "", KeyPassword: "secret123", KeyHostname: "kitchen"},
			compiled:   sentinelDefaults(),
			wantSSID:   "",
			wantMode:   ModeAccessPoint,
			wantSource: SourceFallback,
		},
		{
			name:       "nothing stored",
			stored:     nil,
			compiled:   sentinelDefaults(),
			wantSSID:   "",
			wantMode:   ModeAccessPoint,
			wantSource: SourceFallback,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ResolveNetwork(newFakeStore(tt.stored), tt.compiled)
			if d.Credentials.SSID != tt.wantSSID {
				t.Errorf("Expected ssid %q, got %q", tt.wantSSID, d.Credentials.SSID)
			}
			if d.Mode != tt.wantMode {
				t.Errorf("Expected mode %v, got %v", tt.wantMode, d.Mode)
			}
			if d.Source != tt.wantSource {
				t.Errorf("Expected source %v, got %v", tt.wantSource, d.Source)
			}
			if d.Credentials.Hostname == "" {
				t.Error("Hostname should never be empty")
			}
		})
	}
}

func TestResolveNetwork_StoredPasswordVerbatim(t *testing.T) {
	store := newFakeStore(map[string]string{KeySSID: "HomeNet", KeyPassword: "secret123", KeyHostname: ""})
	d := ResolveNetwork(store, sentinelDefaults())

	if d.Credentials.Password != "secret123" {
		t.Errorf("Expected password secret123, got %q", d.Credentials.Password)
	}
	if d.Credentials.Hostname != defaults.DefaultHostname {
		t.Errorf("Expected default hostname for empty stored hostname, got %q", d.Credentials.Hostname)
	}
	if len(d.Rejected) != 0 {
		t.Errorf("Expected no rejections, got %v", d.Rejected)
	}
}

func TestResolveNetwork_StorageErrorFallsThrough(t *testing.T) {
	store := newFakeStore(map[string]string{KeySSID: "HomeNet", KeyPassword: "secret123", KeyHostname: "h"})
	store.failRead[KeyPassword] = errors.New("read failed")

	d := ResolveNetwork(store, sentinelDefaults())
	if d.Source != SourceFallback {
		t.Fatalf("Expected fallback, got %v", d.Source)
	}
	if len(d.Rejected) != 2 || !IsStorage(d.Rejected[0]) {
		t.Errorf("Expected storage rejection first, got %v", d.Rejected)
	}

	if d := ResolveNetwork(nil, sentinelDefaults()); d.Mode != ModeAccessPoint {
		t.Errorf("Expected access point mode without a store, got %v", d.Mode)
	}
}

func TestResolveNetwork_TooLongCompiledDefaultRejected(t *testing.T) {
	compiled := sentinelDefaults()
	compiled.SSID = strings.Repeat("s", 33)

	d := ResolveNetwork(newFakeStore(nil), compiled)
	if d.Mode != ModeAccessPoint {
		t.Errorf("Expected access point mode, got %v", d.Mode)
	}
	last := d.Rejected[len(d.Rejected)-1]
	if !IsTooLong(last) {
		t.Errorf("Expected too-long rejection, got %v", last)
	}
}

func TestResolveNetwork_TruncatedStoredValueIsInvalid(t *testing.T) {
	store := newFakeStore(map[string]string{
		KeySSID:     strings.Repeat("x", 40),
		KeyPassword: "secret123",
		KeyHostname: "h",
	})

	d := ResolveNetwork(store, sentinelDefaults())
	if d.Source != SourceFallback {
		t.Errorf("Expected fallback, got %v", d.Source)
	}
	if !IsInvalidData(d.Rejected[0]) {
		t.Errorf("Expected invalid data, got %v", d.Rejected[0])
	}
}

func TestResolveMessaging(t *testing.T) {
	compiled := sentinelDefaults()

	d := ResolveMessaging(newFakeStore(nil), compiled)
	if d.Enabled || d.Source != SourceFallback {
		t.Errorf("Expected messaging disabled with sentinel broker, got %+v", d)
	}

	compiled.MQTTBroker = "tcp://factory:1883"
	d = ResolveMessaging(newFakeStore(nil), compiled)
	if !d.Enabled || d.Source != SourceCompiled || d.Credentials.ClientID != defaults.DefaultClientID {
		t.Errorf("Expected compiled broker, got %+v", d)
	}

	store := newFakeStore(map[string]string{
		KeyBroker:       "tcp://broker.lan:1883",
		KeyClientID:     "tap-1",
		KeyMQTTUsername: "",
		KeyMQTTPassword: "",
	})
	d = ResolveMessaging(store, compiled)
	if !d.Enabled || d.Source != SourceStored || d.Credentials.Broker != "tcp://broker.lan:1883" {
		t.Errorf("Expected stored broker, got %+v", d)
	}
}

func TestUpdateNetwork_Verified(t *testing.T) {
	store := newFakeStore(nil)

	verified, err := UpdateNetwork(store, Network{SSID: "HomeNet", Password: "secret123", Hostname: "kitchen"})
	if err != nil {
		t.Fatalf("UpdateNetwork() error = %v", err)
	}
	if !verified {
		t.Error("Expected verified = true")
	}
	want := []string{KeyHostname, KeySSID, KeyPassword}
	if strings.Join(store.writes, ",") != strings.Join(want, ",") {
		t.Errorf("Expected writes %v, got %v", want, store.writes)
	}
}

func TestUpdateNetwork_VerificationMismatch(t *testing.T) {
	store := newFakeStore(nil)
	store.mangle = func(key string, value []byte) []byte {
		if key == KeySSID {
			return append(value, '!')
		}
		return value
	}

	verified, err := UpdateNetwork(store, Network{SSID: "HomeNet", Password: "secret123"})
	if err != nil {
		t.Fatalf("UpdateNetwork() error = %v", err)
	}
	if verified {
		t.Error("Expected verified = false when the stored ssid differs in length")
	}
}

func TestUpdateNetwork_EmptySSIDIsInvalid(t *testing.T) {
	verified, err := UpdateNetwork(newFakeStore(nil), Network{SSID: "", Password: "secret123"})
	if verified || !IsInvalidData(err) {
		t.Errorf("Expected invalid data, got verified=%v err=%v", verified, err)
	}
}

func TestUpdateNetwork_TooLongRejectedBeforeWrites(t *testing.T) {
	store := newFakeStore(nil)

	_, err := UpdateNetwork(store, Network{SSID: "ok", Password: strings.Repeat("p", 65), Hostname: "h"})
	var credErr *CredentialError
	if !errors.As(err, &credErr) || credErr.Kind != KindTooLong || credErr.Field != KeyPassword {
		t.Fatalf("Expected too-long password error, got %v", err)
	}
	if len(store.writes) != 0 {
		t.Errorf("Expected no writes, got %v", store.writes)
	}
}

func TestUpdateMessaging_WriteFailure(t *testing.T) {
	store := newFakeStore(nil)
	store.failOn = KeyMQTTUsername

	verified, err := UpdateMessaging(store, Messaging{Broker: "tcp://b:1883", ClientID: "c"})
	if verified {
		t.Error("Expected verified = false")
	}
	if !IsStorage(err) {
		t.Fatalf("Expected storage error, got %v", err)
	}
	var storeErr *kvstore.StoreError
	if !errors.As(err, &storeErr) || storeErr.Op != kvstore.OpCommit {
		t.Errorf("Expected wrapped commit error, got %v", err)
	}
}

func TestUpdateThenResolve_OnFlashStore(t *testing.T) {
	dev := flash.NewMemDevice(4 * flash.PageSize)
	pages, err := flash.NewPageAdapter(dev, 0, 4)
	if err != nil {
		t.Fatalf("NewPageAdapter() error = %v", err)
	}
	store := kvstore.New(pages)
	if err := store.Format(); err != nil {
		t.Fatalf("Format() error = %v", err)
	}

	verified, err := UpdateNetwork(store, Network{SSID: "HomeNet", Password: "secret123", Hostname: "kitchen"})
	if err != nil || !verified {
		t.Fatalf("UpdateNetwork() = %v, %v", verified, err)
	}
	verified, err = UpdateMessaging(store, Messaging{Broker: "tcp://broker.lan:1883", ClientID: "tap-1"})
	if err != nil || !verified {
		t.Fatalf("UpdateMessaging() = %v, %v", verified, err)
	}

	d := ResolveNetwork(store, sentinelDefaults())
	if d.Source != SourceStored || d.Credentials.Hostname != "kitchen" {
		t.Errorf("Expected stored credentials, got %+v", d)
	}
	m := ResolveMessaging(store, sentinelDefaults())
	if m.Source != SourceStored || m.Credentials.ClientID != "tap-1" {
		t.Errorf("Expected stored messaging credentials, got %+v", m)
	}
}
