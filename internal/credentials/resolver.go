package credentials

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/muurk/devboot/internal/defaults"
	"github.com/muurk/devboot/internal/kvstore"
	"github.com/muurk/devboot/internal/logging"
)

// Reader is the read side of the configuration store.
type Reader interface {
	Read(key string, maxLen int) (kvstore.Value, error)
}

// ReadWriter is the configuration store as used by settings updates.
type ReadWriter interface {
	Reader
	Write(key string, value []byte) error
}

// NetworkMode is chosen once per boot from the resolved network credentials.
type NetworkMode int

const (
	// ModeAccessPoint hosts a local network with its own DHCP service
	ModeAccessPoint NetworkMode = iota
	// ModeClient joins an existing network
	ModeClient
)

// String returns a human-readable name for the mode
func (m NetworkMode) String() string {
	switch m {
	case ModeClient:
		return "client"
	case ModeAccessPoint:
		return "access-point"
	default:
		return fmt.Sprintf("NetworkMode(%d)", int(m))
	}
}

// Source records which precedence step produced a decision.
type Source int

const (
	// SourceStored means the configuration store supplied the set
	SourceStored Source = iota
	// SourceCompiled means the link-time defaults supplied the set
	SourceCompiled
	// SourceFallback means neither was usable
	SourceFallback
)

// String returns a human-readable name for the source
func (s Source) String() string {
	switch s {
	case SourceStored:
		return "stored"
	case SourceCompiled:
		return "compiled"
	case SourceFallback:
		return "fallback"
	default:
		return fmt.Sprintf("Source(%d)", int(s))
	}
}

// Network is the network credential set.
type Network struct {
	SSID     string `json:"ssid"`
	Password string `json:"password"`
	Hostname string `json:"hostname"`
}

// Usable reports whether both mandatory fields are set.
func (n Network) Usable() bool { return n.SSID != "" && n.Password != "" }

// Messaging is the messaging credential set.
type Messaging struct {
	Broker   string `json:"broker"`
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Usable reports whether the broker URI is set.
func (m Messaging) Usable() bool { return m.Broker != "" }

// NetworkDecision is the outcome of network credential resolution.
type NetworkDecision struct {
	Credentials Network
	Mode        NetworkMode
	Source      Source

	// Rejected holds the reason each earlier precedence step was skipped.
	Rejected []error
}

// MessagingDecision is the outcome of messaging credential resolution.
type MessagingDecision struct {
	Credentials Messaging
	Enabled     bool
	Source      Source
	Rejected    []error
}

// readField reads one bounded field. A value that had to be truncated is
// reported as invalid data rather than used in part.
func readField(store Reader, domain Domain, key string) (string, error) {
	if store == nil {
		return "", &CredentialError{Kind: KindStorage, Domain: domain, Field: key, Err: kvstore.ErrNotMounted}
	}
	v, err := store.Read(key, mustBound(key))
	if err != nil {
		return "", &CredentialError{Kind: KindStorage, Domain: domain, Field: key, Err: err}
	}
	if v.Truncated {
		return "", &CredentialError{Kind: KindInvalidData, Domain: domain, Field: key}
	}
	return string(v.Data), nil
}

// LoadNetwork reads the stored network set. It fails unless every field
// reads cleanly and ssid and password are non-empty.
func LoadNetwork(store Reader) (Network, error) {
	var n Network
	var err error
	if n.SSID, err = readField(store, DomainNetwork, KeySSID); err != nil {
		return Network{}, err
	}
	if n.Password, err = readField(store, DomainNetwork, KeyPassword); err != nil {
		return Network{}, err
	}
	if n.Hostname, err = readField(store, DomainNetwork, KeyHostname); err != nil {
		return Network{}, err
	}
	if !n.Usable() {
		return Network{}, &CredentialError{Kind: KindInvalidData, Domain: DomainNetwork}
	}
	return n, nil
}

// LoadMessaging reads the stored messaging set. It fails unless every field
// reads cleanly and the broker is non-empty.
func LoadMessaging(store Reader) (Messaging, error) {
	var m Messaging
	var err error
	if m.Broker, err = readField(store, DomainMessaging, KeyBroker); err != nil {
		return Messaging{}, err
	}
	if m.ClientID, err = readField(store, DomainMessaging, KeyClientID); err != nil {
		return Messaging{}, err
	}
	if m.Username, err = readField(store, DomainMessaging, KeyMQTTUsername); err != nil {
		return Messaging{}, err
	}
	if m.Password, err = readField(store, DomainMessaging, KeyMQTTPassword); err != nil {
		return Messaging{}, err
	}
	if !m.Usable() {
		return Messaging{}, &CredentialError{Kind: KindInvalidData, Domain: DomainMessaging}
	}
	return m, nil
}

// checkBounds returns a KindTooLong error for the first field over its bound.
func checkBounds(domain Domain, fields map[string]string) error {
	for _, k := range Keys {
		v, ok := fields[k.Name]
		if ok && len(v) > k.MaxLen {
			return &CredentialError{Kind: KindTooLong, Domain: domain, Field: k.Name}
		}
	}
	return nil
}

func (n Network) fields() map[string]string {
	return map[string]string{KeySSID: n.SSID, KeyPassword: n.Password, KeyHostname: n.Hostname}
}

func (m Messaging) fields() map[string]string {
	return map[string]string{
		KeyBroker:       m.Broker,
		KeyClientID:     m.ClientID,
		KeyMQTTUsername: m.Username,
		KeyMQTTPassword: m.Password,
	}
}

// compiledNetwork validates the link-time network defaults.
func compiledNetwork(d defaults.Values) (Network, error) {
	n := Network{SSID: d.SSID, Password: d.Password, Hostname: d.Hostname}
	if n.Hostname == "" {
		n.Hostname = defaults.DefaultHostname
	}
	if err := checkBounds(DomainNetwork, n.fields()); err != nil {
		return Network{}, err
	}
	if !n.Usable() {
		return Network{}, &CredentialError{Kind: KindInvalidData, Domain: DomainNetwork}
	}
	if n.SSID == defaults.SentinelSSID {
		return Network{}, &CredentialError{Kind: KindPlaceholder, Domain: DomainNetwork, Field: KeySSID}
	}
	return n, nil
}

// compiledMessaging validates the link-time messaging defaults.
func compiledMessaging(d defaults.Values) (Messaging, error) {
	m := Messaging{Broker: d.MQTTBroker, ClientID: d.MQTTClientID, Username: d.MQTTUsername, Password: d.MQTTPassword}
	if err := checkBounds(DomainMessaging, m.fields()); err != nil {
		return Messaging{}, err
	}
	if !m.Usable() {
		return Messaging{}, &CredentialError{Kind: KindInvalidData, Domain: DomainMessaging}
	}
	if m.Broker == defaults.SentinelBroker {
		return Messaging{}, &CredentialError{Kind: KindPlaceholder, Domain: DomainMessaging, Field: KeyBroker}
	}
	return m, nil
}

// fallbackHostname keeps a valid compiled hostname even when the rest of the
// network set is rejected, so AP mode still has a name.
func fallbackHostname(d defaults.Values) string {
	if d.Hostname != "" && len(d.Hostname) <= mustBound(KeyHostname) {
		return d.Hostname
	}
	return defaults.DefaultHostname
}

// ResolveNetwork picks the network credentials for this boot: the stored set,
// else the compiled defaults, else empty credentials in access-point mode.
// It never fails.
func ResolveNetwork(store Reader, d defaults.Values) NetworkDecision {
	var rejected []error

	stored, err := LoadNetwork(store)
	if err == nil {
		if stored.Hostname == "" {
			stored.Hostname = fallbackHostname(d)
		}
		logging.Info("Using stored network credentials", zap.String("ssid", stored.SSID))
		return NetworkDecision{Credentials: stored, Mode: ModeClient, Source: SourceStored}
	}
	logging.Warn("Stored network credentials unusable", zap.Error(err))
	rejected = append(rejected, err)

	compiled, err := compiledNetwork(d)
	if err == nil {
		logging.Info("Using compiled-in network credentials", zap.String("ssid", compiled.SSID))
		return NetworkDecision{Credentials: compiled, Mode: ModeClient, Source: SourceCompiled, Rejected: rejected}
	}
	logging.Warn("Compiled-in network credentials unusable", zap.Error(err))
	rejected = append(rejected, err)

	logging.Info("No usable network credentials, starting in access point mode")
	return NetworkDecision{
		Credentials: Network{Hostname: fallbackHostname(d)},
		Mode:        ModeAccessPoint,
		Source:      SourceFallback,
		Rejected:    rejected,
	}
}

// ResolveMessaging picks the messaging credentials for this boot: the stored
// set, else the compiled defaults, else messaging disabled. It never fails.
func ResolveMessaging(store Reader, d defaults.Values) MessagingDecision {
	var rejected []error

	stored, err := LoadMessaging(store)
	if err == nil {
		logging.Info("Using stored messaging credentials", zap.String("broker", stored.Broker))
		return MessagingDecision{Credentials: stored, Enabled: true, Source: SourceStored}
	}
	logging.Warn("Stored messaging credentials unusable", zap.Error(err))
	rejected = append(rejected, err)

	compiled, err := compiledMessaging(d)
	if err == nil {
		logging.Info("Using compiled-in messaging credentials", zap.String("broker", compiled.Broker))
		return MessagingDecision{Credentials: compiled, Enabled: true, Source: SourceCompiled, Rejected: rejected}
	}
	logging.Warn("Compiled-in messaging credentials unusable", zap.Error(err))
	rejected = append(rejected, err)

	logging.Info("No usable messaging credentials, messaging disabled")
	return MessagingDecision{Source: SourceFallback, Rejected: rejected}
}
