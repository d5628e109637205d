package credentials

import (
	"bytes"

	"go.uber.org/zap"

	"github.com/muurk/devboot/internal/logging"
)

type field struct {
	key   string
	value string
}

// writeFields validates every bound, then writes each field in its own
// transaction. Nothing is written if any field is too long.
func writeFields(store ReadWriter, domain Domain, fields []field) error {
	all := make(map[string]string, len(fields))
	for _, f := range fields {
		all[f.key] = f.value
	}
	if err := checkBounds(domain, all); err != nil {
		return err
	}
	for _, f := range fields {
		if err := store.Write(f.key, []byte(f.value)); err != nil {
			return &CredentialError{Kind: KindStorage, Domain: domain, Field: f.key, Err: err}
		}
	}
	return nil
}

// verifyField re-reads key and reports whether it holds exactly want.
// An empty read-back is invalid data.
func verifyField(store Reader, domain Domain, key, want string) (bool, error) {
	v, err := store.Read(key, mustBound(key))
	if err != nil {
		return false, &CredentialError{Kind: KindStorage, Domain: domain, Field: key, Err: err}
	}
	if v.Length == 0 {
		return false, &CredentialError{Kind: KindInvalidData, Domain: domain, Field: key}
	}
	return !v.Truncated && v.Length == len(want) && bytes.Equal(v.Data, []byte(want)), nil
}

// UpdateNetwork persists hostname, ssid and password, then re-reads the ssid.
// verified is true only when the stored ssid is byte-for-byte what was
// submitted. It is separate from err: a clean write can still fail
// verification.
func UpdateNetwork(store ReadWriter, n Network) (verified bool, err error) {
	logging.Info("Received new network settings",
		zap.String("hostname", n.Hostname),
		zap.String("ssid", n.SSID),
	)

	err = writeFields(store, DomainNetwork, []field{
		{KeyHostname, n.Hostname},
		{KeySSID, n.SSID},
		{KeyPassword, n.Password},
	})
	if err != nil {
		return false, err
	}

	verified, err = verifyField(store, DomainNetwork, KeySSID, n.SSID)
	if err != nil {
		return false, err
	}
	if verified {
		logging.Info("Network settings saved and SSID verified")
	} else {
		logging.Error("SSID verification failed")
	}
	return verified, nil
}

// UpdateMessaging persists the messaging set, then re-reads the broker URI.
// See UpdateNetwork.
func UpdateMessaging(store ReadWriter, m Messaging) (verified bool, err error) {
	logging.Info("Updating messaging credentials",
		zap.String("broker", m.Broker),
		zap.String("client_id", m.ClientID),
		zap.String("username", m.Username),
	)

	err = writeFields(store, DomainMessaging, []field{
		{KeyBroker, m.Broker},
		{KeyClientID, m.ClientID},
		{KeyMQTTUsername, m.Username},
		{KeyMQTTPassword, m.Password},
	})
	if err != nil {
		return false, err
	}

	verified, err = verifyField(store, DomainMessaging, KeyBroker, m.Broker)
	if err != nil {
		return false, err
	}
	if verified {
		logging.Info("Messaging credentials saved and verified")
	} else {
		logging.Error("Broker verification failed")
	}
	return verified, nil
}
