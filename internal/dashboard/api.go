package dashboard

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/muurk/devboot/internal/credentials"
	"github.com/muurk/devboot/internal/logging"
	"github.com/muurk/devboot/internal/status"
)

// StatusResponse is served at /api/status.
type StatusResponse struct {
	status.Snapshot
	Version string `json:"version,omitempty"`
}

// SettingsResponse reports the outcome of a settings update.
type SettingsResponse struct {
	Verified bool   `json:"verified"`
	Error    string `json:"error,omitempty"`
}

const maxSettingsBody = 4096

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Snapshot: s.config.Status.Snapshot(),
		Version:  s.config.Version,
	})
}

// decodeSettings reads a bounded JSON body, rejecting unknown fields.
func decodeSettings(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxSettingsBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// settingsStatus maps a credential error to an HTTP status code.
func settingsStatus(err error) int {
	switch {
	case credentials.IsTooLong(err):
		return http.StatusRequestEntityTooLarge
	case credentials.IsInvalidData(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleWiFi(w http.ResponseWriter, r *http.Request) {
	if s.config.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, SettingsResponse{Error: "configuration store unavailable"})
		return
	}
	var n credentials.Network
	if err := decodeSettings(r, &n); err != nil {
		writeJSON(w, http.StatusBadRequest, SettingsResponse{Error: err.Error()})
		return
	}
	if n.SSID == "" {
		writeJSON(w, http.StatusBadRequest, SettingsResponse{Error: "ssid is required"})
		return
	}

	verified, err := credentials.UpdateNetwork(s.config.Store, n)
	if err != nil {
		logging.Error("Network settings update failed", zap.Error(err))
		writeJSON(w, settingsStatus(err), SettingsResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, SettingsResponse{Verified: verified})
}

func (s *Server) handleMQTT(w http.ResponseWriter, r *http.Request) {
	if s.config.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, SettingsResponse{Error: "configuration store unavailable"})
		return
	}
	var m credentials.Messaging
	if err := decodeSettings(r, &m); err != nil {
		writeJSON(w, http.StatusBadRequest, SettingsResponse{Error: err.Error()})
		return
	}
	if m.Broker == "" {
		writeJSON(w, http.StatusBadRequest, SettingsResponse{Error: "broker is required"})
		return
	}

	verified, err := credentials.UpdateMessaging(s.config.Store, m)
	if err != nil {
		logging.Error("Messaging settings update failed", zap.Error(err))
		writeJSON(w, settingsStatus(err), SettingsResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, SettingsResponse{Verified: verified})
}

// OTAResponse reports a finished firmware upload.
type OTAResponse struct {
	Slot    string `json:"slot,omitempty"`
	Written uint32 `json:"written"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleOTA(w http.ResponseWriter, r *http.Request) {
	if s.config.NewOTA == nil {
		writeJSON(w, http.StatusServiceUnavailable, OTAResponse{Error: "firmware update unavailable"})
		return
	}
	if !s.upgrade.TryLock() {
		writeJSON(w, http.StatusConflict, OTAResponse{Error: "firmware upgrade already in progress"})
		return
	}
	defer s.upgrade.Unlock()

	st := s.config.Status
	st.SetFirmwareUpgradeInProgress(true)
	defer st.SetFirmwareUpgradeInProgress(false)

	mgr, err := s.config.NewOTA()
	if err != nil {
		logging.Error("Failed to open OTA partitions", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, OTAResponse{Error: err.Error()})
		return
	}
	update, err := mgr.BeginUpdate()
	if err != nil {
		logging.Error("Failed to begin firmware update", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, OTAResponse{Error: err.Error()})
		return
	}
	logging.Info("Receiving firmware image", zap.Stringer("slot", update.Slot()))

	body := http.MaxBytesReader(w, r.Body, s.config.MaxImageSize)
	if _, err := io.Copy(update, body); err != nil {
		update.Abort()
		code := http.StatusInternalServerError
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			code = http.StatusRequestEntityTooLarge
		}
		logging.Error("Firmware upload failed", zap.Error(err))
		writeJSON(w, code, OTAResponse{Written: update.Written(), Error: err.Error()})
		return
	}
	if update.Written() == 0 {
		update.Abort()
		writeJSON(w, http.StatusBadRequest, OTAResponse{Error: "empty firmware image"})
		return
	}
	if err := update.Finish(); err != nil {
		logging.Error("Failed to activate firmware image", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, OTAResponse{Written: update.Written(), Error: err.Error()})
		return
	}

	logging.Info("Firmware image stored, active after reset",
		zap.Stringer("slot", update.Slot()),
		zap.Uint32("bytes", update.Written()))
	writeJSON(w, http.StatusOK, OTAResponse{Slot: update.Slot().String(), Written: update.Written()})
}
