package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"goldwatch/internal/report"
	"goldwatch/internal/service"
	"goldwatch/internal/storage"
)

const maxFormBytes = 64 << 10

type settingsView struct {
	NotificationsEnabled bool       `json:"notifications_enabled"`
	Recipient            string     `json:"recipient"`
	LastNotifiedAt       *time.Time `json:"last_notified_at"`
}

type settingsForm struct {
	NotificationsEnabled bool   `json:"notifications_enabled"`
	Recipient            string `json:"recipient"`
}

type readingView struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
}

type todayView struct {
	Timestamps []string     `json:"timestamps"`
	Prices     []float64    `json:"prices"`
	Latest     *readingView `json:"latest"`
	Currency   string       `json:"currency"`
	Unit       string       `json:"unit"`
}

type pollView struct {
	Reading  *readingView `json:"reading,omitempty"`
	NewLow   bool         `json:"new_low"`
	Notified bool         `json:"notified"`
	Reason   string       `json:"reason,omitempty"`
}

// ValidationError is a user-facing form error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetSettings(r.Context())
	if err != nil {
		s.internalError(w, "load settings", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsView(settings))
}

func (s *Server) postSettings(w http.ResponseWriter, r *http.Request) {
	form, err := decodeSettingsForm(r)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Message, "field": verr.Field})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := s.store.PutSettings(r.Context(), storage.Settings{
		NotificationsEnabled: form.NotificationsEnabled,
		Recipient:            form.Recipient,
	}); err != nil {
		s.internalError(w, "save settings", err)
		return
	}

	settings, err := s.store.GetSettings(r.Context())
	if err != nil {
		s.internalError(w, "reload settings", err)
		return
	}
	s.logger.Info().Bool("enabled", settings.NotificationsEnabled).Str("recipient", settings.Recipient).Msg("settings updated")
	writeJSON(w, http.StatusOK, toSettingsView(settings))
}

func (s *Server) today(w http.ResponseWriter, r *http.Request) {
	readings, err := s.poller.TodayReadings(r.Context())
	if err != nil {
		s.internalError(w, "list today", err)
		return
	}

	loc := s.poller.Location()
	view := todayView{
		Timestamps: make([]string, 0, len(readings)),
		Prices:     make([]float64, 0, len(readings)),
		Currency:   s.currency,
		Unit:       s.unit,
	}
	for _, reading := range readings {
		view.Timestamps = append(view.Timestamps, reading.Timestamp.In(loc).Format(time.RFC3339))
		view.Prices = append(view.Prices, reading.Price.InexactFloat64())
	}

	latest, err := s.store.ListRecentReadings(r.Context(), 1)
	if err != nil {
		s.internalError(w, "latest reading", err)
		return
	}
	if len(latest) > 0 {
		view.Latest = toReadingView(latest[0])
	}

	writeJSON(w, http.StatusOK, view)
}

func (s *Server) poll(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.poller.RunCycle(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrFetch) || errors.Is(err, service.ErrNotification) {
			status = http.StatusBadGateway
		}
		s.logger.Warn().Err(err).Msg("manual poll failed")
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	view := pollView{NewLow: outcome.NewLow, Notified: outcome.Notified, Reason: outcome.Reason}
	if outcome.Reading.ID != 0 || !outcome.Reading.Timestamp.IsZero() {
		view.Reading = toReadingView(outcome.Reading)
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) chart(w http.ResponseWriter, r *http.Request) {
	readings, err := s.poller.TodayReadings(r.Context())
	if err != nil {
		s.internalError(w, "list today", err)
		return
	}

	var buf bytes.Buffer
	err = report.RenderPNG(&buf, readings, report.ChartOptions{
		Title:    "Gold price today",
		YLabel:   fmt.Sprintf("%s / %s", s.currency, s.unit),
		Location: s.poller.Location(),
	})
	if errors.Is(err, report.ErrNotEnoughData) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		s.internalError(w, "render chart", err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeSettingsForm(r *http.Request) (settingsForm, error) {
	var form settingsForm

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		body := io.LimitReader(r.Body, maxFormBytes)
		if err := json.NewDecoder(body).Decode(&form); err != nil {
			return form, fmt.Errorf("invalid JSON body: %w", err)
		}
	} else {
		r.Body = io.NopCloser(io.LimitReader(r.Body, maxFormBytes))
		if err := r.ParseForm(); err != nil {
			return form, fmt.Errorf("invalid form body: %w", err)
		}
		enabled, err := parseCheckbox(r.PostForm.Get("notifications_enabled"))
		if err != nil {
			return form, &ValidationError{Field: "notifications_enabled", Message: err.Error()}
		}
		form.NotificationsEnabled = enabled
		form.Recipient = r.PostForm.Get("recipient")
	}

	recipient, err := normalizeRecipient(form.Recipient)
	if err != nil {
		return form, err
	}
	form.Recipient = recipient

	if form.NotificationsEnabled && form.Recipient == "" {
		return form, &ValidationError{Field: "recipient", Message: "recipient is required when notifications are enabled"}
	}
	return form, nil
}

func normalizeRecipient(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	if len(raw) > 254 {
		return "", &ValidationError{Field: "recipient", Message: "address too long"}
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return "", &ValidationError{Field: "recipient", Message: "invalid email address"}
	}
	return addr.Address, nil
}

func parseCheckbox(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "false", "off", "no":
		return false, nil
	case "1", "true", "on", "yes":
		return true, nil
	default:
		return false, fmt.Errorf("unrecognised value %q", v)
	}
}

func toSettingsView(s storage.Settings) settingsView {
	return settingsView{
		NotificationsEnabled: s.NotificationsEnabled,
		Recipient:            s.Recipient,
		LastNotifiedAt:       s.LastNotifiedAt,
	}
}

func toReadingView(r storage.Reading) *readingView {
	return &readingView{ID: r.ID, Timestamp: r.Timestamp, Price: r.Price.InexactFloat64()}
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error().Err(err).Str("op", op).Msg("request failed")
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
