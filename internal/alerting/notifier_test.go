package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
)

type staticToken string

func (s staticToken) AccessToken(context.Context) (string, error) { return string(s), nil }

func sampleNote() Notification {
	prev := decimal.RequireFromString("9.80")
	return Notification{
		Recipient:   "owner@example.com",
		Price:       decimal.RequireFromString("9.5"),
		PreviousLow: &prev,
		Currency:    "€",
		Unit:        "gram",
		At:          time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRenderMessage(t *testing.T) {
	text := renderMessage(sampleNote())
	require.True(t, strings.HasPrefix(text, "The gold price is now 9.50 €, which is a new low."))
	require.Contains(t, text, "Previous low: 9.80 €")
	require.Contains(t, text, "2025-03-01T12:00:00Z")
}

func TestSubjectDefault(t *testing.T) {
	require.Equal(t, "Gold Price Alert", subjectOf(Notification{}))
	require.Equal(t, "Custom", subjectOf(Notification{Subject: "Custom"}))
}

func TestGraphNotifierSendsMail(t *testing.T) {
	var meCalls int32
	var received sendMailRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("缺少 bearer token: %q", r.Header.Get("Authorization"))
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/me":
			atomic.AddInt32(&meCalls, 1)
			_ = json.NewEncoder(w).Encode(map[string]string{"userPrincipalName": "sender@example.com"})
		case r.Method == http.MethodPost && r.URL.Path == "/users/sender@example.com/sendMail":
			if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
				t.Errorf("解析请求体失败: %v", err)
			}
			w.WriteHeader(http.StatusAccepted)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	notifier := NewGraphNotifier(GraphOptions{BaseURL: srv.URL, SaveToSentItems: true, Timeout: time.Second}, staticToken("tok"), testLogger())

	require.NoError(t, notifier.Notify(context.Background(), sampleNote()))
	require.NoError(t, notifier.Notify(context.Background(), sampleNote()))

	require.Equal(t, int32(1), atomic.LoadInt32(&meCalls), "sender should be cached")
	require.Equal(t, "Gold Price Alert", received.Message.Subject)
	require.True(t, received.SaveToSentItems)
	require.Len(t, received.Message.ToRecipients, 1)
	require.Equal(t, "owner@example.com", received.Message.ToRecipients[0].EmailAddress.Address)
	require.Contains(t, received.Message.Body.Content, "9.50 €")
}

func TestGraphNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/me" {
			_ = json.NewEncoder(w).Encode(map[string]string{"userPrincipalName": "sender@example.com"})
			return
		}
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"code": "ErrorAccessDenied", "message": "denied"}})
	}))
	defer srv.Close()

	notifier := NewGraphNotifier(GraphOptions{BaseURL: srv.URL, Timeout: time.Second}, staticToken("tok"), testLogger())
	err := notifier.Notify(context.Background(), sampleNote())
	require.Error(t, err)
	require.Contains(t, err.Error(), "ErrorAccessDenied")
}

func TestGraphNotifierRequiresRecipient(t *testing.T) {
	notifier := NewGraphNotifier(GraphOptions{}, staticToken("tok"), testLogger())
	require.Error(t, notifier.Notify(context.Background(), Notification{}))
}

func TestSMTPNotifierBuildsMessage(t *testing.T) {
	notifier := NewSMTPNotifier(SMTPOptions{Host: "smtp.example.com", Username: "sender@example.com"}, testLogger())
	require.Equal(t, 587, notifier.opts.Port)
	require.Equal(t, "sender@example.com", notifier.opts.From)

	var captured *mail.Msg
	notifier.send = func(_ context.Context, msg *mail.Msg) error {
		captured = msg
		return nil
	}

	require.NoError(t, notifier.Notify(context.Background(), sampleNote()))
	require.NotNil(t, captured)
	require.Equal(t, []string{"Gold Price Alert"}, captured.GetGenHeader(mail.HeaderSubject))
	require.Len(t, captured.GetToString(), 1)
	require.Contains(t, captured.GetToString()[0], "owner@example.com")
}

func TestSMTPNotifierSendError(t *testing.T) {
	notifier := NewSMTPNotifier(SMTPOptions{Host: "smtp.example.com", From: "sender@example.com"}, testLogger())
	boom := errors.New("relay down")
	notifier.send = func(context.Context, *mail.Msg) error { return boom }

	err := notifier.Notify(context.Background(), sampleNote())
	require.ErrorIs(t, err, boom)
}

func TestLogNotifier(t *testing.T) {
	require.NoError(t, NewLogNotifier(testLogger()).Notify(context.Background(), sampleNote()))
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
