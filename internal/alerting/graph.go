package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AccessTokenSource yields a bearer token for Microsoft Graph.
type AccessTokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// GraphOptions parameterise the Graph mail notifier.
type GraphOptions struct {
	BaseURL         string
	SaveToSentItems bool
	Timeout         time.Duration
}

// GraphNotifier 通过 Microsoft Graph sendMail 以委托身份发送邮件。
type GraphNotifier struct {
	opts   GraphOptions
	tokens AccessTokenSource
	client *http.Client
	logger zerolog.Logger

	mu     sync.Mutex
	sender string
}

// NewGraphNotifier 构造 Graph 告警器。
func NewGraphNotifier(opts GraphOptions, tokens AccessTokenSource, logger zerolog.Logger) *GraphNotifier {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.BaseURL == "" {
		opts.BaseURL = "https://graph.microsoft.com/v1.0"
	}

	return &GraphNotifier{
		opts:   opts,
		tokens: tokens,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger.With().Str("component", "alert_graph").Logger(),
	}
}

// Notify resolves the signed-in user and posts to /users/{upn}/sendMail.
func (n *GraphNotifier) Notify(ctx context.Context, note Notification) error {
	if note.Recipient == "" {
		return errors.New("graph: recipient is empty")
	}

	token, err := n.tokens.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("graph access token: %w", err)
	}

	sender, err := n.resolveSender(ctx, token)
	if err != nil {
		return err
	}

	payload := sendMailRequest{SaveToSentItems: n.opts.SaveToSentItems}
	payload.Message.Subject = subjectOf(note)
	payload.Message.Body.ContentType = "Text"
	payload.Message.Body.Content = renderMessage(note)
	payload.Message.ToRecipients = []recipient{{EmailAddress: emailAddress{Address: note.Recipient}}}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal graph payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/users/%s/sendMail", n.opts.BaseURL, url.PathEscape(sender))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create graph request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send graph request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return graphError("sendMail", resp)
	}

	n.logger.Info().Str("recipient", note.Recipient).
		Str("sender", sender).
		Str("price", note.Price.StringFixed(2)).
		Msg("告警已发送 (Graph)")
	return nil
}

func (n *GraphNotifier) resolveSender(ctx context.Context, token string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sender != "" {
		return n.sender, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.opts.BaseURL+"/me", nil)
	if err != nil {
		return "", fmt.Errorf("create graph me request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := n.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("graph me request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", graphError("me", resp)
	}

	var me struct {
		UserPrincipalName string `json:"userPrincipalName"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		return "", fmt.Errorf("decode graph me: %w", err)
	}
	if me.UserPrincipalName == "" {
		return "", errors.New("graph me: userPrincipalName missing")
	}

	n.sender = me.UserPrincipalName
	return n.sender, nil
}

type sendMailRequest struct {
	Message struct {
		Subject string `json:"subject"`
		Body    struct {
			ContentType string `json:"contentType"`
			Content     string `json:"content"`
		} `json:"body"`
		ToRecipients []recipient `json:"toRecipients"`
	} `json:"message"`
	SaveToSentItems bool `json:"saveToSentItems"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Address string `json:"address"`
}

func graphError(call string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("graph %s error (%d): %s: %s", call, resp.StatusCode, apiErr.Error.Code, apiErr.Error.Message)
	}
	if len(raw) > 0 {
		return fmt.Errorf("graph %s error (%d): %s", call, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return fmt.Errorf("graph %s error (%d)", call, resp.StatusCode)
}

var _ Notifier = (*GraphNotifier)(nil)
