// Package notify chooses the delivery channel for a fired reminder and talks
// to the internal platform API for user checks and SMS.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/nudgehq/nudge/internal/apperr"
	"github.com/nudgehq/nudge/internal/config"
)

// TokenHeader carries the static internal API token.
const TokenHeader = "X-Internal-Token"

// TenantHeader scopes platform calls to a tenant.
const TenantHeader = "X-Tenant-Id"

// CodeSuccess is the response code of a successful internal API call.
const CodeSuccess = "SUCCESS"

// Response is the envelope returned by the internal API.
type Response struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SMS is the payload of an SMS send.
type SMS struct {
	PhoneNumber string `json:"phoneNumber"`
	Who         string `json:"who"`
	What        string `json:"what"`
}

// Client calls the internal platform API. Every call is bounded by the
// configured timeout, and SMS sends share a token bucket.
type Client struct {
	userCheckURL string
	smsSendURL   string
	token        string
	appID        string
	timeout      time.Duration
	http         *http.Client
	smsLimiter   *rate.Limiter
}

// NewClient creates a client from config.
func NewClient(cfg *config.NotifyConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultNotifyTimeout
	}

	limit := rate.Inf
	burst := cfg.SMSBurst
	if cfg.SMSRatePerSec > 0 {
		limit = rate.Limit(cfg.SMSRatePerSec)
	}
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		userCheckURL: cfg.UserCheckURL(),
		smsSendURL:   cfg.SMSSendURL(),
		token:        cfg.Token,
		appID:        cfg.AppID,
		timeout:      timeout,
		http:         &http.Client{Timeout: timeout},
		smsLimiter:   rate.NewLimiter(limit, burst),
	}
}

// IsPlatformUser asks whether phone belongs to a platform user. It is true
// only for a SUCCESS response whose data is true.
func (c *Client) IsPlatformUser(ctx context.Context, tenantID, phone string) (bool, error) {
	const op = "notify.user_check"

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.post(ctx, tenantID, c.userCheckURL, map[string]string{
		"appId":       c.appID,
		"phoneNumber": phone,
	})
	if err != nil {
		return false, apperr.Downstream(op, err)
	}
	if resp.Code != CodeSuccess {
		return false, apperr.Downstream(op, fmt.Errorf("code %q: %s", resp.Code, resp.Msg))
	}

	var isUser bool
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &isUser); err != nil {
			return false, apperr.Downstream(op, fmt.Errorf("decoding data: %w", err))
		}
	}
	return isUser, nil
}

// SendSMS sends one templated SMS. Waiting for the rate limiter counts
// against the call timeout.
func (c *Client) SendSMS(ctx context.Context, tenantID string, msg SMS) error {
	const op = "notify.sms_send"

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.smsLimiter.Wait(ctx); err != nil {
		return apperr.Downstream(op, fmt.Errorf("rate limited: %w", err))
	}

	resp, err := c.post(ctx, tenantID, c.smsSendURL, msg)
	if err != nil {
		return apperr.Downstream(op, err)
	}
	if resp.Code != CodeSuccess {
		return apperr.Downstream(op, fmt.Errorf("code %q: %s", resp.Code, resp.Msg))
	}
	return nil
}

func (c *Client) post(ctx context.Context, tenantID, url string, body any) (*Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TokenHeader, c.token)
	req.Header.Set(TenantHeader, tenantID)

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", url, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d: %s", httpResp.StatusCode, string(raw))
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &resp, nil
}
