package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/RazvanDard/openai-realtime-twilio-demo/internal/httpc"
)

const defaultAPIBase = "https://api.twilio.com/2010-04-01"

// CallInitiator places an outbound call and returns the provider call SID.
// The bridge registers the SID as a pending call before the media stream
// ever connects, so the anonymous transport can be bound to a user later.
type CallInitiator interface {
	CreateCall(ctx context.Context, to, from, twiml string) (string, error)
}

// RestClient is a minimal Twilio REST API client covering call creation.
type RestClient struct {
	accountSID string
	authToken  string
	apiBase    string
	httpClient *http.Client
}

// NewRestClient creates a REST client for the given account credentials.
func NewRestClient(accountSID, authToken string) *RestClient {
	return &RestClient{
		accountSID: accountSID,
		authToken:  authToken,
		apiBase:    defaultAPIBase,
		httpClient: httpc.Client,
	}
}

// WithAPIBase overrides the API base URL. Used in tests.
func (c *RestClient) WithAPIBase(base string) *RestClient {
	c.apiBase = base
	return c
}

// CreateCall places an outbound call that executes the given TwiML when
// answered.
func (c *RestClient) CreateCall(ctx context.Context, to, from, twiml string) (string, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	form.Set("Twiml", twiml)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", c.apiBase, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build call request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("create call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read call response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("create call: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result struct {
		Sid string `json:"sid"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decode call response: %w", err)
	}
	if result.Sid == "" {
		return "", fmt.Errorf("create call: response missing sid")
	}
	return result.Sid, nil
}
