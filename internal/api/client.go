package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bbielsa/camstream/internal/domain"
	"github.com/google/uuid"
)

type ticketRequest struct {
	DeviceID  string      `json:"deviceId"`
	RequestID string      `json:"requestId"`
	Language  string      `json:"language"`
	App       appMetadata `json:"app"`
}

type appMetadata struct {
	AppName string `json:"appName"`
	AppType string `json:"appType"`
	Version string `json:"version"`
}

type ticketResponse struct {
	Result int           `json:"result"`
	Msg    string        `json:"msg"`
	Data   domain.Ticket `json:"data"`
}

// Client fetches live-view tickets from the home API.
type Client struct {
	url  string
	http *http.Client
}

// NewClient creates an API client posting to ticketURL.
func NewClient(ticketURL string) *Client {
	return &Client{
		url:  ticketURL,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// FetchTicket calls the home API to obtain signaling credentials and ICE servers.
func (c *Client) FetchTicket(ctx context.Context, token, deviceID string) (*domain.Ticket, error) {
	req := ticketRequest{
		DeviceID:  deviceID,
		RequestID: uuid.NewString(),
		Language:  "en",
		App: appMetadata{
			AppName: "camstream",
			AppType: "cli",
			Version: "0.1.0",
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal ticket request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
	}

	var ticketResp ticketResponse
	if err := json.Unmarshal(respBody, &ticketResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if ticketResp.Result != 0 {
		return nil, fmt.Errorf("API error (result=%d): %s", ticketResp.Result, ticketResp.Msg)
	}

	return &ticketResp.Data, nil
}
