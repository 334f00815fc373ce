package fcm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

const DefaultBaseURL = "https://fcm.googleapis.com"

// Client is a thin wrapper over the FCM HTTP v1 send API. The API accepts one
// registration per call.
type Client struct {
	sendURL string
	http    *http.Client
}

// New creates a gateway client for the given project.
func New(rawURL, projectID string, timeout time.Duration) (*Client, error) {
	if rawURL == "" {
		rawURL = DefaultBaseURL
	}
	if projectID == "" {
		return nil, fmt.Errorf("project id is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" {
		return nil, fmt.Errorf("base url must include scheme")
	}
	parsed.Path = path.Join("/", parsed.Path, "v1", "projects", projectID, "messages:send")
	return &Client{
		sendURL: parsed.String(),
		http: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type sendRequest struct {
	Message *Message `json:"message"`
}

type sendResponse struct {
	Name string `json:"name"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Type      string `json:"@type"`
			ErrorCode string `json:"errorCode"`
		} `json:"details"`
	} `json:"error"`
}

// Send posts one message and returns the gateway's message name.
func (c *Client) Send(ctx context.Context, accessToken string, msg *Message) (string, error) {
	body, err := json.Marshal(sendRequest{Message: msg})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sendURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", parseError(resp.StatusCode, raw)
	}
	var payload sendResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("fcm: decode response: %w", err)
	}
	if payload.Name == "" {
		return "", ErrMissingMessageID
	}
	return payload.Name, nil
}

func parseError(status int, raw []byte) *Error {
	fe := &Error{HTTPStatus: status}
	var payload errorResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		fe.Message = strings.TrimSpace(string(raw))
		if len(fe.Message) > 512 {
			fe.Message = fe.Message[:512]
		}
		return fe
	}
	fe.Status = payload.Error.Status
	fe.Message = payload.Error.Message
	for _, d := range payload.Error.Details {
		if d.ErrorCode != "" {
			fe.Code = d.ErrorCode
			break
		}
	}
	return fe
}
