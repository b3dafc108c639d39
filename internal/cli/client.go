package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/malbeclabs/connectivity-metrics/internal/types"
	"github.com/malbeclabs/connectivity-metrics/internal/vpn"
)

const (
	defaultClientTimeout = 10 * time.Second
	defaultMaxTries      = 5
)

// Client talks to the connectivity metrics daemon. Requests that are safe to repeat are
// retried with exponential backoff on transport errors and 5xx responses.
type Client struct {
	log      *slog.Logger
	baseURL  string
	http     *http.Client
	maxTries uint

	newBackOff func() backoff.BackOff
}

func NewClient(log *slog.Logger, baseURL string) (*Client, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid daemon address: %q", baseURL)
	}
	return &Client{
		log:      log,
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: defaultClientTimeout},
		maxTries: defaultMaxTries,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}, nil
}

// Dump runs a dump command. Flushes are sent as POST and never retried.
func (c *Client) Dump(ctx context.Context, args []string) (string, error) {
	q := url.Values{}
	for _, arg := range args {
		q.Add(types.DumpArgsParam, arg)
	}
	method := http.MethodGet
	if len(args) > 0 && args[0] == "flush" {
		method = http.MethodPost
	}
	body, err := c.do(ctx, method, types.DumpPath+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *Client) LogEvents(ctx context.Context, events []types.Event) ([]int, error) {
	body, err := c.do(ctx, http.MethodPost, types.EventsPath, types.LogEventsRequest{Events: events})
	if err != nil {
		return nil, err
	}
	var resp types.LogEventsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.Results, nil
}

func (c *Client) RegisterNetwork(ctx context.Context, req types.RegisterNetworkRequest) (*types.RegisterNetworkResponse, error) {
	body, err := c.do(ctx, http.MethodPost, types.NetworksPath, req)
	if err != nil {
		return nil, err
	}
	var resp types.RegisterNetworkResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

func (c *Client) NetworkLost(ctx context.Context, netID int32) error {
	path := types.NetworksPath + "?" + types.NetIDQueryParam + "=" + strconv.Itoa(int(netID))
	_, err := c.do(ctx, http.MethodDelete, path, nil)
	return err
}

// VPNMetrics pulls the vpn connection records. Pulls are not retried.
func (c *Client) VPNMetrics(ctx context.Context) ([]vpn.Connection, error) {
	body, err := c.do(ctx, http.MethodPost, types.VPNMetricsPath, nil)
	if err != nil {
		return nil, err
	}
	var conns []vpn.Connection
	if err := json.Unmarshal(body, &conns); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return conns, nil
}

func (c *Client) do(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	var payload []byte
	if reqBody != nil {
		var err error
		payload, err = json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
	}

	maxTries := c.maxTries
	if method != http.MethodGet && method != http.MethodDelete {
		maxTries = 1
	}

	attempt := 0
	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		if attempt > 0 {
			c.log.Warn("Request failed, retrying", "method", method, "path", path, "attempt", attempt)
		}
		attempt++
		return c.roundTrip(ctx, method, path, payload)
	}, backoff.WithBackOff(c.newBackOff()), backoff.WithMaxTries(maxTries))
	if err != nil {
		return nil, fmt.Errorf("failed to %s %s: %w", method, path, err)
	}
	return body, nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var r io.Reader
	if payload != nil {
		r = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		err := responseError(resp.StatusCode, body)
		if resp.StatusCode < 500 {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	return body, nil
}

func responseError(status int, body []byte) error {
	var er types.ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error != "" {
		return fmt.Errorf("status %d: %s", status, er.Error)
	}
	return fmt.Errorf("status %d", status)
}
