package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"powerstation-cloud/internal/observability/metrics"
)

// ErrDeviceNotFound indicates the vendor API does not know the serial.
var ErrDeviceNotFound = errors.New("control: device not found")

// Client is a minimal REST client for the vendor device-control API.
// Transport failures surface to the caller unwrapped into action outcomes;
// retry policy belongs to the rule author via cooldowns, not here.
type Client struct {
	baseURL   string
	accessKey string
	secretKey string
	client    *http.Client
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.client = httpClient
		}
	}
}

// NewClient constructs a control client.
func NewClient(baseURL, accessKey, secretKey string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("control: empty base url")
	}
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		accessKey: accessKey,
		secretKey: secretKey,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type commandResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// SetACOutput toggles the AC inverter output.
func (c *Client) SetACOutput(ctx context.Context, serial string, enabled bool) error {
	return c.sendCommand(ctx, "setAcOutput", serial, map[string]any{"enabled": boolInt(enabled)})
}

// SetDCOutput toggles the DC/USB output.
func (c *Client) SetDCOutput(ctx context.Context, serial string, enabled bool) error {
	return c.sendCommand(ctx, "setDcOutput", serial, map[string]any{"enabled": boolInt(enabled)})
}

// SetChargingPower sets the AC charging speed in watts.
func (c *Client) SetChargingPower(ctx context.Context, serial string, watts int) error {
	return c.sendCommand(ctx, "setChargingPower", serial, map[string]any{"watts": watts})
}

// SetMaxChargeSOC sets the charge limit percentage.
func (c *Client) SetMaxChargeSOC(ctx context.Context, serial string, percent int) error {
	return c.sendCommand(ctx, "setMaxChargeSoc", serial, map[string]any{"maxChargeSoc": percent})
}

// SetMinDischargeSOC sets the discharge floor percentage.
func (c *Client) SetMinDischargeSOC(ctx context.Context, serial string, percent int) error {
	return c.sendCommand(ctx, "setMinDischargeSoc", serial, map[string]any{"minDischargeSoc": percent})
}

func (c *Client) sendCommand(ctx context.Context, command, serial string, params map[string]any) error {
	if serial == "" {
		return errors.New("control: empty serial")
	}
	body := map[string]any{
		"sn":      serial,
		"cmdCode": command,
		"params":  params,
	}
	err := c.doJSON(ctx, http.MethodPut, "/iot-open/sign/device/cmd", body, nil)
	metrics.IncDeviceCommand(command, err == nil)
	return err
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(payload)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.accessKey != "" {
		req.Header.Set("AccessKey", c.accessKey)
	}
	if c.secretKey != "" {
		req.Header.Set("SecretKey", c.secretKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrDeviceNotFound
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("control: http %d", resp.StatusCode)
	}

	var cmdResp commandResponse
	if err := json.NewDecoder(resp.Body).Decode(&cmdResp); err != nil {
		return err
	}
	if cmdResp.Code != 0 {
		return fmt.Errorf("control: device rejected command: %s", cmdResp.Message)
	}
	if out != nil {
		raw, err := json.Marshal(cmdResp)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, out)
	}
	return nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
