package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// CloudDevice is a device record from the vendor cloud account.
type CloudDevice struct {
	Serial string `json:"sn"`
	Name   string `json:"deviceName"`
	Model  string `json:"productName"`
	Online int    `json:"online"`
}

// Quota is the raw per-device telemetry document from the vendor cloud.
type Quota struct {
	SOC              float64 `json:"soc"`
	Temperature      float64 `json:"temp"`
	ACInputWatts     float64 `json:"acInWatts"`
	ACOutputWatts    float64 `json:"acOutWatts"`
	SolarInputWatts  float64 `json:"pvInWatts"`
	DCOutputWatts    float64 `json:"dcOutWatts"`
	TotalInputWatts  float64 `json:"wattsInSum"`
	TotalOutputWatts float64 `json:"wattsOutSum"`
	ErrorCodes       []int   `json:"errCodes"`
}

// ExtraBattery is an attached expansion pack reported by the cloud.
type ExtraBattery struct {
	Serial string  `json:"sn"`
	SOC    float64 `json:"soc"`
}

// CloudClient pulls device state from the vendor cloud REST API.
type CloudClient struct {
	baseURL   string
	accessKey string
	secretKey string
	client    *http.Client
}

// CloudOption configures the client.
type CloudOption func(*CloudClient)

// WithCloudHTTPClient overrides the HTTP client.
func WithCloudHTTPClient(httpClient *http.Client) CloudOption {
	return func(c *CloudClient) {
		if httpClient != nil {
			c.client = httpClient
		}
	}
}

// NewCloudClient constructs a cloud client.
func NewCloudClient(baseURL, accessKey, secretKey string, opts ...CloudOption) (*CloudClient, error) {
	if baseURL == "" {
		return nil, errors.New("telemetry: empty cloud base url")
	}
	c := &CloudClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		accessKey: accessKey,
		secretKey: secretKey,
		client:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type listResponse struct {
	Code int           `json:"code"`
	Data []CloudDevice `json:"data"`
}

type quotaResponse struct {
	Code int   `json:"code"`
	Data Quota `json:"data"`
}

type batteriesResponse struct {
	Code int            `json:"code"`
	Data []ExtraBattery `json:"data"`
}

// ListDevices returns every device bound to the account.
func (c *CloudClient) ListDevices(ctx context.Context) ([]CloudDevice, error) {
	var resp listResponse
	if err := c.doJSON(ctx, http.MethodGet, "/iot-open/sign/device/list", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("telemetry: cloud list code %d", resp.Code)
	}
	return resp.Data, nil
}

// DeviceQuota returns the current telemetry document for one device.
func (c *CloudClient) DeviceQuota(ctx context.Context, serial string) (Quota, error) {
	if serial == "" {
		return Quota{}, errors.New("telemetry: empty serial")
	}
	var resp quotaResponse
	path := "/iot-open/sign/device/quota/all?sn=" + url.QueryEscape(serial)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return Quota{}, err
	}
	if resp.Code != 0 {
		return Quota{}, fmt.Errorf("telemetry: cloud quota code %d", resp.Code)
	}
	return resp.Data, nil
}

// ExtraBatteries returns the expansion packs attached to a device.
func (c *CloudClient) ExtraBatteries(ctx context.Context, serial string) ([]ExtraBattery, error) {
	if serial == "" {
		return nil, errors.New("telemetry: empty serial")
	}
	var resp batteriesResponse
	path := "/iot-open/sign/device/battery/list?sn=" + url.QueryEscape(serial)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("telemetry: cloud battery code %d", resp.Code)
	}
	return resp.Data, nil
}

func (c *CloudClient) doJSON(ctx context.Context, method, path string, body any, out any) error {
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

	if resp.StatusCode >= 300 {
		return fmt.Errorf("telemetry: cloud http %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
