// Package remote 封装远端里程授权服务的 HTTP 客户端
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrTokenExpired 会话令牌过期，由调用方提示重新登录，客户端不做静默续期
var ErrTokenExpired = errors.New("remote: token expired")

// 错误码常量
const codeTokenExpired = "TOKEN_EXPIRED"

// envelope 通用响应结构
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *apiError       `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// VehicleOdometer 远端车辆里程表记录
type VehicleOdometer struct {
	VehicleID string  `json:"vehicle_id"`
	Name      string  `json:"name"`
	Odometer  float64 `json:"odometer"`
}

// OdometerPush 单车里程推送项
type OdometerPush struct {
	VehicleID string  `json:"vehicle_id"`
	Odometer  float64 `json:"odometer"`
}

// Client 远端授权服务客户端
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiToken   string
}

// NewClient 创建客户端
func NewClient(baseURL, apiToken string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:  baseURL,
		apiToken: apiToken,
	}
}

// ListVehicles 获取远端每辆车的当前里程表
func (c *Client) ListVehicles(ctx context.Context) ([]*VehicleOdometer, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/vehicles", nil)
	if err != nil {
		return nil, err
	}

	var vehicles []*VehicleOdometer
	if err := json.Unmarshal(data, &vehicles); err != nil {
		return nil, fmt.Errorf("decode vehicles: %w", err)
	}
	return vehicles, nil
}

// UpdateOdometer 覆盖远端单车里程表
func (c *Client) UpdateOdometer(ctx context.Context, vehicleID string, odometer float64) error {
	body := map[string]float64{"odometer": odometer}
	_, err := c.doRequest(ctx, http.MethodPut, "/vehicles/"+vehicleID+"/odometer", body)
	return err
}

// PushOdometers 批量推送里程表增量
func (c *Client) PushOdometers(ctx context.Context, pushes []*OdometerPush) error {
	body := map[string]interface{}{"vehicles": pushes}
	_, err := c.doRequest(ctx, http.MethodPost, "/sync/push", body)
	return err
}

// doRequest 执行请求并解包响应信封
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Milegazer/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(respData, &env); err != nil {
		return nil, fmt.Errorf("%s %s: status=%d decode envelope: %w", method, path, resp.StatusCode, err)
	}

	if !env.Success {
		if env.Error != nil {
			if env.Error.Code == codeTokenExpired {
				return nil, ErrTokenExpired
			}
			return nil, fmt.Errorf("%s %s: %s: %s", method, path, env.Error.Code, env.Error.Message)
		}
		return nil, fmt.Errorf("%s %s: request failed, status=%d", method, path, resp.StatusCode)
	}

	return env.Data, nil
}
