package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"studiobook/internal/metrics"
	"studiobook/internal/models"
)

// Passcode is a temporary credential registered on a lock.
type Passcode struct {
	CredentialID string `json:"credential_id"`
	Code         string `json:"code"`
	Label        string `json:"label,omitempty"`
	StartEpochMs int64  `json:"start_epoch_ms"`
	EndEpochMs   int64  `json:"end_epoch_ms"`
}

// Gateway is the smart-lock vendor's cloud API.
type Gateway interface {
	CreatePasscode(ctx context.Context, lockID, code string, start, end time.Time, label string) (string, error)
	DeletePasscode(ctx context.Context, lockID, credentialID string) error
	ListPasscodes(ctx context.Context, lockID string) ([]Passcode, error)
	GetStatus(ctx context.Context, lockID string) (*models.LockStatus, error)
}

// GatewayClient is an HTTP client for the lock cloud. Every call carries a
// bounded timeout; vendor rate limits are respected client-side.
type GatewayClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter

	redis    *redis.Client
	cacheTTL time.Duration
}

// NewGatewayClient constructs a client with baseURL and API key.
func NewGatewayClient(baseURL, apiKey string, timeout time.Duration, perSecond float64, burst int) *GatewayClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if perSecond <= 0 {
		perSecond = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &GatewayClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// UseRedisCache configures optional Redis caching for read endpoints.
func (c *GatewayClient) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

type createPasscodeRequest struct {
	Code         string `json:"code"`
	StartEpochMs int64  `json:"start_epoch_ms"`
	EndEpochMs   int64  `json:"end_epoch_ms"`
	Label        string `json:"label,omitempty"`
}

type createPasscodeResponse struct {
	CredentialID string `json:"credential_id"`
}

// CreatePasscode registers a time-bounded passcode and returns the vendor's
// credential id.
func (c *GatewayClient) CreatePasscode(ctx context.Context, lockID, code string, start, end time.Time, label string) (string, error) {
	endpoint := fmt.Sprintf("%s/v1/locks/%s/passcodes", c.baseURL, url.PathEscape(lockID))
	body := createPasscodeRequest{
		Code:         code,
		StartEpochMs: start.UnixMilli(),
		EndEpochMs:   end.UnixMilli(),
		Label:        label,
	}
	var resp createPasscodeResponse
	if err := c.doPost(ctx, endpoint, body, &resp); err != nil {
		return "", err
	}
	c.invalidateCache(ctx, "lock:passcodes:"+lockID)
	return resp.CredentialID, nil
}

// DeletePasscode removes a passcode from a lock.
func (c *GatewayClient) DeletePasscode(ctx context.Context, lockID, credentialID string) error {
	endpoint := fmt.Sprintf("%s/v1/locks/%s/passcodes/%s",
		c.baseURL, url.PathEscape(lockID), url.PathEscape(credentialID))
	if err := c.doDelete(ctx, endpoint); err != nil {
		return err
	}
	c.invalidateCache(ctx, "lock:passcodes:"+lockID)
	return nil
}

// ListPasscodes returns the passcodes currently registered on a lock.
func (c *GatewayClient) ListPasscodes(ctx context.Context, lockID string) ([]Passcode, error) {
	endpoint := fmt.Sprintf("%s/v1/locks/%s/passcodes", c.baseURL, url.PathEscape(lockID))
	cacheKey := "lock:passcodes:" + lockID

	var wrap struct {
		Passcodes []Passcode `json:"passcodes"`
	}
	if c.readCache(ctx, cacheKey, &wrap) {
		return wrap.Passcodes, nil
	}
	if err := c.doGet(ctx, endpoint, &wrap); err != nil {
		return nil, err
	}
	c.writeCache(ctx, cacheKey, wrap)
	return wrap.Passcodes, nil
}

type statusResponse struct {
	Online       bool `json:"online"`
	BatteryLevel int  `json:"battery_level"`
}

// GetStatus queries online/battery state for a lock.
func (c *GatewayClient) GetStatus(ctx context.Context, lockID string) (*models.LockStatus, error) {
	endpoint := fmt.Sprintf("%s/v1/locks/%s/status", c.baseURL, url.PathEscape(lockID))
	cacheKey := "lock:status:" + lockID

	var resp statusResponse
	if !c.readCache(ctx, cacheKey, &resp) {
		if err := c.doGet(ctx, endpoint, &resp); err != nil {
			return nil, err
		}
		c.writeCache(ctx, cacheKey, resp)
	}

	metrics.SetLockOnline(lockID, resp.Online)
	return &models.LockStatus{
		LockID:       lockID,
		Online:       resp.Online,
		BatteryLevel: resp.BatteryLevel,
		CheckedAt:    time.Now(),
	}, nil
}

func (c *GatewayClient) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	return json.Unmarshal([]byte(val), out) == nil
}

func (c *GatewayClient) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.cacheTTL).Err()
}

func (c *GatewayClient) invalidateCache(ctx context.Context, key string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, key).Err()
}

func (c *GatewayClient) doGet(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	return c.do(ctx, req, out)
}

func (c *GatewayClient) doPost(ctx context.Context, endpoint string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(data)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(ctx, req, out)
}

func (c *GatewayClient) doDelete(ctx context.Context, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	return c.do(ctx, req, nil)
}

func (c *GatewayClient) do(ctx context.Context, req *http.Request, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.IncGatewayError("network")
		return fmt.Errorf("gateway call: %v: %w", err, models.ErrCredentialFailed)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return classifyHTTPError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type gatewayErrorBody struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// classifyHTTPError maps gateway responses onto the credential error
// taxonomy: permission problems are permanent, an offline lock is a
// hardware-health signal, everything else is transient.
func classifyHTTPError(resp *http.Response) error {
	var body gatewayErrorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		body.ErrorCode == "not_lock_admin":
		metrics.IncGatewayError("permission")
		return fmt.Errorf("gateway http %d (%s): %w", resp.StatusCode, body.ErrorCode, models.ErrLockPermission)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("gateway http %d (%s): %w", resp.StatusCode, body.ErrorCode, models.ErrNotFound)
	case resp.StatusCode == http.StatusLocked, body.ErrorCode == "lock_offline":
		metrics.IncGatewayError("offline")
		return fmt.Errorf("gateway http %d (%s): %w", resp.StatusCode, body.ErrorCode, models.ErrLockOffline)
	default:
		metrics.IncGatewayError("transient")
		return fmt.Errorf("gateway http %d (%s): %w", resp.StatusCode, body.ErrorCode, models.ErrCredentialFailed)
	}
}
