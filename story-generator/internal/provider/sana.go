package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fairytale-server/shared/models"

	"go.uber.org/zap"
)

const (
	VendorSana = "sana"

	defaultSanaRatio = "1:1"
	maxImageBytes    = 20 << 20
)

// SanaConfig - настройки локального SANA сервера.
type SanaConfig struct {
	BaseURL     string
	Timeout     time.Duration
	StyleSuffix string // добавляется к промпту
	Limit       LimitConfig
	Prices      PriceTable
}

// SanaClient рисует обложки через SANA HTTP API (POST /generate -> image bytes).
type SanaClient struct {
	base
	baseURL     string
	styleSuffix string
	httpClient  *http.Client
}

// sanaRequest - структура запроса к SANA API.
type sanaRequest struct {
	Prompt string `json:"prompt"`
	Ratio  string `json:"ratio"`
}

func NewSanaClient(cfg SanaConfig, logger *zap.Logger) *SanaClient {
	return &SanaClient{
		base:        newBase(VendorSana, cfg.Limit, cfg.Prices, logger),
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		styleSuffix: cfg.StyleSuffix,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *SanaClient) GenerateImage(ctx context.Context, req ImageRequest) (res ImageResult, usage Usage, err error) {
	defer func() { c.finish(models.OperationImage, req.Model, usage, err) }()
	if err = c.wait(ctx, models.OperationImage, req.Model); err != nil {
		return res, usage, err
	}

	ratio := req.Params.Ratio
	if ratio == "" {
		ratio = defaultSanaRatio
	}
	body, err := json.Marshal(sanaRequest{Prompt: req.Prompt + c.styleSuffix, Ratio: ratio})
	if err != nil {
		return res, usage, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return res, usage, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "image/*")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		usage.Latency = time.Since(start)
		return res, usage, c.fail(ctx, models.OperationImage, req.Model, err)
	}
	defer resp.Body.Close()

	img, readErr := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	usage.Latency = time.Since(start)

	if resp.StatusCode != http.StatusOK {
		kind := classifyHTTPStatus(resp.StatusCode)
		if kind == KindInvalidResponse {
			kind = KindUnavailable
		}
		return res, usage, newError(kind, c.vendor, req.Model, models.OperationImage,
			fmt.Errorf("API returned status %d", resp.StatusCode))
	}
	if readErr != nil {
		return res, usage, c.fail(ctx, models.OperationImage, req.Model, readErr)
	}
	usage.CostUSD = c.prices.ImageCost(req.Model, 1)

	contentType := http.DetectContentType(img)
	if len(img) == 0 || len(img) > maxImageBytes || !strings.HasPrefix(contentType, "image/") {
		return res, usage, c.invalid(models.OperationImage, req.Model, "response is not an image")
	}
	return ImageResult{Image: img, ContentType: contentType}, usage, nil
}
