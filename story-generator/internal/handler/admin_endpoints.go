package handler

import (
	"io"
	"net/http"
	"strings"

	"fairytale-server/shared/configservice"
	"fairytale-server/shared/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// listVendors отдает текущую таблицу вендоров и скалярные настройки.
func (h *StoryHandler) listVendors(c *gin.Context) {
	resp := vendorsResponse{
		Version: h.config.Snapshot().Version,
		Vendors: make(map[models.OperationType]map[string][]models.VendorCandidate),
		Scalars: make(map[string]string),
	}
	for key, value := range h.config.All() {
		op, lang, ok := models.ParseVendorKey(key)
		if !ok {
			resp.Scalars[key] = value
			continue
		}
		candidates, err := models.ParseVendorCandidates(value)
		if err != nil {
			h.logger.Warn("Stored vendor list is invalid", zap.String("key", key), zap.Error(err))
			continue
		}
		if resp.Vendors[op] == nil {
			resp.Vendors[op] = make(map[string][]models.VendorCandidate)
		}
		resp.Vendors[op][lang] = candidates
	}
	c.JSON(http.StatusOK, resp)
}

// updateVendors заменяет упорядоченный список кандидатов для операции и языка.
// Тело - JSON-массив VendorCandidate. Уже идущие прогоны продолжают со своим снимком.
func (h *StoryHandler) updateVendors(c *gin.Context) {
	op := models.OperationType(c.Param("operation"))
	if !op.Valid() {
		abortBadRequest(c, "Unknown operation")
		return
	}
	lang := strings.ToLower(c.Param("language"))
	if lang == "" {
		abortBadRequest(c, "Language is required")
		return
	}

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 64<<10))
	if err != nil {
		abortBadRequest(c, "Failed to read request body")
		return
	}
	// ValidateEntry внутри Set разберет список и вернет ErrInvalidInput
	cfg, err := h.config.Set(c.Request.Context(), models.VendorKey(op, lang), string(raw))
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	h.logger.Info("Vendor table updated", zap.String("key", cfg.Key))

	candidates, _ := models.ParseVendorCandidates(cfg.Value)
	c.JSON(http.StatusOK, gin.H{"key": cfg.Key, "candidates": candidates, "version": h.config.Snapshot().Version})
}

var scalarKeys = map[string]bool{
	configservice.ConfigKeyAppearanceProbability: true,
	configservice.ConfigKeyQuotaMaxCostUSD:       true,
	configservice.ConfigKeyQuotaMaxOperations:    true,
	configservice.ConfigKeyQuotaWindow:           true,
	configservice.ConfigKeyReviewTokenTTL:        true,
}

// updateConfigValue меняет скалярную настройку (квоты, вероятность, TTL токенов).
func (h *StoryHandler) updateConfigValue(c *gin.Context) {
	key := c.Param("key")
	if !scalarKeys[key] {
		abortBadRequest(c, "Unknown config key, vendor lists are edited via /admin/vendors/:operation/:language")
		return
	}
	var body configValueRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		abortBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	cfg, err := h.config.Set(c.Request.Context(), key, strings.TrimSpace(body.Value))
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	h.logger.Info("Config value updated", zap.String("key", cfg.Key), zap.String("value", cfg.Value))
	c.JSON(http.StatusOK, cfg)
}
