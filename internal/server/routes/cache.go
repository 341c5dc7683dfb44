package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/imgcache/internal/cache"
	"github.com/any-hub/imgcache/internal/logging"
	"github.com/any-hub/imgcache/internal/server"
)

// RegisterCacheRoutes 暴露 /-/cache 下的缓存管理接口。
func RegisterCacheRoutes(app *fiber.App, provider cache.Provider, logger *logrus.Logger) {
	if app == nil || provider == nil || logger == nil {
		return
	}
	h := &cacheHandler{provider: provider, logger: logger}

	group := app.Group("/-/cache")
	group.Get("/status", h.status)
	group.Get("/info", h.getInfo)
	group.Put("/info", h.putInfo)
	group.Get("/source", h.getSource)
	group.Put("/source", h.putSource)
	group.Get("/derivative", h.getDerivative)
	group.Put("/derivative", h.putDerivative)
	group.Delete("/derivative", h.deleteDerivative)
	group.Delete("/identifier", h.deleteIdentifier)
	group.Post("/purge", h.purgeAll)
	group.Post("/purge-infos", h.purgeInfos)
	group.Post("/purge-expired", h.purgeExpired)
	group.Post("/sweep", h.sweep)
}

type cacheHandler struct {
	provider cache.Provider
	logger   *logrus.Logger
}

type statusPayload struct {
	Backend             string `json:"backend"`
	AccessTimeSupported bool   `json:"access_time_supported"`
}

func (h *cacheHandler) status(c fiber.Ctx) error {
	store, ok := h.cache(c)
	if !ok {
		return nil
	}
	return c.JSON(statusPayload{
		Backend:             store.Name(),
		AccessTimeSupported: cache.AccessTimeSupported(),
	})
}

func (h *cacheHandler) getInfo(c fiber.Ctx) error {
	store, ok := h.cache(c)
	if !ok {
		return nil
	}
	id, ok := identifierParam(c)
	if !ok {
		return badRequest(c, "identifier_required")
	}
	info, err := store.Info(requestContext(c), id)
	if err != nil {
		return h.readFailure(c, store, cache.AreaInfo, string(id), err)
	}
	c.Set("X-Imgcache-Hit", "true")
	return c.JSON(info)
}

func (h *cacheHandler) putInfo(c fiber.Ctx) error {
	store, ok := h.cache(c)
	if !ok {
		return nil
	}
	id, ok := identifierParam(c)
	if !ok {
		return badRequest(c, "identifier_required")
	}
	var info cache.Info
	if err := json.Unmarshal(c.Body(), &info); err != nil {
		return badRequest(c, "invalid_info_payload")
	}
	if info.Identifier == "" {
		info.Identifier = id
	}
	if err := store.PutInfo(requestContext(c), id, info); err != nil {
		return h.writeFailure(c, store, cache.AreaInfo, string(id), err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *cacheHandler) getSource(c fiber.Ctx) error {
	store, ok := h.cache(c)
	if !ok {
		return nil
	}
	id, ok := identifierParam(c)
	if !ok {
		return badRequest(c, "identifier_required")
	}
	result, err := store.NewSourceReader(requestContext(c), id)
	if err != nil {
		return h.readFailure(c, store, cache.AreaSource, string(id), err)
	}
	return sendEntry(c, result)
}

func (h *cacheHandler) putSource(c fiber.Ctx) error {
	store, ok := h.cache(c)
	if !ok {
		return nil
	}
	id, ok := identifierParam(c)
	if !ok {
		return badRequest(c, "identifier_required")
	}
	ctx := requestContext(c)
	writer, err := store.NewSourceWriter(ctx, id)
	if err != nil {
		return h.writeFailure(c, store, cache.AreaSource, string(id), err)
	}
	return h.fill(c, store, cache.AreaSource, string(id), writer, func() error {
		return store.PurgeSource(ctx, id)
	})
}

func (h *cacheHandler) getDerivative(c fiber.Ctx) error {
	store, ok := h.cache(c)
	if !ok {
		return nil
	}
	ops, ok := operationListParam(c)
	if !ok {
		return badRequest(c, "identifier_required")
	}
	result, err := store.NewDerivativeReader(requestContext(c), ops)
	if err != nil {
		return h.readFailure(c, store, cache.AreaDerivative, ops.String(), err)
	}
	return sendEntry(c, result)
}

func (h *cacheHandler) putDerivative(c fiber.Ctx) error {
	store, ok := h.cache(c)
	if !ok {
		return nil
	}
	ops, ok := operationListParam(c)
	if !ok {
		return badRequest(c, "identifier_required")
	}
	ctx := requestContext(c)
	writer, err := store.NewDerivativeWriter(ctx, ops)
	if err != nil {
		return h.writeFailure(c, store, cache.AreaDerivative, ops.String(), err)
	}
	return h.fill(c, store, cache.AreaDerivative, ops.String(), writer, func() error {
		return store.PurgeDerivative(ctx, ops)
	})
}

func (h *cacheHandler) deleteDerivative(c fiber.Ctx) error {
	store, ok := h.cache(c)
	if !ok {
		return nil
	}
	ops, ok := operationListParam(c)
	if !ok {
		return badRequest(c, "identifier_required")
	}
	if err := store.PurgeDerivative(requestContext(c), ops); err != nil {
		return h.writeFailure(c, store, cache.AreaDerivative, ops.String(), err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *cacheHandler) deleteIdentifier(c fiber.Ctx) error {
	store, ok := h.cache(c)
	if !ok {
		return nil
	}
	id, ok := identifierParam(c)
	if !ok {
		return badRequest(c, "identifier_required")
	}
	if err := store.Purge(requestContext(c), id); err != nil {
		return h.writeFailure(c, store, "", string(id), err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *cacheHandler) purgeAll(c fiber.Ctx) error {
	return h.maintenance(c, "purge_all", func(ctx context.Context, store cache.Cache) error {
		return store.PurgeAll(ctx)
	})
}

func (h *cacheHandler) purgeInfos(c fiber.Ctx) error {
	return h.maintenance(c, "purge_infos", func(ctx context.Context, store cache.Cache) error {
		return store.PurgeInfos(ctx)
	})
}

func (h *cacheHandler) purgeExpired(c fiber.Ctx) error {
	return h.maintenance(c, "purge_expired", func(ctx context.Context, store cache.Cache) error {
		return store.PurgeExpired(ctx)
	})
}

func (h *cacheHandler) sweep(c fiber.Ctx) error {
	store, ok := h.cache(c)
	if !ok {
		return nil
	}
	result, err := store.Sweep(requestContext(c))
	if err != nil {
		return h.writeFailure(c, store, "", "", err)
	}
	return c.JSON(result)
}

func (h *cacheHandler) maintenance(c fiber.Ctx, action string, fn func(context.Context, cache.Cache) error) error {
	store, ok := h.cache(c)
	if !ok {
		return nil
	}
	if err := fn(requestContext(c), store); err != nil {
		return h.writeFailure(c, store, "", "", err)
	}
	h.entry(c, store, "", "").WithField("action", action).Info("cache maintenance completed")
	return c.SendStatus(fiber.StatusNoContent)
}

// fill 把请求体写入缓存；写入失败时调用 purge 清掉可能已提交的部分内容。
func (h *cacheHandler) fill(c fiber.Ctx, store cache.Cache, area cache.Area, key string, writer io.WriteCloser, purge func() error) error {
	if cache.IsDiscard(writer) {
		_ = writer.Close()
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"discarded": true})
	}
	written, err := cache.Fill(requestContext(c), writer, bytes.NewReader(c.Body()))
	if err != nil {
		if purgeErr := purge(); purgeErr != nil {
			h.entry(c, store, area, key).WithError(purgeErr).Warn("cache purge after failed write failed")
		}
		return h.writeFailure(c, store, area, key, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"bytes": written})
}

// cache 返回当前后端；不可用时已写好 503 响应，ok 为 false，调用方直接返回 nil。
func (h *cacheHandler) cache(c fiber.Ctx) (cache.Cache, bool) {
	store, err := h.provider.Cache()
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"action":     "cache_select",
			"request_id": server.RequestID(c),
		}).WithError(err).Error("cache backend unavailable")
		if jsonErr := c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "cache_unavailable"}); jsonErr != nil {
			h.logger.WithError(jsonErr).Warn("write unavailable response failed")
		}
		return nil, false
	}
	return store, true
}

func (h *cacheHandler) readFailure(c fiber.Ctx, store cache.Cache, area cache.Area, key string, err error) error {
	if errors.Is(err, cache.ErrNotFound) {
		c.Set("X-Imgcache-Hit", "false")
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "cache_miss"})
	}
	h.entry(c, store, area, key).WithError(err).Error("cache read failed")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_read_failed"})
}

func (h *cacheHandler) writeFailure(c fiber.Ctx, store cache.Cache, area cache.Area, key string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return c.Status(fiber.StatusRequestTimeout).JSON(fiber.Map{"error": "request_cancelled"})
	}
	h.entry(c, store, area, key).WithError(err).Error("cache write failed")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_write_failed"})
}

func (h *cacheHandler) entry(c fiber.Ctx, store cache.Cache, area cache.Area, key string) *logrus.Entry {
	fields := logging.CacheFields(store.Name(), string(area), key)
	fields["request_id"] = server.RequestID(c)
	return h.logger.WithFields(fields)
}

func sendEntry(c fiber.Ctx, result *cache.ReadResult) error {
	defer result.Reader.Close()
	c.Set("X-Imgcache-Hit", "true")
	c.Set(fiber.HeaderContentLength, strconv.FormatInt(result.Entry.SizeBytes, 10))
	if !result.Entry.ModTime.IsZero() {
		c.Set(fiber.HeaderLastModified, result.Entry.ModTime.UTC().Format(httpTimeFormat))
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	c.Status(fiber.StatusOK)
	_, err := io.Copy(c.Response().BodyWriter(), result.Reader)
	return err
}

const httpTimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

func identifierParam(c fiber.Ctx) (cache.Identifier, bool) {
	id := strings.TrimSpace(c.Query("id"))
	if id == "" {
		return "", false
	}
	return cache.Identifier(id), true
}

// operationListParam 读取 id、ops（逗号分隔，保持顺序）与 format 查询参数。
func operationListParam(c fiber.Ctx) (cache.OperationList, bool) {
	id, ok := identifierParam(c)
	if !ok {
		return cache.OperationList{}, false
	}
	list := cache.OperationList{
		Identifier: id,
		Format:     strings.TrimSpace(c.Query("format")),
	}
	if raw := c.Query("ops"); raw != "" {
		for _, op := range strings.Split(raw, ",") {
			list.Operations = append(list.Operations, cache.StringOperation(strings.TrimSpace(op)))
		}
	}
	return list, true
}

func requestContext(c fiber.Ctx) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func badRequest(c fiber.Ctx, code string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": code})
}
