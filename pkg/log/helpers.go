package log

import (
	"context"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
)

// LogHelper 扩展 Kratos log.Helper
// 每个方法都会追加 "type" 字段，EmojiConsoleEncoder 据此选择表情符号
type LogHelper struct {
	*log.Helper
}

// NewLogHelper wraps logger in a LogHelper.
func NewLogHelper(logger log.Logger) *LogHelper {
	return &LogHelper{
		Helper: log.NewHelper(logger),
	}
}

func withType(msg, logType string, kvs []interface{}) []interface{} {
	allKvs := make([]interface{}, 0, len(kvs)+4)
	allKvs = append(allKvs, "msg", msg)
	allKvs = append(allKvs, kvs...)
	return append(allKvs, "type", logType)
}

// Registry logs service registry changes (🗂️).
func (h *LogHelper) Registry(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "registry", kvs)...)
}

// Breaker logs circuit breaker transitions (🔌). Breakers only log on transitions,
// so they go out at WARN level.
func (h *LogHelper) Breaker(msg string, kvs ...interface{}) {
	h.Warnw(withType(msg, "breaker", kvs)...)
}

// Consumer logs broker event handling (📨).
func (h *LogHelper) Consumer(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "consumer", kvs)...)
}

// Broker logs broker connection and subscription lifecycle (📡).
func (h *LogHelper) Broker(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "broker", kvs)...)
}

// Success logs a completed operation (✅).
func (h *LogHelper) Success(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "success", kvs)...)
}

// Database logs database operations (💾) at DEBUG.
func (h *LogHelper) Database(msg string, kvs ...interface{}) {
	h.Debugw(withType(msg, "database", kvs)...)
}

// Redis logs Redis operations (📦) at DEBUG.
func (h *LogHelper) Redis(msg string, kvs ...interface{}) {
	h.Debugw(withType(msg, "redis", kvs)...)
}

// Scheduler logs cron job runs (🎯).
func (h *LogHelper) Scheduler(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "scheduler", kvs)...)
}

// Startup logs process startup (🚀).
func (h *LogHelper) Startup(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "startup", kvs)...)
}

// Audit logs audit trail entries (📋).
func (h *LogHelper) Audit(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "audit", kvs)...)
}

// Request logs one HTTP request (🌐 or a status colour).
func (h *LogHelper) Request(method, url string, status int, durationMs int64, kvs ...interface{}) {
	msg := fmt.Sprintf("%s %s - %d (%dms)", method, url, status, durationMs)
	allKvs := withType(msg, "request", kvs)
	allKvs = append(allKvs,
		"method", method,
		"url", url,
		"status", status,
		"duration_ms", durationMs,
	)
	h.Infow(allKvs...)
}

// SlowRequest warns about a request above threshold milliseconds (🐌).
func (h *LogHelper) SlowRequest(ctx context.Context, method, url string, duration, threshold int64, kvs ...interface{}) {
	reqCtx := GetRequestContext(ctx)
	msg := fmt.Sprintf("[%s] Slow request detected | %s %s | %dms (threshold: %dms)",
		reqCtx.RequestID, method, url, duration, threshold)

	allKvs := withType(msg, "slow_request", kvs)
	allKvs = append(allKvs,
		"request_id", reqCtx.RequestID,
		"method", method,
		"url", url,
		"duration_ms", duration,
		"threshold_ms", threshold,
	)
	h.Warnw(allKvs...)
}

// RequestWithContext logs an HTTP request with the request id from ctx and
// flags it as slow above one second.
func (h *LogHelper) RequestWithContext(ctx context.Context, method, url string, status int, durationMs int64, kvs ...interface{}) {
	reqCtx := GetRequestContext(ctx)
	msg := fmt.Sprintf("%s %s - %d (%dms) | RequestID: %s", method, url, status, durationMs, reqCtx.RequestID)

	allKvs := withType(msg, "request", kvs)
	allKvs = append(allKvs,
		"request_id", reqCtx.RequestID,
		"method", method,
		"url", url,
		"status", status,
		"duration_ms", durationMs,
	)
	h.Infow(allKvs...)

	if durationMs > 1000 {
		h.SlowRequest(ctx, method, url, durationMs, 1000)
	}
}

// EventWithContext logs the outcome of a consumed event, pulling subject and
// route from ctx.
func (h *LogHelper) EventWithContext(ctx context.Context, outcome string, kvs ...interface{}) {
	reqCtx := GetRequestContext(ctx)
	msg := fmt.Sprintf("[%s] %s %s", reqCtx.RequestID, reqCtx.Subject, outcome)

	allKvs := withType(msg, "consumer", kvs)
	allKvs = append(allKvs,
		"event_id", reqCtx.RequestID,
		"subject", reqCtx.Subject,
		"route_id", reqCtx.RouteID,
		"outcome", outcome,
		"duration_ms", GetElapsedTime(ctx),
	)
	h.Infow(allKvs...)
}
