package cli

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/lilyview/pkg/observability"
)

// logHooks reports render and cache events at debug level.
type logHooks struct {
	logger *log.Logger
}

var (
	_ observability.RenderHooks = logHooks{}
	_ observability.CacheHooks  = logHooks{}
)

func (h logHooks) OnRenderStart(_ context.Context, uri string, version int, reason string) {
	h.logger.Debug("render start", "uri", uri, "version", version, "reason", reason)
}

func (h logHooks) OnRenderComplete(_ context.Context, uri string, version, pages int, d time.Duration, err error) {
	if err != nil {
		h.logger.Debug("render failed", "uri", uri, "version", version, "duration", d, "err", err)
		return
	}
	h.logger.Debug("render done", "uri", uri, "version", version, "pages", pages, "duration", d)
}

func (h logHooks) OnRenderStale(_ context.Context, uri string, version int) {
	h.logger.Debug("render superseded", "uri", uri, "version", version)
}

func (h logHooks) OnRenderCanceled(_ context.Context, uri string, version int) {
	h.logger.Debug("render canceled", "uri", uri, "version", version)
}

func (h logHooks) OnCacheHit(_ context.Context, keyType string) {
	h.logger.Debug("cache hit", "type", keyType)
}

func (h logHooks) OnCacheMiss(_ context.Context, keyType string) {
	h.logger.Debug("cache miss", "type", keyType)
}

func (h logHooks) OnCacheSet(_ context.Context, keyType string, size int) {
	h.logger.Debug("cache set", "type", keyType, "bytes", size)
}
