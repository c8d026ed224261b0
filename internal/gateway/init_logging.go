package gateway

import (
	"time"

	"github.com/liteproxy/liteproxy/internal/config"
	"github.com/liteproxy/liteproxy/internal/monitoring"
)

func buildInitEvent(cfg *config.Config) *monitoring.InitEvent {
	ev := &monitoring.InitEvent{
		Timestamp:            time.Now(),
		Event:                "gateway_init",
		Version:              config.Version,
		ServerPort:           cfg.Server.Port,
		ServerReadTimeoutMs:  cfg.Server.ReadTimeout.Milliseconds(),
		ServerWriteTimeoutMs: cfg.Server.WriteTimeout.Milliseconds(),
		UpstreamHost:         cfg.UpstreamHost(),
		UpstreamTimeoutMs:    cfg.Upstream.Timeout.Milliseconds(),
		CacheSize:            cfg.Cache.Size,
		BridgeEnabled:        cfg.Bridge.Enabled,
		LegacyMemberAvatar:   cfg.Compat.LegacyMemberAvatar,
		StaticDir:            cfg.Server.StaticDir,
		TelemetryPath:        cfg.Monitoring.TelemetryPath,
	}

	if cfg.Bridge.Enabled {
		ev.BridgePort = cfg.Bridge.Port
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		ev.Extra = map[string]any{"cors_origins": append([]string(nil), cfg.Server.CORSOrigins...)}
	}

	return ev
}
