package api

import (
	"net/http"
	"time"

	"nutsdispatch/internal/buildinfo"
)

// DebugJSON reports build info and the effective configuration, secrets
// reduced to presence flags.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	cfg := s.Config
	writeJSON(w, 200, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"addr":                cfg.Server.Addr,
			"authMode":            cfg.Auth.Mode,
			"rateRPS":             cfg.Server.RateRPS,
			"rateBurst":           cfg.Server.RateBurst,
			"storeDriver":         cfg.Store.Driver,
			"softCapacity":        cfg.Dispatch.SoftCapacity,
			"hardCapacity":        cfg.Dispatch.HardCapacity,
			"cadenceIntervalDays": cfg.Dispatch.CadenceIntervalDays,
			"followUpWindowDays":  cfg.Dispatch.FollowUpWindowDays,
			"webhookURLs":         len(cfg.Webhooks.URLs),
			"webhookMaxAttempts":  cfg.Webhooks.MaxAttempts,
			"hasRedisURL":         cfg.Events.RedisURL != "",
			"hasDSN":              cfg.Store.DSN != "",
		},
	})
}
