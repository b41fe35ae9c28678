package api

import (
	"net/http"
	"sync/atomic"

	"github.com/veilnet/veil/internal/config"
	"github.com/veilnet/veil/internal/service"
)

// HandleSystemInfo returns a handler for GET /api/v1/system/info.
func HandleSystemInfo(info service.SystemInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, info)
	}
}

// HandleSystemConfig returns a handler for GET /api/v1/system/config.
func HandleSystemConfig(runtimeCfg *atomic.Pointer[config.RuntimeConfig]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, runtimeCfg.Load())
	}
}

// HandleSystemDefaultConfig returns a handler for GET /api/v1/system/config/default.
func HandleSystemDefaultConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, config.NewDefaultRuntimeConfig())
	}
}

// HandleSystemEnvConfig returns a handler for GET /api/v1/system/config/env.
// The admin token is omitted from the response.
func HandleSystemEnvConfig(envCfg *config.EnvConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{
			"state_dir":          envCfg.StateDir,
			"listen_address":     envCfg.ListenAddress,
			"port":               envCfg.VeilPort,
			"api_max_body_bytes": envCfg.APIMaxBodyBytes,
			"probe_concurrency":  envCfg.ProbeConcurrency,
			"seed_domains_file":  envCfg.SeedDomainsFile,
			"geoip_db_path":      envCfg.GeoIPDBPath,
			"auth_enabled":       envCfg.AdminToken != "",
		})
	}
}

// HandleUpdateSystemConfig returns a handler for PUT /api/v1/system/config.
func HandleUpdateSystemConfig(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req config.RuntimeConfig
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		updated, err := cp.UpdateRuntimeConfig(&req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, updated)
	}
}
