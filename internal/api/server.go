package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/veilnet/veil/internal/config"
	"github.com/veilnet/veil/internal/service"
)

// Server wraps the HTTP server and mux for the Veil API.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a new API server wired with all routes.
func NewServer(
	listenAddress string,
	port int,
	adminToken string,
	systemInfo service.SystemInfo,
	runtimeCfg *atomic.Pointer[config.RuntimeConfig],
	envCfg *config.EnvConfig,
	cp *service.ControlPlaneService,
	apiMaxBodyBytes int64,
) *Server {
	mux := http.NewServeMux()

	// Public (no auth)
	mux.Handle("GET /healthz", HandleHealthz())

	// Authenticated routes
	authed := http.NewServeMux()
	authed.Handle("GET /api/v1/system/info", HandleSystemInfo(systemInfo))
	authed.Handle("GET /api/v1/system/config", HandleSystemConfig(runtimeCfg))
	authed.Handle("GET /api/v1/system/config/default", HandleSystemDefaultConfig())
	authed.Handle("GET /api/v1/system/config/env", HandleSystemEnvConfig(envCfg))
	authed.Handle("PUT /api/v1/system/config", HandleUpdateSystemConfig(cp))

	// Domains.
	authed.Handle("GET /api/v1/domains", HandleListDomains(cp))
	authed.Handle("POST /api/v1/domains", HandleCreateDomain(cp))
	authed.Handle("GET /api/v1/domains/{id}", HandleGetDomain(cp))
	authed.Handle("PATCH /api/v1/domains/{id}", HandleUpdateDomain(cp))
	authed.Handle("DELETE /api/v1/domains/{id}", HandleDeleteDomain(cp))
	authed.Handle("POST /api/v1/domains/{id}/actions/probe", HandleProbeDomain(cp))
	authed.Handle("POST /api/v1/domains/{id}/actions/record-probe", HandleRecordDomainProbe(cp))

	// Nodes.
	authed.Handle("GET /api/v1/nodes", HandleListNodes(cp))
	authed.Handle("POST /api/v1/nodes", HandleCreateNode(cp))
	authed.Handle("GET /api/v1/nodes/{id}", HandleGetNode(cp))
	authed.Handle("PATCH /api/v1/nodes/{id}", HandleUpdateNode(cp))
	authed.Handle("DELETE /api/v1/nodes/{id}", HandleDeleteNode(cp))
	authed.Handle("POST /api/v1/nodes/{id}/actions/provision", HandleProvisionNode(cp))
	authed.Handle("POST /api/v1/nodes/{id}/actions/regenerate-keys", HandleRegenerateNodeKeys(cp))
	authed.Handle("GET /api/v1/nodes/{id}/config", HandleNodeConfig(cp))

	// Assignments.
	authed.Handle("GET /api/v1/nodes/{id}/assignment", HandleGetAssignment(cp))
	authed.Handle("DELETE /api/v1/nodes/{id}/assignment", HandleUnassignNode(cp))
	authed.Handle("POST /api/v1/nodes/{id}/actions/assign", HandleAssignNode(cp))
	authed.Handle("POST /api/v1/nodes/{id}/actions/rotate", HandleRotateNode(cp))
	authed.Handle("GET /api/v1/rotation-logs", HandleRotationLogs(cp))

	// Subscription.
	authed.Handle("GET /api/v1/subscription", HandleSubscription(cp))
	authed.Handle("POST /api/v1/subscriptions/build", HandleBuildUserSubscription(cp))

	limitedAuthed := RequestBodyLimitMiddleware(apiMaxBodyBytes, authed)
	mux.Handle("/api/", AuthMiddleware(adminToken, limitedAuthed))

	srv := &http.Server{
		Addr:    net.JoinHostPort(listenAddress, strconv.Itoa(port)),
		Handler: mux,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
	}
}

// ListenAndServe starts the HTTP server. It blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.mux
}
