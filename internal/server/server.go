package server

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// Server provides the HTTP interface for the wallet engine.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// New creates a Server with all routes registered.
func New(port int, handler *Handler, logger *zap.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handler.Health)
	mux.HandleFunc("POST /api/transaction/quote", handler.Quote)
	mux.HandleFunc("POST /api/transaction/execute", handler.Execute)
	mux.HandleFunc("GET /api/transaction/history/{address}", handler.History)
	mux.HandleFunc("POST /api/wallet/create", handler.CreateWallet)
	mux.HandleFunc("GET /api/wallet/{address}", handler.WalletInfo)
	mux.HandleFunc("GET /api/wallet/{address}/balance", handler.Balance)
	mux.HandleFunc("PUT /api/wallet/{address}/email", handler.UpdateEmail)
	mux.HandleFunc("/", handler.NotFound)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: withCORS(mux),
	}

	return &Server{
		server: server,
		logger: logger.Named("api-server"),
	}
}

// Start runs the HTTP server in a new goroutine.
func (s *Server) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

// withCORS allows browser clients on other origins to reach the API.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
