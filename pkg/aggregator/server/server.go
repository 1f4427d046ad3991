package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/signing/aggregation"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/types"
	"go.uber.org/zap"
)

const (
	RequestIdHeader = "X-Request-Id"

	maxRequestBodyBytes = 1 << 16

	messageAccepted         = "Signature accepted, threshold not yet reached"
	messageThresholdReached = "Threshold reached, aggregated response submitted"
)

// SignatureSubmitter is the aggregation engine as seen by the HTTP layer.
type SignatureSubmitter interface {
	Submit(ctx context.Context, res *types.SignedResponse) (*aggregation.Outcome, error)
}

type ServerConfig struct {
	Address         string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

type Server struct {
	config    *ServerConfig
	router    *mux.Router
	cors      *cors.Cors
	submitter SignatureSubmitter
	gatherer  prometheus.Gatherer
	logger    *zap.Logger
}

// NewServer builds the router. gatherer may be nil to disable /metrics.
func NewServer(cfg *ServerConfig, submitter SignatureSubmitter, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	s := &Server{
		config: cfg,
		router: mux.NewRouter(),
		cors: cors.New(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodPost, http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Accept", RequestIdHeader},
		}),
		submitter: submitter,
		gatherer:  gatherer,
		logger:    logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.requestIdMiddleware)
	s.router.HandleFunc("/signature", s.handleSignature).Methods(http.MethodPost)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
}

func (s *Server) Handler() http.Handler {
	return s.cors.Handler(s.router)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.config.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Sugar().Infow("Starting signature server", "address", s.config.Address)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Sugar().Infow("Shutting down signature server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

type requestIdKey struct{}

func (s *Server) requestIdMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestId := r.Header.Get(RequestIdHeader)
		if requestId == "" {
			requestId = uuid.New().String()
		}
		w.Header().Set(RequestIdHeader, requestId)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIdKey{}, requestId)))
	})
}

func requestIdFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIdKey{}).(string)
	return id
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, &SignatureResponse{Success: true, Message: "ok"})
}

func (s *Server) handleSignature(w http.ResponseWriter, r *http.Request) {
	requestId := requestIdFrom(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		s.reject(w, requestId, types.ErrorKindMalformedRequest, err)
		return
	}
	req, err := decodeSignatureRequest(body)
	if err != nil {
		s.reject(w, requestId, types.ErrorKindMalformedRequest, err)
		return
	}
	signed, err := req.ToSignedResponse()
	if err != nil {
		s.reject(w, requestId, types.ErrorKindMalformedRequest, err)
		return
	}

	s.logger.Sugar().Debugw("Received signed task response",
		"requestId", requestId,
		"taskIndex", signed.TaskIndex,
		"operatorId", signed.OperatorId.Hex(),
		"numberSquared", signed.NumberSquared.String(),
		"blockNumber", signed.BlockNumber,
	)

	outcome, err := s.submitter.Submit(r.Context(), signed)
	if err != nil {
		s.reject(w, requestId, types.KindOf(err), err)
		return
	}

	message := messageAccepted
	if outcome.Kind == aggregation.OutcomeThresholdReached {
		message = messageThresholdReached
	}
	writeJSON(w, http.StatusOK, &SignatureResponse{Success: true, Message: message})
}

func (s *Server) reject(w http.ResponseWriter, requestId string, kind types.ErrorKind, err error) {
	s.logger.Sugar().Errorw("Rejected signature submission",
		"requestId", requestId,
		"kind", kind.String(),
		"error", err,
	)
	writeJSON(w, kind.StatusCode(), &SignatureResponse{Success: false, Error: kind.Message()})
}

func writeJSON(w http.ResponseWriter, status int, body *SignatureResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
