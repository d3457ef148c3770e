package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/m-mizutani/seeker/pkg/model"
	"github.com/m-mizutani/seeker/pkg/usecase/agent"
	"github.com/m-mizutani/seeker/pkg/utils/logging"
)

// DefaultTaskPrefix is prepended to the text of every /process request
const DefaultTaskPrefix = "Please extract the URL for this - "

// Runner executes one agent task
type Runner interface {
	Run(ctx context.Context, input agent.RunInput) (*model.Outcome, error)
}

type options struct {
	prefix string
	logger *slog.Logger
}

type Option func(*options)

// WithTaskPrefix replaces DefaultTaskPrefix
func WithTaskPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

type processRequest struct {
	Text string `json:"text"`
}

type processResponse struct {
	Response  string          `json:"response"`
	SessionID model.SessionID `json:"session_id,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New returns the HTTP handler of the front-end
func New(runner Runner, opts ...Option) http.Handler {
	o := options{
		prefix: DefaultTaskPrefix,
		logger: logging.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	router := mux.NewRouter()
	router.HandleFunc("/process", func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.With(r.Context(), o.logger)
		logger := o.logger

		var req processRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, logger, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
		if req.Text == "" {
			writeJSON(w, logger, http.StatusBadRequest, errorResponse{Error: "No text provided"})
			return
		}

		logger.Info("process request received", "text", req.Text)
		outcome, err := runner.Run(ctx, agent.RunInput{Task: o.prefix + req.Text})
		if err != nil {
			logger.Error("agent run failed", "error", err)
			writeJSON(w, logger, http.StatusInternalServerError, errorResponse{Error: err.Error()})
			return
		}

		if !outcome.Finished() {
			writeJSON(w, logger, http.StatusUnprocessableEntity, errorResponse{Error: "no answer within step budget"})
			return
		}

		writeJSON(w, logger, http.StatusOK, processResponse{
			Response:  outcome.Answer,
			SessionID: outcome.SessionID,
		})
	}).Methods(http.MethodPost)

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)
	recovery := handlers.RecoveryHandler(
		handlers.PrintRecoveryStack(true),
		handlers.RecoveryLogger(slog.NewLogLogger(o.logger.Handler(), slog.LevelError)),
	)

	return cors(recovery(router))
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to write response", "error", err)
	}
}
