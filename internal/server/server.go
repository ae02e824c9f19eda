package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"taskquest/internal/blob"
	"taskquest/internal/engine"
	"taskquest/internal/suggest"
)

// maxBodyBytes caps request bodies, proof uploads included.
const maxBodyBytes = 16 << 20

// Config for the HTTP API handler.
type Config struct {
	Engine    engine.Engine
	BasePath  string
	Auth      AuthConfig
	RateLimit RateLimitConfig
	// BlobDir serves locally stored proof images under /blobs when set.
	BlobDir string
	Logger  *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"insufficient_funds"`
	Message string         `json:"message" example:"not enough currency to purchase this item"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

var httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "taskquest",
	Name:      "http_requests_total",
	Help:      "HTTP requests by method and status.",
}, []string{"method", "status"})

// New returns an HTTP handler exposing the taskquest API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = log
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(log))
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				respondStatusError(w, newAPIError(http.StatusRequestEntityTooLarge, "too_large", "request body too large", nil))
				return
			}
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(cfg.Auth, cfg.Engine))
	router.Use(newRateLimitMiddleware(cfg.RateLimit))

	hcfg := huma.DefaultConfig("taskquest API", "1.0.0")
	hcfg.OpenAPIPath = path.Join(basePath, "openapi")
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerProfiles(group, cfg.Engine, log)
	registerChallenges(group, cfg.Engine, log)
	registerTasks(group, cfg.Engine, log)
	registerProofs(group, cfg.Engine, log)
	registerStore(group, cfg.Engine, log)
	registerLeaderboard(group, cfg.Engine, log)
	if cfg.Auth.DevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	describeOperations(api.OpenAPI())
	router.Handle("/metrics", promhttp.Handler())
	if cfg.BlobDir != "" {
		router.Handle("/blobs/*", http.StripPrefix("/blobs/", http.FileServer(http.Dir(cfg.BlobDir))))
	}
	return router, nil
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			httpRequests.WithLabelValues(r.Method, fmt.Sprint(status)).Inc()
			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)))
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps engine errors to fixed messages so storage details never
// reach the client.
func handleError(log *zap.Logger, err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ie engine.InputError
	switch {
	case errors.Is(err, engine.ErrUnauthenticated):
		return newAPIError(http.StatusUnauthorized, "unauthenticated", "authentication required", nil)
	case errors.Is(err, engine.ErrNotFound), errors.Is(err, blob.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", "resource not found", nil)
	case errors.Is(err, engine.ErrAlreadyExists):
		return newAPIError(http.StatusConflict, "already_exists", "profile already exists", nil)
	case errors.Is(err, engine.ErrAlreadyCompleted):
		return newAPIError(http.StatusConflict, "already_completed", "task already completed", nil)
	case errors.Is(err, engine.ErrInsufficientFunds):
		return newAPIError(http.StatusPaymentRequired, "insufficient_funds", "not enough currency to purchase this item", nil)
	case errors.Is(err, engine.ErrChallengeCompleted):
		return newAPIError(http.StatusConflict, "challenge_completed", "challenge is already completed", nil)
	case errors.Is(err, engine.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", "the request conflicted with a concurrent update; try again", nil)
	case errors.As(err, &ie):
		return newAPIError(http.StatusBadRequest, "bad_request", ie.Msg, nil)
	case errors.Is(err, suggest.ErrUnavailable), errors.Is(err, engine.ErrNoBlobStore):
		return newAPIError(http.StatusServiceUnavailable, "unavailable", err.Error(), nil)
	case errors.Is(err, suggest.ErrInvalidDraft):
		return newAPIError(http.StatusBadGateway, "bad_draft", "the generated challenge was not usable; try again", nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newAPIError(http.StatusServiceUnavailable, "unavailable", "request canceled", nil)
	default:
		if log != nil {
			log.Error("request failed", zap.Error(err))
		}
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthenticated"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// describeOperations documents the error envelope on every operation and the
// accepted credentials on every operation not tagged "public".
func describeOperations(oas *huma.OpenAPI) {
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{Type: "http", Scheme: "bearer", BearerFormat: "JWT"}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{Type: "apiKey", In: "header", Name: "X-Api-Key"}
	security := []map[string][]string{{"bearerAuth": {}}, {"apiKeyAuth": {}}}
	oas.Security = security

	errSchema := oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError")
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content:     map[string]*huma.MediaType{"application/json": {Schema: errSchema}},
			}
			if slices.Contains(op.Tags, "public") {
				op.Security = []map[string][]string{}
			} else {
				op.Security = security
			}
		}
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"public"},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Tags:        []string{"public"},
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		identityID := strings.TrimSpace(input.Body.IdentityID)
		if identityID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "identity_id is required", nil)
		}
		token, err := SignToken(authCfg.JWTSecret, identityID, 24*time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}
