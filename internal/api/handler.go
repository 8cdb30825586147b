package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"medeasy/ledger/domain"
	"medeasy/ledger/internal/access"
	"medeasy/ledger/internal/replenish"
	"medeasy/ledger/internal/service"
)

type ctxKey string

const ctxPrincipal ctxKey = "principal"

// Handler bundles dependencies for HTTP handlers.
type Handler struct {
	svc      *service.Service
	advisor  *replenish.Advisor
	secret   string
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// New constructs a Handler. A nil gatherer serves the default registry on
// /metrics.
func New(svc *service.Service, advisor *replenish.Advisor, secret string, gatherer prometheus.Gatherer, logger *zap.Logger) *Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, advisor: advisor, secret: secret, gatherer: gatherer, logger: logger}
}

// requestLogger logs one line per request once the response is written.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				logger.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", status),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// Router wires up the HTTP API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Idempotency-Key"},
		AllowCredentials: true,
	}))
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	r.Group(func(pr chi.Router) {
		pr.Use(h.authMiddleware)

		pr.Route("/pharmacies", func(r chi.Router) {
			r.Post("/", h.createPharmacy)
			r.Get("/", h.listPharmacies)
			r.Get("/{id}", h.getPharmacy)
			r.Put("/{id}", h.updatePharmacy)
			r.Delete("/{id}", h.deletePharmacy)
		})

		pr.Route("/medications", func(r chi.Router) {
			r.Post("/", h.createMedication)
			r.Get("/", h.searchMedications)
			r.Get("/{id}", h.getMedication)
			r.Put("/{id}", h.updateMedication)
			r.Delete("/{id}", h.deleteMedication)
		})

		pr.Route("/users", func(r chi.Router) {
			r.Post("/", h.createUser)
			r.Get("/", h.listUsers)
			r.Get("/me", h.me)
			r.Get("/{id}", h.getUser)
			r.Delete("/{id}", h.deleteUser)
			r.Put("/{id}/active-pharmacy", h.setActivePharmacy)
			r.Post("/{id}/pharmacies/{pharmacyID}", h.assignPharmacy)
			r.Delete("/{id}/pharmacies/{pharmacyID}", h.unassignPharmacy)
		})

		pr.Route("/lots", func(r chi.Router) {
			r.Post("/", h.createLot)
			r.Get("/", h.listLots)
			r.Get("/expiring", h.expiringLots)
			r.Get("/levels", h.lotLevels)
			r.Get("/{id}", h.getLot)
			r.Put("/{id}", h.updateLot)
			r.Delete("/{id}", h.deleteLot)
		})

		pr.Route("/sales", func(r chi.Router) {
			r.Post("/", h.createSale)
			r.Get("/", h.listSales)
			r.Get("/{id}", h.getSale)
		})

		pr.Route("/returns", func(r chi.Router) {
			r.Post("/", h.createReturn)
			r.Get("/", h.listReturns)
			r.Get("/{id}", h.getReturn)
			r.Post("/{id}/approve", h.approveReturn)
			r.Post("/{id}/reject", h.rejectReturn)
		})

		pr.Route("/movements", func(r chi.Router) {
			r.Post("/", h.createMovement)
			r.Get("/", h.listMovements)
			r.Get("/{id}", h.getMovement)
		})

		pr.Route("/reports", func(r chi.Router) {
			r.Get("/sales/daily", h.dailySales)
			r.Get("/sales/monthly", h.monthlySales)
			r.Get("/sales", h.salesReport)
			r.Get("/replenishment", h.replenishment)
		})
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Authentication helpers

type authClaims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// GenerateToken signs a bearer token for userID. Credentials are verified
// elsewhere; the token only names the user.
func (h *Handler) GenerateToken(userID int64, ttl time.Duration) (string, error) {
	claims := authClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.secret))
}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		tokenString := strings.TrimSpace(header[len("Bearer "):])
		token, err := jwt.ParseWithClaims(tokenString, &authClaims{}, func(token *jwt.Token) (any, error) {
			if token.Method != jwt.SigningMethodHS256 {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(h.secret), nil
		})
		if err != nil || !token.Valid {
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		claims, ok := token.Claims.(*authClaims)
		if !ok || claims.UserID <= 0 {
			respondError(w, http.StatusUnauthorized, "invalid token claims")
			return
		}
		principal, err := h.svc.PrincipalFor(r.Context(), claims.UserID)
		if errors.Is(err, domain.ErrNotFound) {
			respondError(w, http.StatusUnauthorized, "unknown user")
			return
		}
		if err != nil {
			h.fail(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), ctxPrincipal, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFrom(r *http.Request) *access.Principal {
	p, _ := r.Context().Value(ctxPrincipal).(*access.Principal)
	return p
}

// Error mapping

// statusFor maps an error to its HTTP status. ErrTransient wraps the last
// conflict, so it is matched before ErrConflict.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrPharmacyRequired),
		errors.Is(err, domain.ErrNoActivePharmacy):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrInvalidStateTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrLotNotFound), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateLot),
		errors.Is(err, domain.ErrDuplicate),
		errors.Is(err, domain.ErrInUse),
		errors.Is(err, domain.ErrIdempotencyMismatch),
		errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// fail writes the status for err. Unexpected errors are logged and hidden from
// the client.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		respondError(w, status, "internal error")
		return
	}
	respondError(w, status, err.Error())
}

// Request helpers

// idempotencyKey returns the Idempotency-Key header, which must be a UUID when
// present.
func idempotencyKey(r *http.Request) (string, error) {
	raw := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if raw == "" {
		return "", nil
	}
	key, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: Idempotency-Key must be a UUID", domain.ErrValidation)
	}
	return key.String(), nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", domain.ErrValidation, name)
	}
	return id, nil
}

func queryID(r *http.Request, name string) (*int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("%w: invalid %s", domain.ErrValidation, name)
	}
	return &id, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid %s", domain.ErrValidation, name)
	}
	return n, nil
}

func queryBool(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

// queryDate parses a YYYY-MM-DD query parameter as UTC midnight.
func queryDate(r *http.Request, name string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be in YYYY-MM-DD format", domain.ErrValidation, name)
	}
	return &t, nil
}

func recordQuery(r *http.Request) (service.RecordQuery, error) {
	var (
		q   service.RecordQuery
		err error
	)
	if q.PharmacyID, err = queryID(r, "pharmacy_id"); err != nil {
		return q, err
	}
	lotID, err := queryID(r, "lot_id")
	if err != nil {
		return q, err
	}
	if lotID != nil {
		q.LotID = *lotID
	}
	if q.Since, err = queryDate(r, "start_date"); err != nil {
		return q, err
	}
	end, err := queryDate(r, "end_date")
	if err != nil {
		return q, err
	}
	if end != nil {
		until := end.AddDate(0, 0, 1)
		q.Until = &until
	}
	if q.Limit, err = queryInt(r, "limit"); err != nil {
		return q, err
	}
	q.Status = domain.ReturnStatus(strings.ToUpper(r.URL.Query().Get("status")))
	return q, nil
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
