package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"custodial-wallet-go/internal/api"
	"custodial-wallet-go/internal/httpclient"
	"custodial-wallet-go/internal/security"
	"custodial-wallet-go/internal/store"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

var errBodyTooLarge = errors.New("request body too large")

type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Status: "success", Data: data}); err != nil {
		zap.L().Warn("Failed to encode response", zap.Error(err))
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	state := "success"
	if status >= http.StatusBadRequest {
		state = "error"
	}
	_ = json.NewEncoder(w).Encode(envelope{Status: state, Message: msg})
}

// writeError maps service errors onto HTTP statuses. Unexpected errors are
// logged and reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := classify(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	writeMessage(w, status, msg)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, api.ErrValidation),
		errors.Is(err, api.ErrUnsupportedAsset),
		errors.Is(err, api.ErrInvalidAddress):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, api.ErrInvalidCredentials),
		errors.Is(err, api.ErrTOTPRequired),
		errors.Is(err, api.ErrInvalidSignature),
		errors.Is(err, security.ErrInvalidToken):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, api.ErrForbidden):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, store.ErrEmailTaken),
		errors.Is(err, api.ErrInProgress),
		errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, err.Error()
	case errors.Is(err, store.ErrInsufficientFunds),
		errors.Is(err, api.ErrBankVerification):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, api.ErrUnavailable):
		return http.StatusServiceUnavailable, err.Error()
	}

	if code := httpclient.StatusCode(err); code != 0 {
		return http.StatusBadGateway, "upstream provider error"
	}
	return http.StatusInternalServerError, "internal error"
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// bodyError reports a body cut off by the size limit as errBodyTooLarge.
func bodyError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return fmt.Errorf("%w: limit is %d bytes", errBodyTooLarge, maxErr.Limit)
	}
	return fmt.Errorf("%w: invalid request body: %v", api.ErrValidation, err)
}

// decode reads a JSON body into dst and validates it. Bodies are capped by
// the RequestSize middleware.
func (s *Server) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return bodyError(err)
	}
	return s.check(dst)
}

func (s *Server) check(v any) error {
	if err := s.validate.Struct(v); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			parts := make([]string, len(fieldErrs))
			for i, fe := range fieldErrs {
				parts[i] = fe.Field() + " failed " + fe.Tag()
			}
			return fmt.Errorf("%w: %s", api.ErrValidation, strings.Join(parts, ", "))
		}
		return fmt.Errorf("%w: %v", api.ErrValidation, err)
	}
	return nil
}
