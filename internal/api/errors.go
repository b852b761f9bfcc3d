package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kalambet/prodqa/internal/apperr"
)

type errorBody struct {
	Status string      `json:"status"`
	Error  errorDetail `json:"error"`
}

type errorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, errorBody{
		Status: "error",
		Error:  errorDetail{Type: errType, Message: fmt.Sprintf(format, args...)},
	})
}

// writeAppError reports err with the status its kind maps to. Internal errors
// are logged in full and reported without detail.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.HTTPStatus(err)
	kind := apperr.Type(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal error"
	} else {
		slog.Warn("request rejected", "method", r.Method, "path", r.URL.Path, "type", kind, "error", err)
	}
	httpError(w, code, kind, "%s", msg)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing response", "error", err)
	}
}

// decodeBody reads a JSON body into v and validates it. Failures are
// ErrInvalidArgument.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %w", apperr.ErrInvalidArgument, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %s", apperr.ErrInvalidArgument, describeValidation(err))
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// fieldPath drops the request struct name from a validator namespace.
func fieldPath(fe validator.FieldError) string {
	_, path, ok := strings.Cut(fe.Namespace(), ".")
	if !ok {
		return fe.Field()
	}
	return path
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fieldPath(fe))
	case "min":
		return fmt.Sprintf("%s must be at least %s", fieldPath(fe), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fieldPath(fe), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fieldPath(fe), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fieldPath(fe), fe.Tag())
	}
}
