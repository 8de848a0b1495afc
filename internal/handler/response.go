package handler

// RESPONSE ENVELOPE:
// Every JSON response has the same outer shape:
//
//	{"success": true,  "message": "Task created successfully", "data": {...}}
//	{"success": false, "message": "The title field is required.",
//	 "errors": {"title": ["The title field is required."]}}
//
// data is omitted when there is nothing to return (logout, delete) and
// errors only appears on validation failures.

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/sakif/taskflow-api/internal/apperror"
)

// maxBodyBytes caps request bodies. Every TaskFlow payload is a handful of
// short strings.
const maxBodyBytes = 1 << 20

const internalErrorMessage = "An internal error occurred"

// errMalformedBody marks a request whose body is not the JSON we expect.
var errMalformedBody = errors.New("malformed JSON request body")

// Envelope is the wire format of every JSON response.
type Envelope struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Data    any                 `json:"data,omitempty"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

// writeJSON sends body with the given status code. Headers must be set
// before WriteHeader; anything set afterwards is silently dropped.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			// headers are already out, all we can do is log
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, Envelope{Success: true, Message: message, Data: data})
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Envelope{Success: false, Message: message})
}

// statusFor maps the apperror taxonomy onto HTTP.
//
//	ErrValidation, ErrInvalidCredentials → 422
//	ErrUnauthenticated, ErrExternalAuth   → 401
//	ErrNotFound                           → 404
//	ErrConflict                           → 409
//	errMalformedBody                      → 400
//	anything else                         → 500
func statusFor(err error) int {
	switch {
	case errors.Is(err, errMalformedBody):
		return http.StatusBadRequest
	case errors.Is(err, apperror.ErrValidation), errors.Is(err, apperror.ErrInvalidCredentials):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperror.ErrUnauthenticated), errors.Is(err, apperror.ErrExternalAuth):
		return http.StatusUnauthorized
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError translates err into an envelope. Only *apperror.AppError
// messages reach the client; anything else is logged and replaced with a
// generic 500 so SQL, paths and ids never leak.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusFor(err)

	if errors.Is(err, errMalformedBody) {
		writeFailure(w, status, "Malformed JSON request body.")
		return
	}

	var appErr *apperror.AppError
	if status == http.StatusInternalServerError || !errors.As(err, &appErr) {
		logger.Error("request failed", slog.String("error", err.Error()))
		writeFailure(w, http.StatusInternalServerError, internalErrorMessage)
		return
	}

	body := Envelope{Success: false, Message: appErr.Message}
	if status == http.StatusUnprocessableEntity {
		body.Errors = appErr.Fields
	}
	writeJSON(w, status, body)
}

// decodeJSON reads a single JSON object from the request body into dst.
// An empty body decodes as {} so missing fields surface as validation errors
// rather than a parse failure. A well-formed body with a wrongly typed field,
// e.g. {"title": 123}, is a validation error on that field.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}

		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return apperror.ValidationFailed(typeErr.Field, typeMessage(typeErr))
		}
		return errMalformedBody
	}
	return nil
}

// typeMessage words a type mismatch the way the validator words its failures.
func typeMessage(e *json.UnmarshalTypeError) string {
	name := strings.ReplaceAll(e.Field, "_", " ")

	switch e.Type.Kind() {
	case reflect.String:
		return fmt.Sprintf("The %s field must be a string.", name)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return fmt.Sprintf("The %s field must be an integer.", name)
	case reflect.Bool:
		return fmt.Sprintf("The %s field must be true or false.", name)
	default:
		return fmt.Sprintf("The %s field is invalid.", name)
	}
}
