package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"xasdb/service"
	"xasdb/spectrum"
	"xasdb/xdi"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorDetail{Code: code, Message: message}})
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		sizeErr       *xdi.SizeError
		formatErr     *xdi.FormatError
		elementErr    *xdi.ElementError
		forbiddenErr  *service.ForbiddenError
		notFoundErr   *service.NotFoundError
		uniqueErr     *service.UniquenessError
		validationErr *service.ValidationError
		conflictErr   *service.ConflictError
		derivationErr *spectrum.DerivationError
	)

	switch {
	case errors.As(err, &sizeErr):
		writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", err.Error())
	case errors.As(err, &formatErr):
		writeError(w, http.StatusBadRequest, "INVALID_FORMAT", err.Error())
	case errors.As(err, &elementErr):
		writeError(w, http.StatusBadRequest, "UNKNOWN_ELEMENT", err.Error())
	case errors.As(err, &forbiddenErr):
		writeError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
	case errors.As(err, &notFoundErr):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.As(err, &uniqueErr):
		writeError(w, http.StatusConflict, "DUPLICATE_ATTACHMENT", err.Error())
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, "INVALID_UPDATE", err.Error())
	case errors.As(err, &conflictErr):
		writeError(w, http.StatusConflict, "CONFLICT", err.Error())
	case errors.As(err, &derivationErr), errors.Is(err, spectrum.ErrNoMode):
		writeError(w, http.StatusUnprocessableEntity, "CURVE_NOT_DERIVABLE", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}
