package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	fberr "github.com/firebridge/firebridge/internal/errors"
)

// apiError converts err into the Huma error the client sees. Categorized
// errors keep their status and code; anything else is a 500.
func apiError(err error) error {
	var fe *fberr.Error
	switch {
	case errors.As(err, &fe):
		return huma.NewError(fe.HTTPStatus, fe.Message, &huma.ErrorDetail{
			Location: "code",
			Value:    fe.Code,
			Message:  err.Error(),
		})
	case errors.Is(err, context.DeadlineExceeded):
		return huma.NewError(http.StatusGatewayTimeout, "The operation timed out")
	default:
		slog.Error("Unhandled gateway error", "error", err)
		return huma.NewError(fberr.ErrInternalError.HTTPStatus, fberr.ErrInternalError.Message)
	}
}

// writeError writes err to a plain handler's response in the same
// problem+json shape Huma uses.
func writeError(w http.ResponseWriter, err error) {
	var se huma.StatusError
	if !errors.As(apiError(err), &se) {
		se = huma.NewError(http.StatusInternalServerError, fberr.ErrInternalError.Message)
	}
	writeJSON(w, se.GetStatus(), "application/problem+json", se)
}

func writeJSON(w http.ResponseWriter, status int, contentType string, v any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}
