package api

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/warp/registration-engine/enrollment"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Details any    `json:"details,omitempty"`
}

var kindStatus = map[enrollment.ErrorKind]int{
	enrollment.KindNotFound:             http.StatusNotFound,
	enrollment.KindRegistrationNotFound: http.StatusNotFound,
	enrollment.KindInactive:             http.StatusUnprocessableEntity,
	enrollment.KindOutOfWindow:          http.StatusUnprocessableEntity,
	enrollment.KindProgramMismatch:      http.StatusUnprocessableEntity,
	enrollment.KindBelowMinimum:         http.StatusUnprocessableEntity,
	enrollment.KindLimitReached:         http.StatusUnprocessableEntity,
	enrollment.KindMissingNotes:         http.StatusUnprocessableEntity,
	enrollment.KindInvalidInput:         http.StatusUnprocessableEntity,
	enrollment.KindInvalidTransition:    http.StatusConflict,
	enrollment.KindNotApproved:          http.StatusConflict,
	enrollment.KindDuplicateCoupon:      http.StatusConflict,
	enrollment.KindConflict:             http.StatusConflict,
	enrollment.KindLocked:               http.StatusLocked,
	enrollment.KindUnavailable:          http.StatusServiceUnavailable,
	enrollment.KindInternal:             http.StatusInternalServerError,
}

// StatusFor returns the HTTP status for an error kind.
func StatusFor(kind enrollment.ErrorKind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError classifies err and writes the matching status and message.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	kind := enrollment.KindOf(err)
	status := StatusFor(kind)
	resp := ErrorResponse{Error: enrollment.Message(kind), Kind: string(kind)}

	var verr *enrollment.ValidationError
	switch {
	case errors.As(err, &verr):
		resp.Details = verr.Fields
	case status >= http.StatusInternalServerError:
		h.requestLog(r).WithError(err).WithField("kind", kind).Error("request failed")
	default:
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func (h *Handler) requestLog(r *http.Request) logrus.FieldLogger {
	return loggerFrom(r.Context(), h.Log)
}
