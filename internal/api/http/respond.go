package http

import (
	"encoding/json"
	"net/http"

	"github.com/mind-engage/mindengage-examprep/internal/exam"
	"github.com/mind-engage/mindengage-examprep/internal/logger"
)

type errorBody struct {
	Code    exam.ErrorCode `json:"code"`
	Message string         `json:"message"`
}

// statusFor maps an engine error code to its HTTP status.
func statusFor(code exam.ErrorCode) int {
	switch code {
	case exam.CodeAuthRequired:
		return http.StatusUnauthorized
	case exam.CodeAccessDenied:
		return http.StatusForbidden
	case exam.CodeContentNotFound, exam.CodeNotYetMaterialized:
		return http.StatusNotFound
	case exam.CodeValidation:
		return http.StatusBadRequest
	case exam.CodeSessionNotActive, exam.CodeTransactionConflict:
		return http.StatusConflict
	case exam.CodeSubmissionFailure:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(log *logger.Logger, w http.ResponseWriter, r *http.Request, err error) {
	code := exam.CodeOf(err)
	if code == "" {
		code = exam.CodeInternal
	}
	status := statusFor(code)
	if status >= 500 {
		log.Error("request failed", "method", r.Method, "path", r.URL.Path, "code", string(code), "error", err)
	}
	writeJSON(w, status, errorBody{Code: code, Message: err.Error()})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return exam.Validation("api.decode", "bad json: "+err.Error())
	}
	return nil
}
