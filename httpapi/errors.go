package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kydenul/luckydraw"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Code    luckydraw.ErrorCode `json:"code"`
	Message string              `json:"message"`
}

// StatusFor maps an engine error onto an HTTP status and public error code
func StatusFor(err error) (int, luckydraw.ErrorCode) {
	code := luckydraw.PublicCode(err)
	switch code {
	case luckydraw.ErrCodeInvalidRequest:
		return http.StatusBadRequest, code
	case luckydraw.ErrCodeUnauthorized:
		return http.StatusUnauthorized, code
	case luckydraw.ErrCodeActivityNotFound:
		return http.StatusNotFound, code
	case luckydraw.ErrCodeNoPrizesAvailable, luckydraw.ErrCodeDrawLimitReached:
		return http.StatusConflict, code
	case luckydraw.ErrCodeSystemBusy:
		return http.StatusServiceUnavailable, code
	default:
		return http.StatusInternalServerError, luckydraw.ErrCodeInternal
	}
}

// publicMessage hides internal details of unexpected failures
func publicMessage(err error, code luckydraw.ErrorCode) string {
	if code == luckydraw.ErrCodeInternal {
		return "an internal server error occurred"
	}
	if de, ok := luckydraw.AsDrawError(err); ok {
		if de.Details != "" {
			return de.Message + ": " + de.Details
		}
		return de.Message
	}
	return err.Error()
}

func abortWithError(c *gin.Context, err error) {
	status, code := StatusFor(err)
	c.AbortWithStatusJSON(status, ErrorResponse{Code: code, Message: publicMessage(err, code)})
}
