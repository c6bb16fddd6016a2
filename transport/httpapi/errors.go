package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ThorbenD/htlc-rental-escrow/domain"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var statuses = []struct {
	err    error
	status int
}{
	{domain.ErrNotFound, http.StatusNotFound},
	{domain.ErrUnauthorized, http.StatusForbidden},
	{domain.ErrIncorrectPayment, http.StatusPaymentRequired},
	{domain.ErrFundsNotReceived, http.StatusPaymentRequired},
	{domain.ErrInvalidState, http.StatusConflict},
	{domain.ErrTimeNotReached, http.StatusConflict},
	{domain.ErrInvalidPreimage, http.StatusUnprocessableEntity},
	{domain.ErrInvalidInput, http.StatusBadRequest},
}

func statusFor(err error) int {
	for _, s := range statuses {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		// Accounting faults and ledger errors stay in the server log.
		msg = "internal error"
	}
	c.JSON(status, errorResponse{Error: domain.Kind(err), Message: msg})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_input", Message: msg})
}
