package rest

import (
	"errors"
	"net/http"

	"github.com/dmitrijs2005/feedauth/internal/common"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// Error codes in JSON bodies. Clients branch on these, never on messages.
const (
	codeInvalidRequest     = "invalid_request"
	codeValidationFailed   = "validation_failed"
	codeInvalidCredentials = "invalid_credentials"
	codeInvalidToken       = "invalid_token"
	codeRevokedToken       = "revoked_token"
	codeMissingToken       = "missing_token"
	codeSessionExpired     = "session_expired"
	codeForbidden          = "forbidden"
	codeConflict           = "conflict"
	codeNotFound           = "not_found"
	codeInternal           = "internal_error"
)

type errorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// writeError maps a service error onto a status and a fixed message. Raw
// error text never reaches the client.
func writeError(c *gin.Context, err error) {
	var verr *common.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, errorBody{Error: codeValidationFailed, Message: "Invalid input.", Fields: verr.Fields})
	case errors.Is(err, common.ErrValidation):
		c.JSON(http.StatusBadRequest, errorBody{Error: codeValidationFailed, Message: "Invalid input."})
	case errors.Is(err, common.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, errorBody{Error: codeInvalidCredentials, Message: "Invalid email or password."})
	case errors.Is(err, common.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, errorBody{Error: codeInvalidToken, Message: "Session is invalid or expired."})
	case errors.Is(err, common.ErrRevokedToken):
		c.JSON(http.StatusUnauthorized, errorBody{Error: codeRevokedToken, Message: "Session has been revoked."})
	case errors.Is(err, common.ErrConflict):
		c.JSON(http.StatusConflict, errorBody{Error: codeConflict, Message: "Username or email is already taken."})
	case errors.Is(err, common.ErrorNotFound):
		c.JSON(http.StatusNotFound, errorBody{Error: codeNotFound, Message: "Not found."})
	default:
		c.JSON(http.StatusInternalServerError, errorBody{Error: codeInternal, Message: "Something went wrong."})
	}
}

// writeBindError reports a request body that failed to bind. Validator
// failures list the offending JSON fields.
func writeBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		c.JSON(http.StatusBadRequest, errorBody{Error: codeInvalidRequest, Message: "Malformed request body."})
		return
	}

	fields := common.NewValidationError()
	for _, fe := range verrs {
		fields.Add(fe.Field(), ruleMessage(fe))
	}
	writeError(c, fields)
}
