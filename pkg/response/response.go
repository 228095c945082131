package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the envelope every API call answers with. Code is 0 on
// success and mirrors the HTTP status otherwise.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// AppError carries the HTTP status a handler failure maps to.
type AppError struct {
	HTTPStatus int
	Code       int
	Message    string
}

func (e *AppError) Error() string {
	return e.Message
}

func newAppError(status int, msg string) *AppError {
	return &AppError{HTTPStatus: status, Code: status, Message: msg}
}

func NewBadRequest(msg string) *AppError  { return newAppError(http.StatusBadRequest, msg) }
func NewNotFound(msg string) *AppError    { return newAppError(http.StatusNotFound, msg) }
func NewConflict(msg string) *AppError    { return newAppError(http.StatusConflict, msg) }
func NewBadGateway(msg string) *AppError  { return newAppError(http.StatusBadGateway, msg) }
func NewServerError(msg string) *AppError { return newAppError(http.StatusInternalServerError, msg) }

// NewPreconditionFailed signals that the caller has to configure something
// (a tracker connection) before retrying.
func NewPreconditionFailed(msg string) *AppError {
	return newAppError(http.StatusPreconditionFailed, msg)
}

func NewServiceUnavailable(msg string) *AppError {
	return newAppError(http.StatusServiceUnavailable, msg)
}

func NewTooManyRequests(msg string) *AppError {
	return newAppError(http.StatusTooManyRequests, msg)
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Message: "ok", Data: data})
}

// Accepted answers work handed to the task queue.
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, Response{Message: "accepted", Data: data})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{Message: "created", Data: data})
}

// Error writes err as an envelope. Anything that is not an *AppError becomes
// a 500 carrying err's message.
func Error(c *gin.Context, err error) {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		appErr = NewServerError(err.Error())
	}
	c.JSON(appErr.HTTPStatus, Response{Code: appErr.Code, Message: appErr.Message})
}

func BadRequest(c *gin.Context, msg string)   { Error(c, NewBadRequest(msg)) }
func Unauthorized(c *gin.Context, msg string) { Error(c, newAppError(http.StatusUnauthorized, msg)) }
func Forbidden(c *gin.Context, msg string)    { Error(c, newAppError(http.StatusForbidden, msg)) }
func ServerError(c *gin.Context, msg string)  { Error(c, NewServerError(msg)) }
