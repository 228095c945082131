package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/xmlangel/testcasecraft-sub009/internal/services"
	"github.com/xmlangel/testcasecraft-sub009/internal/syncerr"
	"github.com/xmlangel/testcasecraft-sub009/pkg/logger"
	"github.com/xmlangel/testcasecraft-sub009/pkg/response"
)

// toAppError maps sync error kinds onto HTTP responses.
func toAppError(err error) *response.AppError {
	if errors.Is(err, services.ErrSyncInFlight) {
		return response.NewConflict(err.Error())
	}

	msg := syncerr.Summary(err)
	switch syncerr.KindOf(err) {
	case syncerr.KindConfigMissing:
		return response.NewPreconditionFailed(msg)
	case syncerr.KindInvalidIssueKey:
		return response.NewBadRequest(msg)
	case syncerr.KindIssueNotFound, syncerr.KindRecordNotFound:
		return response.NewNotFound(msg)
	case syncerr.KindAuthFailure, syncerr.KindMalformedResponse:
		return response.NewBadGateway(msg)
	case syncerr.KindTransientNetwork, syncerr.KindRateLimited:
		return response.NewServiceUnavailable(msg)
	case syncerr.KindEncryptionError:
		return response.NewServerError(msg)
	}
	return response.NewServerError(err.Error())
}

func respondError(c *gin.Context, err error) {
	appErr := toAppError(err)
	if appErr.HTTPStatus >= 500 {
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("[API] Request failed")
	}
	response.Error(c, appErr)
}
