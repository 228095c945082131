package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/xmlangel/testcasecraft-sub009/internal/services"
	"github.com/xmlangel/testcasecraft-sub009/internal/syncerr"
)

func TestToAppError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{syncerr.New(syncerr.KindConfigMissing, "op", "no config"), http.StatusPreconditionFailed},
		{syncerr.New(syncerr.KindInvalidIssueKey, "op", "bad"), http.StatusBadRequest},
		{syncerr.New(syncerr.KindIssueNotFound, "op", "gone"), http.StatusNotFound},
		{syncerr.New(syncerr.KindRecordNotFound, "op", "gone"), http.StatusNotFound},
		{syncerr.New(syncerr.KindAuthFailure, "op", "denied"), http.StatusBadGateway},
		{syncerr.New(syncerr.KindMalformedResponse, "op", "junk"), http.StatusBadGateway},
		{syncerr.New(syncerr.KindTransientNetwork, "op", "reset"), http.StatusServiceUnavailable},
		{syncerr.New(syncerr.KindRateLimited, "op", "slow down"), http.StatusServiceUnavailable},
		{syncerr.New(syncerr.KindEncryptionError, "op", "key"), http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", services.ErrSyncInFlight), http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := toAppError(tt.err).HTTPStatus; got != tt.want {
			t.Errorf("toAppError(%v) = %d, expected %d", tt.err, got, tt.want)
		}
	}
}

func TestToAppError_MessageCarriesKind(t *testing.T) {
	appErr := toAppError(syncerr.New(syncerr.KindConfigMissing, "credential.Resolve", "no active tracker config for user 2"))
	if appErr.Message != "CONFIG_MISSING: no active tracker config for user 2" {
		t.Errorf("Message = %q", appErr.Message)
	}
}
