package common

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := NotFound(CodeVaultNotFound, "vault %s", "did:key:z1")
	wrapped := fmt.Errorf("get vault: %w", err)

	assert.True(t, errors.Is(wrapped, ErrorNotFound))
	assert.False(t, errors.Is(wrapped, ErrorForbidden))
	assert.Equal(t, CodeVaultNotFound, CodeOf(wrapped))
	assert.Equal(t, "vault did:key:z1", err.Error())
}

func TestKindOf_UntypedIsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, KindVaultFrozen, KindOf(VaultFrozen()))
	assert.Equal(t, 0, CodeOf(errors.New("boom")))
}

func TestInternal_KeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Internal(cause, "write %s", "x")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "write x: disk full", err.Error())
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindInvalidParameter, http.StatusBadRequest},
		{KindDIDError, http.StatusBadRequest},
		{KindBackupInProcess, http.StatusBadRequest},
		{KindUnauthorized, http.StatusUnauthorized},
		{KindForbidden, http.StatusForbidden},
		{KindVaultFrozen, http.StatusForbidden},
		{KindNotFound, http.StatusNotFound},
		{KindAlreadyExists, 455},
		{KindNotImplemented, http.StatusNotImplemented},
		{KindInsufficientStorage, http.StatusInsufficientStorage},
		{KindTooManyRequests, http.StatusTooManyRequests},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.kind))
	}
}
