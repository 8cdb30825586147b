package api

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"medeasy/ledger/domain"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrUnauthorized, http.StatusUnauthorized},
		{fmt.Errorf("pharmacy 3: %w", domain.ErrForbidden), http.StatusForbidden},
		{domain.ErrNoActivePharmacy, http.StatusBadRequest},
		{domain.ErrInsufficientStock, http.StatusUnprocessableEntity},
		{domain.ErrLotNotFound, http.StatusNotFound},
		{domain.ErrDuplicateLot, http.StatusConflict},
		{fmt.Errorf("%w: gave up after 4 attempts: %w", domain.ErrTransient, domain.ErrConflict), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
