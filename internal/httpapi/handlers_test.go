package httpapi

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/sentinelrtgs/core/internal/domain"
)

func TestHTTPStatusForErr(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", domain.ErrValidation, http.StatusBadRequest},
		{"invalid_xml", domain.ErrInvalidXML, http.StatusBadRequest},
		{"notfound", domain.ErrAccountNotFound, http.StatusNotFound},
		{"replay", domain.ErrReplayViolation, http.StatusConflict},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"canceled", context.Canceled, http.StatusRequestTimeout}, // if you choose 408
		{"other", errors.New("x"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := httpStatusForErr(tc.err)
			if got != tc.want {
				t.Fatalf("got %d want %d", got, tc.want)
			}
		})
	}
}
