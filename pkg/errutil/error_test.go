package errutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestBaseErrorWrapping(t *testing.T) {
	cause := errors.New("seat table locked")
	err := Conflict("no seats available", cause,
		WithMeta(map[string]int{"maxSeats": 3}),
		WithRetryAfter(30*time.Second),
	)

	require.ErrorIs(t, err, cause)
	require.Equal(t, StatusConflict, StatusOf(err))
	require.Equal(t, StatusConflict, StatusOf(fmt.Errorf("acquire: %w", err)))
	require.Equal(t, "[CONFLICT] no seats available: seat table locked", err.Error())

	be, ok := As(err)
	require.True(t, ok)
	require.Equal(t, 30*time.Second, be.RetryAfter)
	require.Equal(t, map[string]int{"maxSeats": 3}, be.Meta)
}

func TestStatusOfForeignError(t *testing.T) {
	require.Equal(t, CoreStatus(""), StatusOf(nil))
	require.Equal(t, StatusInternal, StatusOf(errors.New("boom")))
}

func TestHTTPAndGRPCMapping(t *testing.T) {
	cases := []struct {
		status CoreStatus
		http   int
		grpc   codes.Code
	}{
		{StatusBadRequest, http.StatusBadRequest, codes.InvalidArgument},
		{StatusNotFound, http.StatusNotFound, codes.NotFound},
		{StatusConflict, http.StatusConflict, codes.AlreadyExists},
		{StatusTooManyRequests, http.StatusTooManyRequests, codes.ResourceExhausted},
		{StatusServiceUnavailable, http.StatusServiceUnavailable, codes.Unavailable},
		{StatusInternal, http.StatusInternalServerError, codes.Internal},
	}

	for _, tc := range cases {
		require.Equal(t, tc.http, tc.status.HTTPStatus(), tc.status)
		require.Equal(t, tc.grpc, tc.status.GRPCCode(), tc.status)
	}
}

func TestToGRPCError(t *testing.T) {
	require.NoError(t, ToGRPCError(nil))

	st, ok := status.FromError(ToGRPCError(NotFound("license not found", nil)))
	require.True(t, ok)
	require.Equal(t, codes.NotFound, st.Code())
	require.Equal(t, "license not found", st.Message())

	// the wrapped cause of a panic must not reach the client
	st, _ = status.FromError(ToGRPCError(Internal("internal server error", errors.New("nil map write in sweeper"))))
	require.Equal(t, codes.Internal, st.Code())
	require.Equal(t, "internal server error", st.Message())

	st, _ = status.FromError(ToGRPCError(errors.New("dial tcp 10.0.0.3:5432: refused")))
	require.Equal(t, codes.Internal, st.Code())
	require.NotContains(t, st.Message(), "10.0.0.3")
}
