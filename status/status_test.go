package status

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromHTTPStatus(t *testing.T) {
	cases := map[int]Code{
		400: Internal,
		401: Unauthenticated,
		403: PermissionDenied,
		404: Unimplemented,
		418: Unknown,
		429: Unavailable,
		502: Unavailable,
		503: Unavailable,
		504: Unavailable,
		500: Unavailable,
		599: Unavailable,
		999: Unknown,
	}

	for httpStatus, want := range cases {
		assert.Equal(t, want, FromHTTPStatus(httpStatus), "status %d", httpStatus)
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(Internal, "failed", cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, Internal, err.Code)
	assert.Contains(t, err.Error(), "boom")
}

func TestNewHasNoCause(t *testing.T) {
	err := New(NotFound, "missing")
	assert.Nil(t, err.Unwrap())
	assert.Equal(t, "rpc error: code = NOT_FOUND desc = missing", err.Error())
}
