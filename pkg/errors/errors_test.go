package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestError_IsByCode(t *testing.T) {
	wrapped := Wrap(ErrSwapFailed, errors.New("router reverted"))
	assert.True(t, Is(wrapped, ErrSwapFailed))
	assert.False(t, Is(wrapped, ErrPriceUnavailable))

	chained := fmt.Errorf("enter: %w", ErrRoundFull.WithMessage("round 3 full"))
	assert.True(t, Is(chained, ErrRoundFull))
	assert.Equal(t, "ROUND_FULL", GetCode(chained))
	assert.Equal(t, "round 3 full", GetMessage(chained))
}

func TestError_CopyDoesNotMutateSentinel(t *testing.T) {
	e := ErrDuplicateEntry.WithDetail("player", "0x1")
	assert.Nil(t, ErrDuplicateEntry.Details)
	assert.Equal(t, "0x1", e.Details["player"])
}

func TestWrap(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	e := Wrapf(ErrMessageSendFailed, cause, "dest %d", 137)
	assert.ErrorIs(t, e, cause)
	assert.Contains(t, e.Error(), "dest 137")
}

func TestClassification(t *testing.T) {
	assert.True(t, IsPrecondition(ErrRoundFull))
	assert.False(t, IsDependency(ErrRoundFull))
	assert.True(t, IsDependency(Wrap(ErrOracleInvalid, errors.New("stale"))))
	assert.False(t, IsPrecondition(errors.New("plain")))
}

func TestToHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"round full", ErrRoundFull, http.StatusConflict},
		{"unauthorized", ErrUnauthorized, http.StatusForbidden},
		{"plain", errors.New("x"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToHTTPStatus(tt.err))
		})
	}
}

func TestToGRPCError(t *testing.T) {
	assert.Nil(t, ToGRPCError(nil))
	st, ok := status.FromError(ToGRPCError(ErrGameNotFound))
	assert.True(t, ok)
	assert.Equal(t, codes.NotFound, st.Code())

	st, _ = status.FromError(ToGRPCError(errors.New("boom")))
	assert.Equal(t, codes.Internal, st.Code())
}

func TestToGRPCError_KeepsStatus(t *testing.T) {
	in := status.Error(codes.DeadlineExceeded, "slow")
	st, ok := status.FromError(ToGRPCError(in))
	assert.True(t, ok)
	assert.Equal(t, codes.DeadlineExceeded, st.Code())

	st, _ = status.FromError(ToGRPCError(Wrap(ErrDepositClaimed, errors.New("dup"))))
	assert.Equal(t, codes.AlreadyExists, st.Code())
}
