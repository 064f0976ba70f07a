package protocol

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromSQLState(t *testing.T) {
	tests := []struct {
		state  string
		want   ErrorCode
		reason string
	}{
		{"R0000", CodeError, "Error"},
		{"R0007", CodeUnknownUser, "UnknownUser"},
		{"R0009", CodeInvalidPassword, "InvalidPassword"},
		{"R000A", CodeInvalidToken, "InvalidToken"},
		{"R001G", CodeInternalError, "InternalError"},
		{"22P02", CodeInvalidEnumLevel, "InvalidEnumLevel"},
		{"r0009", CodeInvalidPassword, "InvalidPassword"},
	}
	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			got, err := FromSQLState(tt.state)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			reason, ok := got.CanonicalReason()
			assert.True(t, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestFromSQLStateRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "R00-9", "ZZZZZZZ", "é"} {
		_, err := FromSQLState(s)
		assert.Error(t, err, s)
	}
}

func TestSQLStateInverse(t *testing.T) {
	assert.Equal(t, "R0009", CodeInvalidPassword.SQLState())
	back, err := FromSQLState(CodeUnknownUser.SQLState())
	require.NoError(t, err)
	assert.Equal(t, CodeUnknownUser, back)
}

func TestFromStatusLossless(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError} {
		code := FromStatus(status)
		assert.EqualValues(t, status, code.Uint32())
		got, ok := code.Status()
		assert.True(t, ok)
		assert.Equal(t, status, got)
	}
}

func TestCanonicalReason(t *testing.T) {
	reason, ok := CodeNotFound.CanonicalReason()
	assert.True(t, ok)
	assert.Equal(t, "Not Found", reason)

	_, ok = ErrorCode(599).CanonicalReason()
	assert.False(t, ok)
	_, ok = ErrorCode(45349650).CanonicalReason() // R000I 未分配
	assert.False(t, ok)
	_, ok = ErrorCode(0).CanonicalReason()
	assert.False(t, ok)

	assert.Equal(t, "45349641 InvalidPassword", CodeInvalidPassword.String())
	assert.Equal(t, "7", ErrorCode(7).String())
}
