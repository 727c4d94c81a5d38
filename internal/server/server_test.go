package server

import (
	"net/http"
	"testing"
	"time"

	"bluff-master/internal/game"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	issuer := newTokenIssuer("secret", time.Hour)
	token, err := issuer.Issue("p1", "r1")
	require.NoError(t, err)

	playerID, roomID, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "p1", playerID)
	assert.Equal(t, "r1", roomID)

	_, _, err = newTokenIssuer("other", time.Hour).Verify(token)
	assert.ErrorIs(t, err, errInvalidToken)
}

func TestTokenExpires(t *testing.T) {
	issuer := newTokenIssuer("secret", time.Minute)
	issued := time.Now()
	issuer.now = func() time.Time { return issued }
	token, err := issuer.Issue("p1", "r1")
	require.NoError(t, err)

	issuer.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, _, err = issuer.Verify(token)
	assert.ErrorIs(t, err, errInvalidToken)
}

func TestStatusForKind(t *testing.T) {
	cases := map[game.Kind]int{
		game.KindNotFound:         http.StatusNotFound,
		game.KindInvalidState:     http.StatusConflict,
		game.KindPermissionDenied: http.StatusForbidden,
		game.KindValidationFailed: http.StatusUnprocessableEntity,
		game.KindExternal:         http.StatusServiceUnavailable,
		game.KindUnknown:          http.StatusInternalServerError,
	}
	for kind, status := range cases {
		assert.Equal(t, status, statusForKind(kind), kind.String())
	}
}

func TestRateLimiterPerClient(t *testing.T) {
	limiter := newRateLimiter(1, 2)
	now := time.Now()
	limiter.now = func() time.Time { return now }

	assert.True(t, limiter.allow("a"))
	assert.True(t, limiter.allow("a"))
	assert.False(t, limiter.allow("a"))
	assert.True(t, limiter.allow("b"))

	now = now.Add(time.Second)
	assert.True(t, limiter.allow("a"))

	now = now.Add(limiterIdleTime + time.Second)
	limiter.allow("c")
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.NotContains(t, limiter.visitors, "a")
	assert.NotContains(t, limiter.visitors, "b")
}

func TestCORSConfig(t *testing.T) {
	open := corsConfig([]string{"*"})
	require.NotNil(t, open.AllowOriginFunc)
	assert.True(t, open.AllowOriginFunc("http://anywhere.test"))

	closed := corsConfig([]string{"http://a.test"})
	assert.Nil(t, closed.AllowOriginFunc)
	assert.Equal(t, []string{"http://a.test"}, closed.AllowOrigins)
}
