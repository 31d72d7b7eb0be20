package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cohortlive/pkg/types"
)

func newTestVerifier(t *testing.T, issuer string) *Verifier {
	t.Helper()
	v, err := NewVerifier("test-secret", issuer)
	require.NoError(t, err)
	return v
}

func TestNewVerifier_RequiresSecret(t *testing.T) {
	_, err := NewVerifier("  ", "")
	assert.ErrorIs(t, err, ErrSecretRequired)
}

func TestVerifier_RoundTrip(t *testing.T) {
	v := newTestVerifier(t, "cohortlive-test")

	token, err := v.Issue("instructor-1", types.RoleInstructor, time.Hour)
	require.NoError(t, err)

	identity, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "instructor-1", identity.UserID)
	assert.Equal(t, types.RoleInstructor, identity.Role)
	assert.True(t, identity.CanCreateSessions())
}

func TestVerifier_DefaultsRoleToParticipant(t *testing.T) {
	v := newTestVerifier(t, "")

	token, err := v.Issue("p1", "", time.Hour)
	require.NoError(t, err)

	identity, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, types.RoleParticipant, identity.Role)
	assert.False(t, identity.CanCreateSessions())
}

func TestVerifier_RejectsExpired(t *testing.T) {
	v := newTestVerifier(t, "")
	v.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := v.Issue("p1", "", time.Hour)
	require.NoError(t, err)

	v.now = time.Now
	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifier_RejectsWrongSecretIssuerAndAlgorithm(t *testing.T) {
	v := newTestVerifier(t, "cohortlive")

	other, err := NewVerifier("other-secret", "cohortlive")
	require.NoError(t, err)
	forged, err := other.Issue("p1", "", time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer, err := newTestVerifier(t, "someone-else").Issue("p1", "", time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(wrongIssuer)
	assert.ErrorIs(t, err, ErrInvalidToken)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "p1",
			Issuer:    "cohortlive",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = v.Verify(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify("")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = v.Verify("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifier_RejectsMissingExpiryAndSubject(t *testing.T) {
	v := newTestVerifier(t, "")

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "p1"},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = v.Verify(noExp)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = v.Verify(noSub)
	assert.ErrorIs(t, err, ErrMissingSubject)

	_, err = v.Issue("bad id", "", time.Hour)
	assert.ErrorIs(t, err, ErrMissingSubject)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v := newTestVerifier(t, "")

	router := gin.New()
	router.GET("/me", v.Middleware(), func(c *gin.Context) {
		identity, ok := IdentityFromContext(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, identity)
	})

	token, err := v.Issue("p1", types.RoleParticipant, time.Hour)
	require.NoError(t, err)

	cases := []struct {
		name   string
		target string
		header string
		status int
	}{
		{"bearer header", "/me", "Bearer " + token, http.StatusOK},
		{"query token", "/me?access_token=" + token, "", http.StatusOK},
		{"missing", "/me", "", http.StatusUnauthorized},
		{"garbage", "/me", "Bearer garbage", http.StatusUnauthorized},
		{"wrong scheme", "/me", "Basic " + token, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusUnauthorized {
				assert.JSONEq(t, `{"error":"authentication required","code":"AUTHENTICATION_REQUIRED"}`, rec.Body.String())
			} else {
				assert.Contains(t, rec.Body.String(), `"user_id":"p1"`)
			}
		})
	}
}

func TestExtractToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?access_token=query", nil)
	assert.Equal(t, "query", ExtractToken(r))

	r.Header.Set("Authorization", "bearer header")
	assert.Equal(t, "header", ExtractToken(r))
}
