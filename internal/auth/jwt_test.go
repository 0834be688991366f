package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue("t-101", RoleTeacher, "geoattend", "secret", time.Minute, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	claims, err := Parse(pair.AccessToken, "secret", "geoattend")
	require.NoError(t, err)
	require.Equal(t, "t-101", claims.Subject)
	require.Equal(t, RoleTeacher, claims.Role)
}

func TestParseRejectsWrongKeyAndIssuer(t *testing.T) {
	pair, err := Issue("s-7", RoleStudent, "geoattend", "secret", time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "other-secret", "geoattend")
	require.Error(t, err)

	_, err = Parse(pair.AccessToken, "secret", "someone-else")
	require.Error(t, err)
}

func TestParseRejectsExpired(t *testing.T) {
	pair, err := Issue("s-7", RoleStudent, "geoattend", "secret", -time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "secret", "geoattend")
	require.Error(t, err)
}
