package aijudge

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AIJudge-Chain/internal/api"
	"AIJudge-Chain/internal/auth"
)

func TestJWTProtectedStack(t *testing.T) {
	svc, err := auth.NewService(auth.Config{
		Mode: auth.ModeJWT,
		JWT:  auth.JWTConfig{Secret: strings.Repeat("s", 32), Issuer: "aijudged"},
	})
	require.NoError(t, err)
	client := startStack(t, api.WithAuth(svc), api.WithSubmitRateLimit(1, 1))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	submission := Submission{
		ID:       "dispute-jwt",
		MarketID: "eth-merge",
		Evidence: "The merge happened.",
		Salt:     "fedcba9876543210fedcba",
		Analysis: "YES confidence: 70%",
	}
	_, err = client.SubmitAttestation(ctx, submission)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	reader, err := svc.Issue("auditor", []string{auth.PermissionRead}, time.Minute)
	require.NoError(t, err)
	client.SetAccessToken(reader)
	_, err = client.SubmitAttestation(ctx, submission)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)

	writer, err := svc.Issue("oracle", []string{auth.PermissionSubmit, auth.PermissionRead}, time.Minute)
	require.NoError(t, err)
	client.SetAccessToken(writer)
	submitted, err := client.SubmitAttestation(ctx, submission)
	require.NoError(t, err)

	second := submission
	second.ID = "dispute-jwt-2"
	_, err = client.SubmitAttestation(ctx, second)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, string(api.CodeRateLimited), apiErr.Code)

	done, err := client.WaitForAttestation(ctx, submitted.ID, 10*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, done.Result)
	assert.Equal(t, "YES", done.Result.Outcome)
	assert.EqualValues(t, 7000, done.Result.Confidence)
	assert.True(t, done.Result.Linked)
}
