package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NoraXie/echoid/internal/models"
	"github.com/NoraXie/echoid/internal/secure"
)

func TestInit_CreatesPendingSession(t *testing.T) {
	h := newHarness(t)

	resp, err := h.factory.VerificationService().Init(context.Background(), InitRequest{
		APIKey:        testAPIKey,
		AppName:       "Acme",
		CodeChallenge: secure.ChallengeS256(testVerifier),
		PackageName:   "com.acme.app",
		Phone:         "+" + userPhone,
	})
	require.NoError(t, err)

	assert.True(t, secure.IsValidToken(resp.Token))
	assert.Equal(t, "https://id.example.com/v1/go/"+resp.Token, resp.DeepLink)
	assert.Equal(t, 600, resp.ExpiresIn)

	s := h.session(t, resp.Token)
	assert.Equal(t, models.SessionPending, s.State)
	assert.Equal(t, testTenantID, s.TenantID)
	assert.Equal(t, userPhone, s.Phone)
	assert.Equal(t, "com.acme.app", s.PackageName)
	assert.Empty(t, s.WaID)
	assert.Equal(t, h.cfg.Echo.SessionTTL, h.mr.TTL("session:"+resp.Token))
}

func TestInit_TenantErrors(t *testing.T) {
	h := newHarness(t)
	svc := h.factory.VerificationService()
	req := InitRequest{APIKey: testAPIKey, AppName: "Acme", CodeChallenge: secure.ChallengeS256(testVerifier)}

	_, err := svc.Init(context.Background(), InitRequest{APIKey: "eid_unknown", AppName: "Acme"})
	assert.ErrorIs(t, err, ErrInvalidAPIKey)

	_, err = svc.Init(context.Background(), InitRequest{AppName: "Acme"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	h.tenants.byKey[testAPIKey].BalanceMicros = 0
	_, err = svc.Init(context.Background(), req)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	h.tenants.byKey[testAPIKey].BalanceMicros = 1
	h.tenants.byKey[testAPIKey].IsActive = false
	_, err = svc.Init(context.Background(), req)
	assert.ErrorIs(t, err, ErrTenantInactive)
}

func TestInit_PhoneRateLimit(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < h.cfg.Echo.InitRateLimit; i++ {
		h.init(t, userPhone)
	}

	_, err := h.factory.VerificationService().Init(context.Background(), InitRequest{
		APIKey:  testAPIKey,
		AppName: "Acme",
		Phone:   userPhone,
	})
	assert.ErrorIs(t, err, ErrRateLimited)

	// a different phone has its own window
	h.init(t, otherPhone)
}

// Init, claim from the bound phone, then verify with OTP and PKCE.
func TestEndToEnd_BoundPhone(t *testing.T) {
	h := newHarness(t)
	token := h.init(t, userPhone)

	require.Equal(t, models.WebhookStatusOK, h.send(userPhone+"@c.us", "Login "+token, "wamid.1").Status)
	otp := lastOTP(t, h.messenger)

	resp, err := h.factory.VerificationService().Verify(context.Background(), VerifyRequest{
		Token:        strings.ToLower(token),
		OTP:          otp,
		CodeVerifier: testVerifier,
	})
	require.NoError(t, err)
	assert.Equal(t, &VerifyResponse{Status: "verified", WaID: userPhone + "@c.us"}, resp)

	s := h.session(t, token)
	assert.Equal(t, models.SessionVerified, s.State)
	assert.NotNil(t, s.VerifiedAt)

	// replay
	_, err = h.factory.VerificationService().Verify(context.Background(), VerifyRequest{Token: token, OTP: otp, CodeVerifier: testVerifier})
	assert.ErrorIs(t, err, ErrOTPNotFound)
}

// Init without a phone; whoever answers first is bound, a second sender is rejected.
func TestEndToEnd_LazyBindingAndHijack(t *testing.T) {
	h := newHarness(t)
	token := h.init(t, "")

	require.Equal(t, models.WebhookStatusOK, h.send(otherPhone, token, "wamid.1").Status)
	otp := lastOTP(t, h.messenger)

	assert.Equal(t, models.Ignored(models.ReasonAlreadyClaimed), h.send(userPhone, token, "wamid.2"))

	resp, err := h.factory.VerificationService().Verify(context.Background(), VerifyRequest{Token: token, OTP: otp, CodeVerifier: testVerifier})
	require.NoError(t, err)
	assert.Equal(t, otherPhone, resp.WaID)
}

func TestVerify_WrongOTPConsumesIt(t *testing.T) {
	h := newHarness(t)
	token := h.init(t, userPhone)
	require.Equal(t, models.WebhookStatusOK, h.send(userPhone, token, "wamid.1").Status)
	otp := lastOTP(t, h.messenger)

	wrong := "0000"
	if otp == wrong {
		wrong = "1111"
	}
	_, err := h.factory.VerificationService().Verify(context.Background(), VerifyRequest{Token: token, OTP: wrong, CodeVerifier: testVerifier})
	assert.ErrorIs(t, err, ErrInvalidOTP)
	assert.Contains(t, h.recorder.securityTypes(), models.SecurityEventOTPMismatch)

	_, err = h.factory.VerificationService().Verify(context.Background(), VerifyRequest{Token: token, OTP: otp, CodeVerifier: testVerifier})
	assert.ErrorIs(t, err, ErrOTPNotFound)
	assert.Equal(t, models.SessionClaimed, h.session(t, token).State)
}

func TestVerify_PKCEFailure(t *testing.T) {
	h := newHarness(t)
	token := h.init(t, userPhone)
	require.Equal(t, models.WebhookStatusOK, h.send(userPhone, token, "wamid.1").Status)
	otp := lastOTP(t, h.messenger)

	mutated := []byte(testVerifier)
	mutated[0] ^= 0x01
	_, err := h.factory.VerificationService().Verify(context.Background(), VerifyRequest{Token: token, OTP: otp, CodeVerifier: string(mutated)})
	assert.ErrorIs(t, err, ErrPKCEFailed)
	assert.Equal(t, models.SessionClaimed, h.session(t, token).State)
	assert.Contains(t, h.recorder.securityTypes(), models.SecurityEventPKCEFailure)
}

func TestVerify_MissingVerifierWhenChallengeSet(t *testing.T) {
	h := newHarness(t)
	token := h.init(t, userPhone)
	require.Equal(t, models.WebhookStatusOK, h.send(userPhone, token, "wamid.1").Status)

	_, err := h.factory.VerificationService().Verify(context.Background(), VerifyRequest{Token: token, OTP: lastOTP(t, h.messenger)})
	assert.ErrorIs(t, err, ErrPKCEFailed)
}

func TestVerify_SessionExpiredAfterOTP(t *testing.T) {
	h := newHarness(t)
	token := h.init(t, userPhone)
	require.Equal(t, models.WebhookStatusOK, h.send(userPhone, token, "wamid.1").Status)
	otp := lastOTP(t, h.messenger)

	h.mr.Del("session:" + token)

	_, err := h.factory.VerificationService().Verify(context.Background(), VerifyRequest{Token: token, OTP: otp, CodeVerifier: testVerifier})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestVerify_FinishedSessionReportsTransitionOnce(t *testing.T) {
	h := newHarness(t)
	token := h.init(t, userPhone)
	require.Equal(t, models.WebhookStatusOK, h.send(userPhone, token, "wamid.1").Status)
	otp := lastOTP(t, h.messenger)

	_, err := h.factory.sessions.Update(context.Background(), token, 0, func(vs *models.VerificationSession) error {
		return vs.MarkVerified(time.Now())
	})
	require.NoError(t, err)

	_, err = h.factory.VerificationService().Verify(context.Background(), VerifyRequest{Token: token, OTP: otp, CodeVerifier: testVerifier})
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, "invalid session state transition: verified -> verified", err.Error())
}

func TestVerify_UnknownToken(t *testing.T) {
	h := newHarness(t)

	_, err := h.factory.VerificationService().Verify(context.Background(), VerifyRequest{Token: "AB2345", OTP: "1234"})
	assert.ErrorIs(t, err, ErrOTPNotFound)
}
