package service

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"math/rand/v2"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/NoraXie/echoid/internal/audit"
	"github.com/NoraXie/echoid/internal/config"
	"github.com/NoraXie/echoid/internal/models"
	redisrepo "github.com/NoraXie/echoid/internal/repository/redis"
	"github.com/NoraXie/echoid/internal/secure"
	"github.com/NoraXie/echoid/internal/util"
)

const (
	defaultURLScheme = "echoid"
	fallbackDelayMs  = 2000
)

var androidUA = regexp.MustCompile(`(?i)android`)

var launchPage = template.Must(template.New("launch").Parse(`<!DOCTYPE html>
<html lang="es">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Abriendo la aplicación</title>
<style>
body{font-family:-apple-system,BlinkMacSystemFont,"Segoe UI",Roboto,sans-serif;text-align:center;padding:48px 16px;color:#222}
#fallback{display:none;margin-top:24px;padding:12px 24px;background:#25d366;color:#fff;border-radius:6px;text-decoration:none}
</style>
</head>
<body>
<p>Abriendo la aplicación...</p>
<a id="fallback" href="{{.Fallback}}">Abrir la aplicación</a>
<script>
(function () {
  var ua = navigator.userAgent || "";
  var target = /android/i.test(ua) ? {{.Intent}} : {{.Scheme}};
  window.location.href = target;
  setTimeout(function () {
    document.getElementById("fallback").style.display = "inline-block";
  }, {{.DelayMs}});
})();
</script>
</body>
</html>
`))

// LinkService builds the relay, short and app-launch links that keep the
// bot number and the OTP out of predictable URLs.
type LinkService struct {
	cfg        config.EchoConfig
	sessions   *redisrepo.SessionCache
	shortLinks *redisrepo.ShortLinkCache
	recorder   audit.Recorder
	logger     *zap.Logger
}

func NewLinkService(cfg *config.Config, sessions *redisrepo.SessionCache, shortLinks *redisrepo.ShortLinkCache, recorder audit.Recorder) *LinkService {
	return &LinkService{
		cfg:        cfg.Echo,
		sessions:   sessions,
		shortLinks: shortLinks,
		recorder:   recorder,
		logger:     util.Named("links"),
	}
}

// RelayLink is the link returned by Init.
func (s *LinkService) RelayLink(token string) string {
	return withScheme(s.cfg.HostURL) + "/v1/go/" + token
}

// ChannelURL returns the wa.me URL that pre-fills token for the bot number.
func (s *LinkService) ChannelURL(ctx context.Context, token string) (string, error) {
	token = strings.ToUpper(strings.TrimSpace(token))
	if !secure.IsValidToken(token) {
		return "", ErrSessionNotFound
	}

	exists, err := s.sessions.Exists(ctx, token)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", ErrSessionNotFound
	}
	return "https://wa.me/" + s.cfg.BotPhoneNumber + "?text=" + url.QueryEscape(token), nil
}

// CreateShortLink stores {token, otp} under a fresh slug on a random link domain.
func (s *LinkService) CreateShortLink(ctx context.Context, token, otp string) (string, error) {
	slug, err := secure.NewSlug()
	if err != nil {
		return "", fmt.Errorf("failed to generate slug: %w", err)
	}
	if err := s.shortLinks.SetShortLink(ctx, slug, models.ShortLink{Token: token, OTP: otp}, s.cfg.ShortLinkTTL); err != nil {
		return "", err
	}
	return s.pickHost() + "/q/" + slug, nil
}

func (s *LinkService) pickHost() string {
	if n := len(s.cfg.LinkDomains); n > 0 {
		return withScheme(s.cfg.LinkDomains[rand.IntN(n)])
	}
	return withScheme(s.cfg.HostURL)
}

// ResolveShortLink returns the launch targets for slug. The short link is
// left in place until it expires.
func (s *LinkService) ResolveShortLink(ctx context.Context, slug string) (models.LaunchTargets, error) {
	link, err := s.shortLinks.GetShortLink(ctx, slug)
	if err != nil {
		if errors.Is(err, redisrepo.ErrShortLinkNotFound) {
			return models.LaunchTargets{}, ErrLinkNotFound
		}
		return models.LaunchTargets{}, err
	}
	if !secure.IsValidToken(link.Token) || !secure.IsValidOTP(link.OTP) {
		return models.LaunchTargets{}, fmt.Errorf("%w: malformed short link data", ErrInvalidInput)
	}

	var packageName, tenantID string
	if session, err := s.sessions.Get(ctx, link.Token); err == nil {
		packageName = session.PackageName
		tenantID = session.TenantID
	} else if !errors.Is(err, redisrepo.ErrSessionNotFound) {
		s.logger.Warn("Session lookup failed while resolving short link", zap.Error(err))
	}

	s.recorder.VerificationEvent(ctx, models.VerificationEvent{
		EventID:   uuid.NewString(),
		EventType: models.VerificationEventLinkOpened,
		TenantID:  tenantID,
		Token:     link.Token,
		CreatedAt: time.Now().UTC(),
	})
	return s.Targets(link.Token, link.OTP, packageName), nil
}

// Targets builds the scheme, Android intent and fallback URLs. packageName
// falls back to the configured Android package.
func (s *LinkService) Targets(token, otp, packageName string) models.LaunchTargets {
	scheme := s.cfg.URLScheme
	if scheme == "" {
		scheme = defaultURLScheme
	}
	if packageName == "" {
		packageName = s.cfg.AndroidPackageName
	}

	query := "token=" + url.QueryEscape(token) + "&otp=" + url.QueryEscape(otp)
	schemeURL := scheme + "://login?" + query

	intent := "intent://login?" + query + "#Intent;scheme=" + scheme + ";"
	if packageName != "" {
		intent += "package=" + packageName + ";"
	}
	intent += "end;"

	return models.LaunchTargets{Scheme: schemeURL, Intent: intent, Fallback: schemeURL}
}

// JumpTarget serves the legacy /jump endpoint.
func (s *LinkService) JumpTarget(token, otp string) (string, error) {
	if !secure.IsValidToken(token) || !secure.IsValidOTP(otp) {
		return "", ErrInvalidInput
	}
	return s.Targets(token, otp, "").Scheme, nil
}

// RedirectMode reports whether short links answer with a page or a redirect.
func (s *LinkService) RedirectMode() string {
	if s.cfg.RedirectMode == "" {
		return config.RedirectModePage
	}
	return s.cfg.RedirectMode
}

// RedirectTarget picks the intent URL for Android user agents and the scheme URL otherwise.
func RedirectTarget(targets models.LaunchTargets, userAgent string) string {
	if IsAndroid(userAgent) {
		return targets.Intent
	}
	return targets.Scheme
}

func IsAndroid(userAgent string) bool {
	return androidUA.MatchString(userAgent)
}

// RenderLaunchPage writes the HTML page that tries the app and then shows a manual link.
func RenderLaunchPage(w io.Writer, targets models.LaunchTargets) error {
	// The URLs are built here from validated values, so their custom schemes are trusted.
	return launchPage.Execute(w, struct {
		Scheme   template.URL
		Intent   template.URL
		Fallback template.URL
		DelayMs  int
	}{
		Scheme:   template.URL(targets.Scheme),
		Intent:   template.URL(targets.Intent),
		Fallback: template.URL(targets.Fallback),
		DelayMs:  fallbackDelayMs,
	})
}

func withScheme(host string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	return host
}
