package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/NoraXie/echoid/internal/config"
	"github.com/NoraXie/echoid/internal/models"
	"github.com/NoraXie/echoid/internal/service"
	"github.com/NoraXie/echoid/internal/util"
)

const maxBodyBytes = 64 << 10

const notFoundPage = `<!DOCTYPE html>
<html lang="es"><head><meta charset="utf-8"><title>Enlace expirado</title></head>
<body style="font-family:sans-serif;text-align:center;padding:48px 16px">
<h1>Enlace expirado</h1><p>Este enlace ya no es válido. Solicita un nuevo código desde la aplicación.</p>
</body></html>`

const errorPage = `<!DOCTYPE html>
<html lang="es"><head><meta charset="utf-8"><title>Error</title></head>
<body style="font-family:sans-serif;text-align:center;padding:48px 16px">
<h1>Algo salió mal</h1><p>Inténtalo de nuevo en unos minutos.</p>
</body></html>`

// EchoHandler serves the verification API, the channel webhook and the link endpoints.
type EchoHandler struct {
	verification *service.VerificationService
	webhook      *service.WebhookService
	links        *service.LinkService
	validate     *validator.Validate
	logger       *zap.Logger
}

func NewEchoHandler(services *service.ServiceFactory, logger *zap.Logger) *EchoHandler {
	return &EchoHandler{
		verification: services.VerificationService(),
		webhook:      services.WebhookService(),
		links:        services.LinkService(),
		validate:     newValidator(),
		logger:       logger,
	}
}

type simulateRequest struct {
	Phone string `json:"phone" validate:"required,e164ish"`
	Token string `json:"token" validate:"required,min=6,max=10,alphanum"`
}

type simulateResponse struct {
	Status string               `json:"status"`
	Detail string               `json:"detail"`
	Result models.WebhookResult `json:"result"`
}

// RegisterRoutes registers the protocol routes. The init and verify limiters may be nil.
func (h *EchoHandler) RegisterRoutes(router chi.Router, cfg *config.Config, initLimit, verifyLimit func(http.Handler) http.Handler) {
	router.Route("/v1", func(r chi.Router) {
		r.With(optional(initLimit)...).Post("/init", h.Init)
		r.With(optional(verifyLimit)...).Post("/verify", h.Verify)
		r.Get("/go/{token}", h.GoToChannel)
		if cfg.Echo.EnableSimulation {
			r.Post("/simulate/user-send-message", h.Simulate)
		}
	})
	router.Post("/webhook/echob", h.Webhook)
	router.Get("/q/{slug}", h.ShortLink)
	router.Get("/jump", h.Jump)
}

func optional(mw func(http.Handler) http.Handler) []func(http.Handler) http.Handler {
	if mw == nil {
		return nil
	}
	return []func(http.Handler) http.Handler{mw}
}

// Init starts a verification for a tenant.
func (h *EchoHandler) Init(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var req service.InitRequest
	if err := h.decode(r, &req); err != nil {
		respondWithError(h.logger, w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	req.AppName = strings.TrimSpace(req.AppName)
	req.Phone = normalizePhone(req.Phone)
	if err := h.validate.Struct(&req); err != nil {
		respondWithError(h.logger, w, http.StatusBadRequest, validationError(err), "Invalid request")
		return
	}

	resp, err := h.verification.Init(r.Context(), req)
	if err != nil {
		respondWithError(h.logger, w, getStatusCode(err), err, "Failed to initiate verification")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(resp, "Verification initiated"))
	h.logger.Debug("Init served", util.Duration("duration", time.Since(startTime)))
}

// Verify completes a verification with the OTP and PKCE verifier.
func (h *EchoHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req service.VerifyRequest
	if err := h.decode(r, &req); err != nil {
		respondWithError(h.logger, w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondWithError(h.logger, w, http.StatusBadRequest, validationError(err), "Invalid request")
		return
	}

	resp, err := h.verification.Verify(r.Context(), req)
	if err != nil {
		respondWithError(h.logger, w, getStatusCode(err), err, "Verification failed")
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(resp, "Verified"))
}

// GoToChannel redirects the relay link to the bot chat with the token pre-filled.
func (h *EchoHandler) GoToChannel(w http.ResponseWriter, r *http.Request) {
	target, err := h.links.ChannelURL(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		respondWithError(h.logger, w, getStatusCode(err), err, "Session not found or expired")
		return
	}
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// Webhook receives gateway events. The gateway always gets a 200.
func (h *EchoHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	var payload models.WebhookPayload
	if err := h.decode(r, &payload); err != nil {
		h.logger.Debug("Undecodable webhook payload", util.ErrorField(err))
		respondWithJSON(w, http.StatusOK, models.WebhookResult{Status: models.WebhookStatusIgnored})
		return
	}
	respondWithJSON(w, http.StatusOK, h.webhook.HandlePayload(r.Context(), &payload))
}

// Simulate plays the end user's message without the gateway.
func (h *EchoHandler) Simulate(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if err := h.decode(r, &req); err != nil {
		respondWithError(h.logger, w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	req.Phone = normalizePhone(req.Phone)
	if err := h.validate.Struct(&req); err != nil {
		respondWithError(h.logger, w, http.StatusBadRequest, validationError(err), "Invalid request")
		return
	}

	result := h.webhook.Simulate(r.Context(), req.Phone, req.Token)
	respondWithJSON(w, http.StatusOK, simulateResponse{
		Status: models.WebhookStatusSimulated,
		Detail: "message from " + util.MaskPhone(req.Phone) + " processed",
		Result: result,
	})
}

// ShortLink resolves /q/{slug} to the app, as a launch page or a redirect.
func (h *EchoHandler) ShortLink(w http.ResponseWriter, r *http.Request) {
	targets, err := h.links.ResolveShortLink(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		if errors.Is(err, service.ErrLinkNotFound) {
			h.respondPage(w, r, http.StatusNotFound, notFoundPage, err)
			return
		}
		h.logger.Error("Failed to resolve short link", util.ErrorField(err))
		h.respondPage(w, r, http.StatusInternalServerError, errorPage, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	if h.links.RedirectMode() == config.RedirectModeRedirect {
		http.Redirect(w, r, service.RedirectTarget(targets, r.UserAgent()), http.StatusFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := service.RenderLaunchPage(w, targets); err != nil {
		h.logger.Error("Failed to render launch page", util.ErrorField(err))
	}
}

// Jump is the legacy launch endpoint: /jump?t=<token>&o=<otp>.
func (h *EchoHandler) Jump(w http.ResponseWriter, r *http.Request) {
	target, err := h.links.JumpTarget(r.URL.Query().Get("t"), r.URL.Query().Get("o"))
	if err != nil {
		respondWithError(h.logger, w, http.StatusBadRequest, err, "Invalid link")
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// respondPage answers JSON clients with the envelope and browsers with HTML.
func (h *EchoHandler) respondPage(w http.ResponseWriter, r *http.Request, statusCode int, page string, err error) {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		message := "Link not found or expired"
		if statusCode >= http.StatusInternalServerError {
			message = "Unable to open link"
		}
		respondWithJSON(w, statusCode, errorResponse(statusCode, err, message))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(statusCode)
	_, _ = w.Write([]byte(page))
}

func (h *EchoHandler) decode(r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return err
	}
	return nil
}
