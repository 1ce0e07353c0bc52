package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/cityofconcourse/concourse/internal/services/session/domain"
)

// tokenCookieName is the cookie fallback for the access token. Browsers
// cannot attach headers to a websocket dial, so join requests may carry the
// token as a cookie instead.
const tokenCookieName = "concourse_token"

type handler struct {
	registry   *Registry
	authorizer Authorizer
}

// NewHandler builds the session HTTP surface without token verification: the
// raw bearer token is taken at face value as the user id and every
// permission is granted. For tests and local development only.
func NewHandler(registry *Registry) http.Handler {
	return NewHandlerWithAuthorizer(registry, insecureAuthorizer{})
}

// NewHandlerWithAuthorizer builds the session HTTP surface with the given
// authorizer enforcing authentication on every session route.
func NewHandlerWithAuthorizer(registry *Registry, authorizer Authorizer) http.Handler {
	h := &handler{registry: registry, authorizer: authorizer}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/v1/sessions", h.createSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}/join", h.joinSession)
	return mux
}

func (h *handler) createSession(w http.ResponseWriter, r *http.Request) {
	user, token, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var body struct {
		CampaignID string `json:"campaign_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "request body must be a JSON object")
		return
	}
	if strings.TrimSpace(body.CampaignID) == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "campaign_id is required")
		return
	}

	result, err := h.registry.Create(r.Context(), body.CampaignID, user, func(ctx context.Context, user domain.User, campaignID string) (bool, error) {
		perms, err := h.authorizer.CampaignPermissions(ctx, token, campaignID)
		if err != nil {
			return false, err
		}
		return perms.Start, nil
	})
	if err != nil {
		log.Printf("session: create session campaign=%q user=%q: %v", body.CampaignID, user.ID, err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not create session")
		return
	}
	if result.Status == CreateUnauthorized {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "you may not start sessions in this campaign")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": result.Hub.ID(),
		"url":        result.Hub.URL(),
	})
}

func (h *handler) joinSession(w http.ResponseWriter, r *http.Request) {
	user, token, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	sessionID := r.PathValue("id")

	resolved, err := h.registry.Resolve(r.Context(), sessionID)
	if err != nil {
		log.Printf("session: resolve session=%q: %v", sessionID, err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not resolve session")
		return
	}
	switch resolved.Status {
	case ResolveNotFound:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "session does not exist")
		return
	case ResolveInactive:
		writeError(w, http.StatusGone, "INACTIVE", "session is not running")
		return
	case ResolveRedirect:
		w.Header().Set("Location", resolved.RedirectURL)
		writeJSON(w, http.StatusTemporaryRedirect, map[string]any{
			"redirect_url": resolved.RedirectURL,
		})
		return
	}

	perms, err := h.authorizer.CampaignPermissions(r.Context(), token, resolved.Hub.CampaignID())
	if err != nil {
		log.Printf("session: campaign permissions session=%q user=%q: %v", sessionID, user.ID, err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not check permissions")
		return
	}
	if !perms.Play {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "you may not play in this campaign")
		return
	}

	// Blocks for the lifetime of the websocket connection. Errors surface
	// only before the upgrade, so writing a response here is still safe.
	if err := resolved.Hub.HandleJoin(w, r, user); err != nil {
		if errors.Is(err, ErrNotStarted) || errors.Is(err, ErrEnded) {
			writeError(w, http.StatusGone, "INACTIVE", "session is not running")
			return
		}
		log.Printf("session: join session=%q user=%q: %v", sessionID, user.ID, err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not join session")
	}
}

func (h *handler) authenticate(w http.ResponseWriter, r *http.Request) (domain.User, string, bool) {
	token := accessTokenFromRequest(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing access token")
		return domain.User{}, "", false
	}
	user, err := h.authorizer.Authenticate(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid access token")
		return domain.User{}, "", false
	}
	return user, token, true
}

func accessTokenFromRequest(r *http.Request) string {
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	if cookie, err := r.Cookie(tokenCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("session: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"code": code, "message": message},
	})
}
