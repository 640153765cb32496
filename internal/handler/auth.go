package handler

import (
	"net/http"

	appI18n "github.com/ajay-kaushal/examaii-main/internal/i18n"
	"github.com/ajay-kaushal/examaii-main/internal/model"
)

type authResponse struct {
	UID         string     `json:"uid"`
	Email       string     `json:"email"`
	Role        model.Role `json:"role"`
	DisplayName string     `json:"displayName,omitempty"`
	HasAPIKey   bool       `json:"hasApiKey"`
}

func authResponseFrom(info *model.AuthInfo) authResponse {
	return authResponse{
		UID:         info.User.UID,
		Email:       info.User.Email,
		Role:        info.Profile.Role,
		DisplayName: info.Profile.DisplayName,
		HasAPIKey:   info.Profile.GeminiAPIKey != "",
	}
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string     `json:"email"`
		Password    string     `json:"password"`
		Role        model.Role `json:"role"`
		DisplayName string     `json:"displayName"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	info, err := h.auth.Register(r.Context(), req.Email, req.Password, req.Role, req.DisplayName)
	if err != nil {
		writeError(w, err)
		return
	}

	token, err := h.auth.IssueToken(info.User.UID, info.Profile.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	h.auth.SetSessionCookie(w, token)
	writeJSON(w, http.StatusCreated, authResponseFrom(info))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	info, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	token, err := h.auth.IssueToken(info.User.UID, info.Profile.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	h.auth.SetSessionCookie(w, token)
	writeJSON(w, http.StatusOK, authResponseFrom(info))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.auth.ClearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": appI18n.T(r.Context(), "SignedOut")})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	info := model.AuthFromContext(r.Context())
	writeJSON(w, http.StatusOK, authResponseFrom(info))
}

func (h *Handler) handleUpdateGeminiKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey string `json:"apiKey"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	info := model.AuthFromContext(r.Context())
	if err := h.auth.UpdateGeminiKey(r.Context(), info.User.UID, req.APIKey); err != nil {
		writeError(w, err)
		return
	}

	msgID := "KeySaved"
	if req.APIKey == "" {
		msgID = "KeyRemoved"
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": appI18n.T(r.Context(), msgID)})
}
