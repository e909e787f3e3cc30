package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/lostfound/internal/middleware"
	"github.com/hitoshi/lostfound/internal/model"
	"github.com/hitoshi/lostfound/internal/user"
)

// UserServiceInterface はプロフィールの参照・更新サービスのインターフェース。
type UserServiceInterface interface {
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
	UpdateProfile(ctx context.Context, userID string, in user.ProfileUpdate) (*model.Profile, error)
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	items   ItemServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, items ItemServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
		items:   items,
	}
}

// profileUpdateRequest はプロフィール更新のリクエストボディ。省略したフィールドは変更しない。
type profileUpdateRequest struct {
	FullName  *string `json:"full_name"`
	AvatarURL *string `json:"avatar_url"`
}

// MyItems はログインユーザー自身の投稿を新しい順に返す。
// GET /api/users/me/items
func (h *UserHandler) MyItems(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	items, err := h.items.ListByOwner(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": toItemResponses(items)})
}

// UpdateProfile は氏名とアバターURLを更新する。
// PATCH /api/users/me
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req profileUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("JSON形式で指定してください"))
		return
	}
	if req.FullName == nil && req.AvatarURL == nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("full_name または avatar_url を指定してください"))
		return
	}

	profile, err := h.service.UpdateProfile(r.Context(), userID, user.ProfileUpdate{
		FullName:  req.FullName,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toMeResponse(profile))
}
