package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/lostfound/internal/model"
	"github.com/hitoshi/lostfound/internal/user"
)

var _ UserServiceInterface = (*user.Service)(nil)

func TestUserHandler_MyItems(t *testing.T) {
	items := &mockItemService{
		listByOwnerFn: func(ctx context.Context, userID string) ([]model.Item, error) {
			if userID != "user-1" {
				t.Errorf("userID = %q, want user-1", userID)
			}
			return []model.Item{*ownedItem("a", "user-1"), *ownedItem("b", "user-1")}, nil
		},
	}
	h := NewUserHandler(&mockUserService{}, items)

	req := withSession(httptest.NewRequest(http.MethodGet, "/api/users/me/items", nil), "user-1")
	w := httptest.NewRecorder()
	h.MyItems(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body struct {
		Items []itemResponse `json:"items"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Items) != 2 || body.Items[0].ID != "a" {
		t.Errorf("items = %+v", body.Items)
	}
}

func TestUserHandler_MyItems_Empty(t *testing.T) {
	h := NewUserHandler(&mockUserService{}, &mockItemService{})

	req := withSession(httptest.NewRequest(http.MethodGet, "/api/users/me/items", nil), "user-1")
	w := httptest.NewRecorder()
	h.MyItems(w, req)

	if got := strings.TrimSpace(w.Body.String()); got != `{"items":[]}` {
		t.Errorf("body = %s, want empty array", got)
	}
}

func TestUserHandler_MyItems_NoSession(t *testing.T) {
	h := NewUserHandler(&mockUserService{}, &mockItemService{})

	w := httptest.NewRecorder()
	h.MyItems(w, httptest.NewRequest(http.MethodGet, "/api/users/me/items", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestUserHandler_UpdateProfile(t *testing.T) {
	var got user.ProfileUpdate
	svc := &mockUserService{
		updateProfileFn: func(ctx context.Context, userID string, in user.ProfileUpdate) (*model.Profile, error) {
			got = in
			return &model.Profile{ID: userID, Email: "a@example.com", FullName: *in.FullName}, nil
		},
	}
	h := NewUserHandler(svc, &mockItemService{})

	req := httptest.NewRequest(http.MethodPatch, "/api/users/me", strings.NewReader(`{"full_name":"Hanako"}`))
	req = withSession(req, "user-1")
	w := httptest.NewRecorder()
	h.UpdateProfile(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got.FullName == nil || *got.FullName != "Hanako" {
		t.Errorf("full_name = %v", got.FullName)
	}
	if got.AvatarURL != nil {
		t.Errorf("avatar_url = %v, want nil", *got.AvatarURL)
	}
	var body meResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.FullName != "Hanako" || body.ID != "user-1" {
		t.Errorf("body = %+v", body)
	}
}

func TestUserHandler_UpdateProfile_BadRequest(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		svcErr   error
		wantCode string
	}{
		{name: "不正なJSON", body: "{", wantCode: model.ErrCodeInvalidRequest},
		{name: "更新項目なし", body: "{}", wantCode: model.ErrCodeInvalidRequest},
		{
			name:     "不正なアバターURL",
			body:     `{"avatar_url":"javascript:alert(1)"}`,
			svcErr:   &model.ValidationError{Field: "avatar_url", Reason: "must be http or https"},
			wantCode: model.ErrCodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockUserService{
				updateProfileFn: func(ctx context.Context, userID string, in user.ProfileUpdate) (*model.Profile, error) {
					if tt.svcErr == nil {
						t.Fatal("service should not be called")
					}
					return nil, tt.svcErr
				},
			}
			h := NewUserHandler(svc, &mockItemService{})

			req := withSession(httptest.NewRequest(http.MethodPatch, "/api/users/me", strings.NewReader(tt.body)), "user-1")
			w := httptest.NewRecorder()
			h.UpdateProfile(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if body := decodeAPIError(t, w); body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}

func TestUserHandler_UpdateProfile_UserNotFound(t *testing.T) {
	svc := &mockUserService{
		updateProfileFn: func(ctx context.Context, userID string, in user.ProfileUpdate) (*model.Profile, error) {
			return nil, model.NewUserNotFoundError()
		},
	}
	h := NewUserHandler(svc, &mockItemService{})

	req := withSession(httptest.NewRequest(http.MethodPatch, "/api/users/me", strings.NewReader(`{"full_name":"x"}`)), "user-1")
	w := httptest.NewRecorder()
	h.UpdateProfile(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestUserHandler_UpdateProfile_StoreError(t *testing.T) {
	svc := &mockUserService{
		updateProfileFn: func(ctx context.Context, userID string, in user.ProfileUpdate) (*model.Profile, error) {
			return nil, errors.New("db down")
		},
	}
	h := NewUserHandler(svc, &mockItemService{})

	req := withSession(httptest.NewRequest(http.MethodPatch, "/api/users/me", strings.NewReader(`{"full_name":"x"}`)), "user-1")
	w := httptest.NewRecorder()
	h.UpdateProfile(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}
