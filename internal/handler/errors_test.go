package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/lostfound/internal/model"
	"github.com/hitoshi/lostfound/internal/repository"
)

func TestHandleServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"未認証", model.ErrNotAuthenticated, http.StatusUnauthorized, model.ErrCodeUnauthorized},
		{"権限なし", fmt.Errorf("update: %w", model.ErrNotAuthorized), http.StatusForbidden, model.ErrCodeForbidden},
		{"投稿なし(APIError)", model.NewItemNotFoundError("x"), http.StatusNotFound, model.ErrCodeItemNotFound},
		{"投稿なし(リポジトリ)", &model.PersistenceError{Op: "update", Err: repository.ErrNotFound}, http.StatusNotFound, model.ErrCodeItemNotFound},
		{"入力値エラー", &model.ValidationError{Field: "title", Reason: "required"}, http.StatusBadRequest, model.ErrCodeValidation},
		{"不正な絞り込み", model.NewInvalidFilterError("status", "x"), http.StatusBadRequest, model.ErrCodeInvalidFilter},
		{"メール重複", model.NewAuthError(model.AuthReasonEmailTaken, nil), http.StatusConflict, model.ErrCodeEmailTaken},
		{"弱いパスワード", model.NewAuthError(model.AuthReasonWeakPassword, nil), http.StatusBadRequest, model.ErrCodeValidation},
		{"不正なメール", model.NewAuthError(model.AuthReasonInvalidEmail, nil), http.StatusBadRequest, model.ErrCodeValidation},
		{"メール未確認", model.NewAuthError(model.AuthReasonNotConfirmed, nil), http.StatusUnauthorized, model.ErrCodeAuthFailed},
		{"認証情報不一致", model.NewAuthError(model.AuthReasonInvalidCredentials, nil), http.StatusUnauthorized, model.ErrCodeAuthFailed},
		{"認証基盤エラー", model.NewAuthError(model.AuthReasonProvider, errors.New("redis down")), http.StatusInternalServerError, model.ErrCodeInternal},
		{"アップロード失敗", &model.UploadError{Err: errors.New("s3")}, http.StatusBadGateway, model.ErrCodeUploadFailed},
		{"保存失敗", &model.PersistenceError{Op: "insert", Err: errors.New("conn")}, http.StatusInternalServerError, model.ErrCodePersistFailed},
		{"不明なエラー", errors.New("boom"), http.StatusInternalServerError, model.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handleServiceError(w, tt.err)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			body := decodeAPIError(t, w)
			if body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
			if body.Message == "" || body.Action == "" {
				t.Errorf("message and action must be set: %+v", body)
			}
		})
	}
}

func TestMapAPIErrorToHTTPStatus_Unknown(t *testing.T) {
	if got := mapAPIErrorToHTTPStatus(&model.APIError{Code: "SOMETHING"}); got != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", got, http.StatusInternalServerError)
	}
}
