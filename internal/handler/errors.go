package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/lostfound/internal/middleware"
	"github.com/hitoshi/lostfound/internal/model"
	"github.com/hitoshi/lostfound/internal/repository"
)

// apiErrorResponse はエラーレスポンスのJSON構造体。ミドルウェアと同じ形式。
type apiErrorResponse = middleware.ErrorResponseBody

// writeAPIErrorResponse はAPIErrorを統一フォーマットで書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// writeJSON は任意の値をJSONで書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// writeUnauthorized は401レスポンスを書き込む。
func writeUnauthorized(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
//
//	*APIError                 → コードに応じたステータス
//	ErrNotAuthenticated       → 401
//	ErrNotAuthorized          → 403
//	repository.ErrNotFound    → 404
//	*ValidationError          → 400
//	*AuthError                → 理由に応じて 400 / 401 / 409 / 500
//	*UploadError              → 502
//	その他（*PersistenceErrorを含む） → 500
func handleServiceError(w http.ResponseWriter, err error) {
	var (
		apiErr    *model.APIError
		valErr    *model.ValidationError
		authErr   *model.AuthError
		uploadErr *model.UploadError
	)

	switch {
	case errors.As(err, &apiErr):
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
	case errors.Is(err, model.ErrNotAuthenticated):
		writeUnauthorized(w)
	case errors.Is(err, model.ErrNotAuthorized):
		writeAPIErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
	case errors.Is(err, repository.ErrNotFound):
		writeAPIErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     model.ErrCodeItemNotFound,
			Message:  "指定された投稿が見つかりません。",
			Category: "item",
			Action:   "一覧を再読み込みしてください。",
		})
	case errors.As(err, &valErr):
		writeAPIErrorResponse(w, http.StatusBadRequest, newValidationAPIError(valErr))
	case errors.As(err, &authErr):
		status, body := mapAuthError(authErr)
		if status == http.StatusInternalServerError {
			slog.Error("identity provider error", slog.String("error", err.Error()))
		}
		writeAPIErrorResponse(w, status, body)
	case errors.As(err, &uploadErr):
		slog.Error("image upload failed", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusBadGateway, &model.APIError{
			Code:     model.ErrCodeUploadFailed,
			Message:  "画像のアップロードに失敗しました。",
			Category: "storage",
			Action:   "しばらく待ってから再度お試しください。投稿は保存されていません。",
		})
	default:
		slog.Error("internal server error", slog.String("error", err.Error()))
		code := model.ErrCodeInternal
		var persistErr *model.PersistenceError
		if errors.As(err, &persistErr) {
			code = model.ErrCodePersistFailed
		}
		writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
			Code:     code,
			Message:  "内部エラーが発生しました。",
			Category: "system",
			Action:   "しばらく待ってから再度お試しください。",
		})
	}
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized, model.ErrCodeAuthFailed:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeItemNotFound, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidRequest, model.ErrCodeInvalidFilter, model.ErrCodeValidation:
		return http.StatusBadRequest
	case model.ErrCodeEmailTaken:
		return http.StatusConflict
	case model.ErrCodeUploadFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// mapAuthError は認証失敗の理由をステータスコードとレスポンスに変換する。
func mapAuthError(err *model.AuthError) (int, *model.APIError) {
	switch err.Reason {
	case model.AuthReasonEmailTaken:
		return http.StatusConflict, &model.APIError{
			Code:     model.ErrCodeEmailTaken,
			Message:  "このメールアドレスは既に登録されています。",
			Category: "auth",
			Action:   "ログインするか、別のメールアドレスを使用してください。",
		}
	case model.AuthReasonWeakPassword:
		return http.StatusBadRequest, newValidationAPIError(&model.ValidationError{
			Field:  "password",
			Reason: "too short",
		})
	case model.AuthReasonInvalidEmail:
		return http.StatusBadRequest, newValidationAPIError(&model.ValidationError{
			Field:  "email",
			Reason: "invalid format",
		})
	case model.AuthReasonNotConfirmed:
		return http.StatusUnauthorized, &model.APIError{
			Code:     model.ErrCodeAuthFailed,
			Message:  "メールアドレスの確認が完了していません。",
			Category: "auth",
			Action:   "確認メールのリンクを開いてから再度ログインしてください。",
		}
	case model.AuthReasonProvider:
		return http.StatusInternalServerError, &model.APIError{
			Code:     model.ErrCodeInternal,
			Message:  "認証サービスでエラーが発生しました。",
			Category: "system",
			Action:   "しばらく待ってから再度お試しください。",
		}
	default:
		return http.StatusUnauthorized, &model.APIError{
			Code:     model.ErrCodeAuthFailed,
			Message:  "メールアドレスまたはパスワードが正しくありません。",
			Category: "auth",
			Action:   "入力内容を確認して再度お試しください。",
		}
	}
}

// newValidationAPIError は入力値エラーをAPIErrorに変換する。
func newValidationAPIError(err *model.ValidationError) *model.APIError {
	return &model.APIError{
		Code:     model.ErrCodeValidation,
		Message:  fmt.Sprintf("入力値が不正です: %s (%s)", err.Field, err.Reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
		Field:    err.Field,
	}
}
