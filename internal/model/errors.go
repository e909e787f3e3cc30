// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, item, storage, system
	Action   string // ユーザー向け対処方法
	Field    string // 入力エラーの対象フィールド。入力エラー以外は空
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeForbidden      = "FORBIDDEN"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeItemNotFound   = "ITEM_NOT_FOUND"
	ErrCodeUserNotFound   = "USER_NOT_FOUND"
	ErrCodeInvalidFilter  = "INVALID_FILTER"
	ErrCodeValidation     = "VALIDATION_FAILED"
	ErrCodeAuthFailed     = "AUTH_FAILED"
	ErrCodeEmailTaken     = "EMAIL_TAKEN"
	ErrCodeUploadFailed   = "UPLOAD_FAILED"
	ErrCodePersistFailed  = "PERSISTENCE_FAILED"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この投稿を変更する権限がありません。",
		Category: "auth",
		Action:   "投稿者本人または管理者のみ編集・削除できます。",
	}
}

// NewItemNotFoundError は投稿未検出エラーを生成する。
func NewItemNotFoundError(itemID string) *APIError {
	return &APIError{
		Code:     ErrCodeItemNotFound,
		Message:  fmt.Sprintf("指定された投稿が見つかりません: %s", itemID),
		Category: "item",
		Action:   "投稿IDを確認してください。",
	}
}

// NewInvalidFilterError は無効な絞り込み条件エラーを生成する。
func NewInvalidFilterError(name, value string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFilter,
		Message:  fmt.Sprintf("無効な絞り込み条件です: %s=%s", name, value),
		Category: "validation",
		Action:   "status には lost、found、resolved、category には定義済みの分類を指定してください。",
	}
}

// NewInvalidRequestError はリクエスト形式の誤りを表すエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストの解析に失敗しました: %s", reason),
		Category: "validation",
		Action:   "正しい形式でリクエストしてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// ErrNotAuthenticated は認証済みセッションとプロフィールが必要な操作を
// 未認証状態で呼び出したことを表す。
var ErrNotAuthenticated = errors.New("not authenticated")

// ErrNotAuthorized は所有者でも管理者でもない利用者が変更操作を試みたことを表す。
var ErrNotAuthorized = errors.New("not authorized")

// 認証失敗の理由
const (
	AuthReasonInvalidCredentials = "invalid_credentials"
	AuthReasonEmailTaken         = "email_taken"
	AuthReasonWeakPassword       = "weak_password"
	AuthReasonInvalidEmail       = "invalid_email"
	AuthReasonNotConfirmed       = "email_not_confirmed"
	AuthReasonSessionRevoked     = "session_revoked"
	AuthReasonProvider           = "provider_error"
)

// AuthError はIDプロバイダーがサインイン・サインアップ・サインアウトを拒否したことを表す。
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("auth failed (%s)", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NewAuthError はAuthErrorを生成する。
func NewAuthError(reason string, err error) *AuthError {
	return &AuthError{Reason: reason, Err: err}
}

// PersistenceError はレコードストアへの書き込み失敗を表す。
// Opは create、update、delete のいずれか。
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s item: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// UploadError は画像のアップロード失敗を表す。
type UploadError struct {
	Path string
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("failed to upload %s: %v", e.Path, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// ValidationError は入力値の検証エラー。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
