// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/hitoshi/lostfound/internal/model"
	"github.com/hitoshi/lostfound/internal/repository"
	"github.com/hitoshi/lostfound/internal/security"
)

// MaxFullNameLength は氏名の最大文字数。
const MaxFullNameLength = 100

// Sanitizer は入力テキストのサニタイズ機能。security.TextSanitizerが実装する。
type Sanitizer interface {
	Sanitize(raw string) string
}

// Service はユーザー管理のサービス層。
// プロフィールの参照と更新を提供する。
type Service struct {
	profileRepo repository.ProfileRepository
	sanitizer   Sanitizer
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(profileRepo repository.ProfileRepository, sanitizer Sanitizer) *Service {
	return &Service{
		profileRepo: profileRepo,
		sanitizer:   sanitizer,
	}
}

// ProfileUpdate はプロフィールの更新内容。nilのフィールドは変更しない。
// 空文字列を指定するとその項目を削除する。
type ProfileUpdate struct {
	FullName  *string
	AvatarURL *string
}

// GetProfile はプロフィールを返す。存在しない場合はUSER_NOT_FOUNDのAPIErrorを返す。
func (s *Service) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	profile, err := s.profileRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if profile == nil {
		return nil, model.NewUserNotFoundError()
	}
	return profile, nil
}

// UpdateProfile は氏名とアバターURLを更新する。is_adminとメールアドレスは変更できない。
func (s *Service) UpdateProfile(ctx context.Context, userID string, in ProfileUpdate) (*model.Profile, error) {
	profile, err := s.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	if in.FullName != nil {
		name := s.sanitizer.Sanitize(*in.FullName)
		if utf8.RuneCountInString(name) > MaxFullNameLength {
			return nil, &model.ValidationError{Field: "full_name", Reason: fmt.Sprintf("must be at most %d characters", MaxFullNameLength)}
		}
		profile.FullName = name
	}
	if in.AvatarURL != nil {
		if err := validateAvatarURL(*in.AvatarURL); err != nil {
			return nil, err
		}
		profile.AvatarURL = *in.AvatarURL
	}

	if err := s.profileRepo.Update(ctx, profile); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewUserNotFoundError()
		}
		return nil, fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}

	slog.Info("profile updated", slog.String("user_id", userID))
	return profile, nil
}

func validateAvatarURL(raw string) error {
	if raw == "" {
		return nil
	}
	if err := security.ValidatePublicURL(raw); err != nil {
		return &model.ValidationError{Field: "avatar_url", Reason: "must be a public http(s) URL"}
	}
	return nil
}
