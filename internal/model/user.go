// Package model はドメインモデルを定義する。
package model

import "time"

// Profile はIDと1対1で対応する利用者のプロフィール。
// IsAdminが唯一の権限フラグ。
type Profile struct {
	ID        string
	Email     string
	FullName  string
	AvatarURL string
	IsAdmin   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DisplayName は表示用の名前を返す。氏名が未設定の場合はメールアドレスを使う。
func (p *Profile) DisplayName() string {
	if p.FullName != "" {
		return p.FullName
	}
	return p.Email
}

// Credential はパスワード認証用の資格情報を表す。
// UserIDはProfile.IDと同一。
type Credential struct {
	UserID       string
	Email        string
	PasswordHash string
	Confirmed    bool
	CreatedAt    time.Time
}

// Session はIDプロバイダーが発行したログインセッションを表す。
// IDはトークンのjti、Tokenは署名済みトークン本体。
type Session struct {
	ID        string
	Token     string
	UserID    string
	Email     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired は指定時刻の時点でセッションが失効しているかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
