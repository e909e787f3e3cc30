// Package authz は投稿の変更可否を判定する。
// 判定は表示用のヒントであり、強制はレコードストア側のポリシーで行う。
package authz

import "github.com/hitoshi/lostfound/internal/model"

// Principal は判定対象の利用者。SessionとProfileのどちらかが欠けていれば権限なし。
type Principal struct {
	Session *model.Session
	Profile *model.Profile
}

// Authenticated はセッションとプロフィールの両方が揃っているかを返す。
func (p Principal) Authenticated() bool {
	return p.Session != nil && p.Profile != nil
}

// IsOwner は利用者が投稿の所有者かを返す。
func IsOwner(p Principal, item *model.Item) bool {
	if !p.Authenticated() || item == nil {
		return false
	}
	return p.Profile.ID != "" && p.Profile.ID == item.UserID
}

// IsAdmin は利用者が管理者かを返す。
func IsAdmin(p Principal) bool {
	return p.Authenticated() && p.Profile.IsAdmin
}

// CanModify は利用者が投稿を編集・削除できるかを返す。
func CanModify(p Principal, item *model.Item) bool {
	if item == nil {
		return false
	}
	return IsOwner(p, item) || IsAdmin(p)
}
