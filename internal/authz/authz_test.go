package authz

import (
	"testing"

	"github.com/hitoshi/lostfound/internal/model"
)

func principal(id string, admin bool) Principal {
	return Principal{
		Session: &model.Session{ID: "sess-" + id, UserID: id},
		Profile: &model.Profile{ID: id, IsAdmin: admin},
	}
}

func TestCanModify_TruthTable(t *testing.T) {
	item := &model.Item{ID: "item-1", UserID: "owner"}

	tests := []struct {
		name      string
		principal Principal
		want      bool
	}{
		{"owner", principal("owner", false), true},
		{"admin non-owner", principal("someone", true), true},
		{"admin owner", principal("owner", true), true},
		{"non-owner", principal("someone", false), false},
		{"no session", Principal{Profile: &model.Profile{ID: "owner"}}, false},
		{"no profile", Principal{Session: &model.Session{UserID: "owner"}}, false},
		{"anonymous", Principal{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanModify(tt.principal, item); got != tt.want {
				t.Errorf("CanModify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCanModify_NilItem(t *testing.T) {
	if CanModify(principal("owner", true), nil) {
		t.Error("CanModify(nil item) should be false")
	}
}

func TestIsOwner_EmptyProfileIDNeverMatches(t *testing.T) {
	p := principal("", false)
	if IsOwner(p, &model.Item{UserID: ""}) {
		t.Error("empty profile id should not own an item with empty user_id")
	}
}

func TestIsAdmin(t *testing.T) {
	if !IsAdmin(principal("a", true)) {
		t.Error("IsAdmin should be true for admin profile")
	}
	if IsAdmin(principal("a", false)) {
		t.Error("IsAdmin should be false for regular profile")
	}
	if IsAdmin(Principal{Profile: &model.Profile{IsAdmin: true}}) {
		t.Error("IsAdmin should fail closed without a session")
	}
}

// 一般利用者は他人の投稿を編集できない
func TestCanModify_NonOwnerEditIsDenied(t *testing.T) {
	u1 := principal("U1", false)
	item := &model.Item{ID: "X", UserID: "U2"}
	if CanModify(u1, item) {
		t.Fatal("U1 must not be able to modify U2's item")
	}
}
