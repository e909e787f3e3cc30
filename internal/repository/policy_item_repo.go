package repository

import (
	"context"

	"github.com/hitoshi/lostfound/internal/authz"
	"github.com/hitoshi/lostfound/internal/model"
)

// PolicyItemRepo は操作者の権限に基づいて書き込みを拒否するItemRepositoryのデコレータ。
// 所有者または管理者以外の更新・削除はmodel.ErrNotAuthorizedで失敗する。
// 作成時のuser_idは常に操作者のIDで上書きする。
type PolicyItemRepo struct {
	ItemRepository
	actor authz.Principal
}

// NewPolicyItemRepo はactorの権限で書き込みを制限するリポジトリを生成する。
func NewPolicyItemRepo(inner ItemRepository, actor authz.Principal) *PolicyItemRepo {
	return &PolicyItemRepo{ItemRepository: inner, actor: actor}
}

// Create は認証済みの操作者のみ許可し、user_idを操作者IDに固定する。
func (r *PolicyItemRepo) Create(ctx context.Context, item *model.Item) error {
	if !r.actor.Authenticated() {
		return model.ErrNotAuthorized
	}
	item.UserID = r.actor.Profile.ID
	return r.ItemRepository.Create(ctx, item)
}

// Update は現在の所有者に対して権限を確認してから更新する。
func (r *PolicyItemRepo) Update(ctx context.Context, item *model.Item) error {
	if err := r.authorize(ctx, item.ID); err != nil {
		return err
	}
	return r.ItemRepository.Update(ctx, item)
}

// Delete は現在の所有者に対して権限を確認してから削除する。
func (r *PolicyItemRepo) Delete(ctx context.Context, id string) error {
	if err := r.authorize(ctx, id); err != nil {
		return err
	}
	return r.ItemRepository.Delete(ctx, id)
}

// authorize は保存済みレコードを読み直して権限を判定する。
// 呼び出し元が渡した投稿のuser_idは信用しない。
func (r *PolicyItemRepo) authorize(ctx context.Context, id string) error {
	current, err := r.ItemRepository.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return ErrNotFound
	}
	if !authz.CanModify(r.actor, current) {
		return model.ErrNotAuthorized
	}
	return nil
}

var _ ItemRepository = (*PolicyItemRepo)(nil)
