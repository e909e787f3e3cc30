package handler

import (
	"log/slog"

	"github.com/hitoshi/lostfound/internal/authz"
	"github.com/hitoshi/lostfound/internal/lifecycle"
	"github.com/hitoshi/lostfound/internal/repository"
)

// NewLifecycleSubmitterFactory はリクエストごとに操作者の権限で制限した
// リポジトリを組み立て、lifecycle.Controllerを返すSubmitterFactoryを生成する。
// 書き込みの最終判定はPolicyItemRepoが行う。
func NewLifecycleSubmitterFactory(items repository.ItemRepository, blobs lifecycle.BlobStore, recorder lifecycle.Recorder, logger *slog.Logger) SubmitterFactory {
	return func(actor authz.Principal) ItemSubmitter {
		return lifecycle.NewController(
			lifecycle.StaticProfile{Profile: actor.Profile},
			repository.NewPolicyItemRepo(items, actor),
			blobs,
			recorder,
			logger,
		)
	}
}
