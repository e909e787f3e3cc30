// Package lifecycle は投稿の作成・更新・削除を、画像のアップロードと合わせて1つの操作として行う。
//
// アップロードとレコードの書き込みはトランザクションではない。
// 書き込みに失敗した場合はアップロード済みの画像を削除して取り消す。
// 取り消しにも失敗した画像は定期的な孤立画像の掃除で削除される。
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/lostfound/internal/model"
	"github.com/hitoshi/lostfound/internal/storage"
)

// ProfileSource は操作を行う利用者のプロフィールの取得元。
// 未認証またはプロフィール未取得の場合はnilを返す。
type ProfileSource interface {
	CurrentProfile() *model.Profile
}

// ItemWriter は投稿レコードの書き込み先。
type ItemWriter interface {
	Create(ctx context.Context, item *model.Item) error
	Update(ctx context.Context, item *model.Item) error
	Delete(ctx context.Context, id string) error
}

// BlobStore は画像の保存先。storage.BlobStoreの部分集合。
type BlobStore interface {
	Upload(ctx context.Context, objectPath string, img *model.ImageUpload) error
	PublicURL(objectPath string) string
	PathFromURL(publicURL string) (string, bool)
	Delete(ctx context.Context, objectPath string) error
}

// Recorder は投稿操作のメトリクス記録先。
type Recorder interface {
	RecordSubmission(mode string)
	RecordUploadFailure()
}

// 投稿操作の種別。
const (
	ModeCreate = "create"
	ModeUpdate = "update"
)

// Controller は投稿のライフサイクル操作を行う。
// 編集・削除の権限確認は呼び出し側がauthz.CanModifyで行う。
type Controller struct {
	profiles ProfileSource
	items    ItemWriter
	blobs    BlobStore
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewController はControllerを生成する。recorderはnilでもよい。
func NewController(profiles ProfileSource, items ItemWriter, blobs BlobStore, recorder Recorder, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		profiles: profiles,
		items:    items,
		blobs:    blobs,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// Submit はフォームの内容で投稿を作成する。existingが指定された場合はその投稿を更新する。
//
// 新しい画像があれば先にアップロードし、失敗した場合はレコードに触れずにUploadErrorを返す。
// 画像URLは新しい画像、編集前の画像、画像なしの順に決まる。
// user_idは作成時のみ現在のプロフィールIDを設定し、更新時は変更しない。
func (c *Controller) Submit(ctx context.Context, form model.FormData, existing *model.Item) (*model.Item, error) {
	profile := c.profiles.CurrentProfile()
	if profile == nil {
		return nil, model.ErrNotAuthenticated
	}

	mode := ModeCreate
	if existing != nil {
		mode = ModeUpdate
	}

	var uploadedPath string
	imageURL := ""
	if existing != nil {
		imageURL = existing.ImageURL
	}
	if form.Image != nil {
		uploadedPath = storage.ObjectPath(profile.ID, c.now(), form.Image.Filename)
		if err := c.blobs.Upload(ctx, uploadedPath, form.Image); err != nil {
			c.recordUploadFailure()
			c.logger.Warn("image upload failed",
				slog.String("path", uploadedPath),
				slog.String("error", err.Error()),
			)
			return nil, &model.UploadError{Path: uploadedPath, Err: err}
		}
		imageURL = c.blobs.PublicURL(uploadedPath)
	}

	item := &model.Item{
		Title:       form.Title,
		Description: form.Description,
		Category:    form.Category,
		Status:      form.Status,
		Date:        form.Date,
		Location:    form.Location,
		ContactInfo: form.ContactInfo,
		ImageURL:    imageURL,
	}

	var err error
	if existing != nil {
		item.ID = existing.ID
		item.UserID = existing.UserID
		item.CreatedAt = existing.CreatedAt
		err = c.items.Update(ctx, item)
	} else {
		item.UserID = profile.ID
		if strings.TrimSpace(item.ContactInfo) == "" {
			item.ContactInfo = profile.Email
		}
		err = c.items.Create(ctx, item)
	}

	if err != nil {
		if uploadedPath != "" {
			c.discardUpload(ctx, uploadedPath)
		}
		if isAccessError(err) {
			return nil, err
		}
		return nil, &model.PersistenceError{Op: mode, Err: err}
	}

	if existing != nil && uploadedPath != "" && existing.ImageURL != "" && existing.ImageURL != imageURL {
		c.deleteByURL(ctx, existing.ImageURL)
	}

	c.recordSubmission(mode)
	c.logger.Info("item submitted",
		slog.String("item_id", item.ID),
		slog.String("mode", mode),
		slog.Bool("image", item.ImageURL != ""),
	)
	return item, nil
}

// Delete は投稿を削除し、画像があれば削除する。画像の削除失敗はログのみ。
func (c *Controller) Delete(ctx context.Context, item *model.Item) error {
	if c.profiles.CurrentProfile() == nil {
		return model.ErrNotAuthenticated
	}
	if err := c.items.Delete(ctx, item.ID); err != nil {
		if isAccessError(err) {
			return err
		}
		return &model.PersistenceError{Op: "delete", Err: err}
	}
	if item.ImageURL != "" {
		c.deleteByURL(ctx, item.ImageURL)
	}
	c.logger.Info("item deleted", slog.String("item_id", item.ID))
	return nil
}

func (c *Controller) discardUpload(ctx context.Context, objectPath string) {
	if err := c.blobs.Delete(context.WithoutCancel(ctx), objectPath); err != nil {
		c.logger.Error("failed to remove orphaned image",
			slog.String("path", objectPath),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Controller) deleteByURL(ctx context.Context, publicURL string) {
	objectPath, ok := c.blobs.PathFromURL(publicURL)
	if !ok {
		return
	}
	if err := c.blobs.Delete(context.WithoutCancel(ctx), objectPath); err != nil {
		c.logger.Warn("failed to delete image",
			slog.String("path", objectPath),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Controller) recordSubmission(mode string) {
	if c.recorder != nil {
		c.recorder.RecordSubmission(mode)
	}
}

func (c *Controller) recordUploadFailure() {
	if c.recorder != nil {
		c.recorder.RecordUploadFailure()
	}
}

// isAccessError はレコードストアのポリシーによる拒否かを返す。
// 拒否はPersistenceErrorに包まずそのまま返す。
func isAccessError(err error) bool {
	return errors.Is(err, model.ErrNotAuthenticated) || errors.Is(err, model.ErrNotAuthorized)
}

// StaticProfile は固定のプロフィールを返すProfileSource。
// サーバーではリクエストごとに認証済みプロフィールから生成する。
type StaticProfile struct {
	Profile *model.Profile
}

// CurrentProfile はProfileを返す。
func (s StaticProfile) CurrentProfile() *model.Profile {
	return s.Profile
}
