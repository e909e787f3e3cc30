// Package storage は投稿画像を保存するオブジェクトストレージを提供する。
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/hitoshi/lostfound/internal/model"
)

// DefaultBucket は投稿画像を保存するバケット名。
const DefaultBucket = "item-images"

// CacheControl はアップロードした画像に付与するキャッシュ制御ヘッダー。
const CacheControl = "max-age=3600"

// ObjectInfo はバケット内のオブジェクトの情報。
type ObjectInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobStore は画像の保存先のインターフェース。
type BlobStore interface {
	// Upload は指定パスに画像を保存する。同じパスが存在する場合は上書きする。
	Upload(ctx context.Context, objectPath string, img *model.ImageUpload) error
	// PublicURL は保存済みオブジェクトの公開URLを返す。
	PublicURL(objectPath string) string
	// PathFromURL は公開URLからオブジェクトパスを逆算する。
	// このバケットのURLでない場合はfalseを返す。
	PathFromURL(publicURL string) (string, bool)
	// Delete はオブジェクトを削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, objectPath string) error
	// List はプレフィックスに一致するオブジェクトを返す。
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// ObjectPath は所有者ID・投稿時刻・元のファイル名から保存パスを組み立てる。
// 形式は "<owner>/<unixミリ秒>-<ファイル名>"。
// ファイル名に含まれるディレクトリ部分は取り除く。
func ObjectPath(ownerID string, ts time.Time, filename string) string {
	return fmt.Sprintf("%s/%d-%s", ownerID, ts.UnixMilli(), baseFilename(filename))
}

func baseFilename(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == "/" || name == ".." {
		return "upload"
	}
	return name
}
