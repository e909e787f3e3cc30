package identity

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// TokenCache はクライアントが現在のセッショントークンを保持する場所。
type TokenCache interface {
	Load() (string, error)
	Store(token string) error
	Clear() error
}

// TokenFile はトークンをファイルに保存するTokenCache。
// ファイルは所有者のみ読み書き可能なパーミッションで作成する。
type TokenFile struct {
	path string
}

// NewTokenFile はTokenFileを生成する。
func NewTokenFile(path string) *TokenFile {
	return &TokenFile{path: path}
}

// Load は保存済みトークンを返す。ファイルがない場合は空文字列を返す。
func (f *TokenFile) Load() (string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Store はトークンを保存する。
func (f *TokenFile) Store(token string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	if err := os.WriteFile(f.path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

// Clear はトークンファイルを削除する。
func (f *TokenFile) Clear() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}
