package app

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/hitoshi/lostfound/internal/config"
)

// 出力形式。
const (
	FormatText = "text"
	FormatJSON = "json"
)

// ValidFormats は--formatに指定できる値。
var ValidFormats = []string{FormatText, FormatJSON}

// ClientFactory は設定からクライアント操作用のClientを組み立てる。
type ClientFactory func(ctx context.Context, cfg *config.Config) (*Client, error)

// RootOptions は全サブコマンドで共有するフラグと依存関係。
type RootOptions struct {
	Format string

	// LogWriter はJSON構造化ログの出力先。
	LogWriter io.Writer
	// LoadConfig は設定の読み込み関数。nilの場合はInitを使う。
	LoadConfig func() (*config.Config, error)
	// NewClient はクライアントの生成関数。nilの場合はDB・Redis・MinIOに接続する。
	NewClient ClientFactory
}

func (o *RootOptions) loadConfig() (*config.Config, error) {
	if o.LoadConfig != nil {
		return o.LoadConfig()
	}
	return Init(o.LogWriter)
}

// client は設定を読み込んでClientを生成し、既存セッションの確認まで済ませる。
func (o *RootOptions) client(ctx context.Context) (*Client, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("initialization failed: %w", err)
	}
	factory := o.NewClient
	if factory == nil {
		factory = connectClient
	}
	return factory(ctx, cfg)
}

// NewRootCommand はlostfoundコマンドのルートを生成する。
// サブコマンドを省略した場合はserveとして動作する。
func NewRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "lostfound",
		Short:         "lostfound - 落とし物・拾得物の掲示板",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", FormatText, "output format (json|text)")

	// 運用
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewWorkerCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewHealthcheckCommand())
	cmd.AddCommand(NewConfirmCommand(opts))

	// クライアント
	cmd.AddCommand(NewSignUpCommand(opts))
	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewLogoutCommand(opts))
	cmd.AddCommand(NewWhoAmICommand(opts))
	cmd.AddCommand(NewItemsCommand(opts))
	cmd.AddCommand(NewProfileCommand(opts))

	return cmd
}
