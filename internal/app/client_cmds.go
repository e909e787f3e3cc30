package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hitoshi/lostfound/internal/authz"
	"github.com/hitoshi/lostfound/internal/catalog"
	"github.com/hitoshi/lostfound/internal/item"
	"github.com/hitoshi/lostfound/internal/model"
	"github.com/hitoshi/lostfound/internal/user"
)

// withClient はClientを生成してfnを実行し、終了時に閉じる。
func withClient(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, c *Client, p *printer) error) error {
	ctx := cmd.Context()
	c, err := opts.client(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c, newPrinter(cmd.OutOrStdout(), opts.Format))
}

// credentials はメールアドレスとパスワードのフラグ。
// パスワードを省略した場合は標準入力の1行目を使う。
type credentials struct {
	email    string
	password string
}

func (cr *credentials) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&cr.email, "email", "", "account email address")
	cmd.Flags().StringVar(&cr.password, "password", "", "account password (read from stdin if omitted)")
	_ = cmd.MarkFlagRequired("email")
}

func (cr *credentials) resolve(in io.Reader) (string, string, error) {
	if cr.password != "" {
		return cr.email, cr.password, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", "", fmt.Errorf("failed to read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", "", errors.New("password is required")
	}
	return cr.email, password, nil
}

// NewSignUpCommand はアカウントを作成するsignupコマンドを生成する。
func NewSignUpCommand(opts *RootOptions) *cobra.Command {
	var cr credentials
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "アカウントを作成する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			email, password, err := cr.resolve(cmd.InOrStdin())
			if err != nil {
				return err
			}
			return withClient(cmd, opts, func(ctx context.Context, c *Client, p *printer) error {
				result, err := c.Session.SignUp(ctx, email, password)
				if err != nil {
					return err
				}
				if result.ConfirmationRequired {
					return p.message("account created; confirm your email address before signing in")
				}
				return p.snapshot(c.Session.Snapshot())
			})
		},
	}
	cr.register(cmd)
	return cmd
}

// NewLoginCommand はサインインするloginコマンドを生成する。
// --googleを指定した場合はブラウザでGoogleの同意画面を開き、ループバックで認可コードを受け取る。
func NewLoginCommand(opts *RootOptions) *cobra.Command {
	var (
		cr     credentials
		google bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "サインインする",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if google {
				return withClient(cmd, opts, func(ctx context.Context, c *Client, p *printer) error {
					announce := func(loginURL string) error {
						_, err := fmt.Fprintf(cmd.ErrOrStderr(), "open this URL in your browser to sign in with Google:\n%s\n", loginURL)
						return err
					}
					if err := c.SignInWithGoogle(ctx, announce); err != nil {
						return err
					}
					return p.snapshot(c.Session.Snapshot())
				})
			}

			if cr.email == "" {
				return errors.New("--email is required unless --google is set")
			}
			email, password, err := cr.resolve(cmd.InOrStdin())
			if err != nil {
				return err
			}
			return withClient(cmd, opts, func(ctx context.Context, c *Client, p *printer) error {
				if err := c.Session.SignIn(ctx, email, password); err != nil {
					return err
				}
				return p.snapshot(c.Session.Snapshot())
			})
		},
	}
	cmd.Flags().StringVar(&cr.email, "email", "", "account email address")
	cmd.Flags().StringVar(&cr.password, "password", "", "account password (read from stdin if omitted)")
	cmd.Flags().BoolVar(&google, "google", false, "sign in with a Google account in the browser")
	cmd.MarkFlagsMutuallyExclusive("google", "email")
	cmd.MarkFlagsMutuallyExclusive("google", "password")
	return cmd
}

// NewLogoutCommand はサインアウトするlogoutコマンドを生成する。
func NewLogoutCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "サインアウトする",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opts, func(ctx context.Context, c *Client, p *printer) error {
				if err := c.Session.SignOut(ctx); err != nil {
					return err
				}
				return p.message("signed out")
			})
		},
	}
}

// NewWhoAmICommand は現在の認証状態を表示するwhoamiコマンドを生成する。
func NewWhoAmICommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "現在の認証状態を表示する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opts, func(ctx context.Context, c *Client, p *printer) error {
				return p.snapshot(c.Session.Snapshot())
			})
		},
	}
}

// NewItemsCommand は投稿の閲覧・変更を行うitemsコマンドを生成する。
func NewItemsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "items",
		Short: "落とし物・拾得物の投稿を扱う",
	}
	cmd.AddCommand(newItemsListCommand(opts))
	cmd.AddCommand(newItemsRecentCommand(opts))
	cmd.AddCommand(newItemsLocationsCommand(opts))
	cmd.AddCommand(newItemsMineCommand(opts))
	cmd.AddCommand(newItemsShowCommand(opts))
	cmd.AddCommand(newItemsPostCommand(opts))
	cmd.AddCommand(newItemsEditCommand(opts))
	cmd.AddCommand(newItemsDeleteCommand(opts))
	return cmd
}

// filterFlags は一覧の絞り込み条件のフラグ。
type filterFlags struct {
	status   string
	query    string
	category string
	location string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.status, "status", "", "lost, found or resolved (all when omitted)")
	cmd.Flags().StringVarP(&f.query, "query", "q", "", "text matched against title and description")
	cmd.Flags().StringVar(&f.category, "category", "", "category filter")
	cmd.Flags().StringVar(&f.location, "location", "", "exact location filter")
}

// params はフラグを一覧の取得条件に変換する。未知のステータス・分類はINVALID_FILTERとする。
func (f *filterFlags) params() (item.ListParams, error) {
	var p item.ListParams
	if f.status != "" {
		status, ok := model.ParseStatus(f.status)
		if !ok {
			return p, model.NewInvalidFilterError("status", f.status)
		}
		p.Status = status
	}
	if f.category != "" {
		category, ok := model.ParseCategory(f.category)
		if !ok {
			return p, model.NewInvalidFilterError("category", f.category)
		}
		p.Filter.Category = category
	}
	p.Filter.SearchQuery = f.query
	p.Filter.Location = f.location
	return p, nil
}

func newItemsListCommand(opts *RootOptions) *cobra.Command {
	var f filterFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "投稿を新しい順に一覧表示する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := f.params()
			if err != nil {
				return err
			}
			return withClient(cmd, opts, func(ctx context.Context, c *Client, p *printer) error {
				result, err := c.Items.List(ctx, params)
				if err != nil {
					return err
				}
				return p.items(result.Items)
			})
		},
	}
	f.register(cmd)
	return cmd
}

func newItemsRecentCommand(opts *RootOptions) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "新着の落とし物と拾得物を表示する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opts, func(ctx context.Context, c *Client, p *printer) error {
				result, err := c.Items.Recent(ctx, n)
				if err != nil {
					return err
				}
				return p.recent(result.Lost, result.Found)
			})
		},
	}
	cmd.Flags().IntVarP(&n, "limit", "n", item.RecentLimit, "items per status")
	return cmd
}

func newItemsLocationsCommand(opts *RootOptions) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "locations",
		Short: "絞り込みに使える場所の一覧を表示する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := filterFlags{status: status}
			params, err := f.params()
			if err != nil {
				return err
			}
			return withClient(cmd, opts, func(ctx context.Context, c *Client, p *printer) error {
				result, err := c.Items.List(ctx, params)
				if err != nil {
					return err
				}
				return p.locations(result.Locations)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "lost, found or resolved (all when omitted)")
	return cmd
}

func newItemsMineCommand(opts *RootOptions) *cobra.Command {
	var f filterFlags
	cmd := &cobra.Command{
		Use:   "mine",
		Short: "自分の投稿を一覧表示する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := f.params()
			if err != nil {
				return err
			}
			return withClient(cmd, opts, func(ctx context.Context, c *Client, p *printer) error {
				profile, err := c.requireProfile()
				if err != nil {
					return err
				}
				base, err := c.Items.ListByOwner(ctx, profile.ID)
				if err != nil {
					return err
				}
				if params.Status != "" {
					base = byStatus(base, params.Status)
				}
				return p.items(catalog.Filter(base, params.Filter))
			})
		},
	}
	f.register(cmd)
	return cmd
}

// byStatus はitemsのうち指定ステータスの投稿を順序を保って返す。
func byStatus(items []model.Item, status model.Status) []model.Item {
	out := make([]model.Item, 0, len(items))
	for _, it := range items {
		if it.Status == status {
			out = append(out, it)
		}
	}
	return out
}

func newItemsShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "投稿の詳細を表示する",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opts, func(ctx context.Context, c *Client, p *printer) error {
				it, err := c.Items.GetItem(ctx, args[0])
				if err != nil {
					return err
				}
				return p.item(it, authz.CanModify(c.Principal(), it))
			})
		},
	}
}

// formFlags は投稿フォームの入力フラグ。
type formFlags struct {
	title       string
	description string
	category    string
	status      string
	date        string
	location    string
	contact     string
	image       string
}

func (f *formFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.title, "title", "", "title")
	cmd.Flags().StringVar(&f.description, "description", "", "description")
	cmd.Flags().StringVar(&f.category, "category", "", "electronics, clothing, accessories, documents, pets or other")
	cmd.Flags().StringVar(&f.status, "status", "", "lost, found or resolved")
	cmd.Flags().StringVar(&f.date, "date", "", "date lost or found (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.location, "location", "", "where the item was lost or found")
	cmd.Flags().StringVar(&f.contact, "contact", "", "contact information")
	cmd.Flags().StringVar(&f.image, "image", "", "path to an image file to attach")
}

// apply はフラグの値をformに反映する。onlyChangedの場合は明示的に指定されたフラグだけを反映する。
// 画像を添付した場合、戻り値のcloseで画像ファイルを閉じる。
func (f *formFlags) apply(cmd *cobra.Command, form *model.FormData, onlyChanged bool) (closeImage func(), err error) {
	set := func(name string) bool {
		return !onlyChanged || cmd.Flags().Changed(name)
	}

	if set("title") {
		form.Title = f.title
	}
	if set("description") {
		form.Description = f.description
	}
	if set("category") {
		form.Category, _ = model.ParseCategory(f.category)
	}
	if set("status") {
		form.Status, _ = model.ParseStatus(f.status)
	}
	if set("date") {
		if f.date == "" {
			form.Date = time.Time{}
		} else {
			d, err := time.Parse(model.DateLayout, f.date)
			if err != nil {
				return nil, &model.ValidationError{Field: "date", Reason: "must be YYYY-MM-DD"}
			}
			form.Date = d
		}
	}
	if set("location") {
		form.Location = f.location
	}
	if set("contact") {
		form.ContactInfo = f.contact
	}

	closeImage = func() {}
	if f.image != "" {
		file, err := os.Open(f.image)
		if err != nil {
			return nil, fmt.Errorf("failed to open image: %w", err)
		}
		info, err := file.Stat()
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to stat image: %w", err)
		}
		contentType := mime.TypeByExtension(filepath.Ext(f.image))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		form.Image = &model.ImageUpload{
			Filename:    filepath.Base(f.image),
			ContentType: contentType,
			Size:        info.Size(),
			Body:        file,
		}
		closeImage = func() { file.Close() }
	}
	return closeImage, nil
}

func newItemsPostCommand(opts *RootOptions) *cobra.Command {
	var f formFlags
	cmd := &cobra.Command{
		Use:   "post",
		Short: "落とし物・拾得物を投稿する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.date == "" {
				f.date = time.Now().Format(model.DateLayout)
			}
			var form model.FormData
			closeImage, err := f.apply(cmd, &form, false)
			if err != nil {
				return err
			}
			defer closeImage()

			return withClient(cmd, opts, func(ctx context.Context, c *Client, p *printer) error {
				created, err := c.Submit(ctx, form, nil)
				if err != nil {
					return err
				}
				return p.item(created, true)
			})
		},
	}
	f.register(cmd)
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func newItemsEditCommand(opts *RootOptions) *cobra.Command {
	var f formFlags
	cmd := &cobra.Command{
		Use:   "edit ID",
		Short: "自分の投稿を編集する（管理者はすべての投稿）",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opts, func(ctx context.Context, c *Client, p *printer) error {
				existing, err := c.modifiable(ctx, args[0])
				if err != nil {
					return err
				}
				form := model.FormFromItem(existing)
				closeImage, err := f.apply(cmd, &form, true)
				if err != nil {
					return err
				}
				defer closeImage()

				updated, err := c.Submit(ctx, form, existing)
				if err != nil {
					return err
				}
				return p.item(updated, true)
			})
		},
	}
	f.register(cmd)
	return cmd
}

func newItemsDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "自分の投稿を削除する（管理者はすべての投稿）",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opts, func(ctx context.Context, c *Client, p *printer) error {
				existing, err := c.modifiable(ctx, args[0])
				if err != nil {
					return err
				}
				if err := c.Delete(ctx, existing); err != nil {
					return err
				}
				return p.message("deleted " + existing.ID)
			})
		},
	}
}

// NewProfileCommand はプロフィールを扱うprofileコマンドを生成する。
func NewProfileCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "自分のプロフィールを扱う",
	}

	var fullName, avatarURL string
	update := &cobra.Command{
		Use:   "update",
		Short: "氏名とアバターURLを更新する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var in user.ProfileUpdate
			if cmd.Flags().Changed("full-name") {
				in.FullName = &fullName
			}
			if cmd.Flags().Changed("avatar-url") {
				in.AvatarURL = &avatarURL
			}
			if in.FullName == nil && in.AvatarURL == nil {
				return errors.New("specify --full-name or --avatar-url")
			}
			return withClient(cmd, opts, func(ctx context.Context, c *Client, p *printer) error {
				profile, err := c.requireProfile()
				if err != nil {
					return err
				}
				updated, err := c.Users.UpdateProfile(ctx, profile.ID, in)
				if err != nil {
					return err
				}
				return p.profile(updated)
			})
		},
	}
	update.Flags().StringVar(&fullName, "full-name", "", "display name")
	update.Flags().StringVar(&avatarURL, "avatar-url", "", "avatar image URL (empty to clear)")
	cmd.AddCommand(update)

	return cmd
}
