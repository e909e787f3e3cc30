package app

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/hitoshi/lostfound/internal/model"
	"github.com/hitoshi/lostfound/internal/session"
	"github.com/hitoshi/lostfound/internal/worker/cleanup"
)

// printer はコマンドの結果を--formatに応じてテキストまたはJSONで出力する。
type printer struct {
	w      io.Writer
	format string
}

func newPrinter(w io.Writer, format string) *printer {
	return &printer{w: w, format: format}
}

func (p *printer) json() bool {
	return p.format == FormatJSON
}

func (p *printer) encode(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// itemView は投稿のJSON表現。
type itemView struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Status      string    `json:"status"`
	Date        string    `json:"date,omitempty"`
	Location    string    `json:"location"`
	ContactInfo string    `json:"contact_info"`
	ImageURL    string    `json:"image_url,omitempty"`
	UserID      string    `json:"user_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CanModify   *bool     `json:"can_modify,omitempty"`
}

func toItemView(it *model.Item) itemView {
	v := itemView{
		ID:          it.ID,
		Title:       it.Title,
		Description: it.Description,
		Category:    string(it.Category),
		Status:      string(it.Status),
		Location:    it.Location,
		ContactInfo: it.ContactInfo,
		ImageURL:    it.ImageURL,
		UserID:      it.UserID,
		CreatedAt:   it.CreatedAt,
		UpdatedAt:   it.UpdatedAt,
	}
	if !it.Date.IsZero() {
		v.Date = it.Date.Format(model.DateLayout)
	}
	return v
}

// profileView はプロフィールのJSON表現。
type profileView struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
	AvatarURL string `json:"avatar_url,omitempty"`
	IsAdmin   bool   `json:"is_admin"`
}

func toProfileView(p *model.Profile) *profileView {
	if p == nil {
		return nil
	}
	return &profileView{
		ID:        p.ID,
		Email:     p.Email,
		FullName:  p.FullName,
		AvatarURL: p.AvatarURL,
		IsAdmin:   p.IsAdmin,
	}
}

func (p *printer) message(msg string) error {
	if p.json() {
		return p.encode(map[string]string{"message": msg})
	}
	_, err := fmt.Fprintln(p.w, msg)
	return err
}

// items は投稿一覧を出力する。テキストでは1件1行の表形式。
func (p *printer) items(items []model.Item) error {
	if p.json() {
		views := make([]itemView, len(items))
		for i := range items {
			views[i] = toItemView(&items[i])
		}
		return p.encode(map[string]any{"items": views})
	}

	if len(items) == 0 {
		_, err := fmt.Fprintln(p.w, "no items")
		return err
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tCATEGORY\tDATE\tLOCATION\tTITLE")
	for i := range items {
		it := &items[i]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			it.ID, it.Status, it.Category, it.Date.Format(model.DateLayout), it.Location, it.Title)
	}
	return tw.Flush()
}

// item は投稿1件の詳細を出力する。
func (p *printer) item(it *model.Item, canModify bool) error {
	if p.json() {
		v := toItemView(it)
		v.CanModify = &canModify
		return p.encode(v)
	}

	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", it.ID)
	fmt.Fprintf(tw, "Title:\t%s\n", it.Title)
	fmt.Fprintf(tw, "Status:\t%s\n", it.Status)
	fmt.Fprintf(tw, "Category:\t%s\n", it.Category)
	fmt.Fprintf(tw, "Date:\t%s\n", it.Date.Format(model.DateLayout))
	fmt.Fprintf(tw, "Location:\t%s\n", it.Location)
	if it.ContactInfo != "" {
		fmt.Fprintf(tw, "Contact:\t%s\n", it.ContactInfo)
	}
	if it.HasImage() {
		fmt.Fprintf(tw, "Image:\t%s\n", it.ImageURL)
	}
	fmt.Fprintf(tw, "Description:\t%s\n", it.Description)
	if canModify {
		fmt.Fprintf(tw, "Editable:\tyes\n")
	}
	return tw.Flush()
}

// recent はホーム画面相当の新着一覧を出力する。
func (p *printer) recent(lost, found []model.Item) error {
	if p.json() {
		toViews := func(items []model.Item) []itemView {
			views := make([]itemView, len(items))
			for i := range items {
				views[i] = toItemView(&items[i])
			}
			return views
		}
		return p.encode(map[string]any{"lost": toViews(lost), "found": toViews(found)})
	}

	fmt.Fprintln(p.w, "Recently lost:")
	if err := p.items(lost); err != nil {
		return err
	}
	fmt.Fprintln(p.w)
	fmt.Fprintln(p.w, "Recently found:")
	return p.items(found)
}

// snapshot は認証状態を出力する。
func (p *printer) snapshot(s session.Snapshot) error {
	authenticated := s.Phase == session.PhaseAuthenticated
	if p.json() {
		return p.encode(map[string]any{
			"phase":         s.Phase.String(),
			"authenticated": authenticated,
			"profile":       toProfileView(s.Profile),
		})
	}

	if !authenticated {
		_, err := fmt.Fprintln(p.w, "not signed in")
		return err
	}
	if s.Profile == nil {
		_, err := fmt.Fprintf(p.w, "signed in as %s (profile unavailable)\n", s.Session.Email)
		return err
	}
	return p.profile(s.Profile)
}

func (p *printer) profile(profile *model.Profile) error {
	if p.json() {
		return p.encode(toProfileView(profile))
	}
	role := "user"
	if profile.IsAdmin {
		role = "admin"
	}
	_, err := fmt.Fprintf(p.w, "signed in as %s <%s> [%s]\n", profile.DisplayName(), profile.Email, role)
	return err
}

func (p *printer) locations(locations []string) error {
	if p.json() {
		return p.encode(map[string]any{"locations": locations})
	}
	for _, loc := range locations {
		if _, err := fmt.Fprintln(p.w, loc); err != nil {
			return err
		}
	}
	return nil
}

func (p *printer) sweep(r cleanup.SweepResult) error {
	if p.json() {
		return p.encode(map[string]int{"scanned": r.Scanned, "removed": r.Removed, "failed": r.Failed})
	}
	_, err := fmt.Fprintf(p.w, "scanned %d objects, removed %d, failed %d\n", r.Scanned, r.Removed, r.Failed)
	return err
}

func (p *printer) migrationVersion(version uint, dirty bool) error {
	if p.json() {
		return p.encode(map[string]any{"version": version, "dirty": dirty})
	}
	state := "clean"
	if dirty {
		state = "dirty"
	}
	_, err := fmt.Fprintf(p.w, "version %d (%s)\n", version, state)
	return err
}
