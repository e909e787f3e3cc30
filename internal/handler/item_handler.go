package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/lostfound/internal/authz"
	"github.com/hitoshi/lostfound/internal/catalog"
	"github.com/hitoshi/lostfound/internal/item"
	"github.com/hitoshi/lostfound/internal/middleware"
	"github.com/hitoshi/lostfound/internal/model"
	"github.com/hitoshi/lostfound/internal/repository"
	"github.com/hitoshi/lostfound/internal/security"
)

// DefaultMaxUploadBytes は画像付きリクエストボディの既定の上限。
const DefaultMaxUploadBytes int64 = 10 << 20

// ItemServiceInterface は投稿ハンドラーが必要とする参照系サービスのインターフェース。
type ItemServiceInterface interface {
	List(ctx context.Context, p item.ListParams) (*item.ListResult, error)
	Search(ctx context.Context, q repository.ItemQuery) ([]model.Item, error)
	Recent(ctx context.Context, n int) (*item.RecentResult, error)
	GetItem(ctx context.Context, itemID string) (*model.Item, error)
	ListByOwner(ctx context.Context, userID string) ([]model.Item, error)
}

// ItemSubmitter は投稿の作成・更新・削除を行う。lifecycle.Controllerが実装する。
type ItemSubmitter interface {
	Submit(ctx context.Context, form model.FormData, existing *model.Item) (*model.Item, error)
	Delete(ctx context.Context, item *model.Item) error
}

// SubmitterFactory はリクエストの操作者ごとにItemSubmitterを生成する。
type SubmitterFactory func(actor authz.Principal) ItemSubmitter

// ItemHandler は投稿管理のHTTPハンドラー。
type ItemHandler struct {
	service        ItemServiceInterface
	users          UserServiceInterface
	submitters     SubmitterFactory
	sanitizer      security.TextSanitizer
	maxUploadBytes int64
}

// NewItemHandler はItemHandlerを生成する。maxUploadBytesが0以下の場合は既定値を使う。
func NewItemHandler(service ItemServiceInterface, users UserServiceInterface, submitters SubmitterFactory, sanitizer security.TextSanitizer, maxUploadBytes int64) *ItemHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &ItemHandler{
		service:        service,
		users:          users,
		submitters:     submitters,
		sanitizer:      sanitizer,
		maxUploadBytes: maxUploadBytes,
	}
}

// --- レスポンス型 ---

// itemResponse は投稿のレスポンス。
type itemResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Status      string    `json:"status"`
	Date        string    `json:"date"`
	Location    string    `json:"location"`
	ContactInfo string    `json:"contact_info"`
	ImageURL    string    `json:"image_url"`
	UserID      string    `json:"user_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// itemDetailResponse は投稿詳細のレスポンス。CanModifyは表示用のヒント。
type itemDetailResponse struct {
	itemResponse
	CanModify bool `json:"can_modify"`
}

// itemListResponse は投稿一覧のレスポンス。
// Locationsは絞り込み前の一覧から求めた場所の選択肢。
type itemListResponse struct {
	Items     []itemResponse `json:"items"`
	Locations []string       `json:"locations"`
	Total     int            `json:"total"`
}

// recentResponse はホーム画面用の新着一覧。
type recentResponse struct {
	Lost  []itemResponse `json:"lost"`
	Found []itemResponse `json:"found"`
}

// itemRequest はJSONで投稿する場合のリクエストボディ。
type itemRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Status      string `json:"status"`
	Date        string `json:"date"`
	Location    string `json:"location"`
	ContactInfo string `json:"contact_info"`
}

// ListItems は投稿一覧を取得する。
// GET /api/items?status=lost|found|resolved&category=xxx&location=xxx&q=xxx
func (h *ItemHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var params item.ListParams
	if s := query.Get("status"); s != "" {
		status, ok := model.ParseStatus(s)
		if !ok {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidFilterError("status", s))
			return
		}
		params.Status = status
	}
	if c := query.Get("category"); c != "" {
		category, ok := model.ParseCategory(c)
		if !ok {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidFilterError("category", c))
			return
		}
		params.Filter.Category = category
	}
	params.Filter.SearchQuery = query.Get("q")
	params.Filter.Location = query.Get("location")

	result, err := h.service.List(r.Context(), params)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, itemListResponse{
		Items:     toItemResponses(result.Items),
		Locations: result.Locations,
		Total:     result.Total,
	})
}

// SearchItems はレコードストア側の条件だけで投稿を検索する。
// GET /api/search?q=xxx&status=xxx&category=xxx&limit=n
func (h *ItemHandler) SearchItems(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	q := repository.ItemQuery{Search: strings.TrimSpace(query.Get("q"))}
	if s := query.Get("status"); s != "" {
		status, ok := model.ParseStatus(s)
		if !ok {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidFilterError("status", s))
			return
		}
		q.Status = status
	}
	if c := query.Get("category"); c != "" {
		category, ok := model.ParseCategory(c)
		if !ok {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidFilterError("category", c))
			return
		}
		q.Category = category
	}
	if l := query.Get("limit"); l != "" {
		limit, err := strconv.ParseUint(l, 10, 64)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidFilterError("limit", l))
			return
		}
		q.Limit = limit
	}

	items, err := h.service.Search(r.Context(), q)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": toItemResponses(items)})
}

// RecentItems は落とし物と拾得物の新着を返す。
// GET /api/items/recent
func (h *ItemHandler) RecentItems(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Recent(r.Context(), item.RecentLimit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, recentResponse{
		Lost:  toItemResponses(catalog.Recent(result.Lost, model.StatusLost, item.RecentLimit)),
		Found: toItemResponses(catalog.Recent(result.Found, model.StatusFound, item.RecentLimit)),
	})
}

// GetItem は投稿詳細を取得する。ログイン中であれば編集可否のヒントを含める。
// GET /api/items/{id}
func (h *ItemHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")

	it, err := h.service.GetItem(r.Context(), itemID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// プロフィールが取れない場合は編集不可として表示する
	actor, _ := h.principal(r.Context())

	writeJSON(w, http.StatusOK, itemDetailResponse{
		itemResponse: toItemResponse(it),
		CanModify:    authz.CanModify(actor, it),
	})
}

// CreateItem は投稿を作成する。multipart/form-data（画像はimageフィールド）またはJSONを受け付ける。
// POST /api/items
func (h *ItemHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	actor, err := h.principal(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if !actor.Authenticated() {
		writeUnauthorized(w)
		return
	}

	form, cleanup, err := h.parseForm(w, r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	defer cleanup()

	created, err := h.submitters(actor).Submit(r.Context(), form, nil)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toItemResponse(created))
}

// UpdateItem は投稿を更新する。所有者または管理者以外は403を返す。
// PUT /api/items/{id}
func (h *ItemHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	actor, existing, ok := h.authorizeModify(w, r)
	if !ok {
		return
	}

	form, cleanup, err := h.parseForm(w, r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	defer cleanup()

	updated, err := h.submitters(actor).Submit(r.Context(), form, existing)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toItemResponse(updated))
}

// DeleteItem は投稿を削除する。所有者または管理者以外は403を返す。
// DELETE /api/items/{id}
func (h *ItemHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	actor, existing, ok := h.authorizeModify(w, r)
	if !ok {
		return
	}

	if err := h.submitters(actor).Delete(r.Context(), existing); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// authorizeModify は対象投稿を読み込み、ガードで変更可否を判定する。
// 拒否した場合はレスポンスを書き込みfalseを返す。
func (h *ItemHandler) authorizeModify(w http.ResponseWriter, r *http.Request) (authz.Principal, *model.Item, bool) {
	actor, err := h.principal(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return actor, nil, false
	}
	if !actor.Authenticated() {
		writeUnauthorized(w)
		return actor, nil, false
	}

	existing, err := h.service.GetItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return actor, nil, false
	}

	if !authz.CanModify(actor, existing) {
		slog.Warn("modify rejected by guard",
			slog.String("user_id", actor.Profile.ID),
			slog.String("item_id", existing.ID),
		)
		writeAPIErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
		return actor, nil, false
	}
	return actor, existing, true
}

// principal はリクエストのセッションとプロフィールから操作者を組み立てる。
// 未認証の場合は空のPrincipalを返す。
func (h *ItemHandler) principal(ctx context.Context) (authz.Principal, error) {
	session := middleware.SessionFromContext(ctx)
	if session == nil {
		return authz.Principal{}, nil
	}
	profile, err := h.users.GetProfile(ctx, session.UserID)
	if err != nil {
		return authz.Principal{Session: session}, err
	}
	return authz.Principal{Session: session, Profile: profile}, nil
}

// parseForm はリクエストから投稿フォームを読み取り、サニタイズと検証を行う。
// 戻り値のcleanupはアップロードファイルを閉じる。
func (h *ItemHandler) parseForm(w http.ResponseWriter, r *http.Request) (model.FormData, func(), error) {
	noop := func() {}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var (
		req     itemRequest
		form    model.FormData
		cleanup = noop
	)
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
			return form, noop, bodyError(err)
		}
		req = itemRequest{
			Title:       r.FormValue("title"),
			Description: r.FormValue("description"),
			Category:    r.FormValue("category"),
			Status:      r.FormValue("status"),
			Date:        r.FormValue("date"),
			Location:    r.FormValue("location"),
			ContactInfo: r.FormValue("contact_info"),
		}
		file, header, err := r.FormFile("image")
		switch {
		case err == nil:
			form.Image = &model.ImageUpload{
				Filename:    header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				Size:        header.Size,
				Body:        file,
			}
			cleanup = func() { file.Close() }
		case !errors.Is(err, http.ErrMissingFile):
			return form, noop, model.NewInvalidRequestError("画像ファイルを読み取れません")
		}
	default:
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return form, noop, bodyError(err)
		}
	}

	form.Title = req.Title
	form.Description = req.Description
	form.Category, _ = model.ParseCategory(req.Category)
	form.Status, _ = model.ParseStatus(req.Status)
	form.Location = req.Location
	form.ContactInfo = req.ContactInfo
	if req.Date != "" {
		date, err := time.Parse(model.DateLayout, req.Date)
		if err != nil {
			cleanup()
			return form, noop, &model.ValidationError{Field: "date", Reason: "expected YYYY-MM-DD"}
		}
		form.Date = date
	}

	form = security.SanitizeForm(h.sanitizer, form)
	if err := form.Validate(); err != nil {
		cleanup()
		return form, noop, err
	}
	return form, cleanup, nil
}

// bodyError はボディ読み取りエラーをAPIErrorに変換する。
func bodyError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return &model.ValidationError{Field: "image", Reason: "file too large"}
	}
	return model.NewInvalidRequestError("リクエストボディの解析に失敗しました")
}

func toItemResponse(it *model.Item) itemResponse {
	resp := itemResponse{
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
		resp.Date = it.Date.Format(model.DateLayout)
	}
	return resp
}

func toItemResponses(items []model.Item) []itemResponse {
	out := make([]itemResponse, len(items))
	for i := range items {
		out[i] = toItemResponse(&items[i])
	}
	return out
}
