package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/lostfound/internal/model"
)

func TestWriteErrorResponse(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		apiErr    model.APIError
		wantField bool
	}{
		{"未認証", http.StatusUnauthorized, model.APIError{Code: "UNAUTHORIZED", Category: "auth"}, false},
		{"権限なし", http.StatusForbidden, model.APIError{Code: "FORBIDDEN", Category: "auth"}, false},
		{"投稿なし", http.StatusNotFound, model.APIError{Code: model.ErrCodeItemNotFound, Category: "item"}, false},
		{"入力エラーはフィールドを含む", http.StatusBadRequest, model.APIError{Code: model.ErrCodeValidation, Category: "validation", Field: "title"}, true},
		{"アップロード失敗", http.StatusBadGateway, model.APIError{Code: model.ErrCodeUploadFailed, Category: "storage"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.apiErr.Message = "message"
			tt.apiErr.Action = "action"
			w := httptest.NewRecorder()
			WriteErrorResponse(w, tt.status, &tt.apiErr)

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}

			var raw map[string]any
			if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
				t.Fatalf("decode: %v", err)
			}
			for _, key := range []string{"code", "message", "category", "action"} {
				if _, ok := raw[key]; !ok {
					t.Errorf("missing key %q in %v", key, raw)
				}
			}
			if raw["code"] != tt.apiErr.Code {
				t.Errorf("code = %v, want %s", raw["code"], tt.apiErr.Code)
			}
			if _, ok := raw["field"]; ok != tt.wantField {
				t.Errorf("field present = %v, want %v", ok, tt.wantField)
			}
		})
	}
}

func TestWriteInternalServerError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteInternalServerError(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	body := decodeErrorBody(t, w)
	if body.Code != model.ErrCodeInternal || body.Category != "system" || body.Action == "" {
		t.Errorf("body = %+v", body)
	}
}

// decodeErrorBody はレコーダーに書き込まれた統一エラーレスポンスをデコードする。
func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) ErrorResponseBody {
	t.Helper()
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}
