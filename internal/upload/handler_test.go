package upload

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/meetlite/server/internal/metrics"
)

func newTestHandler(t *testing.T, maxBytes int64) *Handler {
	t.Helper()
	return NewHandler(newTestStore(t, maxBytes), metrics.New(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// multipartBody builds a single-file form with an explicit part content type.
func multipartBody(t *testing.T, field, filename, mimetype string, content []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	hdr.Set("Content-Type", mimetype)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func postUpload(t *testing.T, h *Handler, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Success(t *testing.T) {
	h := newTestHandler(t, 1<<20)

	body, ct := multipartBody(t, "file", "photo.png", "image/png", []byte("png bytes"))
	rec := postUpload(t, h, body, ct)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp uploadResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Fatal("success = false")
	}
	if resp.File.OriginalName != "photo.png" || !resp.File.IsImage {
		t.Fatalf("file = %+v", resp.File)
	}
	if !strings.HasPrefix(resp.File.URL, "/uploads/") {
		t.Fatalf("url = %q", resp.File.URL)
	}
}

func TestHandler_NoFileField(t *testing.T) {
	h := newTestHandler(t, 1<<20)

	body, ct := multipartBody(t, "wrong-field", "photo.png", "image/png", []byte("x"))
	rec := postUpload(t, h, body, ct)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != "No file uploaded" {
		t.Fatalf("error = %q", resp.Error)
	}
}

func TestHandler_TooLarge(t *testing.T) {
	const max = 1024
	h := newTestHandler(t, max)

	body, ct := multipartBody(t, "file", "big.txt", "text/plain", bytes.Repeat([]byte("x"), max+1))
	rec := postUpload(t, h, body, ct)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.Contains(resp.Error, "File too large") {
		t.Fatalf("error = %q", resp.Error)
	}
}

func TestHandler_ExactLimitAccepted(t *testing.T) {
	const max = 1024
	h := newTestHandler(t, max)

	body, ct := multipartBody(t, "file", "exact.txt", "text/plain", bytes.Repeat([]byte("x"), max))
	rec := postUpload(t, h, body, ct)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
}

func TestHandler_ForbiddenType(t *testing.T) {
	h := newTestHandler(t, 1<<20)

	body, ct := multipartBody(t, "file", "evil.exe", "text/plain", []byte("MZ"))
	rec := postUpload(t, h, body, ct)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.Contains(resp.Error, "blocked") {
		t.Fatalf("error = %q", resp.Error)
	}
}
