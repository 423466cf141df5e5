package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (chi.Router, *Service) {
	t.Helper()
	svc, _ := newTestService(t, defaultPolicy(), 50<<20)
	h := NewHandler(svc, 50<<20)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r, svc
}

// multipartBody builds a multipart form with one part per entry under the
// given field name, each with an explicit content type.
func multipartBody(t *testing.T, field string, files []struct {
	name, contentType string
	data              []byte
}) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, f.name))
		hdr.Set("Content-Type", f.contentType)
		part, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func uploadSingle(t *testing.T, r chi.Router, name, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, formType := multipartBody(t, "file", []struct {
		name, contentType string
		data              []byte
	}{{name, contentType, data}})

	req := httptest.NewRequest(http.MethodPost, "/api/upload/single", body)
	req.Header.Set("Content-Type", formType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestUploadSingleAndServe(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := uploadSingle(t, router, "hello.txt", "text/plain", []byte("hello over http"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Success bool        `json:"success"`
		File    *Descriptor `json:"file"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.NotNil(t, resp.File)
	assert.Equal(t, "hello.txt", resp.File.OriginalName)
	assert.True(t, strings.HasSuffix(resp.File.Filename, ".txt"))

	get := httptest.NewRequest(http.MethodGet, resp.File.Path, nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, get)

	require.Equal(t, http.StatusOK, getRec.Code)
	assert.Equal(t, "hello over http", getRec.Body.String())
	assert.Equal(t, "public, max-age=31536000, immutable", getRec.Header().Get("Cache-Control"))
	assert.Equal(t, `"`+resp.File.Filename+`"`, getRec.Header().Get("ETag"))
	assert.Equal(t, "text/plain", getRec.Header().Get("Content-Type"))
}

func TestUploadSingleImageServesDerivative(t *testing.T) {
	router, _ := newTestRouter(t)
	src := testPNG(t, 300, 150)

	rec := uploadSingle(t, router, "photo.png", "image/png", src)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		File *Descriptor `json:"file"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.File)
	require.NotEmpty(t, resp.File.OptimizedPath)
	require.NotNil(t, resp.File.Metadata)
	assert.Equal(t, 300, resp.File.Metadata.Width)

	get := httptest.NewRequest(http.MethodGet, resp.File.OptimizedPath, nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, get)

	require.Equal(t, http.StatusOK, getRec.Code)
	assert.Equal(t, "image/webp", getRec.Header().Get("Content-Type"))
	assert.NotEmpty(t, getRec.Body.Bytes())
}

func TestUploadSingleMissingFile(t *testing.T) {
	router, _ := newTestRouter(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("unrelated", "value"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload/single", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "No file uploaded")
}

func TestUploadSingleUnsupportedType(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := uploadSingle(t, router, "prog.exe", "application/x-executable", []byte("MZ"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unsupported media type")
}

func TestUploadMultiple(t *testing.T) {
	router, svc := newTestRouter(t)

	body, formType := multipartBody(t, "files", []struct {
		name, contentType string
		data              []byte
	}{
		{"a.txt", "text/plain", []byte("aaa")},
		{"b.json", "application/json", []byte(`{"b":1}`)},
		{"c.txt", "text/plain", []byte("ccc")},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/upload/multiple", body)
	req.Header.Set("Content-Type", formType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Success bool          `json:"success"`
		Count   int           `json:"count"`
		Files   []*Descriptor `json:"files"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 3, resp.Count)
	require.Len(t, resp.Files, 3)

	for _, desc := range resp.Files {
		_, rc, err := svc.Resolve(context.Background(), desc.Filename)
		require.NoError(t, err)
		rc.Close()
	}
}

func TestUploadMultiplePartialFailure(t *testing.T) {
	router, _ := newTestRouter(t)

	body, formType := multipartBody(t, "files", []struct {
		name, contentType string
		data              []byte
	}{
		{"good.txt", "text/plain", []byte("fine")},
		{"bad.exe", "application/x-executable", []byte("MZ")},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/upload/multiple", body)
	req.Header.Set("Content-Type", formType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count  int `json:"count"`
		Errors []struct {
			OriginalName string `json:"originalName"`
		} `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "bad.exe", resp.Errors[0].OriginalName)
}

func TestUploadMultipleEmpty(t *testing.T) {
	router, _ := newTestRouter(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload/multiple", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeUnknownFile(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/files/nope.txt", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "File not found")
}

func TestServeUnknownDerivative(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/files/optimized/nope.webp", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Optimized file not found")
}

func TestServeHonorsIfNoneMatch(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := uploadSingle(t, router, "cached.txt", "text/plain", []byte("cache me"))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		File *Descriptor `json:"file"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	get := httptest.NewRequest(http.MethodGet, resp.File.Path, nil)
	get.Header.Set("If-None-Match", `"`+resp.File.Filename+`"`)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, get)

	assert.Equal(t, http.StatusNotModified, getRec.Code)
	assert.Empty(t, getRec.Body.Bytes())
}

func TestRevalidationAfterDeleteReturnsNotFound(t *testing.T) {
	router, _ := newTestRouter(t)
	src := testPNG(t, 40, 40)

	rec := uploadSingle(t, router, "stale.png", "image/png", src)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		File *Descriptor `json:"file"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.File.OptimizedPath)

	del := httptest.NewRequest(http.MethodDelete, resp.File.Path, nil)
	delRec := httptest.NewRecorder()
	router.ServeHTTP(delRec, del)
	require.Equal(t, http.StatusOK, delRec.Code)

	// A client holding a matching ETag must learn the object is gone, not
	// keep serving it from cache on a 304.
	get := httptest.NewRequest(http.MethodGet, resp.File.Path, nil)
	get.Header.Set("If-None-Match", `"`+resp.File.Filename+`"`)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, get)
	assert.Equal(t, http.StatusNotFound, getRec.Code)

	derivName := resp.File.OptimizedPath[strings.LastIndex(resp.File.OptimizedPath, "/")+1:]
	get = httptest.NewRequest(http.MethodGet, resp.File.OptimizedPath, nil)
	get.Header.Set("If-None-Match", `"`+derivName+`"`)
	getRec = httptest.NewRecorder()
	router.ServeHTTP(getRec, get)
	assert.Equal(t, http.StatusNotFound, getRec.Code)
}

func TestDeleteCascadesOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t)
	src := testPNG(t, 40, 40)

	rec := uploadSingle(t, router, "gone.png", "image/png", src)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		File *Descriptor `json:"file"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.File.OptimizedPath)

	del := httptest.NewRequest(http.MethodDelete, resp.File.Path, nil)
	delRec := httptest.NewRecorder()
	router.ServeHTTP(delRec, del)
	require.Equal(t, http.StatusOK, delRec.Code)
	assert.Contains(t, delRec.Body.String(), `"success":true`)

	for _, path := range []string{resp.File.Path, resp.File.OptimizedPath} {
		get := httptest.NewRequest(http.MethodGet, path, nil)
		getRec := httptest.NewRecorder()
		router.ServeHTTP(getRec, get)
		assert.Equal(t, http.StatusNotFound, getRec.Code, path)
	}

	// Deleting again is a 404.
	del = httptest.NewRequest(http.MethodDelete, resp.File.Path, nil)
	delRec = httptest.NewRecorder()
	router.ServeHTTP(delRec, del)
	assert.Equal(t, http.StatusNotFound, delRec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	router, svc := newTestRouter(t)

	ingestText(t, svc, "one.txt", "12345")
	src := testPNG(t, 60, 60)
	_, err := svc.Ingest(context.Background(), Upload{
		OriginalName: "img.png",
		MediaType:    "image/png",
		Size:         int64(len(src)),
		Body:         bytes.NewReader(src),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/upload/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]struct {
		Count       int    `json:"count"`
		TotalSize   int64  `json:"totalSize"`
		TotalSizeMB string `json:"totalSizeMB"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, 1, resp["files"].Count)
	assert.Equal(t, int64(5), resp["files"].TotalSize)
	assert.Equal(t, "0.00", resp["files"].TotalSizeMB)
	assert.Equal(t, 1, resp["images"].Count)
	assert.Equal(t, int64(len(src)), resp["images"].TotalSize)
	assert.Equal(t, 1, resp["optimized"].Count)
	assert.Positive(t, resp["optimized"].TotalSize)
}

func TestServedOriginalMatchesUploadedBytes(t *testing.T) {
	router, _ := newTestRouter(t)
	payload := bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 1024)

	rec := uploadSingle(t, router, "blob.zip", "application/zip", payload)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		File *Descriptor `json:"file"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	get := httptest.NewRequest(http.MethodGet, resp.File.Path, nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, get)

	require.Equal(t, http.StatusOK, getRec.Code)
	got, err := io.ReadAll(getRec.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, "application/zip", getRec.Header().Get("Content-Type"))
}
