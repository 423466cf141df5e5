package content

import (
	"errors"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pocketcdn/service/internal/response"
	"github.com/pocketcdn/service/internal/storage"
)

// multipartMemory is the in-memory threshold for parsed forms; larger parts
// spill to temp files.
const multipartMemory = 32 << 20

// contentTypes maps file extensions to the MIME type originals are served
// with. Unknown extensions fall back to application/octet-stream.
var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".json": "application/json",
	".zip":  "application/zip",
}

// cacheControl marks served content immutable for a year: keys are unique
// per upload, so a URL's content never changes.
const cacheControl = "public, max-age=31536000, immutable"

// Handler holds the HTTP handlers for upload, delivery, and deletion.
type Handler struct {
	svc      *Service
	maxBytes int64
}

// NewHandler creates a content Handler. maxBytes is the per-file upload
// limit, used to cap request bodies.
func NewHandler(svc *Service, maxBytes int64) *Handler {
	return &Handler{svc: svc, maxBytes: maxBytes}
}

// RegisterRoutes mounts all content routes on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/upload", func(r chi.Router) {
		r.Post("/single", h.UploadSingle)
		r.Post("/multiple", h.UploadMultiple)
		r.Get("/stats", h.Stats)
	})
	r.Route("/files", func(r chi.Router) {
		r.Get("/optimized/{filename}", h.ServeOptimized)
		r.Get("/{filename}", h.ServeFile)
		r.Delete("/{filename}", h.DeleteFile)
	})
}

type singleUploadResponse struct {
	Success bool        `json:"success"`
	File    *Descriptor `json:"file"`
}

type batchError struct {
	OriginalName string `json:"originalName"`
	Error        string `json:"error"`
}

type multiUploadResponse struct {
	Success bool          `json:"success"`
	Count   int           `json:"count"`
	Files   []*Descriptor `json:"files"`
	Errors  []batchError  `json:"errors,omitempty"`
}

// UploadSingle ingests the multipart field "file".
func (h *Handler) UploadSingle(w http.ResponseWriter, r *http.Request) {
	// Headroom over the file limit for multipart framing.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+(1<<20))

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.writeUploadError(w, err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		response.BadRequest(w, "No file uploaded")
		return
	}
	defer file.Close()

	desc, err := h.svc.Ingest(r.Context(), Upload{
		OriginalName: header.Filename,
		MediaType:    header.Header.Get("Content-Type"),
		Size:         header.Size,
		Body:         file,
	})
	if err != nil {
		h.writeUploadError(w, err)
		return
	}

	response.OK(w, singleUploadResponse{Success: true, File: desc})
}

// UploadMultiple ingests the multipart field "files" (up to MaxBatchSize
// entries) concurrently. Entries fail independently; failed ones are
// reported in the errors array alongside the successful descriptors.
func (h *Handler) UploadMultiple(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes*MaxBatchSize+(1<<20))

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.writeUploadError(w, err)
		return
	}
	var headers []*multipart.FileHeader
	if r.MultipartForm != nil {
		headers = r.MultipartForm.File["files"]
	}
	if len(headers) == 0 {
		response.BadRequest(w, "No files uploaded")
		return
	}

	uploads := make([]Upload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			response.BadRequest(w, "Failed to read file "+fh.Filename)
			return
		}
		defer f.Close()
		uploads = append(uploads, Upload{
			OriginalName: fh.Filename,
			MediaType:    fh.Header.Get("Content-Type"),
			Size:         fh.Size,
			Body:         f,
		})
	}

	items, err := h.svc.IngestBatch(r.Context(), uploads)
	if err != nil {
		h.writeUploadError(w, err)
		return
	}

	resp := multiUploadResponse{Success: true, Files: []*Descriptor{}}
	for i, item := range items {
		if item.Err != nil {
			resp.Errors = append(resp.Errors, batchError{
				OriginalName: uploads[i].OriginalName,
				Error:        item.Err.Error(),
			})
			continue
		}
		resp.Files = append(resp.Files, item.Descriptor)
	}
	resp.Count = len(resp.Files)

	response.OK(w, resp)
}

// writeUploadError maps ingestion errors to status codes.
func (h *Handler) writeUploadError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, ErrPayloadTooLarge), errors.As(err, &maxErr):
		response.PayloadTooLarge(w, "File exceeds the upload size limit")
	case errors.Is(err, ErrUnsupportedMediaType),
		errors.Is(err, ErrEmptyBatch),
		errors.Is(err, ErrBatchTooLarge):
		response.BadRequest(w, err.Error())
	default:
		log.Printf("content: upload failed: %v", err)
		response.InternalError(w)
	}
}

// ServeFile streams an original from whichever tier holds it, with
// cache-immutable headers. The content type comes from the key's extension.
func (h *Handler) ServeFile(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")

	_, rc, err := h.svc.Resolve(r.Context(), filename)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			response.NotFound(w, "File not found")
			return
		}
		log.Printf("content: serve %s: %v", filename, err)
		response.InternalError(w)
		return
	}
	defer rc.Close()

	// Revalidation is answered only for objects that still exist; a deleted
	// key must 404 even when the client holds a matching ETag.
	etag := `"` + filename + `"`
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	contentType := contentTypes[strings.ToLower(filepath.Ext(filename))]
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.stream(w, rc, contentType, etag)
}

// ServeOptimized streams a derivative by its own key.
func (h *Handler) ServeOptimized(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")

	rc, err := h.svc.ResolveDerivative(r.Context(), filename)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			response.NotFound(w, "Optimized file not found")
			return
		}
		log.Printf("content: serve optimized %s: %v", filename, err)
		response.InternalError(w)
		return
	}
	defer rc.Close()

	etag := `"` + filename + `"`
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	h.stream(w, rc, h.svc.Policy().Format.ContentType(), etag)
}

// stream copies the object to the client with delivery headers set. The
// source is a lazy single-pass reader, so large objects are never buffered.
func (h *Handler) stream(w http.ResponseWriter, rc io.Reader, contentType, etag string) {
	w.Header().Set("Cache-Control", cacheControl)
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", contentType)
	if _, err := io.Copy(w, rc); err != nil {
		// Headers are already sent; nothing to do but note the broken copy.
		log.Printf("content: stream aborted: %v", err)
	}
}

// DeleteFile removes the original under the given key from whichever tier
// holds it, plus its derivative. 404 only when nothing matched.
func (h *Handler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")

	found, err := h.svc.Delete(r.Context(), filename)
	if err != nil {
		log.Printf("content: delete %s: %v", filename, err)
		response.InternalError(w)
		return
	}
	if !found {
		response.NotFound(w, "File not found")
		return
	}

	response.OK(w, map[string]interface{}{"success": true, "message": "File deleted"})
}

type tierStatsBody struct {
	Count       int    `json:"count"`
	TotalSize   int64  `json:"totalSize"`
	TotalSizeMB string `json:"totalSizeMB"`
}

// Stats reports per-tier object counts and byte totals, recomputed from tier
// listings on every call.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		log.Printf("content: stats: %v", err)
		response.InternalError(w)
		return
	}

	body := make(map[string]tierStatsBody, len(stats))
	for tier, ts := range stats {
		body[string(tier)] = tierStatsBody{
			Count:       ts.Count,
			TotalSize:   ts.TotalBytes,
			TotalSizeMB: strconv.FormatFloat(float64(ts.TotalBytes)/(1<<20), 'f', 2, 64),
		}
	}
	response.OK(w, body)
}
