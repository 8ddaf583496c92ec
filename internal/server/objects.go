package server

import (
	"encoding/json"
	"errors"
	"image"
	_ "image/gif"  // image/gif uploads
	_ "image/jpeg" // image/jpeg uploads
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	fberr "github.com/firebridge/firebridge/internal/errors"
	"github.com/firebridge/firebridge/internal/publish"
	"github.com/firebridge/firebridge/internal/storage"
)

// customMetaPrefix marks request headers copied into custom object metadata.
const customMetaPrefix = "X-Meta-"

// UploadBody is the JSON response of a successful upload.
type UploadBody struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// fileRequest is the JSON body of an upload by file reference.
type fileRequest struct {
	File string `json:"file"`
}

// uploadObject handles POST /v1/objects/{key...}. An image/* body is decoded
// and uploaded as PNG; a JSON body naming a file under the configured file
// root uploads that file. Any other body is rejected by the upload publisher
// as an invalid data type.
func (s *Server) uploadObject(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	ref, err := s.objects.Ref(key)
	if err != nil {
		writeError(w, err)
		return
	}
	defer ref.Release()

	body := http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadSize)
	data, err := s.uploadSource(r, body)
	if err != nil {
		writeError(w, err)
		return
	}

	u, err := publish.Upload(s.sched, ref, data, uploadMetadata(r)).Await(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	s.logger.Info("Object uploaded", "key", key, "url", u.String())
	writeJSON(w, http.StatusCreated, "application/json", UploadBody{Key: key, URL: u.String()})
}

// uploadSource turns the request body into one of the values Upload accepts.
// Bodies of any other kind are returned as raw bytes.
func (s *Server) uploadSource(r *http.Request, body io.Reader) (any, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		img, _, err := image.Decode(body)
		if err != nil {
			return nil, fberr.ErrInvalidImageData.WithCause(err)
		}
		return img, nil

	case mediaType == "application/json":
		var req fileRequest
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			return nil, fberr.ErrInvalidArgument.WithMessage("invalid JSON body: %v", err)
		}
		path, err := s.resolveFile(req.File)
		if err != nil {
			return nil, err
		}
		return publish.FileReference(path), nil

	default:
		raw, err := io.ReadAll(body)
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return nil, fberr.ErrInvalidArgument.WithMessage("request body exceeds %d bytes", maxErr.Limit)
			}
			return nil, err
		}
		return raw, nil
	}
}

// resolveFile maps a client-supplied file reference into the file root.
func (s *Server) resolveFile(name string) (string, error) {
	root := s.cfg.Server.FileRoot
	if root == "" {
		return "", fberr.ErrInvalidDataType.WithMessage("uploads by file reference are disabled")
	}
	if name == "" {
		return "", fberr.ErrInvalidArgument.WithMessage("file must not be empty")
	}
	rel := filepath.Clean("/" + filepath.FromSlash(name))
	return filepath.Join(root, rel), nil
}

func uploadMetadata(r *http.Request) *storage.Metadata {
	meta := &storage.Metadata{
		CacheControl:       r.Header.Get("Cache-Control"),
		ContentDisposition: r.Header.Get("Content-Disposition"),
	}
	for name, values := range r.Header {
		if !strings.HasPrefix(name, customMetaPrefix) || len(values) == 0 {
			continue
		}
		if meta.Custom == nil {
			meta.Custom = make(map[string]string)
		}
		meta.Custom[strings.ToLower(strings.TrimPrefix(name, customMetaPrefix))] = values[0]
	}
	return meta
}

// serveObject handles GET /objects/{key...} for backends the gateway serves
// itself.
func (s *Server) serveObject(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	opener, ok := s.objects.Backend().(storage.Opener)
	if !ok {
		writeError(w, fberr.ErrNotFound.WithMessage("objects are served by the storage provider"))
		return
	}
	if err := storage.ValidateKey(key); err != nil {
		writeError(w, err)
		return
	}

	rc, meta, err := opener.Open(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()

	h := w.Header()
	if meta.ContentType != "" {
		h.Set("Content-Type", meta.ContentType)
	}
	if meta.CacheControl != "" {
		h.Set("Cache-Control", meta.CacheControl)
	}
	if meta.ContentDisposition != "" {
		h.Set("Content-Disposition", meta.ContentDisposition)
	}
	if meta.ETag != "" {
		h.Set("ETag", meta.ETag)
	}
	if !meta.Updated.IsZero() {
		h.Set("Last-Modified", meta.Updated.UTC().Format(http.TimeFormat))
	}
	h.Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Debug("Failed to stream object", "key", key, "error", err)
	}
}
