package publish

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"net/url"
	"os"
	"sync"

	"github.com/firebridge/firebridge/internal/bridge"
	fberr "github.com/firebridge/firebridge/internal/errors"
	"github.com/firebridge/firebridge/internal/metrics"
	"github.com/firebridge/firebridge/internal/storage"
)

// ObjectRef is a single-object reference.
type ObjectRef interface {
	bridge.Liveness
	PutData(ctx context.Context, data []byte, meta *storage.Metadata, completion func(*storage.Metadata, error))
	DownloadURL(ctx context.Context, completion func(*url.URL, error))
}

// FileReference is the path of a local file to upload.
type FileReference string

// EncodedImage is an in-memory image, uploaded PNG-encoded.
type EncodedImage struct {
	Image image.Image
}

// Upload stores data at ref and emits the object's download URL.
//
// data must be a FileReference, a *url.URL with the file scheme, an
// EncodedImage or an image.Image. Anything else fails with
// ErrInvalidDataType before any transfer. Every later failure, including
// reading the file or encoding the image, is reported as ErrInvalidData
// with the original error as its cause.
func Upload(s *bridge.Scheduler, ref ObjectRef, data any, meta *storage.Metadata) *bridge.Publisher[*url.URL] {
	src, err := source(data)
	if err != nil {
		return bridge.New(s, OpUpload, ref, bridge.Fail[*url.URL](err))
	}

	stored := bridge.FlatMap(src, func(b []byte) bridge.Operation[*storage.Metadata] {
		metrics.UploadSize.Observe(float64(len(b)))
		return bridge.Guard(ref, putData(ref, b, meta))
	})
	located := bridge.FlatMap(stored, func(*storage.Metadata) bridge.Operation[*url.URL] {
		return bridge.Guard(ref, downloadURL(ref))
	})
	return bridge.New(s, OpUpload, ref, bridge.MapError(located, func(err error) error {
		slog.Warn("Upload failed", "error", err)
		return fberr.InvalidData(err)
	}))
}

// source picks the byte source for data without reading anything yet.
func source(data any) (bridge.Operation[[]byte], error) {
	switch v := data.(type) {
	case FileReference:
		return readFile(string(v)), nil
	case *url.URL:
		if v == nil || v.Scheme != "file" {
			return nil, fberr.ErrInvalidDataType
		}
		return readFile(v.Path), nil
	case EncodedImage:
		return encodePNG(v.Image), nil
	case *EncodedImage:
		if v == nil {
			return nil, fberr.ErrInvalidDataType
		}
		return encodePNG(v.Image), nil
	case image.Image:
		return encodePNG(v), nil
	default:
		return nil, fberr.ErrInvalidDataType
	}
}

func readFile(path string) bridge.Operation[[]byte] {
	return bridge.Blocking(func(context.Context) ([]byte, error) {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading upload file: %w", err)
		}
		return b, nil
	})
}

func encodePNG(img image.Image) bridge.Operation[[]byte] {
	return bridge.Blocking(func(context.Context) ([]byte, error) {
		if img == nil {
			return nil, fberr.ErrInvalidImageData
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fberr.ErrInvalidImageData.WithCause(err)
		}
		return buf.Bytes(), nil
	})
}

// putData succeeds only when the transfer reports metadata.
func putData(ref ObjectRef, data []byte, meta *storage.Metadata) bridge.Operation[*storage.Metadata] {
	return func(ctx context.Context, done func(*storage.Metadata, error)) {
		done = first(done)
		ref.PutData(ctx, data, meta, func(m *storage.Metadata, err error) {
			switch {
			case err != nil:
				done(nil, err)
			case m == nil:
				done(nil, fberr.ErrFailedUpload)
			default:
				done(m, nil)
			}
		})
	}
}

// downloadURL prefers a reported URL over a reported error.
func downloadURL(ref ObjectRef) bridge.Operation[*url.URL] {
	return func(ctx context.Context, done func(*url.URL, error)) {
		done = first(done)
		ref.DownloadURL(ctx, func(u *url.URL, err error) {
			switch {
			case u != nil:
				done(u, nil)
			case err != nil:
				done(nil, err)
			default:
				done(nil, fberr.ErrFailedGeneratingURL)
			}
		})
	}
}

// first forwards only the first call to done, so a vendor calling its
// completion twice cannot start the next step twice.
func first[T any](done func(T, error)) func(T, error) {
	var once sync.Once
	return func(v T, err error) {
		once.Do(func() { done(v, err) })
	}
}
