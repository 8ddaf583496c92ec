package publish

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/firebridge/firebridge/internal/bridge"
	fberr "github.com/firebridge/firebridge/internal/errors"
	"github.com/firebridge/firebridge/internal/storage"
)

// fakeObjectRef is an ObjectRef with scripted transfer and URL outcomes.
type fakeObjectRef struct {
	*bridge.Owner

	putMeta *storage.Metadata
	putErr  error
	// putTwice makes PutData call its completion a second time.
	putTwice bool
	url      *url.URL
	urlErr   error

	putCalls atomic.Int32
	urlCalls atomic.Int32
	gotData  []byte
	gotMeta  *storage.Metadata

	// started and hold, when set, pause PutData until hold is closed.
	started chan struct{}
	hold    chan struct{}
}

func newFakeObjectRef() *fakeObjectRef {
	return &fakeObjectRef{
		Owner:   bridge.NewOwner(),
		putMeta: &storage.Metadata{Name: "k"},
		url:     &url.URL{Scheme: "https", Host: "cdn.example.com", Path: "/k"},
	}
}

func (f *fakeObjectRef) PutData(ctx context.Context, data []byte, meta *storage.Metadata, completion func(*storage.Metadata, error)) {
	f.putCalls.Add(1)
	f.gotData = data
	f.gotMeta = meta
	if f.hold != nil {
		close(f.started)
		<-f.hold
	}
	completion(f.putMeta, f.putErr)
	if f.putTwice {
		completion(f.putMeta, f.putErr)
	}
}

func (f *fakeObjectRef) DownloadURL(ctx context.Context, completion func(*url.URL, error)) {
	f.urlCalls.Add(1)
	completion(f.url, f.urlErr)
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.bin")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestUploadInvalidDataType(t *testing.T) {
	s := newScheduler(t)
	inputs := []struct {
		name string
		data any
	}{
		{"nil", nil},
		{"string", "/tmp/file"},
		{"bytes", []byte("raw")},
		{"int", 42},
		{"http url", &url.URL{Scheme: "https", Host: "example.com", Path: "/a"}},
		{"nil url", (*url.URL)(nil)},
		{"nil encoded image pointer", (*EncodedImage)(nil)},
	}
	for _, in := range inputs {
		t.Run(in.name, func(t *testing.T) {
			ref := newFakeObjectRef()
			got, err := await(t, Upload(s, ref, in.data, nil))
			if !errors.Is(err, fberr.ErrInvalidDataType) {
				t.Errorf("err = %v, want InvalidDataType", err)
			}
			if errors.Is(err, fberr.ErrInvalidData) {
				t.Error("InvalidDataType was remapped to InvalidData")
			}
			if got != nil {
				t.Errorf("url = %v, want nil", got)
			}
			if n := ref.putCalls.Load(); n != 0 {
				t.Errorf("PutData calls = %d, want 0", n)
			}
			if n := ref.urlCalls.Load(); n != 0 {
				t.Errorf("DownloadURL calls = %d, want 0", n)
			}
		})
	}
}

func TestUploadFile(t *testing.T) {
	s := newScheduler(t)
	path := writeTempFile(t, "file contents")
	meta := &storage.Metadata{ContentType: "text/plain"}

	for _, data := range []any{FileReference(path), &url.URL{Scheme: "file", Path: path}} {
		ref := newFakeObjectRef()
		got, err := await(t, Upload(s, ref, data, meta))
		if err != nil {
			t.Fatalf("Upload(%v): %v", data, err)
		}
		if got != ref.url {
			t.Errorf("url = %v, want the exact URL reported (%v)", got, ref.url)
		}
		if string(ref.gotData) != "file contents" {
			t.Errorf("uploaded %q", ref.gotData)
		}
		if ref.gotMeta != meta {
			t.Error("metadata not passed through to PutData")
		}
		if ref.putCalls.Load() != 1 || ref.urlCalls.Load() != 1 {
			t.Errorf("calls put=%d url=%d, want 1 each", ref.putCalls.Load(), ref.urlCalls.Load())
		}
	}
}

func TestUploadImage(t *testing.T) {
	s := newScheduler(t)
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})

	for _, data := range []any{img, EncodedImage{Image: img}, &EncodedImage{Image: img}} {
		ref := newFakeObjectRef()
		if _, err := await(t, Upload(s, ref, data, nil)); err != nil {
			t.Fatalf("Upload(%T): %v", data, err)
		}
		decoded, err := png.Decode(bytes.NewReader(ref.gotData))
		if err != nil {
			t.Fatalf("uploaded bytes are not PNG: %v", err)
		}
		if decoded.Bounds() != img.Bounds() {
			t.Errorf("bounds = %v, want %v", decoded.Bounds(), img.Bounds())
		}
		if r, _, _, _ := decoded.At(1, 1).RGBA(); r != 0xffff {
			t.Errorf("pixel (1,1) red = %#x", r)
		}
	}
}

func TestUploadSourceFailures(t *testing.T) {
	s := newScheduler(t)

	ref := newFakeObjectRef()
	_, err := await(t, Upload(s, ref, FileReference(filepath.Join(t.TempDir(), "missing")), nil))
	if !errors.Is(err, fberr.ErrInvalidData) || !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("missing file err = %v, want InvalidData caused by ErrNotExist", err)
	}
	if ref.putCalls.Load() != 0 {
		t.Error("PutData called for unreadable file")
	}

	ref = newFakeObjectRef()
	_, err = await(t, Upload(s, ref, EncodedImage{}, nil))
	if !errors.Is(err, fberr.ErrInvalidData) || !errors.Is(err, fberr.ErrInvalidImageData) {
		t.Errorf("empty image err = %v, want InvalidData caused by InvalidImageData", err)
	}
	if ref.putCalls.Load() != 0 {
		t.Error("PutData called for empty image")
	}
}

func TestUploadTransferOutcomes(t *testing.T) {
	s := newScheduler(t)
	path := writeTempFile(t, "x")
	putErr := errors.New("quota exceeded")
	urlErr := errors.New("not authorized")

	tests := []struct {
		name         string
		setup        func(*fakeObjectRef)
		wantURL      bool
		wantCause    error
		wantURLCalls int32
	}{
		{
			name:         "no metadata and no error",
			setup:        func(f *fakeObjectRef) { f.putMeta = nil },
			wantCause:    fberr.ErrFailedUpload,
			wantURLCalls: 0,
		},
		{
			name:         "transfer error",
			setup:        func(f *fakeObjectRef) { f.putMeta, f.putErr = nil, putErr },
			wantCause:    putErr,
			wantURLCalls: 0,
		},
		{
			name:         "transfer error with metadata",
			setup:        func(f *fakeObjectRef) { f.putErr = putErr },
			wantCause:    putErr,
			wantURLCalls: 0,
		},
		{
			name:         "no url and no error",
			setup:        func(f *fakeObjectRef) { f.url = nil },
			wantCause:    fberr.ErrFailedGeneratingURL,
			wantURLCalls: 1,
		},
		{
			name:         "url error",
			setup:        func(f *fakeObjectRef) { f.url, f.urlErr = nil, urlErr },
			wantCause:    urlErr,
			wantURLCalls: 1,
		},
		{
			name:         "url wins over error",
			setup:        func(f *fakeObjectRef) { f.urlErr = urlErr },
			wantURL:      true,
			wantURLCalls: 1,
		},
		{
			name:         "transfer completion called twice",
			setup:        func(f *fakeObjectRef) { f.putTwice = true },
			wantURL:      true,
			wantURLCalls: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := newFakeObjectRef()
			tt.setup(ref)
			got, err := await(t, Upload(s, ref, FileReference(path), nil))
			if tt.wantURL {
				if err != nil || got != ref.url {
					t.Errorf("Upload = %v, %v; want %v", got, err, ref.url)
				}
			} else {
				if !errors.Is(err, fberr.ErrInvalidData) {
					t.Errorf("err = %v, want InvalidData", err)
				}
				if !errors.Is(err, tt.wantCause) {
					t.Errorf("err = %v, want cause %v", err, tt.wantCause)
				}
				var fe *fberr.Error
				if !errors.As(err, &fe) || fe.Code != fberr.ErrInvalidData.Code {
					t.Errorf("outermost error = %v, want InvalidData", err)
				}
			}
			if n := ref.urlCalls.Load(); n != tt.wantURLCalls {
				t.Errorf("DownloadURL calls = %d, want %d", n, tt.wantURLCalls)
			}
		})
	}
}

func TestUploadNotStartedBeforeSubscribe(t *testing.T) {
	ref := newFakeObjectRef()
	Upload(newScheduler(t), ref, FileReference(writeTempFile(t, "x")), nil)
	if ref.putCalls.Load() != 0 {
		t.Error("PutData called before Subscribe")
	}
}

func TestUploadReleasedBeforeCallback(t *testing.T) {
	ref := newFakeObjectRef()
	ref.started = make(chan struct{})
	ref.hold = make(chan struct{})

	p := Upload(newScheduler(t), ref, FileReference(writeTempFile(t, "x")), nil)
	assertNoEvent(t, p, ref.started, func() {
		ref.Release()
		close(ref.hold)
	})
	if n := ref.urlCalls.Load(); n != 0 {
		t.Errorf("DownloadURL calls = %d after release, want 0", n)
	}
}

func TestUploadToBackend(t *testing.T) {
	backend := storage.NewMemoryBackend("https://cdn.example.com/")
	ref, err := storage.NewClient(backend).Ref("images/dot.png")
	if err != nil {
		t.Fatal(err)
	}
	img := image.NewGray(image.Rect(0, 0, 1, 1))

	got, err := await(t, Upload(newScheduler(t), ref, img, &storage.Metadata{CacheControl: "max-age=60"}))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if got.String() != "https://cdn.example.com/images/dot.png" {
		t.Errorf("url = %s", got)
	}
	rc, meta, err := backend.Open(context.Background(), "images/dot.png")
	if err != nil {
		t.Fatal(err)
	}
	rc.Close()
	if meta.ContentType != "image/png" || meta.CacheControl != "max-age=60" {
		t.Errorf("stored metadata = %+v", meta)
	}
}
