// Package main is the entry point for firebridgectl, which runs the bridge's
// operations against the configured backends from the command line.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/firebridge/firebridge/internal/bridge"
	"github.com/firebridge/firebridge/internal/config"
	"github.com/firebridge/firebridge/internal/docstore"
	"github.com/firebridge/firebridge/internal/logging"
	"github.com/firebridge/firebridge/internal/publish"
	"github.com/firebridge/firebridge/internal/server"
	"github.com/firebridge/firebridge/internal/storage"
	"github.com/firebridge/firebridge/internal/uid"
)

const usage = "Usage: firebridgectl <get|put|query|upload> [flags]"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, usage)
		return 1
	}

	switch args[0] {
	case "get":
		return runGet(args[1:], stdout, stderr)
	case "put":
		return runPut(args[1:], stdout, stderr)
	case "query":
		return runQuery(args[1:], stdout, stderr)
	case "upload":
		return runUpload(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n%s\n", args[0], usage)
		return 1
	}
}

// env holds the backends and scheduler one command runs against.
type env struct {
	cfg     *config.Config
	sched   *bridge.Scheduler
	store   docstore.Store
	docs    *docstore.Client
	objects *storage.Client
}

// openEnv loads configPath, or the defaults when it is empty, and opens
// the backends it names.
func openEnv(ctx context.Context, configPath string, stderr io.Writer) (*env, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, stderr)

	store, err := docstore.Open(ctx, cfg.DocStore)
	if err != nil {
		return nil, err
	}
	backend, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		store.Close()
		return nil, err
	}
	return &env{
		cfg:     cfg,
		sched:   bridge.NewScheduler(bridge.WithWorkers(cfg.Bridge.Workers), bridge.WithTimeout(cfg.Bridge.Timeout())),
		store:   store,
		docs:    docstore.NewClient(store),
		objects: storage.NewClient(backend),
	}, nil
}

func (e *env) Close() {
	e.sched.Close()
	e.store.Close()
	if c, ok := e.objects.Backend().(io.Closer); ok {
		c.Close()
	}
}

// awaitContext bounds how long a command waits for its terminal event.
func awaitContext(wait time.Duration) (context.Context, context.CancelFunc) {
	if wait <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), wait)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fail(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

func runGet(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Config file path (defaults when empty)")
	collection := fs.String("collection", "", "Collection name")
	id := fs.String("id", "", "Document ID")
	wait := fs.Duration("wait", 30*time.Second, "How long to wait for the result (0 waits forever)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	ctx, cancel := awaitContext(*wait)
	defer cancel()
	e, err := openEnv(ctx, *configPath, stderr)
	if err != nil {
		return fail(stderr, err)
	}
	defer e.Close()

	ref, err := e.docs.Doc(*collection, *id)
	if err != nil {
		return fail(stderr, err)
	}
	snap, err := publish.Document(e.sched, ref).Await(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	if snap == nil || !snap.Exists {
		return fail(stderr, fmt.Errorf("document %s/%s does not exist", *collection, *id))
	}
	if err := printJSON(stdout, server.Document{
		Collection: snap.Collection,
		ID:         snap.ID,
		Data:       snap.Data,
		UpdateTime: snap.UpdateTime,
	}); err != nil {
		return fail(stderr, err)
	}
	return 0
}

func runPut(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("put", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Config file path (defaults when empty)")
	collection := fs.String("collection", "", "Collection name")
	id := fs.String("id", "", "Document ID")
	data := fs.String("data", "{}", "Document fields as a JSON object")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(*data), &fields); err != nil {
		return fail(stderr, fmt.Errorf("parsing -data: %w", err))
	}
	if err := docstore.ValidateCollection(*collection); err != nil {
		return fail(stderr, err)
	}
	if err := docstore.ValidateDocumentID(*id); err != nil {
		return fail(stderr, err)
	}

	ctx := context.Background()
	e, err := openEnv(ctx, *configPath, stderr)
	if err != nil {
		return fail(stderr, err)
	}
	defer e.Close()

	snap, err := e.store.SetDocument(ctx, *collection, *id, fields)
	if err != nil {
		return fail(stderr, err)
	}
	if err := printJSON(stdout, server.Document{
		Collection: snap.Collection,
		ID:         snap.ID,
		Data:       snap.Data,
		UpdateTime: snap.UpdateTime,
	}); err != nil {
		return fail(stderr, err)
	}
	return 0
}

func runQuery(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Config file path (defaults when empty)")
	collection := fs.String("collection", "", "Collection name")
	limit := fs.Int("limit", 0, "Maximum number of documents (0 for no limit)")
	lenient := fs.Bool("lenient", false, "Report a failed query as an empty result")
	wait := fs.Duration("wait", 30*time.Second, "How long to wait for the result (0 waits forever)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	ctx, cancel := awaitContext(*wait)
	defer cancel()
	e, err := openEnv(ctx, *configPath, stderr)
	if err != nil {
		return fail(stderr, err)
	}
	defer e.Close()

	q, err := e.docs.Collection(*collection)
	if err != nil {
		return fail(stderr, err)
	}
	p := publish.Query(e.sched, q, *limit)
	if *lenient {
		p = publish.QueryLenient(e.sched, q, *limit)
	}
	snaps, err := p.Await(ctx)
	if err != nil {
		return fail(stderr, err)
	}

	docs := make([]server.Document, 0, len(snaps))
	for _, s := range snaps {
		docs = append(docs, server.Document{Collection: s.Collection, ID: s.ID, Data: s.Data, UpdateTime: s.UpdateTime})
	}
	if err := printJSON(stdout, docs); err != nil {
		return fail(stderr, err)
	}
	return 0
}

func runUpload(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Config file path (defaults when empty)")
	key := fs.String("key", "", "Object key (generated under uploads/ when empty)")
	file := fs.String("file", "", "Upload this file as is")
	imagePath := fs.String("image", "", "Decode this image file and upload it as PNG")
	contentType := fs.String("content-type", "", "Content-Type of the stored object (sniffed when empty)")
	cacheControl := fs.String("cache-control", "", "Cache-Control of the stored object")
	wait := fs.Duration("wait", 5*time.Minute, "How long to wait for the result (0 waits forever)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	var (
		data any
		ext  string
	)
	switch {
	case *file != "" && *imagePath != "":
		return fail(stderr, errors.New("-file and -image are mutually exclusive"))
	case *file != "":
		abs, err := filepath.Abs(*file)
		if err != nil {
			return fail(stderr, err)
		}
		data, ext = publish.FileReference(abs), filepath.Ext(abs)
	case *imagePath != "":
		img, err := decodeImage(*imagePath)
		if err != nil {
			return fail(stderr, err)
		}
		data, ext = publish.EncodedImage{Image: img}, ".png"
	default:
		return fail(stderr, errors.New("one of -file or -image is required"))
	}

	ctx, cancel := awaitContext(*wait)
	defer cancel()
	e, err := openEnv(ctx, *configPath, stderr)
	if err != nil {
		return fail(stderr, err)
	}
	defer e.Close()

	if *key == "" {
		*key = uid.Key("uploads", ext)
	}
	ref, err := e.objects.Ref(*key)
	if err != nil {
		return fail(stderr, err)
	}
	meta := &storage.Metadata{ContentType: *contentType, CacheControl: *cacheControl}
	u, err := publish.Upload(e.sched, ref, data, meta).Await(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	if err := printJSON(stdout, server.UploadBody{Key: *key, URL: u.String()}); err != nil {
		return fail(stderr, err)
	}
	return 0
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding image %s: %w", path, err)
	}
	return img, nil
}
