package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"camviewer/internal/config"
	"camviewer/internal/directory"
	"camviewer/internal/model"
	"camviewer/internal/stream"
)

// frameWriter saves frames to disk and cancels the session after the last one.
type frameWriter struct {
	dir    string
	limit  int
	cancel context.CancelFunc

	mu       sync.Mutex
	saved    int
	failures int
}

func (w *frameWriter) OnFrame(frame stream.Frame) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.saved >= w.limit {
		return
	}

	b := frame.Image.Bounds()
	name := filepath.Join(w.dir, fmt.Sprintf("%s_%04d.jpg", frame.CameraID, frame.Seq))
	if err := os.WriteFile(name, frame.Data, 0644); err != nil {
		log.Printf("Failed to write %s: %v", name, err)
		return
	}
	w.saved++
	fmt.Printf("%s  %dx%d  %d bytes\n", name, b.Dx(), b.Dy(), len(frame.Data))

	if w.saved == w.limit {
		w.cancel()
	}
}

func (w *frameWriter) OnError(cameraID string, err error) {
	w.mu.Lock()
	w.failures++
	w.mu.Unlock()
	log.Printf("Camera %s: %v", cameraID, err)
}

func main() {
	cfg := config.Load()

	host := flag.String("host", cfg.CameraHost, "Camera server base URL")
	login := flag.String("login", cfg.CameraLogin, "Camera server login")
	list := flag.Bool("list", false, "List cameras and exit")
	cameraID := flag.String("camera", cfg.DefaultCamera, "Camera id to grab frames from")
	frames := flag.Int("frames", 10, "Number of frames to save")
	outDir := flag.String("out", "frames", "Output directory")
	width := flag.Int("width", cfg.ResolutionX, "Requested frame width")
	height := flag.Int("height", cfg.ResolutionY, "Requested frame height")
	fps := flag.Int("fps", cfg.FPS, "Requested frame rate")
	timeout := flag.Duration("timeout", time.Minute, "Give up after this long")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	client := directory.NewClient(*host, *login, cfg.ConnectTimeout)

	if *list {
		if err := listCameras(ctx, client); err != nil {
			log.Fatalf("Failed to list cameras: %v", err)
		}
		return
	}

	if *cameraID == "" {
		log.Fatal("No camera given, use -camera or -list")
	}
	if *frames <= 0 {
		log.Fatal("-frames must be positive")
	}

	cameras, err := client.FetchCameras(ctx)
	if err != nil {
		log.Fatalf("Failed to fetch cameras: %v", err)
	}
	camera, ok := findCamera(cameras, *cameraID)
	if !ok {
		log.Fatalf("Unknown camera %s", *cameraID)
	}
	if !camera.Streamable() {
		log.Fatalf("Camera %s does not allow live view", camera)
	}

	streamCfg := stream.Config{
		Host:           *host,
		Login:          *login,
		ChunkSize:      cfg.ChunkSize,
		BufferCapacity: cfg.BufferCapacity,
		ConnectTimeout: cfg.ConnectTimeout,
		StopTimeout:    cfg.StopTimeout,
	}
	params := stream.Params{Width: *width, Height: *height, FPS: *fps}
	if err := grab(ctx, streamCfg, camera, params, *frames, *outDir); err != nil {
		log.Fatalf("Grab failed: %v", err)
	}
}

func findCamera(cameras []model.Camera, id string) (model.Camera, bool) {
	for _, c := range cameras {
		if c.ID == id {
			return c, true
		}
	}
	return model.Camera{}, false
}

func listCameras(ctx context.Context, client *directory.Client) error {
	cameras, err := client.FetchCameras(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tLIVE\tARCHIVE\tDESCRIPTION")
	for _, c := range cameras {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%s\n", c.ID, c.Name, c.Streamable(), c.AllowedArchive, c.Description)
	}
	return tw.Flush()
}

// grab streams one camera until enough frames are saved, ctx ends or the stream fails.
func grab(ctx context.Context, cfg stream.Config, camera model.Camera, params stream.Params, frames int, outDir string) error {
	if err := params.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writer := &frameWriter{dir: outDir, limit: frames, cancel: cancel}
	session := stream.NewSession(cfg, stream.NewHTTPOpener(cfg.ConnectTimeout), stream.JPEGDecoder{}, camera, params, writer)
	fmt.Printf("Grabbing %d frames from %s (%s)\n", frames, camera, session.URL())

	started := time.Now()
	if err := session.Start(ctx); err != nil {
		return err
	}
	select {
	case <-session.Done():
	case <-ctx.Done():
		// A read may be blocked on a silent camera; close the stream under it.
		if !session.Wait(cfg.StopTimeout) {
			session.Abort()
			<-session.Done()
		}
	}

	writer.mu.Lock()
	saved, failures := writer.saved, writer.failures
	writer.mu.Unlock()
	fmt.Printf("Saved %d/%d frames, %d errors, %d bytes read, state %s\n", saved, frames, failures, session.BytesRead(), session.State())

	manifest := newManifest(camera, session, started)
	manifest.Result.Duration = time.Since(started).Round(time.Millisecond).String()
	manifest.Result.Requested = frames
	manifest.Result.Saved = saved
	manifest.Result.Errors = failures
	manifest.Result.BytesRead = session.BytesRead()
	manifest.Result.State = session.State().String()
	if err := manifest.write(outDir); err != nil {
		log.Printf("Failed to write manifest: %v", err)
	}

	if saved == frames {
		return nil
	}
	if err := session.Err(); err != nil {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("timed out after %d frames", saved)
	}
	return ctx.Err()
}
