// Command coordinator runs the full per-frame tracking pipeline over a
// directory of extracted video frames for one video and writes the
// per-frame output rows (spec §6) as JSON Lines.
//
// Grounded on the teacher's cmd/worker/main.go: environment-driven
// configuration via loadConfig/getEnv helpers, sequential component
// initialization each logging a "✓ X initialized" confirmation (or a
// non-fatal "WARNING:" when a collaborator degrades instead of failing
// outright), and signal-based graceful shutdown racing a sigChan against
// an errChan.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/fieldlens/reidcore/internal/anchors"
	"github.com/fieldlens/reidcore/internal/audit"
	"github.com/fieldlens/reidcore/internal/conflict"
	"github.com/fieldlens/reidcore/internal/coordinator"
	"github.com/fieldlens/reidcore/internal/featurestore"
	"github.com/fieldlens/reidcore/internal/gallery"
	"github.com/fieldlens/reidcore/internal/matcher"
	"github.com/fieldlens/reidcore/internal/model"
	"github.com/fieldlens/reidcore/internal/ocr"
	"github.com/fieldlens/reidcore/internal/protection"
	"github.com/fieldlens/reidcore/internal/queue"
	"github.com/fieldlens/reidcore/internal/tracker"
)

// infraConfig holds the deployment-specific settings that sit outside
// model.Config (which carries only the engine's own tunables).
type infraConfig struct {
	VideoID          string
	InputDir         string
	OutputPath       string
	GalleryPath      string
	AnchorDir        string
	EmbedderURL      string
	RedisURL         string
	PostgresURL      string
	QueueConcurrency int
}

func main() {
	log.Println("reidcore coordinator starting...")

	cfg, infra := loadConfig()
	runID := uuid.NewString()
	log.Printf("video=%s run=%s", infra.VideoID, runID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	embedder := featurestore.NewRemoteEmbedder(infra.EmbedderURL, 10*time.Second)
	store := featurestore.New(embedder)
	log.Println("✓ feature store initialized")

	tr := tracker.New(cfg, nil)
	log.Println("✓ tracker initialized")

	var anchorStore *anchors.Store
	if infra.AnchorDir != "" {
		var err error
		anchorStore, err = anchors.Load(infra.VideoID, infra.AnchorDir)
		if err != nil {
			log.Fatalf("failed to load anchor tags: %v", err)
		}
		log.Printf("✓ anchor store loaded (%d tagged frames)", len(anchorStore.AllAnchorFrames()))
	} else {
		log.Println("INFO: no ANCHOR_DIR configured, running without operator ground truth")
	}

	gal, err := gallery.Load(infra.GalleryPath, cfg.PersistenceIntervalDetections)
	if err != nil {
		log.Printf("WARNING: gallery load failed, continuing read-only and empty: %v", err)
	} else {
		log.Println("✓ gallery loaded")
	}

	prot := protection.New(cfg)
	if anchorStore != nil {
		prot.LoadAnchors(allAnchors(anchorStore))
	}
	log.Println("✓ protection engine initialized")

	resolver := conflict.New(256)
	match := matcher.New(cfg, gal, anchorStore, prot, resolver)
	log.Println("✓ matcher initialized")

	var ocrProvider ocr.Provider = ocr.NoneProvider{}
	if cfg.OCRBackend != "" && cfg.OCRBackend != "none" {
		log.Printf("WARNING: OCR backend %q has no bundled provider; jersey OCR disabled", cfg.OCRBackend)
	}

	var auditRec *audit.Recorder
	if infra.PostgresURL != "" {
		auditRec, err = audit.NewRecorder(infra.PostgresURL)
		if err != nil {
			log.Printf("WARNING: audit recorder unavailable, run report will not be persisted: %v", err)
		} else {
			defer auditRec.Close()
			if err := auditRec.StartRun(ctx, runID, infra.VideoID, time.Now()); err != nil {
				log.Printf("WARNING: failed to record run start: %v", err)
			}
			log.Println("✓ audit recorder initialized")
		}
	} else {
		log.Println("INFO: no POSTGRES_URL configured, run report will only be logged")
	}

	var queueServer *queue.Server
	if infra.RedisURL != "" {
		queueServer, err = queue.NewServer(queue.Config{RedisURL: infra.RedisURL, Concurrency: infra.QueueConcurrency}, resolver, gal)
		if err != nil {
			log.Printf("WARNING: queue consumer unavailable, operator corrections must be injected in-process: %v", err)
			queueServer = nil
		} else {
			go func() {
				if err := queueServer.Start(); err != nil {
					log.Printf("queue consumer stopped: %v", err)
				}
			}()
			log.Println("✓ queue consumer started (operator corrections, on-demand gallery persistence)")
		}
	} else {
		log.Println("INFO: no REDIS_URL configured, operator corrections must be injected in-process")
	}

	coord := coordinator.New(cfg, infra.VideoID, runID, tr, store, anchorStore, gal, prot, resolver, match, ocrProvider, auditRec, nil)
	log.Println("✓ coordinator assembled")

	frames, err := loadFrames(infra.InputDir)
	if err != nil {
		log.Fatalf("failed to enumerate input frames in %s: %v", infra.InputDir, err)
	}
	log.Printf("✓ %d frames discovered in %s", len(frames), infra.InputDir)

	out, err := os.Create(infra.OutputPath)
	if err != nil {
		log.Fatalf("failed to open output file %s: %v", infra.OutputPath, err)
	}
	defer out.Close()
	writer := bufio.NewWriter(out)
	defer writer.Flush()
	enc := json.NewEncoder(writer)

	frameChan := make(chan coordinator.Frame, infra.QueueConcurrency)
	go func() {
		defer close(frameChan)
		for _, f := range frames {
			select {
			case <-ctx.Done():
				return
			case frameChan <- f:
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- coord.Run(ctx, frameChan, func(rows []model.OutputRow) error {
			for _, row := range rows {
				if err := enc.Encode(row); err != nil {
					return fmt.Errorf("write output row: %w", err)
				}
			}
			return nil
		})
	}()

	log.Println("✓ coordinator running - processing frames...")
	select {
	case <-sigChan:
		log.Println("shutdown signal received, finishing the in-flight frame and flushing the gallery...")
		cancel()
		<-errChan
	case runErr := <-errChan:
		if runErr != nil && runErr != context.Canceled {
			log.Printf("coordinator run ended with error: %v", runErr)
		}
	}

	if queueServer != nil {
		queueServer.Stop()
	}

	writer.Flush()
	counters := coord.Counters()
	log.Printf("run complete: frames=%d dropped_anchors=%d corrupt_gallery_records=%d protection_breaches=%d feature_extraction_misses=%d",
		counters.FramesProcessed, counters.DroppedAnchors, counters.CorruptGalleryRecords,
		counters.ProtectionBreaches, counters.FeatureExtractionMisses)
	log.Println("reidcore coordinator stopped")
}

func allAnchors(s *anchors.Store) []model.Anchor {
	var out []model.Anchor
	for _, f := range s.AllAnchorFrames() {
		out = append(out, s.AnchorsForFrame(f)...)
	}
	return out
}

// frameFilePattern matches "frame_000123.jpg"-style filenames; the
// numeric group is the frame index.
var frameFilePattern = regexp.MustCompile(`^frame_(\d+)\.jpe?g$`)

// detectionSidecar is the on-disk shape of a frame's detector output: one
// JSON array of raw boxes sitting alongside the frame's JPEG, named after
// it with a .json extension.
type detectionSidecar struct {
	BBox       [4]float64 `json:"bbox"`
	Confidence float64    `json:"confidence"`
}

// loadFrames enumerates dir for frame_<index>.jpg files (each optionally
// paired with a same-named .json sidecar of detector boxes) and returns
// them in ascending frame-index order, ready for the coordinator's
// frame-monotonic pipeline.
func loadFrames(dir string) ([]coordinator.Frame, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input dir: %w", err)
	}

	frames := make([]coordinator.Frame, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := frameFilePattern.FindStringSubmatch(strings.ToLower(entry.Name()))
		if m == nil {
			continue
		}
		index, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse frame index from %s: %w", entry.Name(), err)
		}

		jpegPath := filepath.Join(dir, entry.Name())
		jpegBytes, err := os.ReadFile(jpegPath)
		if err != nil {
			return nil, fmt.Errorf("read frame %s: %w", jpegPath, err)
		}

		detections, err := loadSidecar(sidecarPath(jpegPath))
		if err != nil {
			return nil, fmt.Errorf("load detections for frame %d: %w", index, err)
		}

		frames = append(frames, coordinator.Frame{Index: index, JPEG: jpegBytes, Detections: detections})
	}

	sort.Slice(frames, func(i, j int) bool { return frames[i].Index < frames[j].Index })
	return frames, nil
}

func sidecarPath(jpegPath string) string {
	ext := filepath.Ext(jpegPath)
	return strings.TrimSuffix(jpegPath, ext) + ".json"
}

func loadSidecar(path string) ([]featurestore.RawDetection, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil // a frame with no detector output is valid: nothing tracked this frame
	}
	if err != nil {
		return nil, err
	}

	var entries []detectionSidecar
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse sidecar %s: %w", path, err)
	}

	out := make([]featurestore.RawDetection, len(entries))
	for i, e := range entries {
		out[i] = featurestore.RawDetection{
			BBox:       model.BBox{X1: e.BBox[0], Y1: e.BBox[1], X2: e.BBox[2], Y2: e.BBox[3]},
			Confidence: e.Confidence,
		}
	}
	return out, nil
}

// loadConfig builds the engine config and infra config from the
// environment, applying the same documented defaults as model.Defaults
// wherever an operator-facing override isn't set.
func loadConfig() (model.Config, infraConfig) {
	cfg := model.Config{
		TrackThresh:                   getEnvFloat("TRACK_THRESH", 0),
		MatchThresh:                   getEnvFloat("MATCH_THRESH", 0),
		MinTrackLength:                getEnvInt("MIN_TRACK_LENGTH", 0),
		LostTrackBufferSeconds:        getEnvFloat("LOST_TRACK_BUFFER_SECONDS", 0),
		ExpansionIOUMargin:            getEnvFloat("EXPANSION_IOU_MARGIN", 0),
		EMAAlpha:                      getEnvFloat("EMA_ALPHA", 0),
		GallerySimFloor:               getEnvFloat("GALLERY_SIM_FLOOR", 0),
		AdaptiveThreshold:             getEnvBool("ADAPTIVE_THRESHOLD", true),
		AnchorHardFrames:              uint64(getEnvInt("ANCHOR_HARD_FRAMES", 0)),
		AnchorSoftFrames:              uint64(getEnvInt("ANCHOR_SOFT_FRAMES", 0)),
		AnchorDecayFrames:             uint64(getEnvInt("ANCHOR_DECAY_FRAMES", 0)),
		Mode:                          model.Mode(getEnv("MODE", string(model.ModePractice))),
		OCRBackend:                    getEnv("OCR_BACKEND", "none"),
		GalleryPath:                   getEnv("GALLERY_PATH", "gallery.json"),
		AnchorDir:                     getEnv("ANCHOR_DIR", ""),
		PersistenceIntervalDetections: getEnvInt("PERSISTENCE_INTERVAL_DETECTIONS", 0),
		FPS:                           getEnvFloat("FPS", 0),
		HardNegativePenaltyCap:        getEnvFloat("HARD_NEGATIVE_PENALTY_CAP", 0),
		Verbose:                       getEnvBool("VERBOSE", false),
	}.WithDefaults()

	infra := infraConfig{
		VideoID:          getEnv("VIDEO_ID", "video-1"),
		InputDir:         getEnv("INPUT_DIR", "./frames"),
		OutputPath:       getEnv("OUTPUT_PATH", "./output.jsonl"),
		GalleryPath:      cfg.GalleryPath,
		AnchorDir:        cfg.AnchorDir,
		EmbedderURL:      getEnv("EMBEDDER_URL", "http://localhost:8600"),
		RedisURL:         getEnv("REDIS_URL", ""),
		PostgresURL:      getEnv("POSTGRES_URL", ""),
		QueueConcurrency: getEnvInt("QUEUE_CONCURRENCY", 4),
	}

	return cfg, infra
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}
