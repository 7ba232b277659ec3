package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rudransh-shrivastava/peer-stream/internal/catalog"
	"github.com/rudransh-shrivastava/peer-stream/internal/config"
	"github.com/rudransh-shrivastava/peer-stream/internal/fetch"
	"github.com/rudransh-shrivastava/peer-stream/internal/logger"
	"github.com/rudransh-shrivastava/peer-stream/internal/metrics"
	"github.com/rudransh-shrivastava/peer-stream/internal/parser"
	"github.com/rudransh-shrivastava/peer-stream/internal/signaling"
	"github.com/rudransh-shrivastava/peer-stream/internal/store"
	"github.com/rudransh-shrivastava/peer-stream/internal/transport/webrtc"
	"github.com/rudransh-shrivastava/peer-stream/internal/viewer"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const indexFile = "index.db"

func runPlay(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.New(cfg.LogLevel, os.Stderr)

	desc := parser.ParseStreamDescriptor(cfg.StreamID)
	if !desc.HasCatalogKey() {
		log.Warnf("Stream id %s is not <movieId>_<quality>, the catalog will not be consulted", desc.StreamID)
	}

	cache, closeCache, err := openCache(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeCache()

	playlist, err := loadPlaylist(ctx, cfg, desc, log)
	if err != nil {
		return err
	}

	sig := signaling.NewClient(signaling.Options{
		URL:        cfg.SignalingURL,
		ClientID:   cfg.ClientID,
		Descriptor: desc,
		Logger:     log,
	})
	if err := sig.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to signaling: %w", err)
	}

	peers := webrtc.NewManager(webrtc.Options{
		Signaler:    sig,
		STUNServers: cfg.STUNServers,
		Logger:      log,
	})
	peers.Start(ctx)

	m := metrics.New()
	bar := progressbar.NewOptions(len(playlist),
		progressbar.OptionSetDescription("playing "+desc.StreamID),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
	)

	v, err := viewer.New(viewer.Options{
		Descriptor: desc,
		ClientID:   cfg.ClientID,
		Playlist:   playlist,
		Playback:   cfg.Playback,
		Scoring:    cfg.Scoring,
		Fallback:   cfg.Fallback,
		Peers:      cfg.Peers,
		Discovery:  sig,
		Transport:  peers,
		Cache:      cache,
		Fetcher:    fetch.NewFetcher(nil),
		Metrics:    m,
		Logger:     log,
		OnPlay: func(seg *store.Segment, position int) {
			_ = bar.Set(position)
		},
	})
	if err != nil {
		_ = sig.Close()
		_ = peers.Close()
		return err
	}
	defer v.Close()

	g, gctx := errgroup.WithContext(ctx)
	playing, finished := context.WithCancel(gctx)

	g.Go(func() error {
		defer finished()
		err := v.Run(gctx)
		if errors.Is(err, context.Canceled) {
			log.Info("Playback interrupted.")
			return nil
		}
		return err
	})

	if cfg.StatusAddr != "" {
		srv := metrics.NewServer(cfg.StatusAddr, m, func() any { return v.Status() }, log)
		g.Go(func() error {
			return srv.Run(playing)
		})
	}

	err = g.Wait()
	finished()
	_ = bar.Finish()
	return err
}

// openCache builds the segment cache, backed by the on-disk index when
// persistence is enabled.
func openCache(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*store.Cache, func(), error) {
	f := cfg.Fallback
	if !f.PersistCache || f.CacheDirectory == "" {
		return store.NewCache(store.Options{Logger: log}), func() {}, nil
	}

	if err := os.MkdirAll(f.CacheDirectory, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating cache directory: %w", err)
	}
	index, err := store.OpenIndex(filepath.Join(f.CacheDirectory, indexFile))
	if err != nil {
		return nil, nil, err
	}
	closeIndex := func() {
		if err := index.Close(); err != nil {
			log.Warnf("Could not close cache index: %v", err)
		}
	}

	cache := store.NewCache(store.Options{
		Dir:     f.CacheDirectory,
		Persist: true,
		Index:   index,
		Logger:  log,
	})
	if err := cache.EnsureStreamDir(cfg.StreamID); err != nil {
		closeIndex()
		return nil, nil, err
	}
	n, err := cache.Warm(ctx, cfg.StreamID)
	if err != nil {
		log.Warnf("Could not warm cache: %v", err)
	} else if n > 0 {
		log.Infof("Loaded %d cached segments for %s", n, cfg.StreamID)
	}
	return cache, closeIndex, nil
}

// loadPlaylist tries the --manifest file, the configured manifest and then
// the catalog.
func loadPlaylist(ctx context.Context, cfg *config.Config, desc parser.StreamDescriptor, log *logrus.Logger) ([]string, error) {
	if cfg.ManifestPath != "" {
		segments, err := parser.ReadManifestFile(cfg.ManifestPath)
		if err != nil {
			return nil, err
		}
		if len(segments) == 0 {
			return nil, viewer.ErrEmptyPlaylist
		}
		return segments, nil
	}

	if cfg.PlaylistManifestPath != "" {
		segments, err := parser.ReadManifestFile(cfg.PlaylistManifestPath)
		switch {
		case err != nil:
			log.Warnf("Could not read manifest %s: %v", cfg.PlaylistManifestPath, err)
		case len(segments) == 0:
			log.Warnf("Manifest %s has no segments", cfg.PlaylistManifestPath)
		default:
			return segments, nil
		}
	}

	if desc.HasCatalogKey() {
		client := catalog.NewClient(catalog.Options{
			BaseURL:       cfg.CatalogURL,
			OriginBaseURL: cfg.Fallback.OriginBaseURL,
			Timeout:       cfg.CatalogTimeout,
			Logger:        log,
		})
		segments, err := client.LoadPlaylist(ctx, desc)
		if err != nil {
			return nil, fmt.Errorf("loading playlist from catalog: %w", err)
		}
		if len(segments) > 0 {
			return segments, nil
		}
	}

	return nil, viewer.ErrEmptyPlaylist
}
