// Package config loads viewer settings from flags, environment and an
// optional config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rudransh-shrivastava/peer-stream/internal/selector"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultSignalingURL      = "ws://localhost:8083/ws/signaling"
	defaultSeederURL         = "http://localhost:8084"
	defaultOriginURL         = "http://localhost:9000/movies"
	defaultCatalogURL        = "http://localhost:8080"
	defaultCatalogTimeout    = 10 * time.Second
	defaultCacheDir          = "./.cache/streaming"
	defaultClientPrefix      = "viewer-"
	defaultMaxActivePeers    = 3
	defaultPeerTimeout       = 5 * time.Second
	defaultRequestWaitMin    = 120 * time.Millisecond
	defaultRequestWaitMax    = 200 * time.Millisecond
	defaultWhoHasTimeout     = 150 * time.Millisecond
	defaultFallbackTimeout   = 700 * time.Millisecond
	defaultMinBufferPrefetch = 3
	defaultCriticalBuffer    = 1
	defaultSegmentDuration   = 4 * time.Second
	defaultLogLevel          = "info"

	envPrefix = "PEER_STREAM"
)

var defaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:global.stun.twilio.com:3478",
}

type PlaybackConfig struct {
	MaxActivePeers          int
	PeerConnectTimeout      time.Duration
	SegmentRequestWaitMin   time.Duration
	SegmentRequestWaitMax   time.Duration
	WhoHasQueryTimeout      time.Duration
	FallbackHTTPTimeout     time.Duration
	MinBufferPrefetch       int
	CriticalBufferThreshold int
	SegmentDuration         time.Duration
}

type FallbackConfig struct {
	SeederBaseURL  string
	SeederTemplate string
	// Origin is tried after the seeder only when OriginTemplate is set.
	OriginBaseURL  string
	OriginTemplate string
	CacheDirectory string
	PersistCache   bool
}

// PeerEndpoint is a peer that also serves segments over HTTP.
type PeerEndpoint struct {
	BaseURL         string `mapstructure:"baseUrl"`
	SegmentTemplate string `mapstructure:"segmentPathTemplate"`
}

type Config struct {
	StreamID     string
	ClientID     string
	ManifestPath string
	// PlaylistManifestPath comes from the config file and is tried after
	// ManifestPath.
	PlaylistManifestPath string
	LogLevel             string
	StatusAddr           string

	SignalingURL string
	STUNServers  []string

	CatalogURL     string
	CatalogTimeout time.Duration

	Playback PlaybackConfig
	Scoring  selector.Weights
	Fallback FallbackConfig
	Peers    map[string]PeerEndpoint
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.StreamID) == "" {
		return errors.New("stream id is required (--stream or STREAMING_DEFAULT_STREAM_ID)")
	}
	if c.SignalingURL == "" {
		return errors.New("signaling url is required")
	}
	p := c.Playback
	if p.MaxActivePeers < 0 {
		return errors.New("max active peers cannot be negative")
	}
	if p.MinBufferPrefetch < 1 {
		return errors.New("min buffer prefetch must be at least 1")
	}
	if p.CriticalBufferThreshold < 0 {
		return errors.New("critical buffer threshold cannot be negative")
	}
	for name, d := range map[string]time.Duration{
		"peer connect timeout":    p.PeerConnectTimeout,
		"request wait min":        p.SegmentRequestWaitMin,
		"request wait max":        p.SegmentRequestWaitMax,
		"who-has timeout":         p.WhoHasQueryTimeout,
		"fallback timeout":        p.FallbackHTTPTimeout,
		"segment duration":        p.SegmentDuration,
		"catalog request timeout": c.CatalogTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%s cannot be negative", name)
		}
	}
	for id, peer := range c.Peers {
		if peer.BaseURL == "" {
			return fmt.Errorf("peer %s has no base url", id)
		}
	}
	return nil
}

// LoadDotEnv loads .env from the working directory when it exists.
func LoadDotEnv() error {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

// SetupPlayFlags sets up flags for the play command.
func SetupPlayFlags(cmd *cobra.Command) {
	flags := cmd.Flags()

	flags.String("config", "", "Config file (yaml, json or toml)")
	flags.String("stream", "", "Stream id, <movieId>_<quality> or a legacy id")
	flags.String("client", "", "Client id (default viewer-<uuid>)")
	flags.String("manifest", "", "Local manifest file")
	flags.String("log-level", defaultLogLevel, "Log level (debug, info, warn, error)")
	flags.String("status-addr", "", "Status and metrics listen address (empty to disable)")

	flags.String("signaling-url", defaultSignalingURL, "Signaling WebSocket URL")
	flags.StringSlice("stun", defaultSTUNServers, "STUN server URLs")

	flags.Int("max-active-peers", defaultMaxActivePeers, "Peers tried per segment")
	flags.Duration("peer-timeout", defaultPeerTimeout, "Timeout for one peer attempt")
	flags.Duration("request-wait-min", defaultRequestWaitMin, "Minimum jitter before a peer attempt")
	flags.Duration("request-wait-max", defaultRequestWaitMax, "Maximum jitter before a peer attempt")
	flags.Duration("who-has-timeout", defaultWhoHasTimeout, "Peer discovery timeout")
	flags.Duration("fallback-timeout", defaultFallbackTimeout, "Seeder and origin request timeout")
	flags.Int("min-buffer", defaultMinBufferPrefetch, "Segments to keep buffered or in flight")
	flags.Int("critical-buffer", defaultCriticalBuffer, "Buffer size below which discovery is skipped")
	flags.Duration("segment-duration", defaultSegmentDuration, "Playback time per segment")

	defaults := selector.DefaultWeights()
	flags.Float64("weight-speed", defaults.Speed, "Peer score weight for upload speed")
	flags.Float64("weight-latency", defaults.Latency, "Peer score weight for latency")
	flags.Float64("weight-reliability", defaults.Reliability, "Peer score weight for success rate")

	flags.String("seeder-url", defaultSeederURL, "Seeder base URL")
	flags.String("seeder-template", "", "Seeder segment path template")
	flags.String("origin-url", defaultOriginURL, "Origin base URL")
	flags.String("origin-template", "", "Origin segment path template (empty disables the origin tier)")
	flags.String("cache-dir", defaultCacheDir, "Segment cache directory")
	flags.Bool("persist-cache", true, "Mirror fetched segments to the cache directory")

	flags.String("catalog-url", defaultCatalogURL, "Movie catalog API base URL")
	flags.Duration("catalog-timeout", defaultCatalogTimeout, "Movie catalog request timeout")

	flags.StringArray("peer", nil, "HTTP peer endpoint as id=baseUrl[,template] (repeatable)")
}

var playFlags = []string{
	"config", "stream", "client", "manifest", "log-level", "status-addr",
	"signaling-url", "stun",
	"max-active-peers", "peer-timeout", "request-wait-min", "request-wait-max",
	"who-has-timeout", "fallback-timeout", "min-buffer", "critical-buffer", "segment-duration",
	"weight-speed", "weight-latency", "weight-reliability",
	"seeder-url", "seeder-template", "origin-url", "origin-template", "cache-dir", "persist-cache",
	"catalog-url", "catalog-timeout", "peer",
}

// legacyEnv maps keys to the environment names the streaming tools use.
var legacyEnv = map[string]string{
	"seeder-url":         "STREAMING_SEEDER_BASE_URL",
	"origin-url":         "STREAMING_ORIGIN_BASE_URL",
	"seeder-template":    "STREAMING_SEEDER_SEGMENT_TEMPLATE",
	"stream":             "STREAMING_DEFAULT_STREAM_ID",
	"catalog-url":        "MOVIE_SERVICE_BASE_URL",
	"catalog-timeout-ms": "MOVIE_SERVICE_TIMEOUT_MS",
}

// BindPlayFlags binds play command flags to viper.
func BindPlayFlags(cmd *cobra.Command, v *viper.Viper) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	for _, flag := range playFlags {
		if err := v.BindPFlag(flag, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("binding flag %s: %w", flag, err)
		}
	}

	for key, env := range legacyEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return fmt.Errorf("binding env %s: %w", env, err)
		}
	}

	return nil
}

// Load builds the play configuration from viper.
func Load(v *viper.Viper) (*Config, error) {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := &Config{
		StreamID:             strings.TrimSpace(v.GetString("stream")),
		ClientID:             v.GetString("client"),
		ManifestPath:         v.GetString("manifest"),
		PlaylistManifestPath: v.GetString("playlist.manifestPath"),
		LogLevel:             v.GetString("log-level"),
		StatusAddr:           v.GetString("status-addr"),

		SignalingURL: v.GetString("signaling-url"),
		STUNServers:  v.GetStringSlice("stun"),

		CatalogURL:     v.GetString("catalog-url"),
		CatalogTimeout: v.GetDuration("catalog-timeout"),

		Playback: PlaybackConfig{
			MaxActivePeers:          v.GetInt("max-active-peers"),
			PeerConnectTimeout:      v.GetDuration("peer-timeout"),
			SegmentRequestWaitMin:   v.GetDuration("request-wait-min"),
			SegmentRequestWaitMax:   v.GetDuration("request-wait-max"),
			WhoHasQueryTimeout:      v.GetDuration("who-has-timeout"),
			FallbackHTTPTimeout:     v.GetDuration("fallback-timeout"),
			MinBufferPrefetch:       v.GetInt("min-buffer"),
			CriticalBufferThreshold: v.GetInt("critical-buffer"),
			SegmentDuration:         v.GetDuration("segment-duration"),
		},
		Scoring: selector.Weights{
			Speed:       v.GetFloat64("weight-speed"),
			Latency:     v.GetFloat64("weight-latency"),
			Reliability: v.GetFloat64("weight-reliability"),
		},
		Fallback: FallbackConfig{
			SeederBaseURL:  v.GetString("seeder-url"),
			SeederTemplate: v.GetString("seeder-template"),
			OriginBaseURL:  v.GetString("origin-url"),
			OriginTemplate: v.GetString("origin-template"),
			CacheDirectory: v.GetString("cache-dir"),
			PersistCache:   v.GetBool("persist-cache"),
		},
	}

	if ms := v.GetInt("catalog-timeout-ms"); ms > 0 {
		cfg.CatalogTimeout = time.Duration(ms) * time.Millisecond
	}
	if cfg.ClientID == "" {
		cfg.ClientID = NewClientID()
	}

	peers, err := loadPeers(v)
	if err != nil {
		return nil, err
	}
	cfg.Peers = peers

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadPeers merges the "peers" table of the config file with --peer flags.
// Flags win on conflicts.
func loadPeers(v *viper.Viper) (map[string]PeerEndpoint, error) {
	peers := make(map[string]PeerEndpoint)
	if v.IsSet("peers") {
		if err := v.UnmarshalKey("peers", &peers); err != nil {
			return nil, fmt.Errorf("decoding peers: %w", err)
		}
	}
	for _, spec := range v.GetStringSlice("peer") {
		id, endpoint, err := ParsePeerSpec(spec)
		if err != nil {
			return nil, err
		}
		peers[id] = endpoint
	}
	return peers, nil
}

// ParsePeerSpec parses "id=baseUrl" or "id=baseUrl,template".
func ParsePeerSpec(spec string) (string, PeerEndpoint, error) {
	id, rest, ok := strings.Cut(spec, "=")
	id = strings.TrimSpace(id)
	if !ok || id == "" || strings.TrimSpace(rest) == "" {
		return "", PeerEndpoint{}, fmt.Errorf("invalid peer %q, want id=baseUrl[,template]", spec)
	}
	base, template, _ := strings.Cut(rest, ",")
	return id, PeerEndpoint{
		BaseURL:         strings.TrimSpace(base),
		SegmentTemplate: strings.TrimSpace(template),
	}, nil
}

func NewClientID() string {
	return defaultClientPrefix + uuid.NewString()
}
