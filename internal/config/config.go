package config

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds client and development-agent configuration.
type Config struct {
	// HTTPAddress is the local control server; empty disables it.
	HTTPAddress  string
	ControlToken string
	AgentWSURL   string
	AgentHTTPURL string

	TokenPath     string
	AuthProvider  string
	TokenTTL      time.Duration
	SupabaseURL   string
	SupabaseKey   string
	// ArchiveBucket enables uploading each recording to Supabase Storage.
	ArchiveBucket string

	CaptureBackend    string
	PlaybackBackend   string
	FFmpegPath        string
	FFmpegInputFormat string
	FFmpegInputDevice string
	FFplayPath        string
	SampleRate        int
	Volume            int

	ResponseTimeout time.Duration
	StartMuted      bool

	StubAddress    string
	StubOpen       bool
	CerebrasAPIKey string
	CerebrasModel  string
}

var (
	captureBackends  = []string{"ffmpeg", "malgo", "portaudio"}
	playbackBackends = []string{"ffplay", "oto"}
	authProviders    = []string{"backend", "supabase"}
)

// Load reads .env, registers flags on fs defaulting from the environment,
// parses args and validates the result.
func Load(fs *flag.FlagSet, args []string) (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading it: %v", err)
	}

	var cfg Config
	fs.StringVar(&cfg.HTTPAddress, "http", os.Getenv("HTTP_ADDRESS"), "local control server address (empty disables)")
	fs.StringVar(&cfg.ControlToken, "control-token", os.Getenv("CONTROL_TOKEN"), "token required by the control server (empty disables auth)")
	fs.StringVar(&cfg.AgentWSURL, "agent-ws", getEnv("AGENT_WS_URL", "ws://localhost:8000/ws"), "voice agent websocket URL")
	fs.StringVar(&cfg.AgentHTTPURL, "agent-http", getEnv("AGENT_HTTP_URL", "http://localhost:8000"), "voice agent HTTP base URL")
	fs.StringVar(&cfg.TokenPath, "token-path", os.Getenv("TOKEN_PATH"), "credential file (default in the user config dir)")
	fs.StringVar(&cfg.AuthProvider, "auth", getEnv("AUTH_PROVIDER", "backend"), "sign-in provider: backend or supabase")
	fs.StringVar(&cfg.SupabaseURL, "supabase-url", os.Getenv("SUPABASE_URL"), "Supabase URL")
	fs.StringVar(&cfg.SupabaseKey, "supabase-key", os.Getenv("SUPABASE_KEY"), "Supabase anon key")
	fs.StringVar(&cfg.ArchiveBucket, "archive-bucket", os.Getenv("ARCHIVE_BUCKET"), "Supabase Storage bucket for recordings (empty disables)")
	fs.StringVar(&cfg.CaptureBackend, "capture", getEnv("CAPTURE_BACKEND", "ffmpeg"), "microphone backend: ffmpeg, malgo or portaudio")
	fs.StringVar(&cfg.PlaybackBackend, "playback", getEnv("PLAYBACK_BACKEND", "ffplay"), "speaker backend: ffplay or oto")
	fs.StringVar(&cfg.FFmpegPath, "ffmpeg", getEnv("FFMPEG_PATH", "ffmpeg"), "ffmpeg binary")
	fs.StringVar(&cfg.FFmpegInputFormat, "ffmpeg-format", os.Getenv("FFMPEG_INPUT_FORMAT"), "ffmpeg input format (platform default if empty)")
	fs.StringVar(&cfg.FFmpegInputDevice, "ffmpeg-device", os.Getenv("FFMPEG_INPUT_DEVICE"), "ffmpeg input device (platform default if empty)")
	fs.StringVar(&cfg.FFplayPath, "ffplay", getEnv("FFPLAY_PATH", "ffplay"), "ffplay binary")
	fs.StringVar(&cfg.StubAddress, "stub-addr", getEnv("STUB_ADDRESS", ":8000"), "development agent listen address")

	fs.StringVar(&cfg.CerebrasAPIKey, "cerebras-key", os.Getenv("CEREBRAS_API_KEY"), "development agent: Cerebras API key (echo replies if empty)")
	fs.StringVar(&cfg.CerebrasModel, "cerebras-model", getEnv("CEREBRAS_MODEL", "llama3.1-8b"), "development agent: Cerebras model")

	sampleRate := fs.String("sample-rate", getEnv("SAMPLE_RATE", "16000"), "capture sample rate in Hz")
	volume := fs.String("volume", getEnv("VOLUME", "100"), "playback volume 0-100")
	timeout := fs.String("response-timeout", getEnv("RESPONSE_TIMEOUT", "0"), "give up waiting for the agent after this long (0 disables)")
	tokenTTL := fs.String("token-ttl", getEnv("TOKEN_TTL", "30m"), "assumed lifetime of backend-issued tokens")
	startMuted := fs.String("muted", getEnv("START_MUTED", "false"), "start with agent audio muted")
	stubOpen := fs.String("stub-open", getEnv("STUB_OPEN", "true"), "development agent: accept any credentials at /token")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	var err error
	if cfg.SampleRate, err = strconv.Atoi(*sampleRate); err != nil || cfg.SampleRate < 8000 || cfg.SampleRate > 48000 {
		return Config{}, fmt.Errorf("invalid SAMPLE_RATE %q: want 8000-48000", *sampleRate)
	}
	if cfg.Volume, err = strconv.Atoi(*volume); err != nil || cfg.Volume < 0 || cfg.Volume > 100 {
		return Config{}, fmt.Errorf("invalid VOLUME %q: want 0-100", *volume)
	}
	if cfg.ResponseTimeout, err = parseDuration(*timeout); err != nil {
		return Config{}, fmt.Errorf("invalid RESPONSE_TIMEOUT: %w", err)
	}
	if cfg.TokenTTL, err = parseDuration(*tokenTTL); err != nil {
		return Config{}, fmt.Errorf("invalid TOKEN_TTL: %w", err)
	}
	if cfg.StartMuted, err = strconv.ParseBool(*startMuted); err != nil {
		return Config{}, fmt.Errorf("invalid START_MUTED %q", *startMuted)
	}
	if cfg.StubOpen, err = strconv.ParseBool(*stubOpen); err != nil {
		return Config{}, fmt.Errorf("invalid STUB_OPEN %q", *stubOpen)
	}

	cfg.CaptureBackend = strings.ToLower(cfg.CaptureBackend)
	cfg.PlaybackBackend = strings.ToLower(cfg.PlaybackBackend)
	cfg.AuthProvider = strings.ToLower(cfg.AuthProvider)
	if !oneOf(cfg.CaptureBackend, captureBackends) {
		return Config{}, fmt.Errorf("invalid CAPTURE_BACKEND %q: want one of %s", cfg.CaptureBackend, strings.Join(captureBackends, ", "))
	}
	if !oneOf(cfg.PlaybackBackend, playbackBackends) {
		return Config{}, fmt.Errorf("invalid PLAYBACK_BACKEND %q: want one of %s", cfg.PlaybackBackend, strings.Join(playbackBackends, ", "))
	}
	if !oneOf(cfg.AuthProvider, authProviders) {
		return Config{}, fmt.Errorf("invalid AUTH_PROVIDER %q: want one of %s", cfg.AuthProvider, strings.Join(authProviders, ", "))
	}
	if (cfg.AuthProvider == "supabase" || cfg.ArchiveBucket != "") && (cfg.SupabaseURL == "" || cfg.SupabaseKey == "") {
		log.Println("Warning: SUPABASE_URL or SUPABASE_KEY not set - supabase sign-in and archiving will not work")
	}

	log.Printf("config: agent=%s capture=%s playback=%s", cfg.AgentWSURL, cfg.CaptureBackend, cfg.PlaybackBackend)
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration accepts Go durations or a bare number of seconds.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative duration %q", s)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

func oneOf(v string, set []string) bool {
	for _, s := range set {
		if v == s {
			return true
		}
	}
	return false
}
