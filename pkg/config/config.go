// Package config loads preview settings.
//
// Settings are layered: built-in defaults, then an optional TOML file, then
// LILYVIEW_* environment variables, then [Settings.Normalize]. The file lives
// at $XDG_CONFIG_HOME/lilyview/config.toml by default.
//
// Settings are plain values. The render orchestrator reads them through a
// provider function on every trigger, so changing the refresh mode takes
// effect on the next trigger without touching a render already in flight.
package config

import (
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/lilyview/pkg/errors"
	"github.com/matzehuels/lilyview/pkg/match"
)

// AppName names the config, cache and staging directories.
const AppName = "lilyview"

// RefreshMode selects which triggers re-render the preview.
type RefreshMode string

const (
	// IdleAndSave renders after a typing pause and on save.
	IdleAndSave RefreshMode = "idleAndSave"
	// SaveOnly renders on save.
	SaveOnly RefreshMode = "saveOnly"
	// Manual renders only on explicit request.
	Manual RefreshMode = "manual"
	// Live renders on every keystroke, still debounced and throttled.
	Live RefreshMode = "live"
)

// Modes lists every refresh mode.
var Modes = []RefreshMode{IdleAndSave, SaveOnly, Manual, Live}

// Valid reports whether m is a known mode.
func (m RefreshMode) Valid() bool { return slices.Contains(Modes, m) }

// OnTyping reports whether edits schedule a render.
func (m RefreshMode) OnTyping() bool { return m == IdleAndSave || m == Live }

// OnSave reports whether saves render.
func (m RefreshMode) OnSave() bool { return m != Manual }

// OnSwitch reports whether switching to another document renders it.
func (m RefreshMode) OnSwitch() bool { return m != Manual }

const (
	DefaultDebounceMS    = 500
	DefaultMinIntervalMS = 1000
	DefaultCompiler      = "lilypond"
	DefaultAddr          = "127.0.0.1:7717"

	minDebounceMS     = 100
	minIntervalMS     = 100
	liveDebounceMinMS = 120
	liveDebounceMaxMS = 350
)

// DefaultExtensions are the supported score file types.
var DefaultExtensions = []string{".ly", ".ily", ".lyi"}

// Settings is the preview configuration.
type Settings struct {
	RefreshMode       RefreshMode `toml:"refresh_mode"`
	DebounceMS        int         `toml:"debounce_ms"`
	MinIntervalMS     int         `toml:"min_interval_ms"`
	ShowUpdatingBadge bool        `toml:"show_updating_badge"`
	CursorHighlight   bool        `toml:"cursor_highlight"`
	AutoScroll        bool        `toml:"auto_scroll"`
	Hysteresis        float64     `toml:"hysteresis"`

	CompilerPath string   `toml:"compiler_path"`
	IncludePaths []string `toml:"include_paths"`
	StagingDir   string   `toml:"staging_dir"`
	CacheURL     string   `toml:"cache_url"`
	Addr         string   `toml:"addr"`
	Extensions   []string `toml:"extensions"`
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		RefreshMode:       IdleAndSave,
		DebounceMS:        DefaultDebounceMS,
		MinIntervalMS:     DefaultMinIntervalMS,
		ShowUpdatingBadge: true,
		CursorHighlight:   true,
		AutoScroll:        true,
		Hysteresis:        match.DefaultHysteresis,
		CompilerPath:      DefaultCompiler,
		StagingDir:        filepath.Join(os.TempDir(), AppName),
		Addr:              DefaultAddr,
		Extensions:        slices.Clone(DefaultExtensions),
	}
}

// Load reads settings from path, or from DefaultPath when path is empty.
// A missing default file is not an error; a missing explicit file is.
func Load(path string) (Settings, error) {
	s := Default()

	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err == nil {
			path = p
		}
	}

	if path != "" {
		md, err := toml.DecodeFile(path, &s)
		switch {
		case os.IsNotExist(err) && !explicit:
		case os.IsNotExist(err):
			return s, errors.Wrap(errors.ErrCodeFileNotFound, err, "config file %s", path)
		case err != nil:
			return s, errors.Wrap(errors.ErrCodeInvalidConfig, err, "parse %s", path)
		default:
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				keys := make([]string, len(undecoded))
				for i, k := range undecoded {
					keys[i] = k.String()
				}
				return s, errors.New(errors.ErrCodeInvalidConfig, "%s: unknown keys: %s", path, strings.Join(keys, ", "))
			}
		}
	}

	s.ApplyEnv()
	s.Normalize()
	return s, nil
}

// ApplyEnv overrides fields from LILYVIEW_* environment variables.
// Unparseable values are ignored.
func (s *Settings) ApplyEnv() {
	s.RefreshMode = RefreshMode(envOr("LILYVIEW_REFRESH_MODE", string(s.RefreshMode)))
	s.DebounceMS = envInt("LILYVIEW_DEBOUNCE_MS", s.DebounceMS)
	s.MinIntervalMS = envInt("LILYVIEW_MIN_INTERVAL_MS", s.MinIntervalMS)
	s.ShowUpdatingBadge = envBool("LILYVIEW_SHOW_UPDATING_BADGE", s.ShowUpdatingBadge)
	s.CursorHighlight = envBool("LILYVIEW_CURSOR_HIGHLIGHT", s.CursorHighlight)
	s.AutoScroll = envBool("LILYVIEW_AUTO_SCROLL", s.AutoScroll)
	s.Hysteresis = envFloat("LILYVIEW_HYSTERESIS", s.Hysteresis)
	s.CompilerPath = envOr("LILYVIEW_COMPILER", s.CompilerPath)
	s.StagingDir = envOr("LILYVIEW_STAGING_DIR", s.StagingDir)
	s.CacheURL = envOr("LILYVIEW_CACHE_URL", s.CacheURL)
	s.Addr = envOr("LILYVIEW_ADDR", s.Addr)
	if v := os.Getenv("LILYVIEW_INCLUDE_PATHS"); v != "" {
		s.IncludePaths = filepath.SplitList(v)
	}
}

// Normalize clamps values into their working ranges.
func (s *Settings) Normalize() {
	if !s.RefreshMode.Valid() {
		s.RefreshMode = IdleAndSave
	}
	s.DebounceMS = max(s.DebounceMS, minDebounceMS)
	if s.RefreshMode == Live {
		s.DebounceMS = min(max(s.DebounceMS, liveDebounceMinMS), liveDebounceMaxMS)
	}
	s.MinIntervalMS = max(s.MinIntervalMS, minIntervalMS)
	if s.Hysteresis < 0 {
		s.Hysteresis = match.DefaultHysteresis
	}
	if strings.TrimSpace(s.CompilerPath) == "" {
		s.CompilerPath = DefaultCompiler
	}
	if s.StagingDir == "" {
		s.StagingDir = filepath.Join(os.TempDir(), AppName)
	}
	if len(s.Extensions) == 0 {
		s.Extensions = slices.Clone(DefaultExtensions)
	}
	for i, ext := range s.Extensions {
		if ext != "" && !strings.HasPrefix(ext, ".") {
			s.Extensions[i] = "." + ext
		}
	}
}

// Validate reports problems Normalize cannot repair.
func (s Settings) Validate() error {
	if !s.RefreshMode.Valid() {
		return errors.New(errors.ErrCodeInvalidConfig, "unknown refresh mode %q", s.RefreshMode)
	}
	if s.Hysteresis < 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "hysteresis must not be negative")
	}
	if s.Addr != "" {
		if _, _, err := net.SplitHostPort(s.Addr); err != nil {
			return errors.Wrap(errors.ErrCodeInvalidConfig, err, "invalid listen address %q", s.Addr)
		}
	}
	if s.CacheURL != "" {
		u, err := url.Parse(s.CacheURL)
		if err != nil {
			return errors.Wrap(errors.ErrCodeInvalidConfig, err, "invalid cache url")
		}
		switch u.Scheme {
		case "file", "redis", "rediss", "mongodb", "mongodb+srv", "none":
		default:
			return errors.New(errors.ErrCodeInvalidConfig, "unsupported cache url scheme %q", u.Scheme)
		}
	}
	for _, p := range s.IncludePaths {
		if !filepath.IsAbs(p) {
			return errors.New(errors.ErrCodeInvalidConfig, "include path %q must be absolute", p)
		}
	}
	return nil
}

// Debounce is the typing quiet period.
func (s Settings) Debounce() time.Duration { return time.Duration(s.DebounceMS) * time.Millisecond }

// MinInterval is the minimum spacing between render starts for a document.
func (s Settings) MinInterval() time.Duration {
	return time.Duration(s.MinIntervalMS) * time.Millisecond
}

// Supported reports whether path has a supported score extension.
func (s Settings) Supported(path string) bool {
	if path == "" {
		return false
	}
	return errors.ValidateExtension(path, s.Extensions) == nil
}

// DefaultPath returns $XDG_CONFIG_HOME/lilyview/config.toml.
func DefaultPath() (string, error) {
	if home := os.Getenv("XDG_CONFIG_HOME"); home != "" {
		return filepath.Join(home, AppName, "config.toml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", AppName, "config.toml"), nil
}

// CacheDir returns the artifact cache directory (~/.cache/lilyview/).
func CacheDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, AppName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", AppName), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
