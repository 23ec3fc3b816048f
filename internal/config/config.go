// Package config loads gateway settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

type Config struct {
	ListenAddr        string
	BackendURL        string
	PollInterval      time.Duration
	LogoutGrace       time.Duration
	ScanAutoLogout    time.Duration
	PetugasAutoLogout time.Duration
	BackendTimeout    time.Duration
	WSPingInterval    time.Duration
	ChatRate          float64
	JournalDSN        string
	LogLevel          string
	Dev               bool
}

func Defaults() Config {
	return Config{
		ListenAddr:        ":8080",
		BackendURL:        "http://localhost:5001",
		PollInterval:      time.Second,
		LogoutGrace:       5 * time.Second,
		ScanAutoLogout:    13 * time.Second,
		PetugasAutoLogout: 60 * time.Second,
		BackendTimeout:    10 * time.Second,
		WSPingInterval:    30 * time.Second,
		ChatRate:          0.5,
		LogLevel:          "info",
	}
}

// Load reads .env files (missing files are fine) and then the environment.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from a lookup function so tests need not touch the
// process environment.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Defaults()
	var errs error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("%s: invalid duration %q", key, v))
			return
		}
		*dst = d
	}

	str("KIOSK_LISTEN_ADDR", &cfg.ListenAddr)
	str("KIOSK_BACKEND_URL", &cfg.BackendURL)
	str("KIOSK_JOURNAL_DSN", &cfg.JournalDSN)
	str("KIOSK_LOG_LEVEL", &cfg.LogLevel)
	dur("KIOSK_POLL_INTERVAL", &cfg.PollInterval)
	dur("KIOSK_LOGOUT_GRACE", &cfg.LogoutGrace)
	dur("KIOSK_SCAN_AUTO_LOGOUT", &cfg.ScanAutoLogout)
	dur("KIOSK_PETUGAS_AUTO_LOGOUT", &cfg.PetugasAutoLogout)
	dur("KIOSK_BACKEND_TIMEOUT", &cfg.BackendTimeout)
	dur("KIOSK_WS_PING_INTERVAL", &cfg.WSPingInterval)

	if v, ok := lookup("KIOSK_CHAT_RATE"); ok && v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil || r < 0 {
			errs = multierr.Append(errs, fmt.Errorf("KIOSK_CHAT_RATE: invalid rate %q", v))
		} else {
			cfg.ChatRate = r
		}
	}
	if v, ok := lookup("KIOSK_DEV"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("KIOSK_DEV: invalid bool %q", v))
		} else {
			cfg.Dev = b
		}
	}

	return cfg, errs
}
