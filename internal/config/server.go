package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Server defaults
const (
	DefaultAddr          = ":8080"
	DefaultSweepInterval = time.Minute
	DefaultInstanceName  = "warpcall"
)

// Server holds signaling server configuration.
type Server struct {
	Addr          string
	SweepInterval time.Duration

	// Advertise announces the server over mDNS.
	Advertise    bool
	InstanceName string
}

// ServerOptions carries flag values. Zero values fall through to env and
// defaults.
type ServerOptions struct {
	Addr          string
	SweepInterval time.Duration
	Advertise     bool
	InstanceName  string
}

// LoadServer resolves server configuration: flag > env > default.
func LoadServer(opts ServerOptions) (*Server, error) {
	cfg := &Server{
		Addr:          opts.Addr,
		SweepInterval: opts.SweepInterval,
		Advertise:     opts.Advertise,
		InstanceName:  opts.InstanceName,
	}

	if cfg.Addr == "" {
		if port := os.Getenv("PORT"); port != "" {
			if _, err := strconv.Atoi(port); err != nil {
				return nil, fmt.Errorf("invalid PORT %q: %w", port, err)
			}
			cfg.Addr = ":" + port
		}
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.SweepInterval < 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", cfg.SweepInterval)
	}

	if !cfg.Advertise {
		if v := os.Getenv("MDNS"); v != "" {
			on, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("invalid MDNS %q: %w", v, err)
			}
			cfg.Advertise = on
		}
	}

	if cfg.InstanceName == "" {
		cfg.InstanceName = DefaultInstanceName
	}

	return cfg, nil
}

// Port returns the numeric port of Addr.
func (s *Server) Port() (int, error) {
	_, port, err := splitAddr(s.Addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(port)
}
