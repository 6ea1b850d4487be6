package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"
)

// Default configuration values
const (
	DefaultDomain            = "localhost:8080"
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = time.Second
)

// DefaultSTUNServers are used when nothing else is configured.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Config holds client configuration
type Config struct {
	// Domain is the signaling server host, also used for share links.
	Domain string

	// ServerURL is the WebSocket endpoint, derived from Domain unless set.
	ServerURL string

	// ICE servers for WebRTC
	STUNServers []string
	TURNServer  string
	TURNUser    string
	TURNPass    string

	// ForceRelay restricts ICE to TURN candidates.
	ForceRelay bool

	// Media files to send, and where to record what we receive.
	VideoFile string
	AudioFile string
	RecordDir string

	ReconnectAttempts int
	ReconnectDelay    time.Duration

	// Discover browses the LAN for a server instead of using Domain.
	Discover bool
}

// Options for loading config with CLI flag overrides
type Options struct {
	Domain      string
	ServerURL   string
	STUNServers []string
	TURNServer  string
	TURNUser    string
	TURNPass    string
	ForceRelay  bool
	VideoFile   string
	AudioFile   string
	RecordDir   string

	ReconnectAttempts int
	ReconnectDelay    time.Duration
	Discover          bool
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	cfg := &Config{
		Domain:      pick(opts.Domain, "DOMAIN", DefaultDomain),
		TURNServer:  pick(opts.TURNServer, "TURN_SERVER", ""),
		TURNUser:    pick(opts.TURNUser, "TURN_USERNAME", ""),
		TURNPass:    pick(opts.TURNPass, "TURN_PASSWORD", ""),
		ForceRelay:  opts.ForceRelay,
		VideoFile:   pick(opts.VideoFile, "VIDEO_FILE", ""),
		AudioFile:   pick(opts.AudioFile, "AUDIO_FILE", ""),
		RecordDir:   pick(opts.RecordDir, "RECORD_DIR", ""),
		Discover:    opts.Discover,
		STUNServers: opts.STUNServers,

		ReconnectAttempts: opts.ReconnectAttempts,
		ReconnectDelay:    opts.ReconnectDelay,
	}

	if len(cfg.STUNServers) == 0 {
		cfg.STUNServers = splitList(os.Getenv("STUN_SERVERS"))
	}
	if len(cfg.STUNServers) == 0 {
		cfg.STUNServers = append([]string(nil), DefaultSTUNServers...)
	}

	if cfg.ReconnectAttempts == 0 {
		cfg.ReconnectAttempts = DefaultReconnectAttempts
	}
	if cfg.ReconnectAttempts < 0 {
		return nil, fmt.Errorf("reconnect attempts must not be negative, got %d", cfg.ReconnectAttempts)
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.ReconnectDelay < 0 {
		return nil, fmt.Errorf("reconnect delay must not be negative, got %s", cfg.ReconnectDelay)
	}

	if (cfg.TURNUser == "") != (cfg.TURNPass == "") {
		return nil, fmt.Errorf("TURN username and password must be set together")
	}

	cfg.ServerURL = pick(opts.ServerURL, "SERVER_URL", "")
	if cfg.ServerURL == "" {
		cfg.ServerURL = WebSocketURL(cfg.Domain)
	}
	if err := validateServerURL(cfg.ServerURL); err != nil {
		return nil, err
	}

	return cfg, nil
}

// WebSocketURL builds the signaling endpoint for a domain. Local and bare
// IP hosts get plain ws, everything else wss.
func WebSocketURL(domain string) string {
	scheme := "wss"
	if isLocalHost(domain) {
		scheme = "ws"
	}
	return fmt.Sprintf("%s://%s/ws", scheme, domain)
}

// GetRoomLink returns the share link for a room ID
func (c *Config) GetRoomLink(roomID string) string {
	return fmt.Sprintf("https://%s/r/%s", c.Domain, roomID)
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	return c.STUNServers
}

// GetTURNServers returns TURN server URLs if configured. A bare host is
// expanded to the usual UDP, TCP and TLS endpoints.
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}

	host := strings.TrimPrefix(c.TURNServer, "turn:")
	if strings.ContainsAny(host, "?") || strings.HasPrefix(host, "turns:") {
		return []string{c.TURNServer}
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return []string{"turn:" + host}
	}

	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

func validateServerURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid server URL %q: scheme must be ws or wss", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid server URL %q: missing host", raw)
	}
	return nil
}

func isLocalHost(domain string) bool {
	host := domain
	if h, _, err := net.SplitHostPort(domain); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	return host == "localhost" || strings.HasSuffix(host, ".local") || net.ParseIP(host) != nil
}

// pick returns flag, else the env var, else def.
func pick(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func splitAddr(addr string) (string, string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", "", fmt.Errorf("invalid address %q: %w", addr, err)
	}
	return host, port, nil
}
