// Package config loads the RTMP broadcast server's runtime configuration
// from environment variables. Loading itself is a thin, standard-library-only
// concern (scalar env var lookups with defaults); the resulting Config struct
// is what every other component depends on.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultRTMPPort           = 1935
	DefaultSSLPort            = 443
	DefaultIDMaxLength        = 128
	DefaultChunkSize          = 4096
	DefaultMsgBufferSize      = 8
	DefaultMaxIPConns         = 8
	DefaultGopCacheSizeMB     = 16
	DefaultSSLReloadInterval  = 300 * time.Second
	DefaultClientWindowSize   = 2500000
	DefaultHandshakeTimeout   = 10 * time.Second
	DefaultJWTSubject         = "rtmp_event"
)

// Config holds every option in the specification's environment variable
// table (§6). Zero values are never used directly by callers; Load always
// fills in the documented defaults.
type Config struct {
	RTMPPort    int
	SSLPort     int
	BindAddress string

	SSLCert               string
	SSLKey                string
	SSLCheckReloadSeconds time.Duration

	IDMaxLength int

	PlayWhitelist             []string
	MaxIPConcurrentConns      int
	ConcurrentLimitWhitelist  []string

	RTMPChunkSize  uint32
	GopCacheSizeMB int
	MsgBufferSize  int

	CallbackURL      string
	JWTSecret        string
	CustomJWTSubject string
	RTMPHost         string

	ControlUse       bool
	ControlBaseURL   string
	ControlSecret    string
	ExternalIP       string
	ExternalPort     string
	ExternalSSL      bool

	RedisUse     bool
	RedisHost    string
	RedisPort    int
	RedisPassword string
	RedisChannel string
	RedisTLS     bool

	LogError    bool
	LogWarning  bool
	LogInfo     bool
	LogRequests bool
	LogDebug    bool
	LogTrace    bool
}

// Load reads the environment and returns a fully-populated Config, or an
// error describing the first malformed variable encountered. A malformed
// configuration is fatal at startup, per §7.
func Load() (*Config, error) {
	c := &Config{
		RTMPPort:              DefaultRTMPPort,
		SSLPort:               DefaultSSLPort,
		IDMaxLength:           DefaultIDMaxLength,
		MaxIPConcurrentConns:  DefaultMaxIPConns,
		RTMPChunkSize:         DefaultChunkSize,
		GopCacheSizeMB:        DefaultGopCacheSizeMB,
		MsgBufferSize:         DefaultMsgBufferSize,
		SSLCheckReloadSeconds: DefaultSSLReloadInterval,
		CustomJWTSubject:      DefaultJWTSubject,
		RedisPort:             6379,
		LogError:              true,
		LogWarning:            true,
		LogInfo:               true,
	}

	var err error
	if c.RTMPPort, err = intEnv("RTMP_PORT", c.RTMPPort); err != nil {
		return nil, err
	}
	if c.SSLPort, err = intEnv("SSL_PORT", c.SSLPort); err != nil {
		return nil, err
	}
	c.BindAddress = os.Getenv("BIND_ADDRESS")

	c.SSLCert = os.Getenv("SSL_CERT")
	c.SSLKey = os.Getenv("SSL_KEY")
	if seconds, err := intEnv("SSL_CHECK_RELOAD_SECONDS", 0); err != nil {
		return nil, err
	} else if seconds > 0 {
		c.SSLCheckReloadSeconds = time.Duration(seconds) * time.Second
	}

	if c.IDMaxLength, err = intEnv("ID_MAX_LENGTH", c.IDMaxLength); err != nil {
		return nil, err
	}

	c.PlayWhitelist = splitList(os.Getenv("RTMP_PLAY_WHITELIST"))
	if c.MaxIPConcurrentConns, err = intEnv("MAX_IP_CONCURRENT_CONNECTIONS", c.MaxIPConcurrentConns); err != nil {
		return nil, err
	}
	c.ConcurrentLimitWhitelist = splitList(os.Getenv("CONCURRENT_LIMIT_WHITELIST"))

	var chunkSize int
	if chunkSize, err = intEnv("RTMP_CHUNK_SIZE", int(c.RTMPChunkSize)); err != nil {
		return nil, err
	}
	c.RTMPChunkSize = uint32(chunkSize)

	if c.GopCacheSizeMB, err = intEnv("GOP_CACHE_SIZE_MB", c.GopCacheSizeMB); err != nil {
		return nil, err
	}
	if c.MsgBufferSize, err = intEnv("MSG_BUFFER_SIZE", c.MsgBufferSize); err != nil {
		return nil, err
	}

	c.CallbackURL = os.Getenv("CALLBACK_URL")
	c.JWTSecret = os.Getenv("JWT_SECRET")
	if v := os.Getenv("CUSTOM_JWT_SUBJECT"); v != "" {
		c.CustomJWTSubject = v
	}
	c.RTMPHost = os.Getenv("RTMP_HOST")

	if c.ControlUse, err = boolEnv("CONTROL_USE", false); err != nil {
		return nil, err
	}
	c.ControlBaseURL = os.Getenv("CONTROL_BASE_URL")
	c.ControlSecret = os.Getenv("CONTROL_SECRET")
	c.ExternalIP = os.Getenv("EXTERNAL_IP")
	c.ExternalPort = os.Getenv("EXTERNAL_PORT")
	if c.ExternalSSL, err = boolEnv("EXTERNAL_SSL", false); err != nil {
		return nil, err
	}

	if c.RedisUse, err = boolEnv("REDIS_USE", false); err != nil {
		return nil, err
	}
	c.RedisHost = os.Getenv("REDIS_HOST")
	if c.RedisPort, err = intEnv("REDIS_PORT", c.RedisPort); err != nil {
		return nil, err
	}
	c.RedisPassword = os.Getenv("REDIS_PASSWORD")
	c.RedisChannel = os.Getenv("REDIS_CHANNEL")
	if c.RedisTLS, err = boolEnv("REDIS_TLS", false); err != nil {
		return nil, err
	}

	if c.LogError, err = boolEnv("LOG_ERROR", c.LogError); err != nil {
		return nil, err
	}
	if c.LogWarning, err = boolEnv("LOG_WARNING", c.LogWarning); err != nil {
		return nil, err
	}
	if c.LogInfo, err = boolEnv("LOG_INFO", c.LogInfo); err != nil {
		return nil, err
	}
	if c.LogRequests, err = boolEnv("LOG_REQUESTS", c.LogRequests); err != nil {
		return nil, err
	}
	if c.LogDebug, err = boolEnv("LOG_DEBUG", c.LogDebug); err != nil {
		return nil, err
	}
	if c.LogTrace, err = boolEnv("LOG_TRACE", c.LogTrace); err != nil {
		return nil, err
	}

	if c.ControlUse && c.CallbackURL != "" {
		return nil, fmt.Errorf("config: CONTROL_USE and CALLBACK_URL are mutually exclusive authorizer back-ends")
	}

	return c, nil
}

func intEnv(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", name, err)
	}
	return n, nil
}

func boolEnv(name string, def bool) (bool, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	switch strings.ToUpper(v) {
	case "YES", "TRUE", "1":
		return true, nil
	case "NO", "FALSE", "0":
		return false, nil
	default:
		return false, fmt.Errorf("config: %s: expected YES/NO, got %q", name, v)
	}
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
