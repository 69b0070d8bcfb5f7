package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// TransportKind selects the listener a server runs
type TransportKind int

const (
	TransportInvalid TransportKind = iota
	TransportHTTP
	TransportTCP
	TransportUDP
)

// Defaults applied when a server entry leaves a field empty
const (
	DefaultServerHost    = "0.0.0.0"
	DefaultStartTimeout  = 5 * time.Second
	DefaultBroadcastTTL  = 1
	DefaultBroadcastPort = 4321
)

var (
	// ErrInvalidPort is returned for ports outside 0..65535
	ErrInvalidPort = errors.New("invalid port")
	// ErrInvalidTimeout is returned when start_timeout cannot be parsed
	ErrInvalidTimeout = errors.New("invalid start_timeout")
	// ErrInvalidBroadcast is returned for malformed UDP broadcast settings
	ErrInvalidBroadcast = errors.New("invalid broadcast")
)

// ParseTransportKind maps a configured type to a TransportKind. An empty
// type means HTTP; anything unrecognized is TransportInvalid.
func ParseTransportKind(s string) TransportKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "http":
		return TransportHTTP
	case "tcp":
		return TransportTCP
	case "udp":
		return TransportUDP
	default:
		return TransportInvalid
	}
}

func (k TransportKind) String() string {
	switch k {
	case TransportHTTP:
		return "HTTP"
	case TransportTCP:
		return "TCP"
	case TransportUDP:
		return "UDP"
	default:
		return "INVALID"
	}
}

// SupportsTLS reports whether the transport can be wrapped in TLS
func (k TransportKind) SupportsTLS() bool {
	return k == TransportHTTP || k == TransportTCP
}

// BroadcastConfig holds UDP broadcast settings
type BroadcastConfig struct {
	Addr string `yaml:"addr"`
	TTL  int    `yaml:"ttl"`
	Port int    `yaml:"port"`
}

// ServerConfig is the immutable declaration of one server
type ServerConfig struct {
	Name         string
	Kind         TransportKind
	Host         string
	Port         int
	TLSKeyPath   string
	TLSCertPath  string
	Metrics      bool
	Forwarded    bool
	Compress     int // response size threshold in bytes, 0 disables compression
	Wiretap      bool
	StartTimeout time.Duration
	Broadcast    *BroadcastConfig // UDP only
}

// Address returns host:port
func (c ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// HasTLS reports whether key and certificate paths are both set and the
// transport can carry TLS
func (c ServerConfig) HasTLS() bool {
	return c.Kind.SupportsTLS() && c.TLSKeyPath != "" && c.TLSCertPath != ""
}

// ToServerConfig maps a raw entry. An unrecognized type is not a mapping
// error: it yields TransportInvalid, which server construction rejects.
func (e ServerEntry) ToServerConfig(name string) (ServerConfig, error) {
	sc := ServerConfig{
		Name:         name,
		Kind:         ParseTransportKind(e.Type),
		Host:         e.Host,
		Port:         e.Port,
		TLSKeyPath:   e.TLSKey,
		TLSCertPath:  e.TLSCert,
		Metrics:      e.Metrics,
		Forwarded:    e.Forwarded,
		Compress:     e.Compress,
		Wiretap:      e.Wiretap,
		StartTimeout: DefaultStartTimeout,
	}

	if name == "" {
		return ServerConfig{}, errors.New("empty server name")
	}
	if sc.Host == "" {
		sc.Host = DefaultServerHost
	}
	if sc.Port < 0 || sc.Port > 65535 {
		return ServerConfig{}, fmt.Errorf("%w: %d", ErrInvalidPort, sc.Port)
	}
	if sc.Compress < 0 {
		return ServerConfig{}, fmt.Errorf("invalid compress threshold: %d", sc.Compress)
	}
	if e.StartTimeout != "" {
		d, err := time.ParseDuration(e.StartTimeout)
		if err != nil || d <= 0 {
			return ServerConfig{}, fmt.Errorf("%w: %q", ErrInvalidTimeout, e.StartTimeout)
		}
		sc.StartTimeout = d
	}

	if sc.Kind == TransportUDP {
		// UDP ignores TLS
		sc.TLSKeyPath, sc.TLSCertPath = "", ""
		if e.Broadcast != nil {
			b := *e.Broadcast
			if b.TTL == 0 {
				b.TTL = DefaultBroadcastTTL
			}
			if b.Port == 0 {
				b.Port = DefaultBroadcastPort
			}
			if b.Addr == "" || net.ParseIP(b.Addr) == nil {
				return ServerConfig{}, fmt.Errorf("%w: addr %q", ErrInvalidBroadcast, b.Addr)
			}
			if b.Port < 0 || b.Port > 65535 || b.TTL < 0 {
				return ServerConfig{}, fmt.Errorf("%w: port %d ttl %d", ErrInvalidBroadcast, b.Port, b.TTL)
			}
			sc.Broadcast = &b
		}
	}

	return sc, nil
}
