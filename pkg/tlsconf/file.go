package tlsconf

import (
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/sirosfoundation/go-service-framework/pkg/config"
)

// ErrNoKeyPair is returned when a server has no key and certificate paths.
var ErrNoKeyPair = errors.New("tls key and certificate paths not configured")

// FileConfigurator loads the key pair named by the server configuration.
type FileConfigurator struct {
	// Servers restricts the configurator; empty means all.
	Servers []string
	// MinVersion defaults to TLS 1.2.
	MinVersion uint16
}

func (f *FileConfigurator) RegisterOn() []string { return f.Servers }

// Configure appends the configured key pair to base, or to a fresh config
// when base is nil.
func (f *FileConfigurator) Configure(base *tls.Config, cfg config.ServerConfig) (*tls.Config, error) {
	if cfg.TLSKeyPath == "" || cfg.TLSCertPath == "" {
		return nil, ErrNoKeyPair
	}
	cert, err := tls.LoadX509KeyPair(cfg.TLSCertPath, cfg.TLSKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load key pair: %w", err)
	}

	out := base
	if out == nil {
		out = &tls.Config{}
	}
	out.Certificates = append(out.Certificates, cert)
	minVersion := f.MinVersion
	if minVersion == 0 {
		minVersion = tls.VersionTLS12
	}
	if out.MinVersion < minVersion {
		out.MinVersion = minVersion
	}
	return out, nil
}
