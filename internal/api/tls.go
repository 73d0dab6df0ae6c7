package api

import (
	"crypto/tls"
	"fmt"
	"os"
)

// TLSConfig holds TLS certificate paths.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// TLSFromEnv reads SMOKERS_TLS_CERT and SMOKERS_TLS_KEY. It returns nil
// unless both are set.
func TLSFromEnv() *TLSConfig {
	certFile := os.Getenv("SMOKERS_TLS_CERT")
	keyFile := os.Getenv("SMOKERS_TLS_KEY")
	if certFile == "" || keyFile == "" {
		return nil
	}
	return &TLSConfig{CertFile: certFile, KeyFile: keyFile}
}

// Enabled returns true if both paths are set.
func (c *TLSConfig) Enabled() bool {
	return c != nil && c.CertFile != "" && c.KeyFile != ""
}

// Load builds a tls.Config from the cert and key files. It returns nil, nil
// when TLS is not configured.
func (c *TLSConfig) Load() (*tls.Config, error) {
	if !c.Enabled() {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load TLS certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
