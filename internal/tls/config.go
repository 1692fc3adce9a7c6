// Package tls supplies the API server certificate from a PEM file pair or
// from Let's Encrypt.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/foxzi/mailforge/internal/config"
)

// CertificateInfo describes a certificate in use
type CertificateInfo struct {
	Subject   string
	Issuer    string
	NotBefore time.Time
	NotAfter  time.Time
	DaysLeft  int
	DNSNames  []string
}

// Provider holds the server TLS configuration and, for ACME, the manager
// answering HTTP-01 challenges.
type Provider struct {
	config   *tls.Config
	acme     *ACMEManager
	certFile string
}

// NewProvider creates a provider for cfg. It returns nil, nil when TLS is off.
func NewProvider(cfg config.TLSConfig) (*Provider, error) {
	switch {
	case cfg.ACME.Enabled:
		acme := NewACMEManager(cfg.ACME.Email, cfg.ACME.Domains, cfg.ACME.CacheDir)
		return &Provider{config: acme.TLSConfig(), acme: acme}, nil
	case cfg.CertFile != "":
		tlsConfig, err := LoadCertificate(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		return &Provider{config: tlsConfig, certFile: cfg.CertFile}, nil
	default:
		return nil, nil
	}
}

// TLSConfig returns the configuration for the HTTPS listener.
func (p *Provider) TLSConfig() *tls.Config {
	return p.config
}

// ACME reports whether certificates come from Let's Encrypt.
func (p *Provider) ACME() bool {
	return p.acme != nil
}

// ChallengeServer returns the HTTP-01 listener on addr, or nil for file
// certificates. Requests that are not challenges are redirected to HTTPS.
func (p *Provider) ChallengeServer(addr string) *http.Server {
	if p.acme == nil {
		return nil
	}
	return &http.Server{
		Addr:              addr,
		Handler:           p.acme.HTTPHandler(http.HandlerFunc(redirectHTTPS)),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Certificates returns the file certificate, or the ACME certificates found
// in the cache without contacting Let's Encrypt.
func (p *Provider) Certificates() ([]CertificateInfo, error) {
	if p.acme != nil {
		return p.acme.CachedCertificates()
	}
	info, err := GetCertificateInfo(p.certFile)
	if err != nil {
		return nil, err
	}
	return []CertificateInfo{*info}, nil
}

func redirectHTTPS(w http.ResponseWriter, r *http.Request) {
	target := "https://" + r.Host + r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}

// LoadCertificate loads TLS certificate from PEM files
func LoadCertificate(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// GetCertificateInfo reads certificate info from a PEM file
func GetCertificateInfo(certFile string) (*CertificateInfo, error) {
	data, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return certificateInfo(cert), nil
}

func certificateInfo(cert *x509.Certificate) *CertificateInfo {
	return &CertificateInfo{
		Subject:   cert.Subject.CommonName,
		Issuer:    cert.Issuer.CommonName,
		NotBefore: cert.NotBefore,
		NotAfter:  cert.NotAfter,
		DaysLeft:  int(time.Until(cert.NotAfter).Hours() / 24),
		DNSNames:  cert.DNSNames,
	}
}
