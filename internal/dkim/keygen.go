package dkim

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Key algorithms
const (
	AlgorithmRSA     = "rsa"
	AlgorithmEd25519 = "ed25519"
)

const rsaKeyBits = 2048

// KeyPair is a DKIM private key bound to a domain and selector.
type KeyPair struct {
	PrivateKey crypto.Signer
	Domain     string
	Selector   string
}

// GenerateKey generates a new key pair. algorithm is rsa or ed25519.
func GenerateKey(algorithm, domain, selector string) (*KeyPair, error) {
	var key crypto.Signer
	switch algorithm {
	case "", AlgorithmRSA:
		k, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
		if err != nil {
			return nil, fmt.Errorf("failed to generate RSA key: %w", err)
		}
		key = k
	case AlgorithmEd25519:
		_, k, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate Ed25519 key: %w", err)
		}
		key = k
	default:
		return nil, fmt.Errorf("unsupported key algorithm: %s", algorithm)
	}

	return &KeyPair{PrivateKey: key, Domain: domain, Selector: selector}, nil
}

// Algorithm returns the DKIM k= tag for the key.
func (kp *KeyPair) Algorithm() string {
	return keyAlgorithm(kp.PrivateKey)
}

// SavePrivateKey writes the key as PEM with 0600 permissions.
// RSA keys use PKCS#1, Ed25519 keys use PKCS#8.
func (kp *KeyPair) SavePrivateKey(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	var block *pem.Block
	switch k := kp.PrivateKey.(type) {
	case *rsa.PrivateKey:
		block = &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(k)}
	default:
		der, err := x509.MarshalPKCS8PrivateKey(k)
		if err != nil {
			return fmt.Errorf("failed to marshal private key: %w", err)
		}
		block = &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}
	defer file.Close()

	if err := pem.Encode(file, block); err != nil {
		return fmt.Errorf("failed to encode private key: %w", err)
	}
	return nil
}

// DNSRecord returns the TXT record value publishing the public key.
func (kp *KeyPair) DNSRecord() (string, error) {
	return PublicKeyRecord(kp.PrivateKey)
}

// DNSName returns the name the TXT record is published under.
func (kp *KeyPair) DNSName() string {
	return fmt.Sprintf("%s._domainkey.%s", kp.Selector, kp.Domain)
}

// PublicKeyRecord builds a "v=DKIM1" TXT value for key.
func PublicKeyRecord(key crypto.Signer) (string, error) {
	var pub []byte
	switch k := key.Public().(type) {
	case *rsa.PublicKey:
		der, err := x509.MarshalPKIXPublicKey(k)
		if err != nil {
			return "", fmt.Errorf("failed to marshal public key: %w", err)
		}
		pub = der
	case ed25519.PublicKey:
		pub = k
	default:
		return "", fmt.Errorf("unsupported public key type %T", k)
	}

	return fmt.Sprintf("v=DKIM1; k=%s; p=%s", keyAlgorithm(key), base64.StdEncoding.EncodeToString(pub)), nil
}

// LoadPrivateKey reads an RSA or Ed25519 private key from a PEM file.
func LoadPrivateKey(path string) (crypto.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	return ParsePrivateKey(data)
}

// ParsePrivateKey parses PEM encoded key material.
func ParsePrivateKey(data []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		switch k := key.(type) {
		case *rsa.PrivateKey:
			return k, nil
		case ed25519.PrivateKey:
			return k, nil
		default:
			return nil, fmt.Errorf("unsupported private key type %T", key)
		}
	default:
		return nil, fmt.Errorf("unsupported key type: %s", block.Type)
	}
}

func keyAlgorithm(key crypto.Signer) string {
	if _, ok := key.Public().(ed25519.PublicKey); ok {
		return AlgorithmEd25519
	}
	return AlgorithmRSA
}
