// Package tlsmaterial loads the certificate and passphrase-protected private
// key used by the https listeners.
//
// Supported key encodings:
//   - PKCS#8 "ENCRYPTED PRIVATE KEY" blocks (PBES2, as written by openssl pkcs8 -topk8)
//   - legacy OpenSSL encrypted PEM ("Proc-Type: 4,ENCRYPTED", openssl genrsa -aes256)
//   - unencrypted PKCS#1, PKCS#8 and SEC 1 EC keys
//   - PKCS#12 bundles holding both certificate and key
package tlsmaterial

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/youmark/pkcs8"
	"golang.org/x/crypto/pkcs12"

	"github.com/sirosfoundation/go-hello-listeners/pkg/config"
)

var (
	// ErrNoCertificate is returned when the certificate file holds no CERTIFICATE block
	ErrNoCertificate = errors.New("no certificate found")
	// ErrNoPrivateKey is returned when the key file holds no usable key block
	ErrNoPrivateKey = errors.New("no private key found")
	// ErrPassphraseRequired is returned for an encrypted key with an empty passphrase
	ErrPassphraseRequired = errors.New("private key is encrypted but no passphrase was given")
)

// Load builds a server tls.Config from the configured material.
func Load(cfg config.TLSConfig) (*tls.Config, error) {
	cert, err := LoadCertificate(cfg)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// LoadCertificate returns the certificate chain and private key described by cfg.
func LoadCertificate(cfg config.TLSConfig) (tls.Certificate, error) {
	if cfg.PKCS12File != "" {
		path, err := Resolve(cfg.BaseDir, cfg.PKCS12File)
		if err != nil {
			return tls.Certificate{}, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("failed to read pkcs12 file: %w", err)
		}
		return ParsePKCS12(data, cfg.Passphrase)
	}

	certPath, err := Resolve(cfg.BaseDir, cfg.CertFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPath, err := Resolve(cfg.BaseDir, cfg.KeyFile)
	if err != nil {
		return tls.Certificate{}, err
	}

	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to read certificate file: %w", err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to read key file: %w", err)
	}

	return X509KeyPair(certPEM, keyPEM, []byte(cfg.Passphrase))
}

// X509KeyPair is tls.X509KeyPair with support for encrypted private keys.
func X509KeyPair(certPEM, keyPEM, passphrase []byte) (tls.Certificate, error) {
	key, err := ParsePrivateKey(keyPEM, passphrase)
	if err != nil {
		return tls.Certificate{}, err
	}

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to re-encode private key: %w", err)
	}
	plainKey := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	// tls.X509KeyPair checks that the leaf matches the key
	cert, err := tls.X509KeyPair(certPEM, plainKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("invalid certificate/key pair: %w", err)
	}
	return cert, nil
}

// ParsePrivateKey decodes the first private key block in keyPEM, decrypting it
// with passphrase when needed.
func ParsePrivateKey(keyPEM, passphrase []byte) (any, error) {
	rest := keyPEM
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, ErrNoPrivateKey
		}

		switch block.Type {
		case "ENCRYPTED PRIVATE KEY":
			if len(passphrase) == 0 {
				return nil, ErrPassphraseRequired
			}
			key, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes, passphrase)
			if err != nil {
				return nil, fmt.Errorf("failed to decrypt private key: %w", err)
			}
			return key, nil

		case "PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY":
			der := block.Bytes
			//nolint:staticcheck // legacy PEM encryption is still what openssl genrsa -des3 writes
			if x509.IsEncryptedPEMBlock(block) {
				if len(passphrase) == 0 {
					return nil, ErrPassphraseRequired
				}
				var err error
				//nolint:staticcheck
				der, err = x509.DecryptPEMBlock(block, passphrase)
				if err != nil {
					return nil, fmt.Errorf("failed to decrypt private key: %w", err)
				}
			}
			return parseDER(block.Type, der)
		}
	}
}

func parseDER(blockType string, der []byte) (any, error) {
	switch blockType {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(der)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(der)
	default:
		return x509.ParsePKCS8PrivateKey(der)
	}
}

// ParsePKCS12 decodes a PKCS#12 bundle holding a single certificate and key.
func ParsePKCS12(data []byte, passphrase string) (tls.Certificate, error) {
	key, leaf, err := pkcs12.Decode(data, passphrase)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to decode pkcs12 bundle: %w", err)
	}
	return tls.Certificate{
		Certificate: [][]byte{leaf.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}

// LoadCAPool reads a PEM bundle of trusted roots for probe clients.
func LoadCAPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("%s: %w", path, ErrNoCertificate)
	}
	return pool, nil
}

// Resolve anchors a relative path at baseDir, or at the directory of the
// running executable when baseDir is empty.
func Resolve(baseDir, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(path) {
		return path, nil
	}
	if baseDir == "" {
		exe, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("failed to locate executable: %w", err)
		}
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		baseDir = filepath.Dir(exe)
	}
	return filepath.Join(baseDir, path), nil
}
