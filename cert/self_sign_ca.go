// Package cert implements the session certificate authority: a freshly
// generated self-signed root plus lazily issued per-host leaf certificates
// used for the forged server side of intercepted TLS connections.
//
// All material is session-scoped. The root is written to a restricted
// directory only because the monitored application needs a trust-anchor
// file on disk; leaves stay in memory. Close removes everything.
package cert

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
	"github.com/golang/groupcache/singleflight"
	"go.uber.org/atomic"
)

const (
	caCommonName   = "tokentap interceptor CA"
	caOrganization = "tokentap"

	keyBits = 2048

	// Validity window: the session plus a day of clock-skew margin on
	// either side.
	validityMargin = 24 * time.Hour

	leafCacheSize = 64
)

// CA issues the forged certificates used on the client-facing side of an
// intercepted connection.
type CA interface {
	// GetRootCA returns the self-signed root certificate.
	GetRootCA() *x509.Certificate

	// RootCAPath returns the on-disk path of the root certificate PEM,
	// or "" for a memory-only CA.
	RootCAPath() string

	// GetCert returns a leaf certificate for hostname, issuing and
	// caching it on first use.
	GetCert(hostname string) (*tls.Certificate, error)

	// Close removes all generated material. Idempotent.
	Close() error
}

// SelfSignCA is the default CA implementation.
type SelfSignCA struct {
	privateKey *rsa.PrivateKey
	rootCert   *x509.Certificate
	storePath  string // "" when memory-only

	group   singleflight.Group
	cacheMu sync.Mutex
	cache   *lru.Cache

	signCount atomic.Int64
	closed    atomic.Bool
}

// NewSelfSignCA generates a fresh root key pair and certificate and writes
// the root material into storePath (a restricted temporary directory is
// created when storePath is empty).
func NewSelfSignCA(storePath string) (CA, error) {
	path, err := getStorePath(storePath)
	if err != nil {
		return nil, err
	}
	ca := &SelfSignCA{
		storePath: path,
		cache:     lru.New(leafCacheSize),
	}
	if err := ca.generateRoot(); err != nil {
		return nil, err
	}
	if err := ca.save(); err != nil {
		ca.Close()
		return nil, err
	}
	return ca, nil
}

// NewSelfSignCAMemory generates a root that never touches the filesystem.
func NewSelfSignCAMemory() (CA, error) {
	ca := &SelfSignCA{
		cache: lru.New(leafCacheSize),
	}
	if err := ca.generateRoot(); err != nil {
		return nil, err
	}
	return ca, nil
}

// getStorePath resolves (and creates) the directory holding root material.
func getStorePath(dir string) (string, error) {
	if dir == "" {
		return os.MkdirTemp("", "tokentap-certs-")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func (ca *SelfSignCA) generateRoot() error {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return err
	}
	serial, err := randomSerial()
	if err != nil {
		return err
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   caCommonName,
			Organization: []string{caOrganization},
		},
		NotBefore:             time.Now().Add(-validityMargin),
		NotAfter:              time.Now().Add(validityMargin),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		return err
	}
	rootCert, err := x509.ParseCertificate(der)
	if err != nil {
		return err
	}
	ca.privateKey = key
	ca.rootCert = rootCert
	return nil
}

// GetRootCA returns the root certificate.
func (ca *SelfSignCA) GetRootCA() *x509.Certificate {
	return ca.rootCert
}

// RootCAPath returns the path of the root certificate PEM file.
func (ca *SelfSignCA) RootCAPath() string {
	if ca.storePath == "" {
		return ""
	}
	return ca.caFile()
}

// GetCert returns the leaf certificate for hostname. The first call per
// hostname signs a new leaf; concurrent first calls are collapsed into a
// single signing operation and later calls hit the cache.
func (ca *SelfSignCA) GetCert(hostname string) (*tls.Certificate, error) {
	if cert, ok := ca.lookupCache(hostname); ok {
		return cert, nil
	}
	val, err := ca.group.Do(hostname, func() (any, error) {
		if cert, ok := ca.lookupCache(hostname); ok {
			return cert, nil
		}
		cert, err := ca.issueLeaf(hostname)
		if err != nil {
			return nil, err
		}
		ca.cacheMu.Lock()
		ca.cache.Add(hostname, cert)
		ca.cacheMu.Unlock()
		return cert, nil
	})
	if err != nil {
		return nil, err
	}
	return val.(*tls.Certificate), nil
}

// SignCount reports how many leaf signing operations have been performed.
func (ca *SelfSignCA) SignCount() int64 {
	return ca.signCount.Load()
}

func (ca *SelfSignCA) lookupCache(hostname string) (*tls.Certificate, bool) {
	ca.cacheMu.Lock()
	defer ca.cacheMu.Unlock()
	if val, ok := ca.cache.Get(hostname); ok {
		return val.(*tls.Certificate), true
	}
	return nil, false
}

func (ca *SelfSignCA) issueLeaf(hostname string) (*tls.Certificate, error) {
	ca.signCount.Inc()

	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, err
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: hostname,
		},
		NotBefore:   ca.rootCert.NotBefore,
		NotAfter:    ca.rootCert.NotAfter,
		KeyUsage:    x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if ip := net.ParseIP(hostname); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		// Cover the literal name and its single-label wildcard so one
		// leaf serves the host and its immediate subdomains.
		template.DNSNames = []string{hostname, "*." + hostname}
	}
	der, err := x509.CreateCertificate(rand.Reader, template, ca.rootCert, key.Public(), ca.privateKey)
	if err != nil {
		return nil, err
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &tls.Certificate{
		Certificate: [][]byte{der, ca.rootCert.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}

// Close removes on-disk material and empties the leaf cache.
func (ca *SelfSignCA) Close() error {
	if ca.closed.Swap(true) {
		return nil
	}
	ca.cacheMu.Lock()
	ca.cache.Clear()
	ca.cacheMu.Unlock()
	if ca.storePath == "" {
		return nil
	}
	err := os.RemoveAll(ca.storePath)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (ca *SelfSignCA) caFile() string {
	return filepath.Join(ca.storePath, "ca.pem")
}

func (ca *SelfSignCA) caKeyFile() string {
	return filepath.Join(ca.storePath, "ca-key.pem")
}

// saveTo writes the root certificate PEM.
func (ca *SelfSignCA) saveTo(out io.Writer) error {
	return pem.Encode(out, &pem.Block{Type: "CERTIFICATE", Bytes: ca.rootCert.Raw})
}

func (ca *SelfSignCA) save() error {
	certFile, err := os.OpenFile(ca.caFile(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer certFile.Close()
	if err := ca.saveTo(certFile); err != nil {
		return err
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(ca.privateKey)
	if err != nil {
		return err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	return os.WriteFile(ca.caKeyFile(), keyPEM, 0o600)
}

func randomSerial() (*big.Int, error) {
	return rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
}
