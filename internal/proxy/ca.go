package proxy

import (
	"container/list"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Thianeswaran-G/DarkPatent/internal/logger"
	"github.com/Thianeswaran-G/DarkPatent/internal/util"
)

const (
	caCommonName         = "darkpatent Local CA"
	caValidity           = 5 * 365 * 24 * time.Hour
	leafValidity         = 90 * 24 * time.Hour
	defaultLeafCacheSize = 512
)

// ErrNoCA is returned when the data directory holds no usable CA.
var ErrNoCA = errors.New("no local CA")

// Authority is the local signing CA used to mint per-host leaf certificates.
type Authority struct {
	Cert        *x509.Certificate
	Key         *ecdsa.PrivateKey
	CertPath    string
	KeyPath     string
	Fingerprint string
}

// CAStatus describes the CA on disk for `darkpatent ca status`.
type CAStatus struct {
	Present     bool      `json:"present"`
	CertPath    string    `json:"cert_path"`
	Fingerprint string    `json:"sha256,omitempty"`
	NotAfter    time.Time `json:"not_after,omitempty"`
	Retired     []string  `json:"retired,omitempty"`
}

// SetupCA creates a CA in dir. An existing CA is returned unchanged unless
// overwrite is set.
func SetupCA(dir string, overwrite bool) (*Authority, error) {
	if err := util.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("ensure data dir: %w", err)
	}
	if !overwrite {
		ca, err := LoadCA(dir)
		if err == nil {
			return ca, nil
		}
		if !errors.Is(err, ErrNoCA) {
			return nil, err
		}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ca key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	tpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: caCommonName, Organization: []string{"darkpatent"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(caValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create ca cert: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal ca key: %w", err)
	}

	// Key first: a cert without its key is unusable, a lone key is harmless.
	if err := writePEM(util.CAKeyPath(dir), "EC PRIVATE KEY", keyDER, 0o600); err != nil {
		return nil, err
	}
	if err := writePEM(util.CACertPath(dir), "CERTIFICATE", der, 0o644); err != nil {
		return nil, err
	}
	logger.Info("local CA created", "cert", util.CACertPath(dir))
	return LoadCA(dir)
}

// LoadCA reads the CA from dir, tightening the key file mode if needed.
func LoadCA(dir string) (*Authority, error) {
	certPath, keyPath := util.CACertPath(dir), util.CAKeyPath(dir)
	certPEM, err := os.ReadFile(certPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoCA
	}
	if err != nil {
		return nil, fmt.Errorf("read ca cert: %w", err)
	}
	if err := tightenKeyMode(keyPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoCA
		}
		return nil, err
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read ca key: %w", err)
	}

	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.New("invalid ca cert pem")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse ca cert: %w", err)
	}
	block, _ = pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.New("invalid ca key pem")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse ca key: %w", err)
	}
	if !key.PublicKey.Equal(cert.PublicKey) {
		return nil, errors.New("ca key does not match certificate")
	}
	return &Authority{
		Cert:        cert,
		Key:         key,
		CertPath:    certPath,
		KeyPath:     keyPath,
		Fingerprint: fingerprint(cert.Raw),
	}, nil
}

// Status reports the CA in dir without failing when none exists.
func Status(dir string) (CAStatus, error) {
	st := CAStatus{CertPath: util.CACertPath(dir)}
	ca, err := LoadCA(dir)
	switch {
	case errors.Is(err, ErrNoCA):
	case err != nil:
		return st, err
	default:
		st.Present = true
		st.Fingerprint = ca.Fingerprint
		st.NotAfter = ca.Cert.NotAfter.UTC()
	}
	entries, err := os.ReadDir(util.RetiredCADir(dir))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return st, fmt.Errorf("read retired dir: %w", err)
	}
	for _, e := range entries {
		st.Retired = append(st.Retired, filepath.Join(util.RetiredCADir(dir), e.Name()))
	}
	return st, nil
}

// RotateCA retires the current CA and creates a fresh one. It returns the
// new authority and the paths the old material was moved to.
func RotateCA(dir string) (*Authority, []string, error) {
	moved, err := retire(dir, "rotated")
	if err != nil && !errors.Is(err, ErrNoCA) {
		return nil, nil, err
	}
	ca, err := SetupCA(dir, true)
	if err != nil {
		return nil, moved, err
	}
	return ca, moved, nil
}

// RevokeCA retires the current CA without replacing it. The proxy will not
// start again until setup-ca is run.
func RevokeCA(dir string) ([]string, error) {
	return retire(dir, "revoked")
}

func retire(dir, reason string) ([]string, error) {
	retiredDir := util.RetiredCADir(dir)
	if err := os.MkdirAll(retiredDir, 0o700); err != nil {
		return nil, fmt.Errorf("create retired dir: %w", err)
	}
	stamp := time.Now().UTC().Format("20060102-150405")

	var moved []string
	for _, src := range []string{util.CACertPath(dir), util.CAKeyPath(dir)} {
		base := strings.TrimSuffix(filepath.Base(src), ".pem")
		dst := filepath.Join(retiredDir, fmt.Sprintf("%s_%s_%s.pem", reason, base, stamp))
		if err := os.Rename(src, dst); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return moved, fmt.Errorf("retire %s: %w", filepath.Base(src), err)
		}
		moved = append(moved, dst)
	}
	if len(moved) == 0 {
		return nil, ErrNoCA
	}
	logger.Warn("local CA retired", "reason", reason, "files", len(moved))
	return moved, nil
}

// LeafCache mints and caches per-host leaf certificates, evicting the least
// recently used host once full.
type LeafCache struct {
	ca    *Authority
	size  int
	mu    sync.Mutex
	order *list.List
	items map[string]*list.Element
}

type leafEntry struct {
	host string
	cert *tls.Certificate
}

func NewLeafCache(ca *Authority, size int) *LeafCache {
	if size <= 0 {
		size = defaultLeafCacheSize
	}
	return &LeafCache{ca: ca, size: size, order: list.New(), items: map[string]*list.Element{}}
}

func (c *LeafCache) CertForHost(hostport string) (*tls.Certificate, error) {
	host := canonicalHost(hostport)
	if host == "" {
		return nil, errors.New("empty host")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[host]; ok {
		entry := el.Value.(*leafEntry)
		if time.Until(entry.cert.Leaf.NotAfter) > time.Hour {
			c.order.MoveToFront(el)
			return entry.cert, nil
		}
		c.order.Remove(el)
		delete(c.items, host)
	}

	cert, err := c.mint(host)
	if err != nil {
		return nil, err
	}
	c.items[host] = c.order.PushFront(&leafEntry{host: host, cert: cert})
	for c.order.Len() > c.size {
		last := c.order.Back()
		c.order.Remove(last)
		delete(c.items, last.Value.(*leafEntry).host)
	}
	return cert, nil
}

func (c *LeafCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *LeafCache) mint(host string) (*tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate leaf key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	tpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: host},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(leafValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if ip := net.ParseIP(host); ip != nil {
		tpl.IPAddresses = []net.IP{ip}
	} else {
		tpl.DNSNames = []string{host}
	}
	der, err := x509.CreateCertificate(rand.Reader, tpl, c.ca.Cert, &key.PublicKey, c.ca.Key)
	if err != nil {
		return nil, fmt.Errorf("create leaf cert: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse leaf cert: %w", err)
	}
	return &tls.Certificate{
		Certificate: [][]byte{der, c.ca.Cert.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}

func canonicalHost(hostport string) string {
	host := strings.TrimSpace(hostport)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(strings.Trim(host, "[]"))
}

func fingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func randomSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}
	return serial.Add(serial, big.NewInt(1)), nil
}

func writePEM(path, typ string, der []byte, mode os.FileMode) error {
	data := pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der})
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Chmod(tmp, mode); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("chmod %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("install %s: %w", filepath.Base(path), err)
	}
	return nil
}

func tightenKeyMode(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	if st.Mode().Perm() == 0o600 {
		return nil
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("enforce key mode 0600: %w", err)
	}
	return nil
}
