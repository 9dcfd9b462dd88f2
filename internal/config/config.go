// Package config loads the cmcd configuration file and the key material it
// points at.
package config

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/mdean75/cmc"
)

// Config is the cmcd configuration.
type Config struct {
	Listen string      `yaml:"listen"`
	Log    LogConfig   `yaml:"log"`
	CA     CAConfig    `yaml:"ca"`
	CMC    CMCConfig   `yaml:"cmc"`
	Store  StoreConfig `yaml:"store"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// CAConfig locates the CA signing credential. Either Certificate and Key,
// or PKCS12, must be set.
type CAConfig struct {
	Certificate    string   `yaml:"certificate"`
	Key            string   `yaml:"key"`
	Chain          []string `yaml:"chain"`
	PKCS12         string   `yaml:"pkcs12"`
	PKCS12Password string   `yaml:"pkcs12Password"`
	// Digest is SHA256, SHA384 or SHA512.
	Digest string `yaml:"digest"`
	// Signature is pkcs1 or pss and only matters for RSA keys.
	Signature string `yaml:"signature"`
}

type CMCConfig struct {
	Cert struct {
		ConfirmRequired bool `yaml:"confirmRequired"`
	} `yaml:"cert"`
	RevokeCert struct {
		Verify bool `yaml:"verify"`
	} `yaml:"revokeCert"`
	SharedSecret struct {
		ProtectionKey string `yaml:"protectionKey"`
	} `yaml:"sharedSecret"`
}

type StoreConfig struct {
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() *Config {
	c := &Config{
		Listen: ":8443",
		Log:    LogConfig{Level: "info"},
		CA:     CAConfig{Digest: "SHA256", Signature: "pkcs1"},
		Store: StoreConfig{
			Backend: "memory",
			Redis:   RedisConfig{Addr: "localhost:6379", Prefix: "cmc:"},
		},
	}
	c.CMC.RevokeCert.Verify = true
	return c
}

// Load reads and validates the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.CA.PKCS12 == "" && (c.CA.Certificate == "" || c.CA.Key == "") {
		errs = append(errs, errors.New("ca: either pkcs12 or certificate and key are required"))
	}
	if c.CA.PKCS12 != "" && (c.CA.Certificate != "" || c.CA.Key != "") {
		errs = append(errs, errors.New("ca: pkcs12 and certificate/key are mutually exclusive"))
	}
	if _, err := c.Hash(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.CA.Signature) {
	case "pkcs1", "pss":
	default:
		errs = append(errs, fmt.Errorf("ca: unknown signature scheme %q", c.CA.Signature))
	}
	switch c.Store.Backend {
	case "memory":
	case "redis":
		if c.Store.Redis.Addr == "" {
			errs = append(errs, errors.New("store: redis addr is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("store: unknown backend %q", c.Store.Backend))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}
	return errors.Join(errs...)
}

// Hash returns the configured response digest.
func (c *Config) Hash() (crypto.Hash, error) {
	switch strings.ToUpper(strings.ReplaceAll(c.CA.Digest, "-", "")) {
	case "SHA256":
		return crypto.SHA256, nil
	case "SHA384":
		return crypto.SHA384, nil
	case "SHA512":
		return crypto.SHA512, nil
	default:
		return 0, fmt.Errorf("ca: unsupported digest %q", c.CA.Digest)
	}
}

// ResponderOptions translates the cmc section into responder options.
func (c *Config) ResponderOptions() ([]cmc.ResponderOption, error) {
	h, err := c.Hash()
	if err != nil {
		return nil, err
	}
	opts := []cmc.ResponderOption{
		cmc.WithHash(h),
		cmc.WithConfirmRequired(c.CMC.Cert.ConfirmRequired),
		cmc.WithRevocationSignatureVerify(c.CMC.RevokeCert.Verify),
	}
	if strings.EqualFold(c.CA.Signature, "pkcs1") {
		opts = append(opts, cmc.WithRSAPKCS1())
	}
	return opts, nil
}

// NewLogger builds a production zap logger at the configured level.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// LoadAuthority loads the CA signing credential.
func (c *Config) LoadAuthority() (*cmc.LocalAuthority, error) {
	if c.CA.PKCS12 != "" {
		return loadPKCS12Authority(c.CA.PKCS12, c.CA.PKCS12Password)
	}

	certs, err := ReadCertificates(c.CA.Certificate)
	if err != nil {
		return nil, err
	}
	key, err := ReadPrivateKey(c.CA.Key)
	if err != nil {
		return nil, err
	}
	chain := certs[1:]
	for _, path := range c.CA.Chain {
		more, err := ReadCertificates(path)
		if err != nil {
			return nil, err
		}
		chain = append(chain, more...)
	}
	return cmc.NewLocalAuthority(certs[0], key, chain...)
}

func loadPKCS12Authority(path, password string) (*cmc.LocalAuthority, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pkcs12 file: %w", err)
	}
	key, cert, chain, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, fmt.Errorf("decoding pkcs12 file: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("pkcs12 key of type %T cannot sign", key)
	}
	return cmc.NewLocalAuthority(cert, signer, chain...)
}

// LoadProtectionKey reads the RSA key that unwraps stored shared tokens.
func (c *Config) LoadProtectionKey() (*rsa.PrivateKey, error) {
	path := c.CMC.SharedSecret.ProtectionKey
	if path == "" {
		return nil, nil
	}
	key, err := ReadPrivateKey(path)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("protection key %q is not an RSA key", path)
	}
	return rsaKey, nil
}

// ReadCertificates returns every CERTIFICATE block of a PEM file.
func ReadCertificates(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading certificate file: %w", err)
	}
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing certificate in %q: %w", path, err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("no certificate found in %q", path)
	}
	return certs, nil
}

// ReadPrivateKey reads a PKCS #1, SEC 1 or PKCS #8 PEM private key.
func ReadPrivateKey(path string) (crypto.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %q", path)
	}

	var key any
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	default:
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing key in %q: %w", path, err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("key in %q of type %T cannot sign", path, key)
	}
	return signer, nil
}
