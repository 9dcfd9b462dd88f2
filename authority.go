package cmc

import (
	"crypto"
	"crypto/x509"
)

// Authority is the CA identity that signs full responses.
type Authority interface {
	// Certificate is the CA signing certificate.
	Certificate() *x509.Certificate
	// Chain is the CA chain in issuer order, starting with Certificate.
	Chain() []*x509.Certificate
	// Signer holds the key matching Certificate.
	Signer() crypto.Signer
}

// LocalAuthority is an Authority backed by in-process key material.
type LocalAuthority struct {
	cert  *x509.Certificate
	key   crypto.Signer
	chain []*x509.Certificate
}

// NewLocalAuthority checks that key matches cert and returns the authority.
// chain holds the certificates above cert, nearest issuer first.
func NewLocalAuthority(cert *x509.Certificate, key crypto.Signer, chain ...*x509.Certificate) (*LocalAuthority, error) {
	var errs []error
	if cert == nil {
		errs = append(errs, newConfigError("CA certificate is nil"))
	}
	if key == nil {
		errs = append(errs, newConfigError("CA private key is nil"))
	}
	for _, c := range chain {
		if c == nil {
			errs = append(errs, newConfigError("CA chain certificate is nil"))
			break
		}
	}
	if err := joinErrors(errs); err != nil {
		return nil, err
	}

	pub, ok := key.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !pub.Equal(cert.PublicKey) {
		return nil, newConfigError("CA private key does not match the CA certificate")
	}
	return &LocalAuthority{
		cert:  cert,
		key:   key,
		chain: append([]*x509.Certificate{cert}, chain...),
	}, nil
}

func (a *LocalAuthority) Certificate() *x509.Certificate { return a.cert }

func (a *LocalAuthority) Chain() []*x509.Certificate {
	return append([]*x509.Certificate(nil), a.chain...)
}

func (a *LocalAuthority) Signer() crypto.Signer { return a.key }
