package cmc

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"time"

	pkiasn1 "github.com/mdean75/cmc/internal/asn1"
	"github.com/mdean75/cmc/internal/ber"
)

const (
	// setTagByte is the SET OF tag the signed attributes are digested under
	// (RFC 5652, section 5.4). On the wire they carry IMPLICIT [0] instead.
	setTagByte = byte(0x31)

	implicitTag0Byte = byte(0xA0)
)

// Signer builds a CMS SignedData with attached content. Builder methods
// accumulate configuration errors and Sign reports all of them at once.
// A configured Signer may be used by several goroutines.
type Signer struct {
	cert           *x509.Certificate
	key            crypto.Signer
	hash           crypto.Hash
	hashExplicit   bool
	family         signatureFamily
	familyExplicit bool
	contentType    asn1.ObjectIdentifier
	certs          []*x509.Certificate
	authAttrs      []pkiasn1.Attribute
	errs           []error
}

// NewSigner returns a Signer using SHA-256 and id-data content.
func NewSigner() *Signer {
	return &Signer{
		hash:        crypto.SHA256,
		contentType: pkiasn1.OIDData,
	}
}

// WithCertificate sets the signing certificate. Required.
func (s *Signer) WithCertificate(cert *x509.Certificate) *Signer {
	if cert == nil {
		s.errs = append(s.errs, newConfigError("certificate is nil"))
		return s
	}
	s.cert = cert
	return s
}

// WithPrivateKey sets the signing key. Required.
func (s *Signer) WithPrivateKey(key crypto.Signer) *Signer {
	if key == nil {
		s.errs = append(s.errs, newConfigError("private key is nil"))
		return s
	}
	s.key = key
	return s
}

// WithHash sets the digest algorithm. Ed25519 keys always use SHA-512.
func (s *Signer) WithHash(h crypto.Hash) *Signer {
	s.hash = h
	s.hashExplicit = true
	return s
}

// WithRSAPKCS1 selects RSA PKCS1v15 instead of the RSA-PSS default.
func (s *Signer) WithRSAPKCS1() *Signer {
	s.family = familyRSAPKCS1
	s.familyExplicit = true
	return s
}

// WithContentType sets eContentType. Anything other than id-data forces
// SignedData version 3.
func (s *Signer) WithContentType(oid asn1.ObjectIdentifier) *Signer {
	if len(oid) == 0 {
		s.errs = append(s.errs, newConfigError("content type OID is empty"))
		return s
	}
	s.contentType = oid
	return s
}

// AddCertificate appends cert to the CertificateSet. Certificates are
// emitted in the order added; when none are added the signing certificate
// alone is emitted.
func (s *Signer) AddCertificate(cert *x509.Certificate) *Signer {
	if cert == nil {
		s.errs = append(s.errs, newConfigError("extra certificate is nil"))
		return s
	}
	s.certs = append(s.certs, cert)
	return s
}

// AddAuthenticatedAttribute adds a signed attribute. content-type and
// message-digest are always injected and may not be added here.
func (s *Signer) AddAuthenticatedAttribute(oid asn1.ObjectIdentifier, val any) *Signer {
	if oid.Equal(pkiasn1.OIDAttributeContentType) || oid.Equal(pkiasn1.OIDAttributeMessageDigest) {
		s.errs = append(s.errs, newError(CodeAttributeInvalid,
			fmt.Sprintf("attribute %s is injected automatically; do not add it manually", oid)))
		return s
	}
	encoded, err := asn1.Marshal(val)
	if err != nil {
		s.errs = append(s.errs, wrapError(CodeAttributeInvalid,
			fmt.Sprintf("failed to marshal authenticated attribute %s", oid), err))
		return s
	}
	s.authAttrs = append(s.authAttrs, pkiasn1.Attribute{
		Type:   oid,
		Values: asn1.RawValue{FullBytes: mustMarshalSet(encoded)},
	})
	return s
}

// Sign signs content and returns the DER ContentInfo wrapping the
// SignedData.
func (s *Signer) Sign(content []byte) ([]byte, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}

	si, h, err := s.signContent(content)
	if err != nil {
		return nil, err
	}
	eci, err := buildECI(s.contentType, content)
	if err != nil {
		return nil, err
	}
	digestAlg, err := digestAlgID(h)
	if err != nil {
		return nil, err
	}

	sd := pkiasn1.SignedData{
		Version:          computeSignedDataVersion(s.contentType, si.Version),
		DigestAlgorithms: []pkix.AlgorithmIdentifier{digestAlg},
		EncapContentInfo: eci,
		SignerInfos:      []pkiasn1.SignerInfo{si},
	}
	certs := s.certs
	if len(certs) == 0 {
		certs = []*x509.Certificate{s.cert}
	}
	for _, cert := range certs {
		sd.Certificates = append(sd.Certificates, asn1.RawValue{FullBytes: cert.Raw})
	}

	sdBytes, err := asn1.Marshal(sd)
	if err != nil {
		return nil, wrapError(CodeEncode, "marshal SignedData", err)
	}
	return marshalContentInfo(pkiasn1.OIDSignedData, sdBytes)
}

func (s *Signer) validate() error {
	errs := append([]error(nil), s.errs...)
	if s.cert == nil && len(s.errs) == 0 {
		errs = append(errs, newConfigError("certificate is required"))
	}
	if s.key == nil && len(s.errs) == 0 {
		errs = append(errs, newConfigError("private key is required"))
	}
	return joinErrors(errs)
}

func (s *Signer) signContent(content []byte) (pkiasn1.SignerInfo, crypto.Hash, error) {
	h := hashForKey(s.key, s.hash, s.hashExplicit)

	family := s.family
	if !s.familyExplicit {
		var err error
		if family, err = detectFamily(s.key); err != nil {
			return pkiasn1.SignerInfo{}, 0, err
		}
	}

	contentDigest, err := digest(h, content)
	if err != nil {
		return pkiasn1.SignerInfo{}, 0, err
	}
	signedAttrs, err := s.buildSignedAttrs(contentDigest)
	if err != nil {
		return pkiasn1.SignerInfo{}, 0, err
	}
	attrsDigest, err := digest(h, signedAttrs)
	if err != nil {
		return pkiasn1.SignerInfo{}, 0, err
	}
	sig, err := s.sign(attrsDigest, h, family)
	if err != nil {
		return pkiasn1.SignerInfo{}, 0, err
	}

	digestAlg, err := digestAlgID(h)
	if err != nil {
		return pkiasn1.SignerInfo{}, 0, err
	}
	sigAlg, err := signatureAlgID(h, family)
	if err != nil {
		return pkiasn1.SignerInfo{}, 0, err
	}
	sid, err := issuerAndSerial(s.cert)
	if err != nil {
		return pkiasn1.SignerInfo{}, 0, err
	}
	return pkiasn1.SignerInfo{
		Version:            1,
		SID:                sid,
		DigestAlgorithm:    digestAlg,
		SignedAttrs:        asn1.RawValue{FullBytes: retag(signedAttrs, implicitTag0Byte)},
		SignatureAlgorithm: sigAlg,
		Signature:          sig,
	}, h, nil
}

// buildSignedAttrs returns the SET-tagged DER of content-type,
// message-digest and any custom attributes.
func (s *Signer) buildSignedAttrs(contentDigest []byte) ([]byte, error) {
	ctVal, err := asn1.Marshal(s.contentType)
	if err != nil {
		return nil, wrapError(CodeEncode, "marshal content-type attribute", err)
	}
	mdVal, err := asn1.Marshal(contentDigest)
	if err != nil {
		return nil, wrapError(CodeEncode, "marshal message-digest attribute", err)
	}
	attrs := []pkiasn1.Attribute{
		{Type: pkiasn1.OIDAttributeContentType, Values: asn1.RawValue{FullBytes: mustMarshalSet(ctVal)}},
		{Type: pkiasn1.OIDAttributeMessageDigest, Values: asn1.RawValue{FullBytes: mustMarshalSet(mdVal)}},
	}
	attrs = append(attrs, s.authAttrs...)
	encoded, err := asn1.MarshalWithParams(pkiasn1.RawAttributes(attrs), "set")
	if err != nil {
		return nil, wrapError(CodeEncode, "marshal signed attributes", err)
	}
	return encoded, nil
}

// sign signs a precomputed digest. Ed25519 signs the digest bytes as its
// message, which verifyEd25519 mirrors.
func (s *Signer) sign(digest []byte, h crypto.Hash, family signatureFamily) ([]byte, error) {
	var opts crypto.SignerOpts = h
	switch family {
	case familyRSAPKCS1, familyECDSA:
	case familyRSAPSS:
		if _, ok := s.key.Public().(*rsa.PublicKey); !ok {
			return nil, newError(CodeUnsupportedAlgorithm, "RSA-PSS requires an RSA key")
		}
		saltLen, err := saltLengthForHash(h)
		if err != nil {
			return nil, err
		}
		opts = &rsa.PSSOptions{SaltLength: saltLen, Hash: h}
	case familyEd25519:
		opts = crypto.Hash(0)
	default:
		return nil, newError(CodeUnsupportedAlgorithm, "unknown signature family")
	}
	sig, err := s.key.Sign(rand.Reader, digest, opts)
	if err != nil {
		return nil, wrapError(CodeInvalidSignature, "signing failed", err)
	}
	return sig, nil
}

func issuerAndSerial(cert *x509.Certificate) (asn1.RawValue, error) {
	encoded, err := asn1.Marshal(pkiasn1.IssuerAndSerialNumber{
		Issuer:       asn1.RawValue{FullBytes: cert.RawIssuer},
		SerialNumber: cert.SerialNumber,
	})
	if err != nil {
		return asn1.RawValue{}, wrapError(CodeEncode, "marshal IssuerAndSerialNumber", err)
	}
	return asn1.RawValue{FullBytes: encoded}, nil
}

// buildECI wraps content as [0] EXPLICIT OCTET STRING.
func buildECI(contentType asn1.ObjectIdentifier, content []byte) (pkiasn1.EncapsulatedContentInfo, error) {
	octets, err := asn1.Marshal(content)
	if err != nil {
		return pkiasn1.EncapsulatedContentInfo{}, wrapError(CodeEncode, "marshal eContent OCTET STRING", err)
	}
	explicit0, err := explicitTag0(octets)
	if err != nil {
		return pkiasn1.EncapsulatedContentInfo{}, err
	}
	return pkiasn1.EncapsulatedContentInfo{
		EContentType: contentType,
		EContent:     asn1.RawValue{FullBytes: explicit0},
	}, nil
}

// computeSignedDataVersion follows RFC 5652, section 5.1 for the v1 and v3
// cases this package produces.
func computeSignedDataVersion(eContentType asn1.ObjectIdentifier, signerInfoVersion int) int {
	if signerInfoVersion == 3 || !eContentType.Equal(pkiasn1.OIDData) {
		return 3
	}
	return 1
}

// marshalContentInfo wraps already encoded content in a ContentInfo.
// encoding/asn1 writes FullBytes verbatim and ignores the explicit tag, so
// the [0] wrapper is built here.
func marshalContentInfo(contentType asn1.ObjectIdentifier, inner []byte) ([]byte, error) {
	explicit0, err := explicitTag0(inner)
	if err != nil {
		return nil, err
	}
	der, err := asn1.Marshal(pkiasn1.ContentInfo{
		ContentType: contentType,
		Content:     asn1.RawValue{FullBytes: explicit0},
	})
	if err != nil {
		return nil, wrapError(CodeEncode, "marshal ContentInfo", err)
	}
	return der, nil
}

func explicitTag0(inner []byte) ([]byte, error) {
	out, err := asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassContextSpecific,
		Tag:        0,
		IsCompound: true,
		Bytes:      inner,
	})
	if err != nil {
		return nil, wrapError(CodeEncode, "marshal [0] wrapper", err)
	}
	return out, nil
}

// retag returns a copy of der with the outermost tag byte replaced.
func retag(der []byte, tag byte) []byte {
	if len(der) == 0 {
		return der
	}
	out := make([]byte, len(der))
	copy(out, der)
	out[0] = tag
	return out
}

// mustMarshalSet wraps one DER value in a SET. A failure is a programming
// error.
func mustMarshalSet(inner []byte) []byte {
	encoded, err := asn1.Marshal(asn1.RawValue{
		Tag:        asn1.TagSet,
		IsCompound: true,
		Bytes:      inner,
	})
	if err != nil {
		panic(fmt.Sprintf("cmc: mustMarshalSet: %v", err))
	}
	return encoded
}

// VerifyOption configures ParsedSignedData.Verify.
type VerifyOption func(*verifyConfig)

type verifyConfig struct {
	roots      *x509.CertPool
	noChain    bool
	verifyTime time.Time
	verifyOpts *x509.VerifyOptions
}

// WithTrustRoots sets the trust anchors for chain validation.
func WithTrustRoots(pool *x509.CertPool) VerifyOption {
	return func(c *verifyConfig) {
		c.roots = pool
	}
}

// WithVerifyOptions hands chain validation the given options unchanged.
func WithVerifyOptions(opts x509.VerifyOptions) VerifyOption {
	return func(c *verifyConfig) {
		c.verifyOpts = &opts
	}
}

// WithNoChainValidation checks signatures only.
func WithNoChainValidation() VerifyOption {
	return func(c *verifyConfig) {
		c.noChain = true
	}
}

// WithVerifyTime sets the reference time for validity checks. Defaults to
// time.Now().
func WithVerifyTime(t time.Time) VerifyOption {
	return func(c *verifyConfig) {
		c.verifyTime = t
	}
}

// SignerInfo summarizes one signer of a parsed SignedData.
type SignerInfo struct {
	Version int
	// Certificate is nil when the signer's certificate is not embedded.
	Certificate        *x509.Certificate
	DigestAlgorithm    pkix.AlgorithmIdentifier
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Signature          []byte
}

// ParsedSignedData is a decoded CMS SignedData.
type ParsedSignedData struct {
	signedData pkiasn1.SignedData
	certs      []*x509.Certificate
}

// ParseSignedData decodes a ContentInfo wrapping SignedData. BER input is
// normalized to DER first.
func ParseSignedData(data []byte) (*ParsedSignedData, error) {
	der, err := ber.ToDER(data)
	if err != nil {
		return nil, wrapError(CodeParse, "normalizing ContentInfo", err)
	}
	var ci pkiasn1.ContentInfo
	rest, err := asn1.Unmarshal(der, &ci)
	if err != nil {
		return nil, wrapError(CodeParse, "parsing ContentInfo", err)
	}
	if len(rest) > 0 {
		return nil, newError(CodeParse, "trailing data after ContentInfo")
	}
	if !ci.ContentType.Equal(pkiasn1.OIDSignedData) {
		return nil, newError(CodeParse,
			fmt.Sprintf("expected SignedData content type, got %s", ci.ContentType))
	}

	// The RawValue keeps the [0] wrapper; Bytes is the SignedData TLV.
	var sd pkiasn1.SignedData
	if _, err := asn1.Unmarshal(ci.Content.Bytes, &sd); err != nil {
		return nil, wrapError(CodeParse, "parsing SignedData", err)
	}

	var certs []*x509.Certificate
	for _, raw := range sd.Certificates {
		cert, err := x509.ParseCertificate(raw.FullBytes)
		if err != nil {
			// Attribute and other certificate formats are skipped.
			continue
		}
		certs = append(certs, cert)
	}
	return &ParsedSignedData{signedData: sd, certs: certs}, nil
}

// ContentType returns eContentType.
func (p *ParsedSignedData) ContentType() asn1.ObjectIdentifier {
	return p.signedData.EncapContentInfo.EContentType
}

// Version returns the SignedData version.
func (p *ParsedSignedData) Version() int {
	return p.signedData.Version
}

// Content returns the encapsulated content octets.
func (p *ParsedSignedData) Content() ([]byte, error) {
	if p.signedData.EncapContentInfo.IsDetached() {
		return nil, newError(CodeParse, "SignedData has no encapsulated content")
	}
	var octets []byte
	if _, err := asn1.Unmarshal(p.signedData.EncapContentInfo.EContent.Bytes, &octets); err != nil {
		return nil, wrapError(CodeParse, "parsing eContent OCTET STRING", err)
	}
	return octets, nil
}

// Certificates returns the embedded certificates in wire order.
func (p *ParsedSignedData) Certificates() []*x509.Certificate {
	return p.certs
}

// Signers summarizes each SignerInfo.
func (p *ParsedSignedData) Signers() []SignerInfo {
	result := make([]SignerInfo, len(p.signedData.SignerInfos))
	for i, si := range p.signedData.SignerInfos {
		cert, _ := p.findSignerCert(si)
		result[i] = SignerInfo{
			Version:            si.Version,
			Certificate:        cert,
			DigestAlgorithm:    si.DigestAlgorithm,
			SignatureAlgorithm: si.SignatureAlgorithm,
			Signature:          si.Signature,
		}
	}
	return result
}

// Verify checks every SignerInfo against the encapsulated content. A
// SignedData without signers does not verify.
func (p *ParsedSignedData) Verify(opts ...VerifyOption) error {
	if len(p.signedData.SignerInfos) == 0 {
		return newError(CodeInvalidSignature, "SignedData has no signers")
	}
	content, err := p.Content()
	if err != nil {
		return err
	}

	cfg := &verifyConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.verifyTime.IsZero() {
		cfg.verifyTime = time.Now()
	}

	for i, si := range p.signedData.SignerInfos {
		if err := p.verifySigner(si, content, cfg); err != nil {
			return fmt.Errorf("SignerInfo[%d]: %w", i, err)
		}
	}
	return nil
}

func (p *ParsedSignedData) verifySigner(si pkiasn1.SignerInfo, content []byte, cfg *verifyConfig) error {
	cert, err := p.findSignerCert(si)
	if err != nil {
		return err
	}
	h, err := hashFromOID(si.DigestAlgorithm.Algorithm)
	if err != nil {
		return err
	}
	contentDigest, err := digest(h, content)
	if err != nil {
		return err
	}

	signed := contentDigest
	if len(si.SignedAttrs.FullBytes) > 0 {
		setBytes := retag(si.SignedAttrs.FullBytes, setTagByte)
		if err := validateSignedAttrs(setBytes, contentDigest, p.ContentType()); err != nil {
			return err
		}
		if signed, err = digest(h, setBytes); err != nil {
			return err
		}
	}
	if err := verifySignature(cert, si, signed, h); err != nil {
		return err
	}

	if !cfg.noChain {
		return validateChain(cert, p.certs, cfg)
	}
	return nil
}

func (p *ParsedSignedData) findSignerCert(si pkiasn1.SignerInfo) (*x509.Certificate, error) {
	switch si.Version {
	case 1:
		var isn pkiasn1.IssuerAndSerialNumber
		if _, err := asn1.Unmarshal(si.SID.FullBytes, &isn); err != nil {
			return nil, wrapError(CodeParse, "parsing IssuerAndSerialNumber", err)
		}
		for _, cert := range p.certs {
			if cert.SerialNumber.Cmp(isn.SerialNumber) == 0 && bytes.Equal(cert.RawIssuer, isn.Issuer.FullBytes) {
				return cert, nil
			}
		}
		return nil, newError(CodeMissingCertificate,
			fmt.Sprintf("signer certificate with serial %s not found in SignedData", isn.SerialNumber))
	case 3:
		var ski []byte
		if rest, err := asn1.UnmarshalWithParams(si.SID.FullBytes, &ski, "tag:0"); err != nil || len(rest) > 0 {
			return nil, wrapError(CodeParse, "parsing SubjectKeyIdentifier from SID", err)
		}
		for _, cert := range p.certs {
			if bytes.Equal(cert.SubjectKeyId, ski) {
				return cert, nil
			}
		}
		return nil, newError(CodeMissingCertificate, "signer certificate with matching SubjectKeyIdentifier not found")
	default:
		return nil, newError(CodeParse, fmt.Sprintf("unsupported SignerInfo version %d", si.Version))
	}
}

// validateSignedAttrs requires content-type to equal eContentType and
// message-digest to equal the recomputed digest.
func validateSignedAttrs(setBytes, computedDigest []byte, eContentType asn1.ObjectIdentifier) error {
	var attrs pkiasn1.RawAttributes
	if _, err := asn1.UnmarshalWithParams(setBytes, &attrs, "set"); err != nil {
		return wrapError(CodeParse, "parsing signedAttrs", err)
	}

	var foundCT, foundMD bool
	for _, attr := range attrs {
		switch {
		case attr.Type.Equal(pkiasn1.OIDAttributeContentType):
			var oid asn1.ObjectIdentifier
			if _, err := asn1.Unmarshal(attr.Values.Bytes, &oid); err != nil {
				return wrapError(CodeAttributeInvalid, "parsing content-type attribute value", err)
			}
			if !oid.Equal(eContentType) {
				return newError(CodeContentTypeMismatch,
					fmt.Sprintf("content-type attribute %s does not match eContentType %s", oid, eContentType))
			}
			foundCT = true
		case attr.Type.Equal(pkiasn1.OIDAttributeMessageDigest):
			var md []byte
			if _, err := asn1.Unmarshal(attr.Values.Bytes, &md); err != nil {
				return wrapError(CodeAttributeInvalid, "parsing message-digest attribute value", err)
			}
			if !bytes.Equal(md, computedDigest) {
				return newError(CodeAttributeInvalid, "message-digest attribute does not match content")
			}
			foundMD = true
		}
	}
	if !foundCT {
		return newError(CodeAttributeInvalid, "mandatory content-type signed attribute is missing")
	}
	if !foundMD {
		return newError(CodeAttributeInvalid, "mandatory message-digest signed attribute is missing")
	}
	return nil
}

func verifySignature(cert *x509.Certificate, si pkiasn1.SignerInfo, digest []byte, h crypto.Hash) error {
	sigAlg := si.SignatureAlgorithm.Algorithm
	switch {
	case isRSAPKCS1OID(sigAlg):
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return newError(CodeInvalidSignature, "signature algorithm is RSA but certificate has non-RSA key")
		}
		if err := rsa.VerifyPKCS1v15(pub, h, digest, si.Signature); err != nil {
			return wrapError(CodeInvalidSignature, "RSA PKCS1v15 signature verification failed", err)
		}
	case sigAlg.Equal(pkiasn1.OIDSignatureAlgorithmRSAPSS):
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return newError(CodeInvalidSignature, "signature algorithm is RSA-PSS but certificate has non-RSA key")
		}
		saltLen, err := saltLengthForHash(h)
		if err != nil {
			return err
		}
		if err := rsa.VerifyPSS(pub, h, digest, si.Signature, &rsa.PSSOptions{SaltLength: saltLen, Hash: h}); err != nil {
			return wrapError(CodeInvalidSignature, "RSA-PSS signature verification failed", err)
		}
	case isECDSAOID(sigAlg):
		pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
		if !ok || !ecdsa.VerifyASN1(pub, digest, si.Signature) {
			return newError(CodeInvalidSignature, "ECDSA signature verification failed")
		}
	case sigAlg.Equal(pkiasn1.OIDSignatureAlgorithmEd25519):
		pub, ok := cert.PublicKey.(ed25519.PublicKey)
		if !ok || !ed25519.Verify(pub, digest, si.Signature) {
			return newError(CodeInvalidSignature, "Ed25519 signature verification failed")
		}
	default:
		return newError(CodeUnsupportedAlgorithm,
			fmt.Sprintf("unsupported signature algorithm OID %s", sigAlg))
	}
	return nil
}

// validateChain verifies cert against the trust roots with the embedded
// certificates as intermediates.
func validateChain(cert *x509.Certificate, embedded []*x509.Certificate, cfg *verifyConfig) error {
	opts := x509.VerifyOptions{
		Roots:         cfg.roots,
		Intermediates: x509.NewCertPool(),
		CurrentTime:   cfg.verifyTime,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	if cfg.verifyOpts != nil {
		opts = *cfg.verifyOpts
	} else {
		for _, c := range embedded {
			if !bytes.Equal(c.Raw, cert.Raw) {
				opts.Intermediates.AddCert(c)
			}
		}
	}
	if _, err := cert.Verify(opts); err != nil {
		return wrapError(CodeCertificateChain, "certificate chain validation failed", err)
	}
	return nil
}
