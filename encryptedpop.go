package cmc

import (
	"bytes"
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"

	pkiasn1 "github.com/mdean75/cmc/internal/asn1"
)

const (
	popKeySize = 16
	// keyIDSize is the length of the recipient key identifier, the leading
	// bytes of the SHA-256 of the PKCS #1 public key.
	keyIDSize = 20
)

// POPChallenge is the encrypted proof-of-possession challenge the
// enrollment pipeline prepared for a request. The challenge is encrypted
// with AES-128-CBC under a session key wrapped to the requester's key.
type POPChallenge struct {
	// Request is the DER TaggedRequest the challenge answers.
	Request []byte
	// EncryptedChallenge is the AES-128-CBC ciphertext of the challenge.
	EncryptedChallenge []byte
	IV                 []byte
	// WrappedSessionKey is the AES key, RSA-OAEP (SHA-256) encrypted to
	// the requester's public key.
	WrappedSessionKey []byte
	RecipientKeyID    []byte
	// Witness is the digest of the challenge under WitnessHash.
	Witness     []byte
	WitnessHash crypto.Hash
}

// NewPOPChallenge encrypts challenge for the holder of pub. request is the
// DER TaggedRequest being challenged.
func NewPOPChallenge(request []byte, pub *rsa.PublicKey, challenge []byte, h crypto.Hash) (*POPChallenge, error) {
	if len(request) == 0 {
		return nil, newError(CodePOPConstruction, "challenged request is empty")
	}
	if pub == nil {
		return nil, newError(CodePOPConstruction, "requester public key is nil")
	}
	if len(challenge) == 0 {
		return nil, newError(CodePOPConstruction, "challenge is empty")
	}

	key := make([]byte, popKeySize)
	defer clear(key)
	if _, err := rand.Read(key); err != nil {
		return nil, wrapError(CodePOPConstruction, "generating session key", err)
	}
	iv, ciphertext, err := encryptAESCBC(key, challenge)
	if err != nil {
		return nil, err
	}
	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return nil, wrapError(CodePOPConstruction, "wrapping session key", err)
	}
	witness, err := digest(h, challenge)
	if err != nil {
		return nil, wrapError(CodePOPConstruction, "computing witness", err)
	}

	return &POPChallenge{
		Request:            request,
		EncryptedChallenge: ciphertext,
		IV:                 iv,
		WrappedSessionKey:  wrapped,
		RecipientKeyID:     rsaKeyID(pub),
		Witness:            witness,
		WitnessHash:        h,
	}, nil
}

// encryptedPOP builds the id-cmc-encryptedPOP control value.
func (c *POPChallenge) encryptedPOP() (pkiasn1.EncryptedPOP, error) {
	switch {
	case len(c.Request) == 0:
		return pkiasn1.EncryptedPOP{}, newError(CodePOPConstruction, "challenged request is empty")
	case len(c.EncryptedChallenge) == 0 || len(c.WrappedSessionKey) == 0:
		return pkiasn1.EncryptedPOP{}, newError(CodePOPConstruction, "challenge material is incomplete")
	case len(c.IV) != aes.BlockSize:
		return pkiasn1.EncryptedPOP{}, newError(CodePOPConstruction,
			fmt.Sprintf("IV must be %d bytes, got %d", aes.BlockSize, len(c.IV)))
	case len(c.Witness) == 0:
		return pkiasn1.EncryptedPOP{}, newError(CodePOPConstruction, "witness is empty")
	}

	ci, err := c.envelopedData()
	if err != nil {
		return pkiasn1.EncryptedPOP{}, err
	}
	popAlg, err := aesCBCAlgID(c.IV)
	if err != nil {
		return pkiasn1.EncryptedPOP{}, err
	}
	witnessAlg, err := digestAlgID(c.WitnessHash)
	if err != nil {
		return pkiasn1.EncryptedPOP{}, wrapError(CodePOPConstruction, "witness algorithm", err)
	}
	return pkiasn1.EncryptedPOP{
		Request:      asn1.RawValue{FullBytes: c.Request},
		CMS:          asn1.RawValue{FullBytes: ci},
		ThePOPAlgID:  popAlg,
		WitnessAlgID: witnessAlg,
		Witness:      c.Witness,
	}, nil
}

// envelopedData wraps the pre-encrypted challenge in a ContentInfo
// EnvelopedData with one key transport recipient named by key identifier.
func (c *POPChallenge) envelopedData() ([]byte, error) {
	oaep, err := rsaOAEPAlgID()
	if err != nil {
		return nil, err
	}
	ktri := pkiasn1.KeyTransRecipientInfo{
		Version: 2,
		RID: asn1.RawValue{
			Class: asn1.ClassContextSpecific,
			Tag:   0,
			Bytes: c.RecipientKeyID,
		},
		KeyEncryptionAlgorithm: oaep,
		EncryptedKey:           c.WrappedSessionKey,
	}
	ktriDER, err := asn1.Marshal(ktri)
	if err != nil {
		return nil, wrapError(CodePOPConstruction, "encoding KeyTransRecipientInfo", err)
	}
	contentAlg, err := aesCBCAlgID(c.IV)
	if err != nil {
		return nil, err
	}

	ed := pkiasn1.EnvelopedData{
		Version:        2,
		RecipientInfos: []asn1.RawValue{{FullBytes: ktriDER}},
		EncryptedContentInfo: pkiasn1.EncryptedContentInfo{
			ContentType:                pkiasn1.OIDData,
			ContentEncryptionAlgorithm: contentAlg,
			EncryptedContent: asn1.RawValue{
				Class: asn1.ClassContextSpecific,
				Tag:   0,
				Bytes: c.EncryptedChallenge,
			},
		},
	}
	edDER, err := asn1.Marshal(ed)
	if err != nil {
		return nil, wrapError(CodePOPConstruction, "encoding EnvelopedData", err)
	}
	return marshalContentInfo(pkiasn1.OIDEnvelopedData, edDER)
}

// withEncryptedPOP appends the encryptedPOP control of a pop-required
// request. A request carrying no challenge adds nothing.
func (r *Responder) withEncryptedPOP(b ResponseBuilder, req SubRequest) (ResponseBuilder, error) {
	if req.POP == nil {
		return b, nil
	}
	ep, err := req.POP.encryptedPOP()
	if err != nil {
		return b, err
	}
	next := b.WithControl(pkiasn1.OIDCMCEncryptedPOP, ep)
	if err := next.Err(); err != nil {
		return b, wrapError(CodePOPConstruction, "encoding encryptedPOP", err)
	}
	return next, nil
}

// OpenPOPChallenge decrypts the challenge in an encoded EncryptedPOP value
// with the requester's key and checks it against the witness. It is the
// client side of the exchange.
func OpenPOPChallenge(value []byte, key *rsa.PrivateKey) ([]byte, error) {
	var ep pkiasn1.EncryptedPOP
	if _, err := asn1.Unmarshal(value, &ep); err != nil {
		return nil, wrapError(CodeDecode, "decoding encryptedPOP", err)
	}

	var ci pkiasn1.ContentInfo
	if _, err := asn1.Unmarshal(ep.CMS.FullBytes, &ci); err != nil {
		return nil, wrapError(CodeParse, "decoding ContentInfo", err)
	}
	if !ci.ContentType.Equal(pkiasn1.OIDEnvelopedData) {
		return nil, newError(CodeContentTypeMismatch,
			fmt.Sprintf("encryptedPOP carries %s, not EnvelopedData", ci.ContentType))
	}
	var ed pkiasn1.EnvelopedData
	if _, err := asn1.Unmarshal(ci.Content.Bytes, &ed); err != nil {
		return nil, wrapError(CodeParse, "decoding EnvelopedData", err)
	}
	if len(ed.RecipientInfos) != 1 {
		return nil, newError(CodeParse,
			fmt.Sprintf("expected one recipient, got %d", len(ed.RecipientInfos)))
	}
	var ktri pkiasn1.KeyTransRecipientInfo
	if _, err := asn1.Unmarshal(ed.RecipientInfos[0].FullBytes, &ktri); err != nil {
		return nil, wrapError(CodeParse, "decoding KeyTransRecipientInfo", err)
	}
	if !bytes.Equal(ktri.RID.Bytes, rsaKeyID(&key.PublicKey)) {
		return nil, newError(CodeMissingCertificate, "challenge is not addressed to this key")
	}

	sessionKey, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, key, ktri.EncryptedKey, nil)
	if err != nil {
		return nil, wrapError(CodeInvalidSignature, "unwrapping session key", err)
	}
	defer clear(sessionKey)

	eci := ed.EncryptedContentInfo
	iv, err := aesCBCIV(eci.ContentEncryptionAlgorithm)
	if err != nil {
		return nil, err
	}
	challenge, err := decryptAESCBC(sessionKey, iv, eci.EncryptedContent.Bytes)
	if err != nil {
		return nil, err
	}

	h, err := hashFromOID(ep.WitnessAlgID.Algorithm)
	if err != nil {
		return nil, err
	}
	witness, err := digest(h, challenge)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(witness, ep.Witness) {
		return nil, newError(CodeInvalidSignature, "challenge does not match the witness")
	}
	return challenge, nil
}

// rsaKeyID identifies an RSA key by a truncated SHA-256 of its PKCS #1
// encoding.
func rsaKeyID(pub *rsa.PublicKey) []byte {
	sum := sha256.Sum256(x509.MarshalPKCS1PublicKey(pub))
	return sum[:keyIDSize]
}

// encryptAESCBC encrypts plaintext with AES-CBC (PKCS#7 padded) under key
// and a fresh random IV.
func encryptAESCBC(key, plaintext []byte) (iv, ciphertext []byte, err error) {
	iv = make([]byte, aes.BlockSize)
	if _, err = rand.Read(iv); err != nil {
		return nil, nil, wrapError(CodeEncode, "generating AES-CBC IV", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, wrapError(CodeEncode, "creating AES cipher", err)
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	defer clear(padded)
	ciphertext = make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return iv, ciphertext, nil
}

// decryptAESCBC decrypts AES-CBC ciphertext and removes PKCS#7 padding.
func decryptAESCBC(key, iv, ciphertext []byte) ([]byte, error) {
	if len(iv) != aes.BlockSize {
		return nil, newError(CodeParse,
			fmt.Sprintf("AES-CBC IV must be %d bytes, got %d", aes.BlockSize, len(iv)))
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, newError(CodeInvalidSignature,
			"AES-CBC ciphertext length is not a multiple of block size")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, wrapError(CodeInvalidSignature, "creating AES cipher for CBC decryption", err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	unpadded, err := pkcs7Unpad(plaintext)
	if err != nil {
		clear(plaintext)
		return nil, err
	}
	return unpadded, nil
}

func aesCBCAlgID(iv []byte) (pkix.AlgorithmIdentifier, error) {
	rawIV, err := asn1.Marshal(iv)
	if err != nil {
		return pkix.AlgorithmIdentifier{}, wrapError(CodeEncode, "marshaling AES-CBC IV", err)
	}
	return pkix.AlgorithmIdentifier{
		Algorithm:  pkiasn1.OIDContentEncryptionAES128CBC,
		Parameters: asn1.RawValue{FullBytes: rawIV},
	}, nil
}

func aesCBCIV(alg pkix.AlgorithmIdentifier) ([]byte, error) {
	if !alg.Algorithm.Equal(pkiasn1.OIDContentEncryptionAES128CBC) {
		return nil, newError(CodeUnsupportedAlgorithm,
			fmt.Sprintf("unsupported content encryption algorithm OID %s", alg.Algorithm))
	}
	var iv []byte
	if _, err := asn1.Unmarshal(alg.Parameters.FullBytes, &iv); err != nil {
		return nil, wrapError(CodeParse, "parsing AES-CBC IV", err)
	}
	return iv, nil
}

// rsaOAEPAlgID returns the AlgorithmIdentifier for RSA-OAEP with SHA-256 per
// RFC 4055.
func rsaOAEPAlgID() (pkix.AlgorithmIdentifier, error) {
	hashAlgID := pkix.AlgorithmIdentifier{Algorithm: pkiasn1.OIDDigestAlgorithmSHA256}
	rawHash, err := asn1.Marshal(hashAlgID)
	if err != nil {
		return pkix.AlgorithmIdentifier{}, wrapError(CodeEncode, "marshaling OAEP hash", err)
	}
	params := struct {
		Hash pkix.AlgorithmIdentifier `asn1:"explicit,tag:0"`
		MGF  pkix.AlgorithmIdentifier `asn1:"explicit,tag:1"`
	}{
		Hash: hashAlgID,
		MGF: pkix.AlgorithmIdentifier{
			Algorithm:  pkiasn1.OIDMGF1,
			Parameters: asn1.RawValue{FullBytes: rawHash},
		},
	}
	rawParams, err := asn1.Marshal(params)
	if err != nil {
		return pkix.AlgorithmIdentifier{}, wrapError(CodeEncode, "marshaling RSAES-OAEP params", err)
	}
	return pkix.AlgorithmIdentifier{
		Algorithm:  pkiasn1.OIDKeyTransportRSAOAEP,
		Parameters: asn1.RawValue{FullBytes: rawParams},
	}, nil
}

// pkcs7Pad pads plaintext to a multiple of blockSize using PKCS#7.
func pkcs7Pad(plaintext []byte, blockSize int) []byte {
	pad := blockSize - len(plaintext)%blockSize
	padded := make([]byte, len(plaintext)+pad)
	copy(padded, plaintext)
	for i := len(plaintext); i < len(padded); i++ {
		padded[i] = byte(pad)
	}
	return padded
}

// pkcs7Unpad removes PKCS#7 padding from plaintext.
func pkcs7Unpad(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, newError(CodeInvalidSignature, "PKCS#7 unpad: empty input")
	}
	pad := int(plaintext[len(plaintext)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(plaintext) {
		return nil, newError(CodeInvalidSignature,
			fmt.Sprintf("PKCS#7 unpad: invalid padding byte %d", pad))
	}
	for _, b := range plaintext[len(plaintext)-pad:] {
		if int(b) != pad {
			return nil, newError(CodeInvalidSignature, "PKCS#7 unpad: inconsistent padding bytes")
		}
	}
	return plaintext[:len(plaintext)-pad], nil
}
