package cmc

import (
	"crypto/aes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/asn1"
	"encoding/base64"

	pkiasn1 "github.com/mdean75/cmc/internal/asn1"
)

// SealSharedToken encrypts secret for storage under the issuance
// protection key and returns the base64 DER SharedToken. The session key is
// RSA-OAEP wrapped and the secret is IV || AES-128-CBC ciphertext.
func SealSharedToken(pub *rsa.PublicKey, secret []byte) (string, error) {
	if pub == nil {
		return "", newConfigError("protection key is nil")
	}
	if len(secret) == 0 {
		return "", newConfigError("shared secret is empty")
	}

	key := make([]byte, popKeySize)
	defer clear(key)
	if _, err := rand.Read(key); err != nil {
		return "", wrapError(CodeEncode, "generating session key", err)
	}
	iv, ciphertext, err := encryptAESCBC(key, secret)
	if err != nil {
		return "", err
	}
	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return "", wrapError(CodeEncode, "wrapping session key", err)
	}

	der, err := asn1.Marshal(pkiasn1.SharedToken{
		EncryptedSession: wrapped,
		EncryptedPrivate: append(iv, ciphertext...),
	})
	if err != nil {
		return "", wrapError(CodeEncode, "encoding shared token", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// OpenSharedToken recovers the secret sealed by SealSharedToken. The caller
// owns and must zero the result.
func OpenSharedToken(key *rsa.PrivateKey, token string) ([]byte, error) {
	if key == nil {
		return nil, newConfigError("protection key is nil")
	}
	der, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, wrapError(CodeDecode, "decoding shared token base64", err)
	}
	var t pkiasn1.SharedToken
	rest, err := asn1.Unmarshal(der, &t)
	if err != nil {
		return nil, wrapError(CodeDecode, "decoding shared token", err)
	}
	if len(rest) > 0 {
		return nil, newError(CodeDecode, "trailing data after shared token")
	}
	if len(t.EncryptedPrivate) <= aes.BlockSize {
		return nil, newError(CodeDecode, "shared token ciphertext is too short")
	}

	session, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, key, t.EncryptedSession, nil)
	if err != nil {
		return nil, wrapError(CodeDecode, "unwrapping shared token session key", err)
	}
	defer clear(session)

	iv, ciphertext := t.EncryptedPrivate[:aes.BlockSize], t.EncryptedPrivate[aes.BlockSize:]
	secret, err := decryptAESCBC(session, iv, ciphertext)
	if err != nil {
		return nil, wrapError(CodeDecode, "decrypting shared token", err)
	}
	return secret, nil
}
