package main

import (
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.mozilla.org/pkcs7"

	"github.com/mdean75/cmc"
	pkiasn1 "github.com/mdean75/cmc/internal/asn1"
	"github.com/mdean75/cmc/internal/config"
)

type revokeRequestFlags struct {
	serial     string
	issuerCert string
	reason     string
	secret     string
	comment    string
	invalidity string
	bodyPartID int64
	signCert   string
	signKey    string
	legacy     bool
	pemOut     bool
	out        string
}

func newRevokeRequestCmd() *cobra.Command {
	var f revokeRequestFlags
	cmd := &cobra.Command{
		Use:   "revoke-request",
		Short: "Build a PKIData carrying a revokeRequest control",
		Long: `Build a CMC revocation request.

Authentication:
  --secret                    shared secret in the revokeRequest passphrase
  --sign-cert/--sign-key      PKIData signed as a SignedData
  --sign-cert/--sign-key --legacy
                              bare PKIData with the revokeRequest also signed
                              in an OtherMsg of the same body part id

Examples:
  # Shared-secret revocation
  cmcd revoke-request --serial 0x1A2B --issuer-cert ca.pem --reason keyCompromise \
    --secret "s3cret" --out revoke.der

  # Signed by the certificate holder
  cmcd revoke-request --serial 0x1A2B --issuer-cert ca.pem \
    --sign-cert alice.pem --sign-key alice.key --out revoke.der`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			der, err := buildRevokeRequest(f)
			if err != nil {
				return err
			}
			if f.pemOut {
				der = pem.EncodeToMemory(&pem.Block{Type: "CMC REQUEST", Bytes: der})
			}
			if f.out == "" || f.out == "-" {
				_, err = cmd.OutOrStdout().Write(der)
				return err
			}
			return os.WriteFile(f.out, der, 0o644)
		},
	}
	cmd.Flags().StringVar(&f.serial, "serial", "", "serial number to revoke, decimal or 0x hex (required)")
	cmd.Flags().StringVar(&f.issuerCert, "issuer-cert", "", "PEM certificate of the issuing CA (required)")
	cmd.Flags().StringVar(&f.reason, "reason", "unspecified", "CRL reason name or number")
	cmd.Flags().StringVar(&f.secret, "secret", "", "revocation shared secret")
	cmd.Flags().StringVar(&f.comment, "comment", "", "revocation comment")
	cmd.Flags().StringVar(&f.invalidity, "invalidity-date", "", "RFC 3339 invalidity date")
	cmd.Flags().Int64Var(&f.bodyPartID, "body-part-id", 1, "body part id of the control")
	cmd.Flags().StringVar(&f.signCert, "sign-cert", "", "PEM signer certificate")
	cmd.Flags().StringVar(&f.signKey, "sign-key", "", "PEM signer private key")
	cmd.Flags().BoolVar(&f.legacy, "legacy", false, "sign the revokeRequest inside an OtherMsg")
	cmd.Flags().BoolVar(&f.pemOut, "pem", false, "PEM encode the output")
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "output file (default stdout)")
	cmd.MarkFlagRequired("serial")
	cmd.MarkFlagRequired("issuer-cert")
	return cmd
}

func buildRevokeRequest(f revokeRequestFlags) ([]byte, error) {
	serial, ok := new(big.Int).SetString(f.serial, 0)
	if !ok {
		return nil, fmt.Errorf("invalid serial number %q", f.serial)
	}
	issuers, err := config.ReadCertificates(f.issuerCert)
	if err != nil {
		return nil, err
	}
	reason, err := parseReason(f.reason)
	if err != nil {
		return nil, err
	}
	if (f.signCert == "") != (f.signKey == "") {
		return nil, errors.New("--sign-cert and --sign-key go together")
	}
	if f.legacy && f.signCert == "" {
		return nil, errors.New("--legacy needs --sign-cert and --sign-key")
	}

	ctl := &cmc.RevokeRequest{
		Header:  cmc.Header{BodyPart: cmc.BodyPartID(f.bodyPartID)},
		Issuer:  issuers[0].RawSubject,
		Serial:  serial,
		Reason:  reason,
		Comment: f.comment,
	}
	if f.secret != "" {
		ctl.SharedSecret = []byte(f.secret)
	}
	if f.invalidity != "" {
		if ctl.InvalidityDate, err = time.Parse(time.RFC3339, f.invalidity); err != nil {
			return nil, fmt.Errorf("invalid --invalidity-date: %w", err)
		}
	}

	if f.signCert == "" {
		return cmc.EncodePKIData([]cmc.Control{ctl})
	}
	certs, err := config.ReadCertificates(f.signCert)
	if err != nil {
		return nil, err
	}
	key, err := config.ReadPrivateKey(f.signKey)
	if err != nil {
		return nil, err
	}

	if f.legacy {
		other, err := signedOtherMsg(ctl, certs[0], key)
		if err != nil {
			return nil, err
		}
		return cmc.EncodePKIData([]cmc.Control{ctl}, other)
	}

	pkiData, err := cmc.EncodePKIData([]cmc.Control{ctl})
	if err != nil {
		return nil, err
	}
	return cmc.NewSigner().
		WithCertificate(certs[0]).
		WithPrivateKey(key).
		WithHash(crypto.SHA256).
		WithContentType(pkiasn1.OIDPKIData).
		Sign(pkiData)
}

// signedOtherMsg wraps the tagged revokeRequest in a PKCS #7 SignedData, the
// form older clients send alongside an unsigned PKIData.
func signedOtherMsg(ctl *cmc.RevokeRequest, cert *x509.Certificate, key crypto.Signer) (cmc.OtherMsg, error) {
	attr, err := cmc.EncodeControl(ctl)
	if err != nil {
		return cmc.OtherMsg{}, err
	}
	content, err := asn1.Marshal(attr)
	if err != nil {
		return cmc.OtherMsg{}, err
	}

	sd, err := pkcs7.NewSignedData(content)
	if err != nil {
		return cmc.OtherMsg{}, err
	}
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	if err := sd.AddSigner(cert, key, pkcs7.SignerInfoConfig{}); err != nil {
		return cmc.OtherMsg{}, fmt.Errorf("signing revokeRequest: %w", err)
	}
	signed, err := sd.Finish()
	if err != nil {
		return cmc.OtherMsg{}, err
	}
	return cmc.OtherMsg{
		BodyPartID:    int64(ctl.BodyPartID()),
		OtherMsgType:  pkiasn1.OIDCMCRevokeRequest,
		OtherMsgValue: asn1.RawValue{FullBytes: signed},
	}, nil
}

func parseReason(s string) (cmc.CRLReason, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return cmc.CRLReason(n), nil
	}
	for r := cmc.CRLReasonUnspecified; r <= cmc.CRLReasonAACompromise; r++ {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown revocation reason %q", s)
}
