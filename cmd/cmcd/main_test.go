package main

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdean75/cmc"
	pkiasn1 "github.com/mdean75/cmc/internal/asn1"
	"github.com/mdean75/cmc/internal/server"
	"github.com/mdean75/cmc/internal/store"
)

func executeCommand(root *cobra.Command, args ...string) (string, error) {
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

type testContext struct {
	t   *testing.T
	dir string

	ca    *x509.Certificate
	caKey *rsa.PrivateKey
	ee    *x509.Certificate
	eeKey *ecdsa.PrivateKey
}

func newTestContext(t *testing.T) *testContext {
	t.Helper()
	tc := &testContext{t: t, dir: t.TempDir()}

	var err error
	tc.caKey, err = rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	caTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "CLI Test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, caTmpl, caTmpl, &tc.caKey.PublicKey, tc.caKey)
	require.NoError(t, err)
	tc.ca, err = x509.ParseCertificate(der)
	require.NoError(t, err)

	tc.eeKey, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	eeTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(0x1a2b),
		Subject:      pkix.Name{CommonName: "alice"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err = x509.CreateCertificate(rand.Reader, eeTmpl, tc.ca, &tc.eeKey.PublicKey, tc.caKey)
	require.NoError(t, err)
	tc.ee, err = x509.ParseCertificate(der)
	require.NoError(t, err)

	tc.writePEM("ca.pem", "CERTIFICATE", tc.ca.Raw)
	tc.writePEM("alice.pem", "CERTIFICATE", tc.ee.Raw)
	keyDER, err := x509.MarshalPKCS8PrivateKey(tc.eeKey)
	require.NoError(t, err)
	tc.writePEM("alice.key", "PRIVATE KEY", keyDER)
	return tc
}

func (tc *testContext) path(name string) string {
	return filepath.Join(tc.dir, name)
}

func (tc *testContext) writePEM(name, typ string, der []byte) string {
	tc.t.Helper()
	p := tc.path(name)
	require.NoError(tc.t, os.WriteFile(p, pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der}), 0o600))
	return p
}

func (tc *testContext) readFile(name string) []byte {
	tc.t.Helper()
	data, err := os.ReadFile(tc.path(name))
	require.NoError(tc.t, err)
	return data
}

// fullResponse runs der through the HTTP layer against a memory store
// holding alice's certificate and returns the statuses and the store.
func (tc *testContext) fullResponse(der []byte) ([]cmc.StatusInfo, *store.Memory) {
	tc.t.Helper()
	mem := store.NewMemory(nil, nil)
	require.NoError(tc.t, mem.PutCertificate(context.Background(), tc.ee))

	auth, err := cmc.NewLocalAuthority(tc.ca, tc.caKey)
	require.NoError(tc.t, err)
	responder, err := cmc.NewResponder(auth, mem, cmc.WithRevocationProcessor(mem))
	require.NoError(tc.t, err)
	srv := httptest.NewServer(server.New(responder, auth, nil, nil, nil).Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+server.PathFull, "application/pkcs7-mime", bytes.NewReader(der))
	require.NoError(tc.t, err)
	defer resp.Body.Close()
	require.Equal(tc.t, http.StatusOK, resp.StatusCode)

	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(tc.t, err)
	roots := x509.NewCertPool()
	roots.AddCert(tc.ca)
	parsed, err := cmc.ParseResponse(body.Bytes(), cmc.WithTrustRoots(roots))
	require.NoError(tc.t, err)
	statuses, err := parsed.Statuses()
	require.NoError(tc.t, err)
	return statuses, mem
}

func TestRevokeRequest_SharedSecret(t *testing.T) {
	tc := newTestContext(t)
	_, err := executeCommand(newRootCmd(), "revoke-request",
		"--serial", "0x1A2B",
		"--issuer-cert", tc.path("ca.pem"),
		"--reason", "keyCompromise",
		"--secret", "s3cret",
		"--body-part-id", "5",
		"--out", tc.path("revoke.der"),
	)
	require.NoError(t, err)

	pd, err := cmc.ParsePKIData(tc.readFile("revoke.der"))
	require.NoError(t, err)
	require.Len(t, pd.ControlSequence, 1)
	ctl, err := cmc.DecodeControl(pd.ControlSequence[0])
	require.NoError(t, err)
	rr, ok := ctl.(*cmc.RevokeRequest)
	require.True(t, ok)
	assert.Equal(t, cmc.BodyPartID(5), rr.BodyPartID())
	assert.Equal(t, 0, rr.Serial.Cmp(big.NewInt(0x1a2b)))
	assert.Equal(t, cmc.CRLReasonKeyCompromise, rr.Reason)
	assert.Equal(t, []byte("s3cret"), rr.SharedSecret)
	assert.Equal(t, tc.ca.RawSubject, rr.Issuer)
}

func TestRevokeRequest_Signed(t *testing.T) {
	tc := newTestContext(t)
	_, err := executeCommand(newRootCmd(), "revoke-request",
		"--serial", "6699",
		"--issuer-cert", tc.path("ca.pem"),
		"--sign-cert", tc.path("alice.pem"),
		"--sign-key", tc.path("alice.key"),
		"--out", tc.path("revoke.der"),
	)
	require.NoError(t, err)

	sd, err := cmc.ParseSignedData(tc.readFile("revoke.der"))
	require.NoError(t, err)
	assert.True(t, sd.ContentType().Equal(pkiasn1.OIDPKIData))

	statuses, mem := tc.fullResponse(tc.readFile("revoke.der"))
	require.Len(t, statuses, 1)
	assert.Equal(t, cmc.StatusSuccess, statuses[0].Status)
	assert.Len(t, mem.Revocations(), 1)
}

func TestRevokeRequest_Legacy(t *testing.T) {
	tc := newTestContext(t)
	_, err := executeCommand(newRootCmd(), "revoke-request",
		"--serial", "0x1a2b",
		"--issuer-cert", tc.path("ca.pem"),
		"--reason", "1",
		"--sign-cert", tc.path("alice.pem"),
		"--sign-key", tc.path("alice.key"),
		"--legacy",
		"--out", tc.path("legacy.der"),
	)
	require.NoError(t, err)

	pd, err := cmc.ParsePKIData(tc.readFile("legacy.der"))
	require.NoError(t, err)
	require.Len(t, pd.OtherMsgSequence, 1)
	assert.Equal(t, int64(1), pd.OtherMsgSequence[0].BodyPartID)

	statuses, mem := tc.fullResponse(tc.readFile("legacy.der"))
	require.Len(t, statuses, 1)
	assert.Equal(t, cmc.StatusSuccess, statuses[0].Status)
	revs := mem.Revocations()
	require.Len(t, revs, 1)
	assert.Equal(t, cmc.ReasonKeyCompromise, revs[0].Reason)
}

func TestRevokeRequest_InvalidFlags(t *testing.T) {
	tc := newTestContext(t)
	tests := []struct {
		name string
		args []string
	}{
		{name: "bad serial", args: []string{"--serial", "zz", "--issuer-cert", tc.path("ca.pem")}},
		{name: "bad reason", args: []string{"--serial", "1", "--issuer-cert", tc.path("ca.pem"), "--reason", "bored"}},
		{name: "key without cert", args: []string{"--serial", "1", "--issuer-cert", tc.path("ca.pem"), "--sign-key", tc.path("alice.key")}},
		{name: "legacy unsigned", args: []string{"--serial", "1", "--issuer-cert", tc.path("ca.pem"), "--legacy"}},
		{name: "missing issuer", args: []string{"--serial", "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommand(newRootCmd(), append([]string{"revoke-request"}, tt.args...)...)
			assert.Error(t, err)
		})
	}
}

func TestCACerts(t *testing.T) {
	tc := newTestContext(t)
	auth, err := cmc.NewLocalAuthority(tc.ca, tc.caKey)
	require.NoError(t, err)
	responder, err := cmc.NewResponder(auth, store.NewMemory(nil, nil))
	require.NoError(t, err)
	srv := httptest.NewServer(server.New(responder, auth, nil, nil, nil).Router())
	defer srv.Close()

	out, err := executeCommand(newRootCmd(), "cacerts", "--url", srv.URL+"/")
	require.NoError(t, err)
	block, _ := pem.Decode([]byte(out))
	require.NotNil(t, block)
	assert.Equal(t, tc.ca.Raw, block.Bytes)
}

func TestSealSecret(t *testing.T) {
	tc := newTestContext(t)
	protect, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keyPath := tc.writePEM("protect.key", "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(protect))
	cfgPath := tc.path("cmcd.yaml")
	cfg := "ca:\n  pkcs12: unused.p12\ncmc:\n  sharedSecret:\n    protectionKey: " + keyPath + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))

	out, err := executeCommand(newRootCmd(), "seal-secret", "--config", cfgPath, "--serial", "0x1a2b", "--secret", "s3cret")
	require.NoError(t, err)

	secret, err := cmc.OpenSharedToken(protect, string(bytes.TrimSpace([]byte(out))))
	require.NoError(t, err)
	assert.Equal(t, []byte("s3cret"), secret)

	_, err = executeCommand(newRootCmd(), "seal-secret", "--config", cfgPath, "--serial", "1", "--secret", "x", "--store")
	assert.Error(t, err)
}
