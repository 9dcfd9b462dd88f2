package store

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdean75/cmc"
)

func testCertificate(t *testing.T, serial int64) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: "store-test-" + strconv.FormatInt(serial, 10)},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

// exerciseBackend runs the shared behavior checks against any backend.
// Serials are offset by base so runs against a shared Redis do not collide.
func exerciseBackend(t *testing.T, s Backend, protection *rsa.PrivateKey, base int64) {
	ctx := context.Background()
	cert := testCertificate(t, base+1)
	require.NoError(t, s.PutCertificate(ctx, cert))

	t.Run("read record", func(t *testing.T) {
		rec, err := s.ReadRecord(ctx, big.NewInt(base+1))
		require.NoError(t, err)
		assert.Equal(t, cmc.CertValid, rec.Status)
		assert.Equal(t, cert.Raw, rec.Certificate.Raw)
	})

	t.Run("unknown record", func(t *testing.T) {
		_, err := s.ReadRecord(ctx, big.NewInt(base+999))
		assert.ErrorIs(t, err, cmc.ErrRecordNotFound)
	})

	t.Run("shared secret", func(t *testing.T) {
		token, err := cmc.SealSharedToken(&protection.PublicKey, []byte("open sesame"))
		require.NoError(t, err)
		require.NoError(t, s.PutSharedToken(ctx, big.NewInt(base+1), token))

		secret, err := s.SharedSecretFor(ctx, big.NewInt(base+1))
		require.NoError(t, err)
		assert.Equal(t, []byte("open sesame"), secret)

		_, err = s.SharedSecretFor(ctx, big.NewInt(base+2))
		assert.ErrorIs(t, err, cmc.ErrCredentialNotFound)
	})

	t.Run("request tracking", func(t *testing.T) {
		id := "req-" + strconv.FormatInt(base, 10)
		require.NoError(t, s.PutRequest(ctx, id, cmc.RequestComplete))
		state, err := s.RequestStatus(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, cmc.RequestComplete, state)

		_, err = s.RequestStatus(ctx, id+"-missing")
		assert.ErrorIs(t, err, cmc.ErrRequestNotFound)
	})

	t.Run("revocation", func(t *testing.T) {
		at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		req := &cmc.RevocationRequest{
			RequestID:      "r1",
			Serial:         big.NewInt(base + 1),
			Reason:         cmc.ReasonKeyCompromise,
			InvalidityDate: at.Add(-24 * time.Hour),
			Comment:        "laptop stolen",
			RequestorType:  "agent",
			RevokedAt:      at,
			Extensions:     []pkix.Extension{{Id: asn1.ObjectIdentifier{2, 5, 29, 21}, Value: []byte{0x0a, 0x01, 0x01}}},
		}
		res, err := s.SubmitRevocation(ctx, req)
		require.NoError(t, err)
		assert.True(t, res.Accepted)

		got, err := s.Revocation(ctx, big.NewInt(base+1))
		require.NoError(t, err)
		assert.Equal(t, "r1", got.RequestID)
		assert.Equal(t, "laptop stolen", got.Comment)
		assert.Equal(t, "agent", got.RequestorType)
		assert.True(t, req.InvalidityDate.Equal(got.InvalidityDate))
		assert.Equal(t, req.Extensions, got.Extensions)

		_, err = s.Revocation(ctx, big.NewInt(base+999))
		assert.ErrorIs(t, err, cmc.ErrRecordNotFound)

		rec, err := s.ReadRecord(ctx, big.NewInt(base+1))
		require.NoError(t, err)
		assert.True(t, rec.Revoked())
		assert.Equal(t, cmc.ReasonKeyCompromise, rec.Reason)
		assert.True(t, at.Equal(rec.RevokedAt))

		res, err = s.SubmitRevocation(ctx, req)
		require.NoError(t, err)
		assert.False(t, res.Accepted)
		assert.Equal(t, "certificate already revoked", res.Reason)

		res, err = s.SubmitRevocation(ctx, &cmc.RevocationRequest{Serial: big.NewInt(base + 999)})
		require.NoError(t, err)
		assert.False(t, res.Accepted)
		assert.Equal(t, "unknown certificate", res.Reason)
	})
}

func protectionKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestMemory(t *testing.T) {
	key := protectionKey(t)
	m := NewMemory(key, nil)
	exerciseBackend(t, m, key, 0)

	revs := m.Revocations()
	require.Len(t, revs, 1)
	assert.Equal(t, "r1", revs[0].RequestID)
}

func TestMemory_ReadRecordReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil, nil)
	require.NoError(t, m.PutCertificate(ctx, testCertificate(t, 7)))

	rec, err := m.ReadRecord(ctx, big.NewInt(7))
	require.NoError(t, err)
	rec.Status = cmc.CertRevoked

	again, err := m.ReadRecord(ctx, big.NewInt(7))
	require.NoError(t, err)
	assert.Equal(t, cmc.CertValid, again.Status)
}

func TestMemory_SharedSecretWithoutProtectionKey(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil, nil)
	require.NoError(t, m.PutSharedToken(ctx, big.NewInt(1), "AAAA"))

	_, err := m.SharedSecretFor(ctx, big.NewInt(1))
	assert.ErrorIs(t, err, cmc.ErrInvalidConfiguration)
}

func TestMemory_PutCertificateRejectsNil(t *testing.T) {
	m := NewMemory(nil, nil)
	assert.Error(t, m.PutCertificate(context.Background(), nil))
}

// TestRedis needs a disposable Redis server; set CMC_TEST_REDIS_ADDR to run it.
func TestRedis(t *testing.T) {
	addr := os.Getenv("CMC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CMC_TEST_REDIS_ADDR not set")
	}
	key := protectionKey(t)
	prefix := "cmc-test-" + strconv.FormatInt(time.Now().UnixNano(), 36) + ":"
	s, err := NewRedis(RedisConfig{Addr: addr, Prefix: prefix}, key, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	exerciseBackend(t, s, key, time.Now().Unix())
}

func TestNewRedis_Unreachable(t *testing.T) {
	_, err := NewRedis(RedisConfig{Addr: "127.0.0.1:1"}, nil, nil)
	assert.Error(t, err)
}

func TestRevocationFields_RoundTrip(t *testing.T) {
	cert := testCertificate(t, 77)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		req  cmc.RevocationRequest
	}{
		{
			name: "all fields",
			req: cmc.RevocationRequest{
				RequestID:      "r-77",
				Serial:         big.NewInt(77),
				Reason:         cmc.ReasonSuperseded,
				InvalidityDate: at.Add(-time.Hour),
				Comment:        "rekeyed",
				RequestorType:  "agent",
				Extensions: []pkix.Extension{
					{Id: asn1.ObjectIdentifier{2, 5, 29, 21}, Value: []byte{0x0a, 0x01, 0x04}},
					{Id: asn1.ObjectIdentifier{2, 5, 29, 24}, Value: []byte{0x18, 0x00}},
				},
			},
		},
		{
			name: "no invalidity date or extensions",
			req: cmc.RevocationRequest{
				RequestID: "r-78",
				Serial:    big.NewInt(77),
				Reason:    cmc.ReasonUnspecified,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields, err := revocationFields(&tt.req, at)
			require.NoError(t, err)

			stored := map[string]string{"der": string(cert.Raw)}
			for k, v := range fields {
				stored[k] = v.(string)
			}
			got, err := decodeRevocation(big.NewInt(77), stored)
			require.NoError(t, err)

			want := tt.req
			want.RevokedAt = at
			assert.Equal(t, want.RequestID, got.RequestID)
			assert.Equal(t, 0, want.Serial.Cmp(got.Serial))
			assert.Equal(t, want.Reason, got.Reason)
			assert.True(t, want.InvalidityDate.Equal(got.InvalidityDate))
			assert.Equal(t, want.Comment, got.Comment)
			assert.Equal(t, want.RequestorType, got.RequestorType)
			assert.True(t, want.RevokedAt.Equal(got.RevokedAt))
			assert.Equal(t, want.Extensions, got.Extensions)
		})
	}
}
