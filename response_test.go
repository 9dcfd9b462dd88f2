package cmc

import (
	"context"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkiasn1 "github.com/mdean75/cmc/internal/asn1"
)

func TestNewResponder_ConfigErrors(t *testing.T) {
	ca := newTestCA(t)
	tests := []struct {
		name      string
		authority Authority
		records   RecordStore
		opts      []ResponderOption
	}{
		{name: "nil authority", records: newFakeRecords()},
		{name: "nil records", authority: ca.authority},
		{name: "nil option", authority: ca.authority, records: newFakeRecords(), opts: []ResponderOption{nil}},
		{name: "nil credential lookup", authority: ca.authority, records: newFakeRecords(), opts: []ResponderOption{WithCredentialLookup(nil)}},
		{name: "nil processor", authority: ca.authority, records: newFakeRecords(), opts: []ResponderOption{WithRevocationProcessor(nil)}},
		{name: "nil tracker", authority: ca.authority, records: newFakeRecords(), opts: []ResponderOption{WithRequestTracker(nil)}},
		{name: "nil auditor", authority: ca.authority, records: newFakeRecords(), opts: []ResponderOption{WithAuditor(nil)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewResponder(tt.authority, tt.records, tt.opts...)
			assert.Nil(t, r)
			assert.ErrorIs(t, err, ErrInvalidConfiguration)
		})
	}

	_, err := NewResponder(nil, nil, WithRequestTracker(nil))
	require.Error(t, err)
	joined, ok := err.(interface{ Unwrap() []error })
	require.True(t, ok)
	assert.Len(t, joined.Unwrap(), 3)
}

func TestFullResponse_SessionControls(t *testing.T) {
	ca := newTestCA(t)
	alice, _ := ca.issue(aliceSerial, "alice")
	r := newTestResponder(t, ca, newFakeRecords(alice),
		WithRequestTracker(fakeTracker{"req-p": RequestPending, "req-c": RequestComplete, "req-x": RequestRejected}))

	// Deliberately out of answer order.
	sess := sessionWith(t,
		&ConfirmCertAcceptance{Header: Header{BodyPart: 6}, Issuers: []asn1.RawValue{DirectoryName(ca.cert.RawSubject)}, Serial: big.NewInt(aliceSerial)},
		&QueryPending{Header: Header{BodyPart: 5}, Tokens: [][]byte{[]byte("req-p"), []byte("req-c"), []byte("req-x"), []byte("req-?")}},
		&SenderNonce{Header: Header{BodyPart: 4}, Nonces: [][]byte{[]byte("client-nonce")}},
		&TransactionID{Header: Header{BodyPart: 3}, Values: []*big.Int{big.NewInt(4711)}},
		&DataReturn{Header: Header{BodyPart: 2}, Data: [][]byte{[]byte("echo me")}},
		&GetCert{Header: Header{BodyPart: 1}, Issuer: DirectoryName(ca.cert.RawSubject), Serial: big.NewInt(aliceSerial)},
		&Identification{Header: Header{BodyPart: 9}, Name: "alice"},
		&UnsupportedControl{Header: Header{BodyPart: 10}, Type: asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 7, 99}, Values: []asn1.RawValue{{FullBytes: []byte{0x05, 0x00}}}},
	)

	der, err := r.FullResponse(context.Background(), sess, FullRequest{})
	require.NoError(t, err)
	resp := ca.parse(der)

	want := []asn1.ObjectIdentifier{
		pkiasn1.OIDCMCDataReturn,
		pkiasn1.OIDCMCTransactionID,
		pkiasn1.OIDCMCRecipientNonce,
		pkiasn1.OIDCMCSenderNonce,
		pkiasn1.OIDCMCStatusInfoV2, // queryPending: pending
		pkiasn1.OIDCMCStatusInfoV2, // queryPending: complete
		pkiasn1.OIDCMCStatusInfoV2, // queryPending: failed
		pkiasn1.OIDCMCStatusInfoV2, // confirmCertAcceptance
	}
	require.Len(t, resp.Controls, len(want))
	for i, oid := range want {
		assert.Truef(t, oid.Equal(resp.Controls[i].AttrType), "control %d: got %s, want %s", i, resp.Controls[i].AttrType, oid)
	}

	var data []byte
	_, err = asn1.Unmarshal(resp.Controls[0].AttrValues[0].FullBytes, &data)
	require.NoError(t, err)
	assert.Equal(t, "echo me", string(data))

	var txID *big.Int
	_, err = asn1.Unmarshal(resp.Controls[1].AttrValues[0].FullBytes, &txID)
	require.NoError(t, err)
	assert.Equal(t, int64(4711), txID.Int64())

	var recipient, sender []byte
	_, err = asn1.Unmarshal(resp.Controls[2].AttrValues[0].FullBytes, &recipient)
	require.NoError(t, err)
	assert.Equal(t, "client-nonce", string(recipient))
	_, err = asn1.Unmarshal(resp.Controls[3].AttrValues[0].FullBytes, &sender)
	require.NoError(t, err)
	assert.Len(t, sender, senderNonceSize)

	statuses, err := resp.Statuses()
	require.NoError(t, err)
	require.Len(t, statuses, 4)
	assert.Equal(t, StatusPending, statuses[0].Status)
	assert.Equal(t, []byte("req-p"), statuses[0].PendInfo.Token)
	assert.Equal(t, []BodyPartID{5}, statuses[0].BodyList)
	assert.Equal(t, StatusSuccess, statuses[1].Status)
	assert.Equal(t, StatusFailed, statuses[2].Status)
	assert.Equal(t, FailBadRequest, *statuses[2].FailInfo)
	assert.Equal(t, StatusSuccess, statuses[3].Status)
	assert.Equal(t, []BodyPartID{6}, statuses[3].BodyList)

	require.Len(t, resp.Certificates, 2)
	assert.Equal(t, alice.Raw, resp.Certificates[0].Raw)
	assert.Equal(t, ca.cert.Raw, resp.Certificates[1].Raw)
	assert.Equal(t, ca.cert.Raw, resp.Signer.Raw)
}

func TestFullResponse_ControlFailures(t *testing.T) {
	ca := newTestCA(t)
	alice, _ := ca.issue(aliceSerial, "alice")
	other := newTestCA(t)
	require.NotEqual(t, ca.cert.RawSubject, other.cert.RawSubject)
	r := newTestResponder(t, ca, newFakeRecords(alice))

	sess := sessionWith(t,
		&GetCert{Header: Header{BodyPart: 1}, Issuer: DirectoryName(ca.cert.RawSubject), Serial: big.NewInt(0x9999)},
		&GetCert{Header: Header{BodyPart: 2}, Issuer: DirectoryName(other.cert.RawSubject), Serial: big.NewInt(aliceSerial)},
		&QueryPending{Header: Header{BodyPart: 3}, Tokens: [][]byte{[]byte("req-1")}},
		&ConfirmCertAcceptance{Header: Header{BodyPart: 4}, Issuers: []asn1.RawValue{DirectoryName(other.cert.RawSubject)}, Serial: big.NewInt(aliceSerial)},
	)
	sess.Controls = append(sess.Controls, TaggedAttribute{
		BodyPartID: 5,
		AttrType:   pkiasn1.OIDCMCTransactionID,
		AttrValues: []asn1.RawValue{{FullBytes: []byte{0x04, 0x00}}},
	})

	der, err := r.FullResponse(context.Background(), sess, FullRequest{})
	require.NoError(t, err)
	statuses := ca.statuses(der)
	require.Len(t, statuses, 5)

	want := []struct {
		bpid BodyPartID
		fail FailInfo
	}{
		{1, FailBadCertID},
		{2, FailBadCertID},
		{5, FailBadRequest},
		{3, FailInternalCAError},
		{4, FailBadCertID},
	}
	for i, w := range want {
		assert.Equal(t, StatusFailed, statuses[i].Status)
		assert.Equal(t, []BodyPartID{w.bpid}, statuses[i].BodyList)
		require.NotNil(t, statuses[i].FailInfo)
		assert.Equal(t, w.fail, *statuses[i].FailInfo)
	}
}

func TestFullResponse_CertificateOrder(t *testing.T) {
	ca := newTestCA(t)
	alice, _ := ca.issue(aliceSerial, "alice")
	bob, _ := ca.issue(0x2b, "bob")
	r := newTestResponder(t, ca, newFakeRecords(alice, bob))

	sess := sessionWith(t,
		&GetCert{Header: Header{BodyPart: 1}, Issuer: DirectoryName(ca.cert.RawSubject), Serial: big.NewInt(aliceSerial)},
	)
	der, err := r.FullResponse(context.Background(), sess, FullRequest{SubRequests: []SubRequest{
		{BodyPartID: 2, Outcome: OutcomeSuccess, Certificate: bob},
		{BodyPartID: 3, Outcome: OutcomeSuccess, Certificate: alice},
	}})
	require.NoError(t, err)

	certs := ca.parse(der).Certificates
	require.Len(t, certs, 3)
	assert.Equal(t, alice.Raw, certs[0].Raw)
	assert.Equal(t, bob.Raw, certs[1].Raw)
	assert.Equal(t, ca.cert.Raw, certs[2].Raw)
}

func TestFullResponse_Audit(t *testing.T) {
	ca := newTestCA(t)
	audit := &auditRecorder{}
	r := newTestResponder(t, ca, newFakeRecords(), WithAuditor(audit))

	der, err := r.FullResponse(context.Background(), &Session{UserID: "alice"}, FullRequest{SubRequests: []SubRequest{
		{BodyPartID: 1, Outcome: OutcomeSuccess},
		{BodyPartID: 2, Outcome: 9},
	}})
	require.NoError(t, err)

	events := audit.ofType(AuditCMCResponseSent)
	require.Len(t, events, 1)
	ev := events[0]
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, AuditSuccess, ev.Outcome)
	assert.Equal(t, "alice", ev.UserID)
	assert.Equal(t, ModeFull, ev.Mode)
	assert.Equal(t, []Status{StatusSuccess, StatusFailed}, ev.Statuses)
	assert.Equal(t, base64.StdEncoding.EncodeToString(der), ev.Payload)
}

func TestFailedResponse(t *testing.T) {
	ca := newTestCA(t)
	audit := &auditRecorder{}
	r := newTestResponder(t, ca, newFakeRecords(), WithAuditor(audit))

	tests := []struct {
		name     string
		ids      []BodyPartID
		wantBody []BodyPartID
	}{
		{name: "default body list", wantBody: []BodyPartID{0}},
		{name: "explicit body list", ids: []BodyPartID{3, 4}, wantBody: []BodyPartID{3, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			der, err := r.FailedResponse(context.Background(), nil, FailBadMessageCheck, "request is not signed", tt.ids...)
			require.NoError(t, err)
			resp := ca.parse(der)
			statuses, err := resp.Statuses()
			require.NoError(t, err)
			require.Len(t, statuses, 1)
			assert.Equal(t, StatusFailed, statuses[0].Status)
			assert.Equal(t, FailBadMessageCheck, *statuses[0].FailInfo)
			assert.Equal(t, "request is not signed", statuses[0].StatusString)
			assert.Equal(t, tt.wantBody, statuses[0].BodyList)
			require.Len(t, resp.Certificates, 1)
			assert.Equal(t, ca.cert.Raw, resp.Certificates[0].Raw)
		})
	}
	assert.Len(t, audit.ofType(AuditCMCResponseSent), len(tests))
}

func TestSimpleResponse(t *testing.T) {
	ca := newTestCA(t)
	alice, _ := ca.issue(aliceSerial, "alice")
	bob, _ := ca.issue(0x2b, "bob")
	audit := &auditRecorder{}
	r := newTestResponder(t, ca, newFakeRecords(alice), WithAuditor(audit))

	sess := sessionWith(t,
		&GetCert{Header: Header{BodyPart: 1}, Issuer: DirectoryName(ca.cert.RawSubject), Serial: big.NewInt(aliceSerial)},
		&GetCert{Header: Header{BodyPart: 2}, Issuer: DirectoryName(ca.cert.RawSubject), Serial: big.NewInt(0x9999)},
	)
	der, err := r.SimpleResponse(context.Background(), sess, []*x509.Certificate{bob, alice})
	require.NoError(t, err)

	certs, err := ParseSimpleResponse(der)
	require.NoError(t, err)
	require.Len(t, certs, 3)
	assert.Equal(t, alice.Raw, certs[0].Raw)
	assert.Equal(t, bob.Raw, certs[1].Raw)
	assert.Equal(t, ca.cert.Raw, certs[2].Raw)

	events := audit.ofType(AuditCMCResponseSent)
	require.Len(t, events, 1)
	assert.Equal(t, ModeSimple, events[0].Mode)
	assert.Empty(t, events[0].Statuses)

	_, err = ParseResponse(der)
	assert.Error(t, err)
}

func TestSimpleResponse_ChainOnly(t *testing.T) {
	ca := newTestCA(t)
	r := newTestResponder(t, ca, newFakeRecords())

	der, err := r.SimpleResponse(context.Background(), nil, nil)
	require.NoError(t, err)
	certs, err := ParseSimpleResponse(der)
	require.NoError(t, err)
	require.Len(t, certs, 1)
	assert.Equal(t, ca.cert.Raw, certs[0].Raw)
}

func TestParseResponse_Errors(t *testing.T) {
	ca := newTestCA(t)
	r := newTestResponder(t, ca, newFakeRecords())
	der, err := r.FullResponse(context.Background(), nil, FullRequest{SubRequests: []SubRequest{{BodyPartID: 1}}})
	require.NoError(t, err)

	other := newTestCA(t)
	_, err = ParseResponse(der, WithTrustRoots(poolOf(other.cert)))
	assert.ErrorIs(t, err, ErrCertificateChain)

	signed, err := NewSigner().WithCertificate(ca.cert).WithPrivateKey(ca.key).Sign([]byte{0x30, 0x00})
	require.NoError(t, err)
	_, err = ParseResponse(signed, WithTrustRoots(poolOf(ca.cert)))
	assert.ErrorIs(t, err, ErrContentTypeMismatch)

	_, err = ParseSimpleResponse([]byte{0x30, 0x00})
	assert.ErrorIs(t, err, ErrParse)
}
