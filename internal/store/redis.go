package store

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/mdean75/cmc"
)

// RedisConfig holds the connection settings of a Redis store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix is prepended to every key.
	Prefix   string
	PoolSize int
}

// Redis keeps records, shared tokens and request states in Redis.
//
// Certificate records are hashes under <prefix>cert:<serial hex> with the
// fields der, status, revokedAt (unix seconds) and reason. A revocation adds
// requestID, requestorType, comment, invalidityDate (unix seconds, when
// requested) and extensions (DER SEQUENCE OF Extension). Shared tokens are
// strings under <prefix>token:<serial hex> and request states are integers
// under <prefix>request:<id>.
type Redis struct {
	client     *redis.Client
	prefix     string
	protection *rsa.PrivateKey
	logger     *zap.Logger
	now        func() time.Time
}

// NewRedis connects to Redis and checks the connection.
func NewRedis(cfg RedisConfig, protection *rsa.PrivateKey, logger *zap.Logger) (*Redis, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	poolSize := cfg.PoolSize
	if poolSize == 0 {
		poolSize = 10
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("connected to Redis", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return &Redis{
		client:     rdb,
		prefix:     cfg.Prefix,
		protection: protection,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Close closes the connection pool.
func (s *Redis) Close() error {
	return s.client.Close()
}

func (s *Redis) certKey(serial *big.Int) string { return s.prefix + "cert:" + serialKey(serial) }
func (s *Redis) tokenKey(serial *big.Int) string {
	return s.prefix + "token:" + serialKey(serial)
}
func (s *Redis) requestKey(id string) string { return s.prefix + "request:" + id }

// PutCertificate records cert as issued and valid.
func (s *Redis) PutCertificate(ctx context.Context, cert *x509.Certificate) error {
	if cert == nil || cert.SerialNumber == nil {
		return fmt.Errorf("certificate without serial number")
	}
	return s.client.HSet(ctx, s.certKey(cert.SerialNumber),
		"der", cert.Raw,
		"status", int(cmc.CertValid),
		"revokedAt", 0,
		"reason", 0,
	).Err()
}

// PutSharedToken stores a token produced by cmc.SealSharedToken for serial.
func (s *Redis) PutSharedToken(ctx context.Context, serial *big.Int, token string) error {
	return s.client.Set(ctx, s.tokenKey(serial), token, 0).Err()
}

// PutRequest sets the state queryPending reports for id.
func (s *Redis) PutRequest(ctx context.Context, id string, state cmc.RequestState) error {
	return s.client.Set(ctx, s.requestKey(id), int(state), 0).Err()
}

// ReadRecord implements cmc.RecordStore.
func (s *Redis) ReadRecord(ctx context.Context, serial *big.Int) (*cmc.CertRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.certKey(serial)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading record %s: %w", serialKey(serial), err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("serial %s: %w", serialKey(serial), cmc.ErrRecordNotFound)
	}
	return decodeRecord(serial, fields)
}

func decodeRecord(serial *big.Int, fields map[string]string) (*cmc.CertRecord, error) {
	cert, err := x509.ParseCertificate([]byte(fields["der"]))
	if err != nil {
		return nil, fmt.Errorf("record %s: parsing certificate: %w", serialKey(serial), err)
	}
	status, err := strconv.Atoi(fields["status"])
	if err != nil {
		return nil, fmt.Errorf("record %s: bad status: %w", serialKey(serial), err)
	}
	rec := &cmc.CertRecord{
		Serial:      new(big.Int).Set(serial),
		Certificate: cert,
		Status:      cmc.CertStatus(status),
	}
	if rec.Revoked() {
		at, err := strconv.ParseInt(fields["revokedAt"], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("record %s: bad revocation time: %w", serialKey(serial), err)
		}
		reason, err := strconv.Atoi(fields["reason"])
		if err != nil {
			return nil, fmt.Errorf("record %s: bad revocation reason: %w", serialKey(serial), err)
		}
		rec.RevokedAt = time.Unix(at, 0).UTC()
		rec.Reason = cmc.RevocationReason(reason)
	}
	return rec, nil
}

// SharedSecretFor implements cmc.CredentialLookup.
func (s *Redis) SharedSecretFor(ctx context.Context, serial *big.Int) ([]byte, error) {
	token, err := s.client.Get(ctx, s.tokenKey(serial)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("serial %s: %w", serialKey(serial), cmc.ErrCredentialNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading shared token %s: %w", serialKey(serial), err)
	}
	return cmc.OpenSharedToken(s.protection, token)
}

// SubmitRevocation implements cmc.RevocationProcessor. The record update is
// an optimistic transaction on the record key.
func (s *Redis) SubmitRevocation(ctx context.Context, req *cmc.RevocationRequest) (cmc.RevocationResult, error) {
	if req == nil || req.Serial == nil {
		return cmc.RevocationResult{}, fmt.Errorf("revocation request without serial number")
	}
	key := s.certKey(req.Serial)
	at := req.RevokedAt
	if at.IsZero() {
		at = s.now()
	}

	fields, err := revocationFields(req, at)
	if err != nil {
		return cmc.RevocationResult{}, err
	}

	var result cmc.RevocationResult
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		status, err := tx.HGet(ctx, key, "status").Result()
		if err == redis.Nil {
			result = cmc.RevocationResult{Reason: "unknown certificate"}
			return nil
		}
		if err != nil {
			return err
		}
		if status == strconv.Itoa(int(cmc.CertRevoked)) {
			result = cmc.RevocationResult{Reason: "certificate already revoked"}
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			return nil
		})
		if err != nil {
			return err
		}
		result = cmc.RevocationResult{Accepted: true}
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return cmc.RevocationResult{Reason: "concurrent update of certificate record"}, nil
	}
	if err != nil {
		return cmc.RevocationResult{}, fmt.Errorf("revoking %s: %w", serialKey(req.Serial), err)
	}

	if result.Accepted {
		s.logger.Info("certificate revoked",
			zap.String("serial", serialKey(req.Serial)),
			zap.String("reason", req.Reason.String()),
			zap.String("requestID", req.RequestID))
	}
	return result, nil
}

// Revocation returns the accepted revocation request of serial.
func (s *Redis) Revocation(ctx context.Context, serial *big.Int) (*cmc.RevocationRequest, error) {
	fields, err := s.client.HGetAll(ctx, s.certKey(serial)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading record %s: %w", serialKey(serial), err)
	}
	if fields["status"] != strconv.Itoa(int(cmc.CertRevoked)) {
		return nil, fmt.Errorf("serial %s has no revocation: %w", serialKey(serial), cmc.ErrRecordNotFound)
	}
	return decodeRevocation(serial, fields)
}

// revocationFields is the hash update that marks a record revoked.
func revocationFields(req *cmc.RevocationRequest, at time.Time) (map[string]interface{}, error) {
	fields := map[string]interface{}{
		"status":        strconv.Itoa(int(cmc.CertRevoked)),
		"revokedAt":     strconv.FormatInt(at.Unix(), 10),
		"reason":        strconv.Itoa(int(req.Reason)),
		"requestID":     req.RequestID,
		"requestorType": req.RequestorType,
		"comment":       req.Comment,
	}
	if !req.InvalidityDate.IsZero() {
		fields["invalidityDate"] = strconv.FormatInt(req.InvalidityDate.Unix(), 10)
	}
	if len(req.Extensions) > 0 {
		der, err := asn1.Marshal(req.Extensions)
		if err != nil {
			return nil, fmt.Errorf("encoding CRL entry extensions of %s: %w", serialKey(req.Serial), err)
		}
		fields["extensions"] = string(der)
	}
	return fields, nil
}

func decodeRevocation(serial *big.Int, fields map[string]string) (*cmc.RevocationRequest, error) {
	rec, err := decodeRecord(serial, fields)
	if err != nil {
		return nil, err
	}
	req := &cmc.RevocationRequest{
		RequestID:     fields["requestID"],
		Serial:        rec.Serial,
		Reason:        rec.Reason,
		Comment:       fields["comment"],
		RequestorType: fields["requestorType"],
		RevokedAt:     rec.RevokedAt,
	}
	if v, ok := fields["invalidityDate"]; ok {
		sec, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("record %s: bad invalidity date: %w", serialKey(serial), err)
		}
		req.InvalidityDate = time.Unix(sec, 0).UTC()
	}
	if v, ok := fields["extensions"]; ok {
		rest, err := asn1.Unmarshal([]byte(v), &req.Extensions)
		if err != nil {
			return nil, fmt.Errorf("record %s: bad CRL entry extensions: %w", serialKey(serial), err)
		}
		if len(rest) > 0 {
			return nil, fmt.Errorf("record %s: trailing data after CRL entry extensions", serialKey(serial))
		}
	}
	return req, nil
}

// RequestStatus implements cmc.RequestTracker.
func (s *Redis) RequestStatus(ctx context.Context, id string) (cmc.RequestState, error) {
	v, err := s.client.Get(ctx, s.requestKey(id)).Int()
	if err == redis.Nil {
		return 0, fmt.Errorf("request %q: %w", id, cmc.ErrRequestNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("reading request %q: %w", id, err)
	}
	return cmc.RequestState(v), nil
}
