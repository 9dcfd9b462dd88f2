// Package server exposes the CMC responder over HTTP on the enrollment
// paths CMC clients expect.
package server

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mdean75/cmc"
	pkiasn1 "github.com/mdean75/cmc/internal/asn1"
	"github.com/mdean75/cmc/internal/metrics"
)

const (
	PathFull    = "/ca/ee/ca/profileSubmitCMCFull"
	PathSimple  = "/ca/ee/ca/profileSubmitCMCSimple"
	PathCAChain = "/ca/ee/ca/getCAChain"

	contentTypeCMC = "application/pkcs7-mime"

	maxRequestSize = 1 << 20
)

// Handler serves CMC requests.
type Handler struct {
	responder *cmc.Responder
	authority cmc.Authority
	logger    *zap.Logger
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
}

// New returns a Handler. m and gatherer may be nil, in which case no
// request metrics are recorded and /metrics is not served.
func New(responder *cmc.Responder, authority cmc.Authority, logger *zap.Logger, m *metrics.Metrics, gatherer prometheus.Gatherer) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		responder: responder,
		authority: authority,
		logger:    logger,
		metrics:   m,
		gatherer:  gatherer,
	}
}

// Router builds the route table.
func (h *Handler) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(h.observe)

	router.HandleFunc("/healthz", h.healthz).Methods("GET")
	if h.gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
	router.HandleFunc(PathFull, h.full).Methods("POST")
	router.HandleFunc(PathSimple, h.simple).Methods("POST")
	router.HandleFunc(PathCAChain, h.caChain).Methods("GET")
	return router
}

// NewServer wraps the router in an http.Server with conservative timeouts.
func (h *Handler) NewServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handler) full(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	der, err := readRequest(r)
	if err != nil {
		h.logger.Warn("cannot read CMC request", zap.Error(err))
		h.writeFailed(ctx, w, nil, cmc.FailBadRequest, "cannot read request")
		return
	}
	sess, err := h.NewSession(der)
	if err != nil {
		h.logger.Warn("rejecting CMC request", zap.Error(err))
		h.writeFailed(ctx, w, nil, cmc.FailBadMessageCheck, "request could not be authenticated or decoded")
		return
	}

	resp, err := h.responder.FullResponse(ctx, sess, cmc.FullRequest{})
	if err != nil {
		h.logger.Error("cannot build full response", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeCMC(w, resp)
}

func (h *Handler) simple(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var sess *cmc.Session
	if der, err := readRequest(r); err == nil && len(der) > 0 {
		if sess, err = h.NewSession(der); err != nil {
			h.logger.Debug("answering simple request without session", zap.Error(err))
			sess = nil
		}
	}
	resp, err := h.responder.SimpleResponse(ctx, sess, nil)
	if err != nil {
		h.logger.Error("cannot build simple response", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeCMC(w, resp)
}

func (h *Handler) caChain(w http.ResponseWriter, r *http.Request) {
	resp, err := h.responder.SimpleResponse(r.Context(), nil, nil)
	if err != nil {
		h.logger.Error("cannot build CA chain", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeCMC(w, resp)
}

func (h *Handler) writeFailed(ctx context.Context, w http.ResponseWriter, sess *cmc.Session, fail cmc.FailInfo, msg string) {
	resp, err := h.responder.FailedResponse(ctx, sess, fail, msg)
	if err != nil {
		h.logger.Error("cannot build failed response", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeCMC(w, resp)
}

// writeCMC sends a fully built response; nothing is written before the
// response exists, so encoding failures can still become a 500.
func writeCMC(w http.ResponseWriter, der []byte) {
	w.Header().Set("Content-Type", contentTypeCMC)
	w.WriteHeader(http.StatusOK)
	w.Write(der)
}

// readRequest returns the DER request body. Base64 bodies, as sent by
// form-based clients, are decoded.
func readRequest(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxRequestSize {
		return nil, errors.New("request too large")
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] == 0x30 {
		return body, nil
	}
	clean := bytes.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return -1
		}
		return r
	}, body)
	der := make([]byte, base64.StdEncoding.DecodedLen(len(clean)))
	n, err := base64.StdEncoding.Decode(der, clean)
	if err != nil {
		return nil, fmt.Errorf("decoding base64 request: %w", err)
	}
	return der[:n], nil
}

// NewSession turns a request into a Session. A signed SignedData over
// PKIData must be signed by a certificate this CA issued; its signer becomes
// the session principal. A bare PKIData, or a SignedData with no signers,
// yields an unauthenticated session, left to shared-secret or
// embedded-signature revocation.
func (h *Handler) NewSession(der []byte) (*cmc.Session, error) {
	sess := &cmc.Session{AuthManagerID: cmc.AuthManagerNone}

	body := der
	if sd, err := cmc.ParseSignedData(der); err == nil {
		if !sd.ContentType().Equal(pkiasn1.OIDPKIData) {
			return nil, fmt.Errorf("signed content is %s, not PKIData", sd.ContentType())
		}
		// Zero signers carries shared-secret or embedded-signature
		// revocation; the session stays unauthenticated.
		if len(sd.Signers()) > 0 {
			roots := x509.NewCertPool()
			for _, c := range h.authority.Chain() {
				roots.AddCert(c)
			}
			if err := sd.Verify(cmc.WithTrustRoots(roots)); err != nil {
				return nil, fmt.Errorf("verifying request signature: %w", err)
			}
			signer := sd.Signers()[0].Certificate
			sess.AuthManagerID = cmc.AuthManagerUserSigned
			sess.SignerPrincipal = signer.RawSubject
			sess.UserID = signer.Subject.String()
		}

		if body, err = sd.Content(); err != nil {
			return nil, err
		}
	}

	pd, err := cmc.ParsePKIData(body)
	if err != nil {
		return nil, err
	}
	sess.Controls = pd.ControlSequence
	sess.OtherMsgs = pd.OtherMsgSequence
	sess.IssuerPrincipal = claimedIssuer(pd.ControlSequence)
	return sess, nil
}

// claimedIssuer returns the issuer named by the first decodable
// revokeRequest.
func claimedIssuer(controls []cmc.TaggedAttribute) []byte {
	for _, attr := range controls {
		if !attr.AttrType.Equal(pkiasn1.OIDCMCRevokeRequest) {
			continue
		}
		ctl, err := cmc.DecodeControl(attr)
		if err != nil {
			continue
		}
		rr := ctl.(*cmc.RevokeRequest)
		clear(rr.SharedSecret)
		return rr.Issuer
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		if h.metrics != nil {
			h.metrics.ObserveRequest(route, rec.code, time.Since(start))
		}
		h.logger.Debug("request served",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", rec.code),
			zap.Duration("duration", time.Since(start)))
	})
}
