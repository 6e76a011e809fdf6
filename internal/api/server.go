// Package api serves the devnet ledger and blob network over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"Press3/internal/blob"
	"Press3/internal/blobnet"
	"Press3/internal/ledger"
	"Press3/internal/logger"
	"Press3/internal/registry"
	"Press3/internal/state"
)

const (
	// maxTxSize is the maximum transaction size in bytes.
	maxTxSize = 1 << 20 // 1 MB

	// maxBlobRequestSize bounds JSON bodies carrying shards.
	maxBlobRequestSize = 64 << 20 // 64 MB
)

// Error codes returned in the "code" field of error responses.
const (
	CodeBadRequest    = "bad_request"
	CodeRejected      = "rejected"
	CodeNotFound      = "not_found"
	CodeNotRegistered = "not_registered"
	CodeIncomplete    = "incomplete"
	CodeForbidden     = "forbidden"
	CodeUnavailable   = "unavailable"
	CodeInternal      = "internal"
)

// LedgerBackend is the ledger the server exposes.
type LedgerBackend interface {
	ledger.Client
	ledger.Deployer
	Receipt(digest string) (*state.Receipt, error)
	ObjectCount() (int, error)
}

// BlobBackend is the blob network the server exposes.
type BlobBackend interface {
	Register(req blobnet.RegisterRequest) (*blob.Registration, error)
	StoreShards(ref string, shards []blob.Shard) error
	Certify(req blobnet.CertifyRequest) (string, error)
	Expiry(ctx context.Context, ref string) (*uint64, error)
	CurrentEpoch(ctx context.Context) (uint64, error)
	Read(ctx context.Context, ref string) ([]byte, error)
	AdvanceEpoch(delta uint64) (uint64, error)
}

// ShardJSON is a shard on the wire.
type ShardJSON struct {
	ID   string `json:"id"`   // ID is the hex shard id
	Data []byte `json:"data"` // Data is the base64 shard payload
}

// Server is the HTTP API server.
type Server struct {
	addr   string        // addr is the HTTP listen address
	ledger LedgerBackend // ledger executes transactions and serves registry reads
	blobs  BlobBackend   // blobs stores and certifies content
	server *http.Server  // server is the underlying HTTP server
}

// New creates a new HTTP API server.
func New(addr string, ledger LedgerBackend, blobs BlobBackend) *Server {
	return &Server{
		addr:   addr,
		ledger: ledger,
		blobs:  blobs,
	}
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)

	mux.HandleFunc("POST /tx", s.handleSubmitTx)
	mux.HandleFunc("GET /tx/{digest}", s.handleGetReceipt)
	mux.HandleFunc("POST /deploy", s.handleDeploy)
	mux.HandleFunc("GET /objects/{id}", s.handleObjectExists)
	mux.HandleFunc("GET /registry/{id}", s.handleReadRegistry)

	mux.HandleFunc("POST /blobs/register", s.handleRegisterBlob)
	mux.HandleFunc("PUT /blobs/{ref}/shards", s.handleStoreShards)
	mux.HandleFunc("POST /blobs/certify", s.handleCertifyBlob)
	mux.HandleFunc("GET /blobs/{ref}", s.handleReadBlob)
	mux.HandleFunc("GET /blobs/{ref}/expiry", s.handleExpiry)
	mux.HandleFunc("GET /epoch", s.handleEpoch)
	mux.HandleFunc("POST /epoch/advance", s.handleAdvanceEpoch)

	return mux
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", s.addr)

		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// =============================================================================
// Node
// =============================================================================

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleStatus handles GET /status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	objects, err := s.ledger.ObjectCount()
	if err != nil {
		writeFailure(w, err)
		return
	}

	epoch, err := s.blobs.CurrentEpoch(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"objects": objects,
		"epoch":   epoch,
	})
}

// =============================================================================
// Ledger
// =============================================================================

// handleSubmitTx handles POST /tx requests.
func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTxSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "failed to read body")
		return
	}

	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "empty transaction")
		return
	}

	if _, err := validateTx(body); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, fmt.Sprintf("invalid transaction: %v", err))
		return
	}

	digest, err := s.ledger.Submit(r.Context(), body)
	if err != nil {
		writeFailure(w, err)
		return
	}

	logger.Debug("tx executed", "digest", digest)

	writeJSON(w, http.StatusOK, map[string]string{
		"digest": digest,
	})
}

// handleGetReceipt handles GET /tx/{digest} requests.
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	rcpt, err := s.ledger.Receipt(r.PathValue("digest"))
	if err != nil {
		writeFailure(w, err)
		return
	}

	if rcpt == nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "transaction not found")
		return
	}

	writeJSON(w, http.StatusOK, rcpt)
}

// handleDeploy handles POST /deploy requests.
func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Admin registry.Identity `json:"admin"`
	}

	if err := json.NewDecoder(io.LimitReader(r.Body, maxTxSize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid JSON body")
		return
	}

	if err := registry.ValidateIdentity(req.Admin); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	dep, err := s.ledger.Deploy(r.Context(), req.Admin)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dep)
}

// handleObjectExists handles GET /objects/{id} requests.
func (s *Server) handleObjectExists(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	exists, err := s.ledger.ObjectExists(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":     id,
		"exists": exists,
	})
}

// handleReadRegistry handles GET /registry/{id} requests.
func (s *Server) handleReadRegistry(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	snap, err := s.ledger.ReadRegistry(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// =============================================================================
// Blobs
// =============================================================================

// handleRegisterBlob handles POST /blobs/register requests.
func (s *Server) handleRegisterBlob(w http.ResponseWriter, r *http.Request) {
	var req blobnet.RegisterRequest
	if !decodeBody(w, r, maxTxSize, &req) {
		return
	}

	if err := validateRegisterRequest(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	reg, err := s.blobs.Register(req)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, reg)
}

// handleStoreShards handles PUT /blobs/{ref}/shards requests.
func (s *Server) handleStoreShards(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Shards []ShardJSON `json:"shards"`
	}
	if !decodeBody(w, r, maxBlobRequestSize, &req) {
		return
	}

	shards, err := decodeShards(req.Shards)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	if err := s.blobs.StoreShards(r.PathValue("ref"), shards); err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"stored": len(shards)})
}

// handleCertifyBlob handles POST /blobs/certify requests.
func (s *Server) handleCertifyBlob(w http.ResponseWriter, r *http.Request) {
	var req blobnet.CertifyRequest
	if !decodeBody(w, r, maxTxSize, &req) {
		return
	}

	if err := validateCertifyRequest(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	txID, err := s.blobs.Certify(req)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"txId": txID})
}

// handleReadBlob handles GET /blobs/{ref} requests. The body is the raw content.
func (s *Server) handleReadBlob(w http.ResponseWriter, r *http.Request) {
	data, err := s.blobs.Read(r.Context(), r.PathValue("ref"))
	if err != nil {
		writeFailure(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleExpiry handles GET /blobs/{ref}/expiry requests.
func (s *Server) handleExpiry(w http.ResponseWriter, r *http.Request) {
	end, err := s.blobs.Expiry(r.Context(), r.PathValue("ref"))
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]*uint64{"endEpoch": end})
}

// handleEpoch handles GET /epoch requests.
func (s *Server) handleEpoch(w http.ResponseWriter, r *http.Request) {
	epoch, err := s.blobs.CurrentEpoch(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]uint64{"epoch": epoch})
}

// handleAdvanceEpoch handles POST /epoch/advance requests.
func (s *Server) handleAdvanceEpoch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Delta uint64 `json:"delta"`
	}
	if !decodeBody(w, r, maxTxSize, &req) {
		return
	}

	if req.Delta == 0 {
		req.Delta = 1
	}

	epoch, err := s.blobs.AdvanceEpoch(req.Delta)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]uint64{"epoch": epoch})
}

// =============================================================================
// Helpers
// =============================================================================

// parseID parses the {id} path value, writing a 400 on failure.
func parseID(w http.ResponseWriter, r *http.Request) (registry.ObjectID, bool) {
	id, err := registry.ParseObjectID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return registry.ObjectID{}, false
	}

	return id, true
}

// decodeBody decodes a JSON body, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, limit)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid JSON body")
		return false
	}

	return true
}

// writeFailure maps backend errors to status codes.
func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrRejected):
		writeError(w, http.StatusConflict, CodeRejected, err.Error())
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, blob.ErrNotFound), errors.Is(err, blobnet.ErrNotCertified):
		writeError(w, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, blob.ErrNotRegistered):
		writeError(w, http.StatusConflict, CodeNotRegistered, err.Error())
	case errors.Is(err, blobnet.ErrIncomplete):
		writeError(w, http.StatusConflict, CodeIncomplete, err.Error())
	case errors.Is(err, blobnet.ErrNoQuorum):
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, err.Error())
	case errors.Is(err, blobnet.ErrBadSignature):
		writeError(w, http.StatusForbidden, CodeForbidden, err.Error())
	default:
		logger.Warn("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, err.Error())
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}
