package blob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Press3/internal/fault"
	"Press3/internal/ledger"
	"Press3/internal/logger"
	"Press3/internal/registry"
)

const (
	// DefaultStoreAttempts bounds retries of the idempotent store phase.
	DefaultStoreAttempts = 3

	// DefaultCertifyAttempts surfaces a certify failure immediately.
	DefaultCertifyAttempts = 1

	// DefaultRetryDelay is the pause between retried attempts.
	DefaultRetryDelay = 500 * time.Millisecond
)

// Receipt is the outcome of a complete upload.
type Receipt struct {
	Path       string `json:"path"`       // Path is the logical page path
	ContentRef string `json:"contentRef"` // ContentRef addresses the content
	RegisterTx string `json:"registerTx"` // RegisterTx is the storage registration tx id
	CertifyTx  string `json:"certifyTx"`  // CertifyTx is the certification tx id
	BlobObject string `json:"blobObject"` // BlobObject is the on-ledger storage record
	Size       int    `json:"size"`       // Size is the unencoded byte count
}

// ResumeError is carried by PartialCommit failures. Handle holds the
// registered blob; pass it back to Resume or ResumeCertify.
type ResumeError struct {
	Handle *Handle // Handle is the registered blob to resume with
	Err    error   // Err is the failure of the later phase
}

// Error implements error.
func (e *ResumeError) Error() string {
	return fmt.Sprintf("blob %s registered in %s:\n%v", e.Handle.ContentRef, e.Handle.RegisterTx, e.Err)
}

// Unwrap returns the cause.
func (e *ResumeError) Unwrap() error {
	return e.Err
}

// HandleOf extracts the resumable handle from a PartialCommit error.
func HandleOf(err error) (*Handle, bool) {
	var re *ResumeError
	if errors.As(err, &re) {
		return re.Handle, true
	}

	return nil, false
}

// Uploader drives blobs through encode, register, store and certify.
type Uploader struct {
	network Network       // network is the blob network
	encoder Encoder       // encoder produces handles
	signer  ledger.Signer // signer signs register and certify

	StoreAttempts   int           // StoreAttempts bounds store retries
	CertifyAttempts int           // CertifyAttempts bounds certify retries
	RetryDelay      time.Duration // RetryDelay separates retried attempts
}

// NewUploader creates an uploader with the default ShardEncoder and attempt counts.
func NewUploader(network Network, signer ledger.Signer) *Uploader {
	return &Uploader{
		network:         network,
		encoder:         ShardEncoder{},
		signer:          signer,
		StoreAttempts:   DefaultStoreAttempts,
		CertifyAttempts: DefaultCertifyAttempts,
		RetryDelay:      DefaultRetryDelay,
	}
}

// WithEncoder replaces the encoder.
func (u *Uploader) WithEncoder(e Encoder) *Uploader {
	u.encoder = e
	return u
}

// Signer returns the signer used for register and certify.
func (u *Uploader) Signer() ledger.Signer {
	return u.signer
}

// Upload runs all four phases. A failure before Register leaves nothing
// behind. A failure after Register is a PartialCommit error whose
// ResumeError carries the handle.
func (u *Uploader) Upload(ctx context.Context, data []byte, path string, owner registry.Identity, epochs uint64) (*Receipt, error) {
	start := time.Now()

	h, err := u.Encode(data)
	if err != nil {
		return nil, err
	}

	if err := u.Register(ctx, h, owner, epochs); err != nil {
		return nil, err
	}

	if err := u.Store(ctx, h); err != nil {
		return nil, err
	}

	certifyTx, err := u.Certify(ctx, h)
	if err != nil {
		return nil, err
	}

	logger.Debug("blob uploaded",
		"path", path,
		"ref", h.ContentRef,
		"shards", len(h.Shards),
		logger.Timed(start),
	)

	return receiptFor(h, path, certifyTx), nil
}

// Encode runs the local encode phase.
func (u *Uploader) Encode(data []byte) (*Handle, error) {
	h, err := u.encoder.Encode(data)
	if err != nil {
		return nil, fault.New(fault.Validation, "encode", err)
	}

	return h, nil
}

// Register reserves storage for h and records the register tx on it.
// Failure here is safe to abort.
func (u *Uploader) Register(ctx context.Context, h *Handle, owner registry.Identity, epochs uint64) error {
	if epochs == 0 {
		return fault.Validationf("storage epochs must be positive")
	}

	reg, err := u.network.RegisterStorage(ctx, h, epochs, owner, u.signer)
	if err != nil {
		return fault.New(fault.ExternalUnavailable, "register", fmt.Errorf("register %s:\n%w", h.ContentRef, err))
	}

	h.RegisterTx = reg.TxID
	h.BlobObject = reg.BlobObject
	h.Epochs = epochs

	return nil
}

// Store uploads the shards, retrying up to StoreAttempts times.
func (u *Uploader) Store(ctx context.Context, h *Handle) error {
	err := u.retry(ctx, u.StoreAttempts, func() error {
		return u.network.Store(ctx, h)
	})
	if err != nil {
		return fault.New(fault.PartialCommit, "store", &ResumeError{Handle: h, Err: err})
	}

	return nil
}

// Certify certifies a stored blob, retrying up to CertifyAttempts times.
func (u *Uploader) Certify(ctx context.Context, h *Handle) (string, error) {
	var txID string

	err := u.retry(ctx, u.CertifyAttempts, func() error {
		var err error
		txID, err = u.network.Certify(ctx, h, u.signer)
		return err
	})
	if err != nil {
		return "", fault.New(fault.PartialCommit, "certify", &ResumeError{Handle: h, Err: err})
	}

	return txID, nil
}

// ResumeCertify re-attempts certification of a registered and stored handle.
func (u *Uploader) ResumeCertify(ctx context.Context, h *Handle, path string) (*Receipt, error) {
	if h.RegisterTx == "" {
		return nil, fault.New(fault.Validation, "certify", ErrNotRegistered)
	}

	certifyTx, err := u.Certify(ctx, h)
	if err != nil {
		return nil, err
	}

	return receiptFor(h, path, certifyTx), nil
}

// Resume re-runs store then certify for a registered handle.
func (u *Uploader) Resume(ctx context.Context, h *Handle, path string) (*Receipt, error) {
	if h.RegisterTx == "" {
		return nil, fault.New(fault.Validation, "store", ErrNotRegistered)
	}

	if err := u.Store(ctx, h); err != nil {
		return nil, err
	}

	return u.ResumeCertify(ctx, h, path)
}

// retry runs fn up to attempts times, pausing RetryDelay between tries.
func (u *Uploader) retry(ctx context.Context, attempts int, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}

	var err error

	for i := 1; i <= attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}

		if i == attempts {
			break
		}

		logger.Debug("retrying blob phase", "attempt", i, "error", err)

		select {
		case <-time.After(u.RetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if attempts > 1 {
		return fmt.Errorf("after %d attempts:\n%w", attempts, err)
	}

	return err
}

// receiptFor builds the receipt of a certified handle.
func receiptFor(h *Handle, path, certifyTx string) *Receipt {
	return &Receipt{
		Path:       path,
		ContentRef: h.ContentRef,
		RegisterTx: h.RegisterTx,
		CertifyTx:  certifyTx,
		BlobObject: h.BlobObject,
		Size:       h.Size,
	}
}
