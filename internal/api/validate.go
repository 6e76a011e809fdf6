package api

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"Press3/internal/blob"
	"Press3/internal/blobnet"
	"Press3/internal/ledger"
	"Press3/internal/registry"
)

const (
	// signatureSize is the expected size of an Ed25519 signature.
	signatureSize = 64

	// maxCalls is the maximum number of calls in one transaction.
	maxCalls = 256

	// maxShards is the maximum number of shards in one store request.
	maxShards = 4096
)

// validateTx checks the structure, hash and signature of a raw
// transaction before it reaches the ledger.
func validateTx(data []byte) (*ledger.Transaction, error) {
	tx, err := ledger.DecodeTransaction(data)
	if err != nil {
		return nil, err
	}

	if len(tx.Signature) != signatureSize {
		return nil, fmt.Errorf("invalid signature size: got %d, want %d", len(tx.Signature), signatureSize)
	}

	if len(tx.Calls) == 0 {
		return nil, fmt.Errorf("transaction has no calls")
	}

	if len(tx.Calls) > maxCalls {
		return nil, fmt.Errorf("too many calls: %d (max %d)", len(tx.Calls), maxCalls)
	}

	for i, c := range tx.Calls {
		if c.Function == "" {
			return nil, fmt.Errorf("call %d: empty function name", i)
		}
	}

	if err := tx.Verify(); err != nil {
		return nil, err
	}

	return tx, nil
}

// validateSigned checks the sizes of a public key and signature pair.
func validateSigned(pub, sig []byte) error {
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid public key size: got %d, want %d", len(pub), ed25519.PublicKeySize)
	}

	if len(sig) != signatureSize {
		return fmt.Errorf("invalid signature size: got %d, want %d", len(sig), signatureSize)
	}

	return nil
}

// validateRegisterRequest checks a storage registration before it is verified.
func validateRegisterRequest(req *blobnet.RegisterRequest) error {
	if _, err := blob.ParseRef(req.ContentRef); err != nil {
		return err
	}

	if req.Epochs == 0 {
		return fmt.Errorf("epochs must be positive")
	}

	if req.Size < 0 {
		return fmt.Errorf("negative size")
	}

	if err := registry.ValidateIdentity(req.Owner); err != nil {
		return err
	}

	return validateSigned(req.PublicKey, req.Signature)
}

// validateCertifyRequest checks a certification before it is verified.
func validateCertifyRequest(req *blobnet.CertifyRequest) error {
	if req.BlobObject == "" {
		return fmt.Errorf("missing blob object")
	}

	if _, err := blob.ParseRef(req.ContentRef); err != nil {
		return err
	}

	return validateSigned(req.PublicKey, req.Signature)
}

// decodeShards converts wire shards, checking ids are 32-byte hex.
func decodeShards(in []ShardJSON) ([]blob.Shard, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("no shards")
	}

	if len(in) > maxShards {
		return nil, fmt.Errorf("too many shards: %d (max %d)", len(in), maxShards)
	}

	out := make([]blob.Shard, len(in))

	for i, s := range in {
		id, err := hex.DecodeString(s.ID)
		if err != nil || len(id) != 32 {
			return nil, fmt.Errorf("shard %d: invalid id %q", i, s.ID)
		}

		copy(out[i].ID[:], id)
		out[i].Data = s.Data
	}

	return out, nil
}
