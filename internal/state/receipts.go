package state

import (
	"fmt"

	"Press3/internal/codec"
	"Press3/internal/storage"
)

// receiptKeyPrefix is the Pebble key prefix for transaction receipts.
var receiptKeyPrefix = []byte("ledger/r/")

// Receipt records a committed transaction. Rejected transactions leave no receipt.
type Receipt struct {
	Digest  string   `cbor:"digest" json:"digest"`
	Sender  string   `cbor:"sender" json:"sender"`
	Object  string   `cbor:"object" json:"object"`
	Calls   []string `cbor:"calls" json:"calls"`
	Budget  uint64   `cbor:"budget" json:"budget"`
	Version uint64   `cbor:"version" json:"version"`
}

// receiptStore stores digest -> receipt mappings in Pebble.
type receiptStore struct {
	db *storage.Storage // db is the underlying Pebble storage
}

// newReceiptStore creates a receipt store backed by the given storage.
func newReceiptStore(db *storage.Storage) *receiptStore {
	return &receiptStore{db: db}
}

// get retrieves the receipt for a digest. Returns nil if not found.
func (r *receiptStore) get(digest string) (*Receipt, error) {
	value, err := r.db.Get(r.makeKey(digest))
	if err != nil || value == nil {
		return nil, err
	}

	var rec Receipt
	if err := codec.Unmarshal(value, &rec); err != nil {
		return nil, fmt.Errorf("decode receipt %s:\n%w", digest, err)
	}

	return &rec, nil
}

// exists returns true if a receipt is recorded for digest.
func (r *receiptStore) exists(digest string) (bool, error) {
	return r.db.Has(r.makeKey(digest))
}

// op encodes a receipt as a storage write for an atomic Apply.
func (r *receiptStore) op(rec *Receipt) (storage.Op, error) {
	data, err := codec.Marshal(rec)
	if err != nil {
		return storage.Op{}, fmt.Errorf("encode receipt:\n%w", err)
	}

	return storage.Op{Key: r.makeKey(rec.Digest), Value: data}, nil
}

// export returns all receipts in key order.
func (r *receiptStore) export() ([]*Receipt, error) {
	var out []*Receipt

	err := r.db.IteratePrefix(receiptKeyPrefix, func(_, value []byte) error {
		var rec Receipt
		if err := codec.Unmarshal(value, &rec); err != nil {
			return err
		}

		out = append(out, &rec)

		return nil
	})

	return out, err
}

// makeKey builds the Pebble key for a receipt: prefix + digest bytes.
func (r *receiptStore) makeKey(digest string) []byte {
	key := make([]byte, len(receiptKeyPrefix)+len(digest))
	copy(key, receiptKeyPrefix)
	copy(key[len(receiptKeyPrefix):], digest)

	return key
}
