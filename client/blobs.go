package client

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"

	"Press3/internal/api"
	"Press3/internal/blob"
	"Press3/internal/blobnet"
	"Press3/internal/ledger"
	"Press3/internal/registry"
)

// RegisterStorage signs and submits a storage registration.
func (c *Client) RegisterStorage(ctx context.Context, h *blob.Handle, epochs uint64, owner registry.Identity, signer ledger.Signer) (*blob.Registration, error) {
	payload := blob.RegisterPayload(h.ContentRef, h.Size, epochs, owner)

	sig, err := signer.Sign(ctx, payload[:])
	if err != nil {
		return nil, fmt.Errorf("sign registration:\n%w", err)
	}

	req := blobnet.RegisterRequest{
		ContentRef: h.ContentRef,
		Size:       h.Size,
		Epochs:     epochs,
		Owner:      owner,
		PublicKey:  signer.PublicKey(),
		Signature:  sig,
	}

	var reg blob.Registration
	if err := c.do(ctx, http.MethodPost, "/blobs/register", req, &reg, nil); err != nil {
		return nil, err
	}

	return &reg, nil
}

// Store uploads the handle's shards. Idempotent on the node.
func (c *Client) Store(ctx context.Context, h *blob.Handle) error {
	shards := make([]api.ShardJSON, len(h.Shards))
	for i, s := range h.Shards {
		shards[i] = api.ShardJSON{ID: hex.EncodeToString(s.ID[:]), Data: s.Data}
	}

	body := map[string][]api.ShardJSON{"shards": shards}

	return c.do(ctx, http.MethodPut, "/blobs/"+url.PathEscape(h.ContentRef)+"/shards", body, nil, nil)
}

// Certify signs and submits a certification.
func (c *Client) Certify(ctx context.Context, h *blob.Handle, signer ledger.Signer) (string, error) {
	payload := blob.CertifyPayload(h.BlobObject, h.ContentRef)

	sig, err := signer.Sign(ctx, payload[:])
	if err != nil {
		return "", fmt.Errorf("sign certification:\n%w", err)
	}

	req := blobnet.CertifyRequest{
		ContentRef: h.ContentRef,
		BlobObject: h.BlobObject,
		PublicKey:  signer.PublicKey(),
		Signature:  sig,
	}

	var resp struct {
		TxID string `json:"txId"`
	}

	if err := c.do(ctx, http.MethodPost, "/blobs/certify", req, &resp, nil); err != nil {
		return "", err
	}

	return resp.TxID, nil
}

// Expiry returns the end epoch of a blob, nil when it has no storage record.
func (c *Client) Expiry(ctx context.Context, ref string) (*uint64, error) {
	var resp struct {
		EndEpoch *uint64 `json:"endEpoch"`
	}

	if err := c.do(ctx, http.MethodGet, "/blobs/"+url.PathEscape(ref)+"/expiry", nil, &resp, nil); err != nil {
		return nil, err
	}

	return resp.EndEpoch, nil
}

// CurrentEpoch returns the blob network epoch.
func (c *Client) CurrentEpoch(ctx context.Context) (uint64, error) {
	var resp struct {
		Epoch uint64 `json:"epoch"`
	}

	if err := c.do(ctx, http.MethodGet, "/epoch", nil, &resp, nil); err != nil {
		return 0, err
	}

	return resp.Epoch, nil
}

// AdvanceEpoch moves the devnet epoch forward.
func (c *Client) AdvanceEpoch(ctx context.Context, delta uint64) (uint64, error) {
	var resp struct {
		Epoch uint64 `json:"epoch"`
	}

	body := map[string]uint64{"delta": delta}
	if err := c.do(ctx, http.MethodPost, "/epoch/advance", body, &resp, nil); err != nil {
		return 0, err
	}

	return resp.Epoch, nil
}

// Read fetches the content bytes of a certified blob.
func (c *Client) Read(ctx context.Context, ref string) ([]byte, error) {
	var data []byte
	if err := c.do(ctx, http.MethodGet, "/blobs/"+url.PathEscape(ref), nil, &data, blob.ErrNotFound); err != nil {
		return nil, err
	}

	return data, nil
}
