// Package client talks to a devnet node over HTTP. A Client serves as the
// ledger client, the deployer and the blob network of the publish core.
package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"Press3/internal/ledger"
	"Press3/internal/registry"
	"Press3/internal/state"
)

// Client connects to a devnet node via HTTP.
type Client struct {
	baseURL string       // baseURL is the node URL without trailing slash
	http    *http.Client // http performs requests
}

// Status is the node status summary.
type Status struct {
	Objects int    `json:"objects"` // Objects is the number of ledger objects
	Epoch   uint64 `json:"epoch"`   // Epoch is the blob network epoch
}

// NewClient creates a client for a node address ("127.0.0.1:8080" or a full URL).
func NewClient(nodeAddr string) *Client {
	base := strings.TrimRight(nodeAddr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Status fetches the node status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var st Status
	if err := c.do(ctx, http.MethodGet, "/status", nil, &st, nil); err != nil {
		return nil, fmt.Errorf("get status:\n%w", err)
	}

	return &st, nil
}

// ReadRegistry reads a registry snapshot.
func (c *Client) ReadRegistry(ctx context.Context, id registry.ObjectID) (*registry.Snapshot, error) {
	var snap registry.Snapshot
	if err := c.do(ctx, http.MethodGet, "/registry/"+id.String(), nil, &snap, ledger.ErrNotFound); err != nil {
		return nil, err
	}

	return &snap, nil
}

// Submit sends signed transaction bytes and returns the digest.
// A ledger refusal wraps ledger.ErrRejected.
func (c *Client) Submit(ctx context.Context, tx []byte) (string, error) {
	var resp struct {
		Digest string `json:"digest"`
	}

	if err := c.do(ctx, http.MethodPost, "/tx", tx, &resp, nil); err != nil {
		return "", err
	}

	return resp.Digest, nil
}

// ObjectExists reports whether an object is visible to reads.
func (c *Client) ObjectExists(ctx context.Context, id registry.ObjectID) (bool, error) {
	var resp struct {
		Exists bool `json:"exists"`
	}

	if err := c.do(ctx, http.MethodGet, "/objects/"+id.String(), nil, &resp, nil); err != nil {
		return false, err
	}

	return resp.Exists, nil
}

// Deploy deploys a registry owned by admin.
func (c *Client) Deploy(ctx context.Context, admin registry.Identity) (*ledger.Deployment, error) {
	var dep ledger.Deployment

	body := map[string]registry.Identity{"admin": admin}
	if err := c.do(ctx, http.MethodPost, "/deploy", body, &dep, nil); err != nil {
		return nil, fmt.Errorf("deploy:\n%w", err)
	}

	return &dep, nil
}

// Receipt fetches the receipt of a committed transaction.
func (c *Client) Receipt(ctx context.Context, digest string) (*state.Receipt, error) {
	var rcpt state.Receipt
	if err := c.do(ctx, http.MethodGet, "/tx/"+digest, nil, &rcpt, ledger.ErrNotFound); err != nil {
		return nil, err
	}

	return &rcpt, nil
}
