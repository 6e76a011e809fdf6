package blob

import (
	"bytes"
	"fmt"

	gocid "github.com/ipfs/go-cid"
	"github.com/klauspost/compress/zstd"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
	"github.com/zeebo/blake3"
)

// DefaultShardSize is the encoded byte count per shard.
const DefaultShardSize = 64 << 10

// Encoder turns raw content into a blob handle and back.
// Encode must be deterministic: equal bytes give an equal handle.
type Encoder interface {
	Encode(data []byte) (*Handle, error)
	Decode(ref string, shards []Shard) ([]byte, error)
}

// ShardEncoder compresses content with zstd and splits it into
// blake3-addressed shards. The content reference is the CIDv1 (raw,
// sha2-256) of the uncompressed bytes, rendered as base64url multibase.
type ShardEncoder struct {
	ShardSize int // ShardSize is the maximum shard length, DefaultShardSize when zero
}

// ComputeRef returns the content reference of data.
func ComputeRef(data []byte) (string, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("multihash:\n%w", err)
	}

	ref, err := gocid.NewCidV1(gocid.Raw, mh).StringOfBase(multibase.Base64url)
	if err != nil {
		return "", fmt.Errorf("render cid:\n%w", err)
	}

	return ref, nil
}

// ParseRef checks that ref is a well-formed content reference.
func ParseRef(ref string) (gocid.Cid, error) {
	c, err := gocid.Decode(ref)
	if err != nil {
		return gocid.Undef, fmt.Errorf("invalid content reference %q:\n%w", ref, err)
	}

	return c, nil
}

// Encode compresses and shards data.
func (e ShardEncoder) Encode(data []byte) (*Handle, error) {
	ref, err := ComputeRef(data)
	if err != nil {
		return nil, err
	}

	compressed, err := compress(data)
	if err != nil {
		return nil, err
	}

	size := e.ShardSize
	if size <= 0 {
		size = DefaultShardSize
	}

	h := &Handle{ContentRef: ref, Size: len(data)}

	for off := 0; off < len(compressed); off += size {
		end := min(off+size, len(compressed))

		chunk := compressed[off:end]
		h.Shards = append(h.Shards, Shard{ID: blake3.Sum256(chunk), Data: chunk})
	}

	return h, nil
}

// Decode reassembles shards, decompresses them and checks the result
// against ref. Shard ids are verified before decompression.
func (e ShardEncoder) Decode(ref string, shards []Shard) ([]byte, error) {
	var buf bytes.Buffer

	for i, s := range shards {
		if blake3.Sum256(s.Data) != s.ID {
			return nil, fmt.Errorf("shard %d: id mismatch", i)
		}

		buf.Write(s.Data)
	}

	data, err := decompress(buf.Bytes())
	if err != nil {
		return nil, err
	}

	got, err := ComputeRef(data)
	if err != nil {
		return nil, err
	}

	if got != ref {
		return nil, fmt.Errorf("content reference mismatch: got %s, want %s", got, ref)
	}

	return data, nil
}

// compress encodes data with zstd at the default level.
// Empty input still yields a frame so every blob has at least one shard.
func compress(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithZeroFrames(true),
	)
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, nil), nil
}

// decompress reverses compress.
func decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}
	defer decoder.Close()

	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress:\n%w", err)
	}

	return out, nil
}
