package ledger

import (
	"context"
	"crypto/ed25519"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/multiformats/go-multibase"
	"github.com/zeebo/blake3"

	"Press3/internal/ledger/wire"
	"Press3/internal/registry"
)

// Transaction is a decoded multi-call transaction.
type Transaction struct {
	Hash      [32]byte          // Hash is blake3 of the unsigned encoding
	Sender    ed25519.PublicKey // Sender is the signer's public key
	Signature []byte            // Signature is the sender's signature over Hash
	Program   registry.ObjectID // Program is the registry program being called
	Object    registry.ObjectID // Object is the shared registry object the calls mutate
	Budget    uint64            // Budget is the resource budget for the whole batch
	Calls     []Call            // Calls are applied in order, all or nothing
}

// SenderAddress returns the ledger address of the sender.
func (tx *Transaction) SenderAddress() registry.Identity {
	return registry.AddressFromPublicKey(tx.Sender)
}

// Digest returns the transaction digest (base58btc multibase of the hash).
func (tx *Transaction) Digest() string {
	return DigestOf(tx.Hash)
}

// DigestOf renders a transaction hash as a digest string.
func DigestOf(hash [32]byte) string {
	digest, _ := multibase.Encode(multibase.Base58BTC, hash[:])
	return digest
}

// SignTransaction encodes, hashes and signs a transaction.
// Returns the serialized bytes and the hash.
func SignTransaction(
	ctx context.Context,
	signer Signer,
	program, object registry.ObjectID,
	budget uint64,
	calls []Call,
) ([]byte, [32]byte, error) {
	sender := signer.PublicKey()

	unsigned := encodeTransaction(sender, program, object, budget, calls, nil, nil)
	hash := blake3.Sum256(unsigned)

	sig, err := signer.Sign(ctx, hash[:])
	if err != nil {
		return nil, hash, fmt.Errorf("sign transaction:\n%w", err)
	}

	return encodeTransaction(sender, program, object, budget, calls, hash[:], sig), hash, nil
}

// DecodeTransaction parses serialized transaction bytes.
// It checks structure only; call Verify to check hash and signature.
func DecodeTransaction(data []byte) (tx *Transaction, err error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("transaction too short: %d bytes", len(data))
	}

	// Malformed offsets make the flatbuffers accessors panic.
	defer func() {
		if r := recover(); r != nil {
			tx, err = nil, fmt.Errorf("malformed transaction: %v", r)
		}
	}()

	fb := wire.GetRootAsTransaction(data, 0)

	tx = &Transaction{Budget: fb.Budget()}

	if err := copyID(tx.Hash[:], fb.HashBytes(), "hash"); err != nil {
		return nil, err
	}

	if err := copyID(tx.Program[:], fb.ProgramBytes(), "program"); err != nil {
		return nil, err
	}

	if err := copyID(tx.Object[:], fb.ObjectBytes(), "object"); err != nil {
		return nil, err
	}

	if len(fb.SenderBytes()) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid sender length: %d", len(fb.SenderBytes()))
	}

	tx.Sender = append(ed25519.PublicKey(nil), fb.SenderBytes()...)
	tx.Signature = append([]byte(nil), fb.SignatureBytes()...)

	var c wire.Call
	for i := 0; i < fb.CallsLength(); i++ {
		if !fb.Calls(&c, i) {
			return nil, fmt.Errorf("read call %d", i)
		}

		tx.Calls = append(tx.Calls, Call{
			Function: string(c.Function()),
			Args:     append([]byte(nil), c.ArgsBytes()...),
		})
	}

	return tx, nil
}

// Verify recomputes the hash over the unsigned encoding and checks the signature.
func (tx *Transaction) Verify() error {
	unsigned := encodeTransaction(tx.Sender, tx.Program, tx.Object, tx.Budget, tx.Calls, nil, nil)

	if blake3.Sum256(unsigned) != tx.Hash {
		return fmt.Errorf("hash mismatch")
	}

	if !ed25519.Verify(tx.Sender, tx.Hash[:], tx.Signature) {
		return fmt.Errorf("invalid signature")
	}

	return nil
}

// encodeTransaction builds the Transaction flatbuffer.
// With nil hash and sig it produces the unsigned bytes that are hashed.
func encodeTransaction(
	sender []byte,
	program, object registry.ObjectID,
	budget uint64,
	calls []Call,
	hash, sig []byte,
) []byte {
	builder := flatbuffers.NewBuilder(1024)

	callOffsets := make([]flatbuffers.UOffsetT, len(calls))
	for i, c := range calls {
		fnOff := builder.CreateString(c.Function)
		argsOff := builder.CreateByteVector(c.Args)

		wire.CallStart(builder)
		wire.CallAddFunction(builder, fnOff)
		wire.CallAddArgs(builder, argsOff)
		callOffsets[i] = wire.CallEnd(builder)
	}

	wire.TransactionStartCallsVector(builder, len(callOffsets))
	for i := len(callOffsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(callOffsets[i])
	}
	callsVec := builder.EndVector(len(callOffsets))

	senderVec := builder.CreateByteVector(sender)
	programVec := builder.CreateByteVector(program[:])
	objectVec := builder.CreateByteVector(object[:])

	var hashVec, sigVec flatbuffers.UOffsetT
	if hash != nil {
		hashVec = builder.CreateByteVector(hash)
		sigVec = builder.CreateByteVector(sig)
	}

	wire.TransactionStart(builder)
	if hash != nil {
		wire.TransactionAddHash(builder, hashVec)
		wire.TransactionAddSignature(builder, sigVec)
	}
	wire.TransactionAddSender(builder, senderVec)
	wire.TransactionAddProgram(builder, programVec)
	wire.TransactionAddObject(builder, objectVec)
	wire.TransactionAddBudget(builder, budget)
	wire.TransactionAddCalls(builder, callsVec)
	txOff := wire.TransactionEnd(builder)

	builder.Finish(txOff)

	return builder.FinishedBytes()
}

// copyID copies a 32-byte field, failing on any other length.
func copyID(dst, src []byte, field string) error {
	if len(src) != 32 {
		return fmt.Errorf("invalid %s length: %d", field, len(src))
	}

	copy(dst, src)

	return nil
}
