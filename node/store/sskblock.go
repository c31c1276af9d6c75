package store

import (
	"bytes"
	"crypto/dsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/blubskye/hyphanet-datastore/node/keys"
)

const (
	// SSKBlock constants
	SSKDataLength             = 1024 // Fixed data block size
	SSKMaxCompressedLength    = 1022 // Maximum compressed payload (DATA_LENGTH - 2)
	SSKTotalHeadersLength     = 142  // Total header size
	SSKEncryptedHeadersLength = 36   // Length of encrypted portion
	SSKSigRLength             = 32   // Signature R component length
	SSKSigSLength             = 32   // Signature S component length
	SSKEHDocnameLength        = 32   // Encrypted hashed docname length
	SSKHeadersOffset          = 36   // Start of encrypted fields

	sskSigStart = SSKHeadersOffset + SSKEncryptedHeadersLength // 72
)

// ErrInvalidArgument signals a structural violation attributable to the
// caller, as opposed to untrusted network input that merely failed to verify.
var ErrInvalidArgument = errors.New("invalid argument")

// VerifyError signals that a byte buffer looked like an SSK block but failed
// to verify. Callers should treat the block as poison and may blacklist the
// peer that sent it.
type VerifyError struct {
	Reason string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("SSK verify failed: %s", e.Reason)
}

func verifyFailed(reason string) error {
	return &VerifyError{Reason: reason}
}

// SSKBlock represents a Signed Subspace Key block. Every field is immutable
// once NewSSKBlock returns; there is no re-verification path afterward.
// The durable item database (checker.ItemDB.Put) only accepts
// *checker.DatastoreCheckerItem values, so persisting an SSKBlock there is a
// compile-time impossibility, not a runtime Unsupported error.
type SSKBlock struct {
	data                []byte // 1024 bytes
	headers             []byte // 142 bytes
	headersOffset       int    // always 36
	nodeKey             *keys.NodeSSK
	pubKey              *dsa.PublicKey
	hashIdentifier      int16
	symCipherIdentifier int16
}

// NewSSKBlock creates a new SSKBlock, verifying its signature unless
// dontVerify is set. dontVerify exists for blocks this node is about to
// insert itself, whose signature was just computed locally.
func NewSSKBlock(data, headers []byte, nodeKey *keys.NodeSSK, dontVerify bool) (*SSKBlock, error) {
	if len(headers) != SSKTotalHeadersLength {
		return nil, fmt.Errorf("%w: headers must be %d bytes, got %d", ErrInvalidArgument, SSKTotalHeadersLength, len(headers))
	}
	if len(data) != SSKDataLength {
		return nil, verifyFailed("data length wrong")
	}
	if nodeKey == nil {
		return nil, fmt.Errorf("%w: nodeKey cannot be nil", ErrInvalidArgument)
	}

	pubKey := nodeKey.GetPubKey()
	if pubKey == nil {
		return nil, verifyFailed("no pubkey")
	}

	hashIdentifier := int16(headers[0])<<8 | int16(headers[1])
	if hashIdentifier != keys.HashSHA256 {
		return nil, verifyFailed("hash not SHA-256")
	}
	symCipherIdentifier := int16(headers[2])<<8 | int16(headers[3])
	ehDocname := headers[4:36]

	if !dontVerify {
		if err := verifySSKSignature(data, headers, pubKey); err != nil {
			return nil, err
		}
	}

	if !bytes.Equal(ehDocname, nodeKey.GetEncryptedHashedDocname()) {
		return nil, verifyFailed("E(H(docname)) mismatch")
	}

	dataCopy := make([]byte, SSKDataLength)
	copy(dataCopy, data)
	headersCopy := make([]byte, SSKTotalHeadersLength)
	copy(headersCopy, headers)

	return &SSKBlock{
		data:                dataCopy,
		headers:             headersCopy,
		headersOffset:       SSKHeadersOffset,
		nodeKey:             nodeKey,
		pubKey:              pubKey,
		hashIdentifier:      hashIdentifier,
		symCipherIdentifier: symCipherIdentifier,
	}, nil
}

// verifySSKSignature checks the DSA signature embedded at
// headers[72:136] over SHA256(headers[0:72] || SHA256(data)). The reference
// node historically signed over two slightly different reductions of the
// hash to an integer; both are accepted here for compatibility. Whether the
// forced-canonical mode should still be accepted for newly minted blocks is
// an open policy question left to the caller - this layer stays permissive.
func verifySSKSignature(data, headers []byte, pubKey *dsa.PublicKey) error {
	bufR := headers[sskSigStart : sskSigStart+SSKSigRLength]
	bufS := headers[sskSigStart+SSKSigRLength : sskSigStart+SSKSigRLength+SSKSigSLength]

	dataHash := sha256.Sum256(data)

	overallHasher := sha256.New()
	overallHasher.Write(headers[:sskSigStart])
	overallHasher.Write(dataHash[:])
	overallHash := overallHasher.Sum(nil)

	r := new(big.Int).SetBytes(bufR)
	s := new(big.Int).SetBytes(bufS)

	if verifyDSAForced(pubKey, overallHash, r, s) {
		return nil
	}
	if dsa.Verify(pubKey, overallHash, r, s) {
		return nil
	}
	return verifyFailed("signature")
}

// verifyDSAForced mirrors the "forced canonical hash reduction" signing
// convention by masking the hash down to Q's byte length before handing it
// to dsa.Verify, which only diverges from the raw-hash path when the SHA-256
// digest is longer than Q.
func verifyDSAForced(pubKey *dsa.PublicKey, hash []byte, r, s *big.Int) bool {
	qBytes := (pubKey.Q.BitLen() + 7) / 8
	if qBytes <= 0 || qBytes >= len(hash) {
		return false
	}
	return dsa.Verify(pubKey, hash[:qBytes], r, s)
}

// GetRoutingKey returns the routing key.
func (b *SSKBlock) GetRoutingKey() []byte {
	return b.nodeKey.GetRoutingKey()
}

// GetFullKey returns the full key (type + ehDocname + pubKeyHash).
func (b *SSKBlock) GetFullKey() []byte {
	return b.nodeKey.GetFullKey()
}

// GetKey returns the underlying NodeSSK.
func (b *SSKBlock) GetKey() keys.Key {
	return b.nodeKey
}

// GetRawData returns the raw data bytes.
func (b *SSKBlock) GetRawData() []byte {
	return b.data
}

// GetRawHeaders returns the raw header bytes.
func (b *SSKBlock) GetRawHeaders() []byte {
	return b.headers
}

// GetPubkeyBytes returns the serialized public key.
func (b *SSKBlock) GetPubkeyBytes() []byte {
	if b.pubKey == nil {
		return nil
	}
	return b.pubKey.Y.Bytes()
}

// GetPubKey returns the DSA public key.
func (b *SSKBlock) GetPubKey() *dsa.PublicKey {
	return b.pubKey
}

// GetHashIdentifier returns the hash algorithm identifier.
func (b *SSKBlock) GetHashIdentifier() int16 {
	return b.hashIdentifier
}

// GetSymCipherIdentifier returns the symmetric cipher identifier.
func (b *SSKBlock) GetSymCipherIdentifier() int16 {
	return b.symCipherIdentifier
}

// GetHeadersOffset returns the byte index where the encrypted header region
// begins.
func (b *SSKBlock) GetHeadersOffset() int {
	return b.headersOffset
}

// GetEncryptedHeaders returns the encrypted portion of headers.
func (b *SSKBlock) GetEncryptedHeaders() []byte {
	return b.headers[b.headersOffset : b.headersOffset+SSKEncryptedHeadersLength]
}

// Equals compares two SSKBlocks structurally. Only the first 71 bytes of
// headers are compared: the remainder is byte 71 (the last byte of the
// signed prefix), the signature from byte 72, and the trailing bytes. The
// signature may legitimately differ across re-signings of the same (key, data)
// pair because DSA signing is randomized. Verification may therefore fail on
// one of two blocks considered Equals here - that asymmetry is by design.
func (b *SSKBlock) Equals(other StorableBlock) bool {
	otherSSK, ok := other.(*SSKBlock)
	if !ok {
		return false
	}
	return b.pubKeysEqual(otherSSK) &&
		b.nodeKey.Equals(otherSSK.nodeKey) &&
		b.headersOffset == otherSSK.headersOffset &&
		b.hashIdentifier == otherSSK.hashIdentifier &&
		b.symCipherIdentifier == otherSSK.symCipherIdentifier &&
		bytes.Equal(b.data, otherSSK.data) &&
		bytes.Equal(b.headers[:71], otherSSK.headers[:71])
}

func (b *SSKBlock) pubKeysEqual(other *SSKBlock) bool {
	if b.pubKey == nil || other.pubKey == nil {
		return b.pubKey == other.pubKey
	}
	return b.pubKey.Y.Cmp(other.pubKey.Y) == 0
}

// Write serializes the block to a writer: headers then data.
func (b *SSKBlock) Write(w io.Writer) error {
	if _, err := w.Write(b.headers); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}
	if _, err := w.Write(b.data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	return nil
}

// ReadSSKBlock deserializes an SSKBlock from a reader.
func ReadSSKBlock(r io.Reader, nodeKey *keys.NodeSSK, dontVerify bool) (*SSKBlock, error) {
	headers := make([]byte, SSKTotalHeadersLength)
	if _, err := io.ReadFull(r, headers); err != nil {
		return nil, fmt.Errorf("failed to read headers: %w", err)
	}

	data := make([]byte, SSKDataLength)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}

	return NewSSKBlock(data, headers, nodeKey, dontVerify)
}

// GetTotalLength returns the total block length (headers + data).
func (b *SSKBlock) GetTotalLength() int {
	return SSKTotalHeadersLength + SSKDataLength
}

// VerifySignature re-runs signature verification against the block's own
// fields. Present for diagnostic/test use; the constructor never calls it
// again after construction succeeds.
func (b *SSKBlock) VerifySignature() error {
	if b.pubKey == nil {
		return verifyFailed("no pubkey")
	}
	return verifySSKSignature(b.data, b.headers, b.pubKey)
}

// Clone creates a deep copy of the block.
func (b *SSKBlock) Clone() *SSKBlock {
	dataCopy := make([]byte, len(b.data))
	copy(dataCopy, b.data)
	headersCopy := make([]byte, len(b.headers))
	copy(headersCopy, b.headers)

	return &SSKBlock{
		data:                dataCopy,
		headers:             headersCopy,
		headersOffset:       b.headersOffset,
		nodeKey:             b.nodeKey.Clone().(*keys.NodeSSK),
		pubKey:              b.pubKey,
		hashIdentifier:      b.hashIdentifier,
		symCipherIdentifier: b.symCipherIdentifier,
	}
}
