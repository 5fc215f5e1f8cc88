// Filter key management
//
// Every filter-match index gets its own 32 byte key derived
// from a single root key so that two indexes never map the
// same term to the same bits. The root key is either
// configured directly (hex) or wrapped by AWS KMS.
package keys

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/indexsupply/encdex/bloom"
	"github.com/indexsupply/encdex/isxerrors"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kms"
	"github.com/aws/aws-sdk-go/service/kms/kmsiface"
	"golang.org/x/crypto/hkdf"
)

const RootSize = 32

type Root []byte

func ParseRoot(s string) (Root, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, isxerrors.Internal("root key must be hex encoded")
	}
	if len(b) != RootSize {
		return nil, isxerrors.Internal("root key must be %d bytes, got: %d", RootSize, len(b))
	}
	return Root(b), nil
}

// Returns the hex encoded filter key for an index.
// The result is suitable for bloom.New.
func (r Root) Filter(collection, index string) (string, error) {
	if len(r) != RootSize {
		return "", isxerrors.Internal("root key must be %d bytes, got: %d", RootSize, len(r))
	}
	info := "encdex filter key\x00" + collection + "\x00" + index
	var (
		k   [bloom.KeySize]byte
		kdf = hkdf.New(sha256.New, r, nil, []byte(info))
	)
	if _, err := io.ReadFull(kdf, k[:]); err != nil {
		return "", isxerrors.Internal("deriving filter key: %w", err)
	}
	return hex.EncodeToString(k[:]), nil
}

// Returns a function for index.NewBuilder
func (r Root) For(collection string) func(string) (string, error) {
	return func(index string) (string, error) {
		return r.Filter(collection, index)
	}
}

func NewKMS(region string) (kmsiface.KMSAPI, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	return kms.New(sess), nil
}

// Decrypts a root key that was encrypted with the KMS key keyID.
func Unwrap(ctx context.Context, api kmsiface.KMSAPI, keyID string, wrapped []byte) (Root, error) {
	in := &kms.DecryptInput{CiphertextBlob: wrapped}
	if keyID != "" {
		in.KeyId = aws.String(keyID)
	}
	out, err := api.DecryptWithContext(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("kms decrypt: %w", err)
	}
	if len(out.Plaintext) != RootSize {
		const tag = "unwrapped root key must be %d bytes, got: %d"
		return nil, isxerrors.Internal(tag, RootSize, len(out.Plaintext))
	}
	return Root(out.Plaintext), nil
}
