package signer

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
)

// KMSAPI is the subset of the AWS KMS client used by KMSSigner, narrowed so
// tests can supply a mock implementation.
type KMSAPI interface {
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
	Verify(ctx context.Context, params *kms.VerifyInput, optFns ...func(*kms.Options)) (*kms.VerifyOutput, error)
	DescribeKey(ctx context.Context, params *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error)
}

// DefaultSigningAlgorithm is used for every KMSSigner unless overridden.
const DefaultSigningAlgorithm = types.SigningAlgorithmSpecRsassaPssSha256

// KMSSigner signs and verifies audit digests using an AWS KMS asymmetric
// key, in digest mode (MessageType=DIGEST): the caller hashes the payload
// and KMS signs the already-hashed value directly.
type KMSSigner struct {
	client    KMSAPI
	keyID     string
	algorithm types.SigningAlgorithmSpec
}

func NewKMSSigner(cfg aws.Config, keyID string) *KMSSigner {
	return &KMSSigner{client: kms.NewFromConfig(cfg), keyID: keyID, algorithm: DefaultSigningAlgorithm}
}

// NewKMSSignerWithClient builds a KMSSigner against a custom client, used by
// tests to inject a mock KMSAPI.
func NewKMSSignerWithClient(client KMSAPI, keyID string) *KMSSigner {
	return &KMSSigner{client: client, keyID: keyID, algorithm: DefaultSigningAlgorithm}
}

func (s *KMSSigner) Kid() string          { return s.keyID }
func (s *KMSSigner) Algorithm() Algorithm { return AlgorithmRSASHA256 }
func (s *KMSSigner) Backend() string      { return "kms" }

func (s *KMSSigner) Sign(ctx context.Context, digest [32]byte) ([]byte, string, error) {
	out, err := s.client.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(s.keyID),
		Message:          digest[:],
		MessageType:      types.MessageTypeDigest,
		SigningAlgorithm: s.algorithm,
	})
	if err != nil {
		return nil, "", fmt.Errorf("kms sign: %w", err)
	}
	return out.Signature, s.keyID, nil
}

func (s *KMSSigner) Verify(ctx context.Context, kid string, digest [32]byte, signature []byte) (bool, error) {
	out, err := s.client.Verify(ctx, &kms.VerifyInput{
		KeyId:            aws.String(kid),
		Message:          digest[:],
		MessageType:      types.MessageTypeDigest,
		Signature:        signature,
		SigningAlgorithm: s.algorithm,
	})
	if err != nil {
		var invalidSig *types.KMSInvalidSignatureException
		if isKMSInvalidSignature(err, &invalidSig) {
			return false, nil
		}
		return false, fmt.Errorf("kms verify: %w", err)
	}
	return out.SignatureValid, nil
}

func (s *KMSSigner) Probe(ctx context.Context) error {
	_, err := s.client.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: aws.String(s.keyID)})
	if err != nil {
		return fmt.Errorf("%w: describe-key: %v", ErrUnhealthy, err)
	}
	return nil
}

func isKMSInvalidSignature(err error, target **types.KMSInvalidSignatureException) bool {
	if e, ok := err.(*types.KMSInvalidSignatureException); ok {
		*target = e
		return true
	}
	return false
}
