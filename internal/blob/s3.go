// S3 gateway backend.
//
// Proxies chunk staging and artifact storage to an upstream S3 (or
// S3-compatible) bucket via the AWS SDK for Go v2. Session metadata stays in
// the local session store; this backend handles raw bytes only.
//
// Key mapping:
//
//	Chunks:    {prefix}staging/{token}/{index}
//	Artifacts: {prefix}artifacts/{name}
//
// Credentials are resolved via the standard AWS credential chain
// (env vars, ~/.aws/credentials, IAM role, etc.) unless static credentials
// are configured.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3API defines the subset of the AWS S3 client interface that the gateway
// backend uses. This allows mocking in tests.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3GatewayStore implements Store by proxying byte storage to an upstream S3
// bucket, namespaced under an optional key prefix.
type S3GatewayStore struct {
	// Bucket is the upstream S3 bucket name.
	Bucket string
	// Prefix is the key prefix for all staged and final objects.
	Prefix string
	// client is the AWS S3 client (satisfying the S3API interface).
	client S3API
}

// S3Options carries the connection settings for NewS3GatewayStore.
type S3Options struct {
	Bucket          string
	Region          string
	Prefix          string
	EndpointURL     string
	UsePathStyle    bool
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3GatewayStore creates a gateway store against the configured bucket.
// It initializes the AWS SDK client using the default credential chain, with
// optional overrides for custom endpoint, path-style addressing, and static
// credentials (MinIO and other S3-compatible servers).
func NewS3GatewayStore(ctx context.Context, opts S3Options) (*S3GatewayStore, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))

	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if opts.EndpointURL != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.EndpointURL)
		})
	}
	if opts.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &S3GatewayStore{
		Bucket: opts.Bucket,
		Prefix: opts.Prefix,
		client: s3.NewFromConfig(cfg, s3Opts...),
	}, nil
}

// NewS3GatewayStoreWithClient creates a gateway store with an injected S3
// client. Used by tests.
func NewS3GatewayStoreWithClient(bucket, prefix string, client S3API) *S3GatewayStore {
	return &S3GatewayStore{Bucket: bucket, Prefix: prefix, client: client}
}

func (b *S3GatewayStore) chunkKey(token string, index int) string {
	return fmt.Sprintf("%sstaging/%s/%d", b.Prefix, token, index)
}

func (b *S3GatewayStore) chunkPrefix(token string) string {
	return fmt.Sprintf("%sstaging/%s/", b.Prefix, token)
}

func (b *S3GatewayStore) artifactKey(name string) string {
	return b.Prefix + "artifacts/" + name
}

// isNotFound reports whether err is an S3 "does not exist" API error.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}

// WriteChunk uploads the chunk payload. S3 PutObject replaces any prior
// object at the key, which gives chunk re-submission its overwrite semantics
// for free. The body is buffered because the SDK needs a seekable payload
// for signing.
func (b *S3GatewayStore) WriteChunk(ctx context.Context, token string, index int, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("reading chunk data: %w", err)
	}

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.chunkKey(token, index)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return 0, fmt.Errorf("uploading chunk %s/%d: %w", token, index, err)
	}
	return int64(len(data)), nil
}

// ListChunks lists the staged indices under the session's key prefix in
// ascending numeric order, paginating if the upstream truncates.
func (b *S3GatewayStore) ListChunks(ctx context.Context, token string) ([]int, error) {
	prefix := b.chunkPrefix(token)
	indices := []int{}

	var continuation *string
	for {
		out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, fmt.Errorf("listing chunks for %q: %w", token, err)
		}

		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			idx, perr := strconv.Atoi(strings.TrimPrefix(key, prefix))
			if perr != nil {
				continue
			}
			indices = append(indices, idx)
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		continuation = out.NextContinuationToken
	}

	sort.Ints(indices)
	return indices, nil
}

// ReadChunk downloads a staged chunk.
func (b *S3GatewayStore) ReadChunk(ctx context.Context, token string, index int) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.chunkKey(token, index)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("chunk not found: %s/%d", token, index)
		}
		return nil, fmt.Errorf("downloading chunk %s/%d: %w", token, index, err)
	}
	return out.Body, nil
}

// DeleteChunks removes every staged object under the session's prefix using
// batched DeleteObjects calls. Idempotent.
func (b *S3GatewayStore) DeleteChunks(ctx context.Context, token string) error {
	indices, err := b.ListChunks(ctx, token)
	if err != nil {
		return err
	}
	if len(indices) == 0 {
		return nil
	}

	objects := make([]types.ObjectIdentifier, 0, len(indices))
	for _, idx := range indices {
		objects = append(objects, types.ObjectIdentifier{
			Key: aws.String(b.chunkKey(token, idx)),
		})
	}

	_, err = b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(b.Bucket),
		Delete: &types.Delete{
			Objects: objects,
			Quiet:   aws.Bool(true),
		},
	})
	if err != nil {
		return fmt.Errorf("deleting chunks for %q: %w", token, err)
	}
	return nil
}

// Write uploads the artifact. S3 object visibility is all-or-nothing, so
// PutObject satisfies the atomic-publish contract directly.
func (b *S3GatewayStore) Write(ctx context.Context, name string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("reading artifact data: %w", err)
	}

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.artifactKey(name)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return 0, fmt.Errorf("uploading artifact %q: %w", name, err)
	}
	return int64(len(data)), nil
}

// Read downloads the artifact.
func (b *S3GatewayStore) Read(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.artifactKey(name)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, 0, fmt.Errorf("artifact not found: %s", name)
		}
		return nil, 0, fmt.Errorf("downloading artifact %q: %w", name, err)
	}
	return out.Body, aws.ToInt64(out.ContentLength), nil
}

// Delete removes the artifact. Idempotent: S3 DeleteObject succeeds for
// absent keys.
func (b *S3GatewayStore) Delete(ctx context.Context, name string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.artifactKey(name)),
	})
	if err != nil {
		return fmt.Errorf("deleting artifact %q: %w", name, err)
	}
	return nil
}

// Exists checks artifact presence via HeadObject.
func (b *S3GatewayStore) Exists(ctx context.Context, name string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.artifactKey(name)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking artifact existence %q: %w", name, err)
	}
	return true, nil
}
