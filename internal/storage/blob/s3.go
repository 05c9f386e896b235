package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3Config selects the bucket and, optionally, a non-AWS endpoint.
type S3Config struct {
	Bucket string
	Prefix string
	Region string
	// Endpoint points at an S3-compatible service; when set, path-style
	// addressing is forced so bucket names need not be DNS-resolvable.
	Endpoint  string
	AccessKey string
	SecretKey string
}

// S3 stores blobs as objects in an S3-compatible bucket.
type S3 struct {
	bucket *string
	prefix string
	s3     *s3.S3
}

// OpenS3 builds a session against the configured endpoint and returns an
// S3-backed store.
func OpenS3(conf S3Config) (*S3, error) {
	if conf.Bucket == "" {
		return nil, fmt.Errorf("blob: s3 bucket is required")
	}
	awsConf := aws.NewConfig()
	region := conf.Region
	if conf.Endpoint != "" {
		awsConf.Endpoint = aws.String(conf.Endpoint)
		awsConf.S3ForcePathStyle = aws.Bool(true)
		if region == "" {
			region = "default-region"
		}
	}
	if region != "" {
		awsConf.Region = aws.String(region)
	}
	if conf.AccessKey != "" {
		awsConf.Credentials = credentials.NewStaticCredentials(conf.AccessKey, conf.SecretKey, "")
	}
	sess, err := session.NewSession(awsConf)
	if err != nil {
		return nil, fmt.Errorf("blob: new aws session: %w", err)
	}
	return &S3{
		bucket: aws.String(conf.Bucket),
		prefix: conf.Prefix,
		s3:     s3.New(sess),
	}, nil
}

func (s *S3) key(key string) *string {
	return aws.String(path.Join(s.prefix, key))
}

// Put uploads data under key.
func (s *S3) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.s3.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: s.bucket,
		Key:    s.key(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("blob: put s3 object: %w", err)
	}
	return nil
}

// Get downloads the object bytes, mapping a missing key to ErrNotFound.
func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: s.bucket,
		Key:    s.key(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			switch aerr.Code() {
			case s3.ErrCodeNoSuchKey, "NotFound":
				return nil, ErrNotFound
			}
		}
		return nil, fmt.Errorf("blob: get s3 object: %w", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("blob: read s3 object body: %w", err)
	}
	return data, nil
}

// Delete removes the object. S3 deletes are already idempotent.
func (s *S3) Delete(ctx context.Context, key string) error {
	_, err := s.s3.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: s.bucket,
		Key:    s.key(key),
	})
	if err != nil {
		return fmt.Errorf("blob: delete s3 object: %w", err)
	}
	return nil
}

// List pages through object keys under the prefix. S3 listings may lag
// recent writes, which is acceptable for the advisory sweeps this feeds.
func (s *S3) List(ctx context.Context, prefix string, fn func(key string) bool) error {
	full := path.Join(s.prefix, prefix)
	stopped := false
	err := s.s3.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: s.bucket,
		Prefix: aws.String(full),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			if s.prefix != "" {
				key = key[len(s.prefix)+1:]
			}
			if !fn(key) {
				stopped = true
				return false
			}
		}
		return true
	})
	if err != nil && !stopped {
		return fmt.Errorf("blob: list s3 objects: %w", err)
	}
	return nil
}

// Close is a no-op; the SDK session holds no connection state to release.
func (s *S3) Close() error { return nil }
