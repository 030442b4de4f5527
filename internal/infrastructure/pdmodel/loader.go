package pdmodel

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Loader fetches the raw model artifact.
type Loader interface {
	// Load returns the artifact bytes and a name whose extension selects the encoding.
	Load(ctx context.Context) (data []byte, name string, err error)
}

// FileLoader reads the artifact from the local filesystem.
type FileLoader struct {
	Path string
}

func (l FileLoader) Load(context.Context) ([]byte, string, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, "", fmt.Errorf("read model file: %w", err)
	}
	return data, l.Path, nil
}

// S3GetObjectAPI is the subset of *s3.Client the loader needs.
type S3GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Loader reads the artifact from an S3 object.
type S3Loader struct {
	Client S3GetObjectAPI
	Bucket string
	Key    string
}

func (l S3Loader) Load(ctx context.Context) ([]byte, string, error) {
	out, err := l.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.Bucket),
		Key:    aws.String(l.Key),
	})
	if err != nil {
		return nil, "", fmt.Errorf("get s3://%s/%s: %w", l.Bucket, l.Key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read s3://%s/%s: %w", l.Bucket, l.Key, err)
	}
	return data, l.Key, nil
}

// NewLoader picks a loader for location: "s3://bucket/key" loads from S3
// using the default AWS credential chain, anything else is a local path.
func NewLoader(ctx context.Context, location, region string) (Loader, error) {
	if !strings.HasPrefix(location, "s3://") {
		return FileLoader{Path: location}, nil
	}

	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("parse model location: %w", err)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return nil, fmt.Errorf("model location %q must be s3://bucket/key", location)
	}

	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return S3Loader{Client: s3.NewFromConfig(cfg), Bucket: u.Host, Key: key}, nil
}
