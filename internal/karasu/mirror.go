package karasu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/schollz/progressbar/v3"
)

// s3Source is the fallback recipe mirror: an S3-compatible bucket (R2 works)
// holding per-recipe metadata under meta/<name>.SRCINFO and source snapshots
// under src/<name>.tar.zst.
type s3Source struct {
	client *s3.Client
	bucket string
}

// NewMirrorSource initializes the S3-backed mirror from configuration values.
func NewMirrorSource(cfg *Config) (RecipeSource, error) {
	endpoint := cfg.Values["MIRROR_S3_ENDPOINT"]
	accessKey := cfg.Values["MIRROR_S3_ACCESS_KEY_ID"]
	secretKey := cfg.Values["MIRROR_S3_SECRET_ACCESS_KEY"]
	bucket := cfg.Values["MIRROR_S3_BUCKET"]

	if endpoint == "" || accessKey == "" || secretKey == "" || bucket == "" {
		return nil, fmt.Errorf("mirror credentials missing in configuration (MIRROR_S3_ENDPOINT, MIRROR_S3_ACCESS_KEY_ID, MIRROR_S3_SECRET_ACCESS_KEY, MIRROR_S3_BUCKET)")
	}

	options := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		awsconfig.WithRegion("auto"),
	}
	if Debug {
		options = append(options, awsconfig.WithClientLogMode(aws.LogRetries|aws.LogRequest|aws.LogResponse))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(), options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load mirror config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	return &s3Source{client: client, bucket: bucket}, nil
}

func (s *s3Source) Metadata(ctx context.Context, name string) (*RecipeMeta, error) {
	key := "meta/" + name + ".SRCINFO"
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, &NotFoundError{Name: name}
		}
		return nil, &FetchError{Name: name, Err: err}
	}
	defer out.Body.Close()

	rec, err := ParseSrcinfo(name, out.Body)
	if err != nil {
		return nil, err
	}
	return &RecipeMeta{
		Name:         rec.Name,
		Version:      rec.Version,
		Depends:      rec.Depends,
		MakeDepends:  rec.MakeDepends,
		CheckDepends: rec.CheckDepends,
	}, nil
}

func (s *s3Source) FetchSource(ctx context.Context, name, destDir string) error {
	key := "src/" + name + ".tar.zst"
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return &NotFoundError{Name: name}
		}
		return &FetchError{Name: name, Err: err}
	}
	defer out.Body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(destDir), name+"-*.tar.zst")
	if err != nil {
		return &FetchError{Name: name, Err: err}
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	var size int64 = -1
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	bar := progressbar.DefaultBytes(size, name)
	if _, err := io.Copy(io.MultiWriter(tmp, bar), out.Body); err != nil {
		return &FetchError{Name: name, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &FetchError{Name: name, Err: err}
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return &FetchError{Name: name, Err: err}
	}
	if err := extractTarball(tmp.Name(), destDir); err != nil {
		return &FetchError{Name: name, Err: err}
	}
	return nil
}

func isNoSuchKey(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}
