package upload

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/docker/go-units"
	"github.com/ethpandaops/publishoor/pkg/config"
	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const preflightKey = ".publishoor-write-test"

// s3API is the subset of the S3 client used by the uploader.
type s3API interface {
	manager.UploadAPIClient
	DeleteObject(
		ctx context.Context,
		params *s3.DeleteObjectInput,
		optFns ...func(*s3.Options),
	) (*s3.DeleteObjectOutput, error)
}

// s3Uploader implements Uploader for S3-compatible storage.
type s3Uploader struct {
	log      logrus.FieldLogger
	cfg      *config.BackendConfig
	client   s3API
	uploader *manager.Uploader
	limiter  *rate.Limiter
}

// Ensure interface compliance.
var _ Uploader = (*s3Uploader)(nil)

// NewS3Uploader creates a new S3 uploader for the given backend flavor.
// Missing credentials are not rejected here; they surface on first request.
func NewS3Uploader(
	log logrus.FieldLogger,
	cfg *config.BackendConfig,
	uploadCfg *config.UploadConfig,
) Uploader {
	return newS3Uploader(log, cfg, uploadCfg, newS3Client(cfg))
}

func newS3Uploader(
	log logrus.FieldLogger,
	cfg *config.BackendConfig,
	uploadCfg *config.UploadConfig,
	client s3API,
) *s3Uploader {
	u := &s3Uploader{
		log: log.WithFields(logrus.Fields{
			"component": "s3-uploader",
			"backend":   cfg.Name,
		}),
		cfg:    cfg,
		client: client,
		uploader: manager.NewUploader(client, func(mu *manager.Uploader) {
			// Parts of one file are sent one at a time.
			mu.Concurrency = 1

			if uploadCfg != nil && uploadCfg.PartSizeMB > 0 {
				mu.PartSize = uploadCfg.PartSizeMB * units.MiB
			}

			if mu.PartSize < manager.MinUploadPartSize {
				mu.PartSize = manager.MinUploadPartSize
			}
		}),
	}

	if uploadCfg != nil && uploadCfg.MaxPerSecond > 0 {
		u.limiter = rate.NewLimiter(rate.Limit(uploadCfg.MaxPerSecond), 1)
	}

	return u
}

// newS3Client builds an S3 client from the backend configuration.
func newS3Client(cfg *config.BackendConfig) *s3.Client {
	opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.Region != "" {
				o.Region = cfg.Region
			} else {
				o.Region = "us-east-1"
			}

			if cfg.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.EndpointURL)
			}

			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}

			// S3-compatible services do not all accept the SDK's default
			// flexible checksums.
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired

			o.Credentials = credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, "",
			)
		},
	}

	return s3.New(s3.Options{}, opts...)
}

// Preflight verifies S3 connectivity by writing and deleting a small test
// object.
func (u *s3Uploader) Preflight(ctx context.Context) error {
	content := fmt.Sprintf("publishoor write test: %s", time.Now().UTC().Format(time.RFC3339))

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(preflightKey),
		Body:        strings.NewReader(content),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("writing test object to s3://%s: %w", u.cfg.Bucket, err)
	}

	_, err = u.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(u.cfg.Bucket),
		Key:    aws.String(preflightKey),
	})
	if err != nil {
		return fmt.Errorf("removing test object from s3://%s: %w", u.cfg.Bucket, err)
	}

	u.log.WithField("bucket", u.cfg.Bucket).Info("Preflight succeeded")

	return nil
}

// Upload uploads a single file to S3 under key.
func (u *s3Uploader) Upload(ctx context.Context, localPath, key string) error {
	if u.limiter != nil {
		if err := u.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for upload slot: %w", err)
		}
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer func() { _ = f.Close() }()

	input := &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(detectContentType(localPath)),
	}

	if u.cfg.ACL != "" {
		input.ACL = s3types.ObjectCannedACL(u.cfg.ACL)
	}

	u.log.WithFields(logrus.Fields{
		"key":    key,
		"bucket": u.cfg.Bucket,
		"acl":    u.cfg.ACL,
	}).Debug("Uploading file")

	if _, err := u.uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("uploading s3://%s/%s: %w", u.cfg.Bucket, key, err)
	}

	return nil
}

// detectContentType returns a MIME type based on file extension, falling
// back to sniffing the file content.
func detectContentType(path string) string {
	if ext := filepath.Ext(path); ext != "" {
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}

	return mt.String()
}
