package drive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/notesync/internal/errs"
	"github.com/and161185/notesync/internal/model"
)

// S3Config points the drive at a bucket. Empty credentials fall back to the default
// AWS credential chain.
type S3Config struct {
	Bucket       string `toml:"bucket"`
	Prefix       string `toml:"prefix"`
	Region       string `toml:"region"`
	Endpoint     string `toml:"endpoint"` // MinIO or other S3-compatible endpoint
	AccessKey    string `toml:"access_key"`
	SecretKey    string `toml:"secret_key"`
	UsePathStyle bool   `toml:"use_path_style"`
}

// ObjectAPI is the subset of *s3.Client used by S3.
type ObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 stores one object per user at <prefix>/<userID>.json.
type S3 struct {
	api    ObjectAPI
	bucket string
	prefix string
	now    func() time.Time
	logger *zap.Logger
}

var _ Drive = (*S3)(nil)

var loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

// NewS3 builds a client from cfg. A non-nil api replaces the real client.
func NewS3(ctx context.Context, cfg S3Config, api ObjectAPI, logger *zap.Logger) (*S3, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if api == nil {
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.Region))
		}
		if cfg.AccessKey != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
		}
		awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		api = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			o.UsePathStyle = cfg.UsePathStyle
		})
	}
	return &S3{api: api, bucket: cfg.Bucket, prefix: cfg.Prefix, now: defaultNow, logger: logger}, nil
}

// Key returns the object key for userID.
func (d *S3) Key(userID uuid.UUID) string {
	return path.Join(d.prefix, userID.String()+".json")
}

func (d *S3) ReadAll(ctx context.Context, userID uuid.UUID) (model.Snapshot, error) {
	key := d.Key(userID)
	out, err := d.api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(d.bucket), Key: aws.String(key)})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return model.Snapshot{}, nil
		}
		return model.Snapshot{}, classifyS3("s3 get "+key, err)
	}
	defer out.Body.Close()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("s3 get %s: %w: %w", key, errs.ErrNetwork, err)
	}
	s, err := Decode(b)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("s3 %s: %w", key, err)
	}
	return s, nil
}

func (d *S3) WriteAll(ctx context.Context, userID uuid.UUID, s model.Snapshot) (model.Snapshot, error) {
	stored := stamp(s, d.now())
	b, err := Encode(stored)
	if err != nil {
		return model.Snapshot{}, err
	}
	key := d.Key(userID)
	_, err = d.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(d.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(b),
		ContentLength: aws.Int64(int64(len(b))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return model.Snapshot{}, classifyS3("s3 put "+key, err)
	}
	d.logger.Debug("drive object written",
		zap.String("bucket", d.bucket), zap.String("key", key), zap.Int64("version", stored.Version))
	return stored, nil
}

var s3AuthCodes = map[string]bool{
	"AccessDenied":          true,
	"InvalidAccessKeyId":    true,
	"SignatureDoesNotMatch": true,
	"ExpiredToken":          true,
	"InvalidToken":          true,
	"AllAccessDisabled":     true,
}

// classifyS3 maps SDK errors to the taxonomy: credential problems are ErrAuth, everything
// else that never produced an API response is ErrNetwork.
func classifyS3(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, errs.ErrNetwork, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if s3AuthCodes[apiErr.ErrorCode()] {
			return fmt.Errorf("%s: %w: %s", op, errs.ErrAuth, apiErr.ErrorCode())
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return fmt.Errorf("%s: %w: %s", op, errs.ErrNetwork, apiErr.ErrorCode())
		}
		return fmt.Errorf("%s: %s: %s", op, apiErr.ErrorCode(), apiErr.ErrorMessage())
	}
	return fmt.Errorf("%s: %w: %w", op, errs.ErrNetwork, err)
}
