package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/imedwei/railway-object-storage/internal/config"
	"github.com/imedwei/railway-object-storage/internal/health"
	"github.com/imedwei/railway-object-storage/internal/utils"
)

const defaultS3Region = "us-east-1"

func init() {
	RegisterFactory(config.TypeS3, func(ctx context.Context, cfg config.ProviderConfig, logger *slog.Logger) (Provider, error) {
		usePathStyle, _ := strconv.ParseBool(cfg.Setting("use_path_style"))
		return NewS3Storage(ctx, S3Config{
			Name:            cfg.Name,
			AccessKeyID:     cfg.Setting("access_key_id"),
			SecretAccessKey: cfg.Setting("secret_access_key"),
			Region:          cfg.Setting("region"),
			Bucket:          cfg.Setting("bucket"),
			Endpoint:        cfg.Setting("endpoint"),
			Prefix:          cfg.Setting("prefix"),
			PublicBaseURL:   cfg.Setting("public_base_url"),
			UsePathStyle:    usePathStyle || cfg.Setting("endpoint") != "",
		}, logger)
	})
}

// S3Config holds S3-specific configuration.
type S3Config struct {
	Name            string
	AccessKeyID     string // Optional; falls back to the default credential chain
	SecretAccessKey string
	Region          string
	Bucket          string
	Endpoint        string // Optional custom endpoint
	Prefix          string // Optional prefix for all keys
	PublicBaseURL   string // Optional CDN or website base for public URLs
	UsePathStyle    bool   // For S3-compatible services
}

// S3Storage implements Provider for AWS S3 and S3-compatible services.
type S3Storage struct {
	lifecycle

	name          string
	client        *s3.Client
	presigner     *s3.PresignClient
	uploader      *manager.Uploader
	bucket        string
	prefix        string
	region        string
	endpoint      string
	publicBaseURL string
	usePathStyle  bool
	logger        *slog.Logger
}

// NewS3Storage creates a new S3 storage provider.
func NewS3Storage(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if cfg.Name == "" {
		cfg.Name = config.TypeS3
	}
	if cfg.Region == "" {
		cfg.Region = defaultS3Region
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := []func(*s3.Options){
		func(o *s3.Options) {
			o.UsePathStyle = cfg.UsePathStyle
		},
	}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	client := s3.NewFromConfig(awsCfg, clientOpts...)

	return &S3Storage{
		name:          cfg.Name,
		client:        client,
		presigner:     s3.NewPresignClient(client),
		uploader:      manager.NewUploader(client),
		bucket:        cfg.Bucket,
		prefix:        strings.Trim(cfg.Prefix, "/"),
		region:        cfg.Region,
		endpoint:      strings.TrimSuffix(cfg.Endpoint, "/"),
		publicBaseURL: strings.TrimSuffix(cfg.PublicBaseURL, "/"),
		usePathStyle:  cfg.UsePathStyle,
		logger:        logger,
	}, nil
}

// Name implements Provider.
func (s *S3Storage) Name() string {
	return s.name
}

// Initialize implements Provider. The client is built by the constructor, so
// there is nothing to open here.
func (s *S3Storage) Initialize(ctx context.Context) error {
	return s.initialize(ctx, func(context.Context) error {
		s.logger.Info("S3 storage initialized", "bucket", s.bucket, "region", s.region, "endpoint", s.endpoint)
		return nil
	})
}

// Cleanup implements Provider. The SDK client holds no resources that need
// an explicit close.
func (s *S3Storage) Cleanup(context.Context) error {
	s.reset()
	return nil
}

// Upload implements Provider.
func (s *S3Storage) Upload(ctx context.Context, key string, data io.Reader, opts UploadOptions) (*ObjectMetadata, error) {
	if isNilReader(data) {
		return nil, fmt.Errorf("%w: nil reader", ErrInvalidPayload)
	}

	counter := utils.NewProgressReader(data, nil)
	contentType := contentTypeFor(key, opts.ContentType)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.getFullKey(key)),
		Body:        counter,
		ContentType: aws.String(contentType),
		Metadata:    opts.Metadata,
	}
	if opts.Public {
		input.ACL = types.ObjectCannedACLPublicRead
	}
	if opts.ExpiresIn > 0 {
		input.Expires = aws.Time(time.Now().Add(opts.ExpiresIn))
	}

	out, err := s.uploader.Upload(ctx, input)
	if err != nil {
		return nil, s.classify("upload", key, err)
	}

	return &ObjectMetadata{
		Key:          key,
		Size:         counter.BytesRead(),
		MimeType:     contentType,
		LastModified: time.Now(),
		ETag:         strings.Trim(aws.ToString(out.ETag), `"`),
		URL:          s.GetPublicURL(key),
		Metadata:     copyMetadata(opts.Metadata),
	}, nil
}

// Download implements Provider.
func (s *S3Storage) Download(ctx context.Context, key string, opts *DownloadOptions) ([]byte, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.getFullKey(key)),
	}
	if opts.isRange() {
		input.Range = aws.String(rangeHeader(opts))
	}

	out, err := s.client.GetObject(ctx, input)
	if err != nil {
		return nil, s.classify("download", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, s.classify("download", key, err)
	}
	return data, nil
}

// GetStream implements Provider.
func (s *S3Storage) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.getFullKey(key)),
	})
	if err != nil {
		return nil, s.classify("stream", key, err)
	}
	return out.Body, nil
}

// GetMetadata implements Provider.
func (s *S3Storage) GetMetadata(ctx context.Context, key string) (*ObjectMetadata, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.getFullKey(key)),
	})
	if err != nil {
		return nil, s.classify("metadata", key, err)
	}

	meta := &ObjectMetadata{
		Key:      key,
		Size:     aws.ToInt64(out.ContentLength),
		MimeType: aws.ToString(out.ContentType),
		ETag:     strings.Trim(aws.ToString(out.ETag), `"`),
		URL:      s.GetPublicURL(key),
		Metadata: copyMetadata(out.Metadata),
	}
	if out.LastModified != nil {
		meta.LastModified = *out.LastModified
	}
	if meta.MimeType == "" {
		meta.MimeType = contentTypeFor(key, "")
	}
	return meta, nil
}

// Delete implements Provider. S3 does not report missing keys on delete.
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.getFullKey(key)),
	})
	if err != nil {
		return s.classify("delete", key, err)
	}
	return nil
}

// Exists implements Provider.
func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.getFullKey(key)),
	})
	if err == nil {
		return true, nil
	}
	if isS3NotFound(err) {
		return false, nil
	}
	return false, s.classify("exists", key, err)
}

// GetSignedURL implements Provider with a presigned GET request.
func (s *S3Storage) GetSignedURL(ctx context.Context, key string, expiresIn time.Duration) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.getFullKey(key)),
	}, s3.WithPresignExpires(expiresIn))
	if err != nil {
		return "", s.classify("signed_url", key, err)
	}
	return req.URL, nil
}

// GetPublicURL implements Provider.
func (s *S3Storage) GetPublicURL(key string) string {
	fullKey := escapeKey(s.getFullKey(key))
	switch {
	case s.publicBaseURL != "":
		return fmt.Sprintf("%s/%s", s.publicBaseURL, fullKey)
	case s.endpoint != "":
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, fullKey)
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, fullKey)
	}
}

// Copy implements Provider with a server-side CopyObject.
func (s *S3Storage) Copy(ctx context.Context, sourceKey, destinationKey string) (*ObjectMetadata, error) {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(s.bucket),
		CopySource:        aws.String(s.bucket + "/" + escapeKey(s.getFullKey(sourceKey))),
		Key:               aws.String(s.getFullKey(destinationKey)),
		MetadataDirective: types.MetadataDirectiveCopy,
	})
	if err != nil {
		return nil, s.classify("copy", sourceKey, err)
	}
	return s.GetMetadata(ctx, destinationKey)
}

// Move implements Provider.
func (s *S3Storage) Move(ctx context.Context, sourceKey, destinationKey string) (*ObjectMetadata, error) {
	return moveViaCopy(ctx, s, sourceKey, destinationKey)
}

// List implements Provider.
func (s *S3Storage) List(ctx context.Context, prefix string, maxKeys int) ([]ObjectMetadata, error) {
	if maxKeys <= 0 {
		maxKeys = DefaultListLimit
	}

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.getFullKey(prefix)),
	}

	var objects []ObjectMetadata
	for len(objects) < maxKeys {
		input.MaxKeys = aws.Int32(int32(min(maxKeys-len(objects), DefaultListLimit)))
		page, err := s.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, s.classify("list", prefix, err)
		}

		for _, obj := range page.Contents {
			key := s.stripPrefix(aws.ToString(obj.Key))
			meta := ObjectMetadata{
				Key:      key,
				Size:     aws.ToInt64(obj.Size),
				MimeType: contentTypeFor(key, ""),
				ETag:     strings.Trim(aws.ToString(obj.ETag), `"`),
				URL:      s.GetPublicURL(key),
			}
			if obj.LastModified != nil {
				meta.LastModified = *obj.LastModified
			}
			objects = append(objects, meta)
		}

		if !aws.ToBool(page.IsTruncated) {
			break
		}
		input.ContinuationToken = page.NextContinuationToken
	}

	if len(objects) > maxKeys {
		objects = objects[:maxKeys]
	}
	return objects, nil
}

// HealthCheck implements Provider with a single-key listing.
func (s *S3Storage) HealthCheck(ctx context.Context) health.ProviderStatus {
	start := time.Now()
	_, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.getFullKey("")),
		MaxKeys: aws.Int32(1),
	})
	return probeResult(s.name, start, err)
}

// classify maps SDK errors onto the storage error taxonomy.
func (s *S3Storage) classify(op, key string, err error) error {
	if isS3NotFound(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return newBackendError(s.name, op, err)
}

func isS3NotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

// getFullKey returns the full S3 key with prefix.
func (s *S3Storage) getFullKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return strings.TrimSuffix(s.prefix, "/") + "/" + key
}

// stripPrefix removes the storage prefix from a key.
func (s *S3Storage) stripPrefix(key string) string {
	if s.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, strings.TrimSuffix(s.prefix, "/")+"/")
}

func rangeHeader(opts *DownloadOptions) string {
	if opts.Length > 0 {
		return fmt.Sprintf("bytes=%d-%d", opts.Offset, opts.Offset+opts.Length-1)
	}
	return fmt.Sprintf("bytes=%d-", opts.Offset)
}

var _ Provider = (*S3Storage)(nil)
