package services

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"direct-messenger/internal/apperrors"
	"direct-messenger/internal/config"
	"direct-messenger/internal/models"
)

const (
	attachmentPrefix = "attachments/"
	downloadURLTTL   = 15 * time.Minute
)

var attachmentKinds = map[string]models.MessageKind{
	".png":  models.KindImage,
	".jpg":  models.KindImage,
	".jpeg": models.KindImage,
	".gif":  models.KindImage,
	".webp": models.KindImage,
	".pdf":  models.KindFile,
	".txt":  models.KindFile,
	".docx": models.KindFile,
	".zip":  models.KindFile,
}

// ObjectPutter uploads objects
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ObjectPresigner signs download URLs
type ObjectPresigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// AttachmentService stores uploaded files in S3 and hands out references
type AttachmentService struct {
	s3Client  ObjectPutter
	presigner ObjectPresigner
	s3Bucket  string
	maxBytes  int64
}

// NewAttachmentService creates an attachment service backed by S3
func NewAttachmentService(ctx context.Context, cfg config.AWSConfig, maxBytes int64) (*AttachmentService, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := endpointURL(cfg); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return NewAttachmentServiceWithClient(s3Client, s3.NewPresignClient(s3Client), cfg.S3Bucket, maxBytes), nil
}

// NewAttachmentServiceWithClient creates an attachment service on explicit
// clients
func NewAttachmentServiceWithClient(putter ObjectPutter, presigner ObjectPresigner, bucket string, maxBytes int64) *AttachmentService {
	return &AttachmentService{
		s3Client:  putter,
		presigner: presigner,
		s3Bucket:  bucket,
		maxBytes:  maxBytes,
	}
}

func endpointURL(cfg config.AWSConfig) string {
	if cfg.Endpoint == "" || strings.Contains(cfg.Endpoint, "://") {
		return cfg.Endpoint
	}
	if cfg.DisableSSL {
		return "http://" + cfg.Endpoint
	}
	return "https://" + cfg.Endpoint
}

// MaxBytes returns the upload size limit
func (s *AttachmentService) MaxBytes() int64 {
	return s.maxBytes
}

// Classify returns the message kind for an upload by its extension
func Classify(filename string) (models.MessageKind, error) {
	ext := strings.ToLower(path.Ext(filename))
	kind, ok := attachmentKinds[ext]
	if !ok {
		return "", fmt.Errorf("file type %q is not allowed: %w", ext, apperrors.ErrInvalidInput)
	}
	return kind, nil
}

// StoredAttachment describes an uploaded object
type StoredAttachment struct {
	Ref      string             `json:"ref"`
	Kind     models.MessageKind `json:"kind"`
	Filename string             `json:"filename"`
}

// Store uploads the body under a fresh key and returns its reference
func (s *AttachmentService) Store(ctx context.Context, userID int64, filename, contentType string, body io.Reader, size int64) (*StoredAttachment, error) {
	kind, err := Classify(filename)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, fmt.Errorf("empty upload: %w", apperrors.ErrInvalidInput)
	}
	if s.maxBytes > 0 && size > s.maxBytes {
		return nil, fmt.Errorf("upload of %d bytes exceeds %d: %w", size, s.maxBytes, apperrors.ErrInvalidInput)
	}

	// Key: attachments/{user_id}/{uuid}{ext}
	key := fmt.Sprintf("%s%d/%s%s", attachmentPrefix, userID, uuid.New().String(), strings.ToLower(path.Ext(filename)))

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.s3Bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.s3Client.PutObject(ctx, input); err != nil {
		return nil, fmt.Errorf("failed to upload attachment: %w", err)
	}

	return &StoredAttachment{Ref: key, Kind: kind, Filename: path.Base(filename)}, nil
}

// URL returns a short-lived download URL for a reference
func (s *AttachmentService) URL(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimPrefix(ref, "/")
	if !strings.HasPrefix(ref, attachmentPrefix) || strings.Contains(ref, "..") {
		return "", fmt.Errorf("unknown attachment %q: %w", ref, apperrors.ErrNotFound)
	}

	request, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.s3Bucket),
		Key:    aws.String(ref),
	}, s3.WithPresignExpires(downloadURLTTL))
	if err != nil {
		return "", fmt.Errorf("failed to generate download URL: %w", err)
	}
	return request.URL, nil
}
