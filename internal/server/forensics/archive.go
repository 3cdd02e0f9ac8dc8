// Package forensics keeps a copy of a token family at the moment reuse was
// detected, so an investigation can see the lineage after the reaper has
// deleted the rows.
package forensics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/tripkeeper/internal/server/config"
	"github.com/dmitrijs2005/tripkeeper/internal/server/models"
)

var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// Snapshot is the archived state of one family.
type Snapshot struct {
	UserID     int64                 `json:"user_id"`
	FamilyID   string                `json:"family_id"`
	Reason     string                `json:"reason"`
	DetectedAt time.Time             `json:"detected_at"`
	Tokens     []models.RefreshToken `json:"tokens"`
}

// Key returns the object key the snapshot is stored under.
func (s Snapshot) Key() string {
	return fmt.Sprintf("reuse/%d/%s/%d.json", s.UserID, s.FamilyID, s.DetectedAt.UnixNano())
}

type Archiver interface {
	ArchiveFamily(ctx context.Context, snap Snapshot) error
}

// Nop drops snapshots.
type Nop struct{}

func (Nop) ArchiveFamily(context.Context, Snapshot) error { return nil }

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes snapshots as JSON objects to an S3-compatible bucket.
type S3Archiver struct {
	client objectPutter
	bucket string
}

// NewS3Archiver builds a client with static credentials against the
// configured endpoint. Path-style addressing keeps MinIO happy.
func NewS3Archiver(ctx context.Context, c *config.Config) (*S3Archiver, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		awsconfig.WithRegion(c.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			c.S3RootUser,
			c.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if c.S3BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(c.S3BaseEndpoint)
		}
		o.UsePathStyle = true
	})

	return &S3Archiver{client: client, bucket: c.S3Bucket}, nil
}

func (a *S3Archiver) ArchiveFamily(ctx context.Context, snap Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(snap.Key()),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", snap.Key(), err)
	}
	return nil
}
