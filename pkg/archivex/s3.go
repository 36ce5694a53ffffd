// Package archivex writes cold copies of sessions to object storage
// before they are removed, so ended conversations stay auditable after
// the store forgets them.
package archivex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/convokit/convokit/pkg/errx"
	"github.com/convokit/convokit/pkg/logx"
	"github.com/convokit/convokit/pkg/sessionx"
)

var errRegistry = errx.NewRegistry("ARCHIVE")

var (
	ErrCodeConfigFailed = errRegistry.Register(
		"CONFIG_FAILED",
		errx.TypeInternal,
		http.StatusInternalServerError,
		"Failed to load AWS configuration",
	)

	ErrCodeUploadFailed = errRegistry.Register(
		"UPLOAD_FAILED",
		errx.TypeExternal,
		http.StatusBadGateway,
		"Failed to upload session archive",
	)
)

// Archiver stores a snapshot of a session
type Archiver interface {
	Archive(ctx context.Context, sess *sessionx.Session) error
}

// S3Archiver writes session snapshots as JSON objects under
// sessions/{platform}/{session_id}/{unix}.json
type S3Archiver struct {
	client *s3.Client
	bucket string
}

var _ Archiver = (*S3Archiver)(nil)

// NewS3Archiver loads the default AWS credential chain and targets the
// given bucket
func NewS3Archiver(ctx context.Context, bucket, region string) (*S3Archiver, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, errRegistry.NewWithCause(ErrCodeConfigFailed, err)
	}

	logx.WithFields(logx.Fields{
		"bucket": bucket,
		"region": region,
	}).Info("S3 session archiver initialized")

	return &S3Archiver{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
	}, nil
}

// Archive uploads the session snapshot
func (a *S3Archiver) Archive(ctx context.Context, sess *sessionx.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return errRegistry.NewWithCause(ErrCodeUploadFailed, err)
	}

	platform := sess.Platform
	if platform == "" {
		platform = "default"
	}
	key := fmt.Sprintf("sessions/%s/%s/%d.json", platform, sess.ID, sess.LastActive.Unix())

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		logx.WithFields(logx.Fields{
			"session_id": sess.ID,
			"key":        key,
			"error":      err,
		}).Error("Session archive upload failed")
		return errRegistry.NewWithCause(ErrCodeUploadFailed, err).
			WithDetail("session_id", sess.ID)
	}

	logx.WithFields(logx.Fields{
		"session_id": sess.ID,
		"key":        key,
	}).Info("Session archived")
	return nil
}
