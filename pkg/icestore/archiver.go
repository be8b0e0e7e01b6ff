// Package icestore archives dead-lettered messages to Google Cloud Storage.
package icestore

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/illmade-knight/go-queueworker/pkg/queueengine"
	"github.com/rs/zerolog"
)

// ArchiverConfig holds configuration for the dead-letter archiver.
type ArchiverConfig struct {
	BucketName   string
	ObjectPrefix string
}

// Archiver writes each dead letter to its own gzip-compressed JSON object.
// Object names are derived from the failure date, message type and message ID,
// so a dead letter written again after a redelivery replaces the earlier
// object instead of duplicating it.
type Archiver struct {
	client GCSClient
	config ArchiverConfig
	logger zerolog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(gcsClient GCSClient, config ArchiverConfig, logger zerolog.Logger) (*Archiver, error) {
	if gcsClient == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if config.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	return &Archiver{
		client: gcsClient,
		config: config,
		logger: logger.With().Str("component", "DeadLetterArchiver").Str("bucket", config.BucketName).Logger(),
	}, nil
}

// ObjectName returns the object a dead letter is archived under:
// <prefix>/<yyyy>/<mm>/<dd>/<type>/<message id>.json.gz
func (a *Archiver) ObjectName(dl queueengine.DeadLetter) string {
	t := dl.FailedAt.UTC()
	msgType := string(dl.Message.Type)
	if msgType == "" {
		msgType = "untyped"
	}
	id := dl.Message.ID
	if id == "" {
		id = dl.DeliveryID
	}
	return path.Join(a.config.ObjectPrefix, t.Format("2006"), t.Format("01"), t.Format("02"), msgType, id+".json.gz")
}

// DeadLetter implements queueengine.DeadLetterSink.
func (a *Archiver) DeadLetter(ctx context.Context, dl queueengine.DeadLetter) error {
	objectName := a.ObjectName(dl)
	w := a.client.Bucket(a.config.BucketName).Object(objectName).NewWriter(ctx, ObjectAttrs{
		ContentType: "application/json",
		Metadata: map[string]string{
			"queue":        dl.Queue,
			"reason":       string(dl.Reason),
			"message_type": string(dl.Message.Type),
		},
	})
	pr, pw := io.Pipe()
	encoded := make(chan struct{})

	go func() {
		var err error
		defer close(encoded)
		defer func() { _ = pw.CloseWithError(err) }()
		gz := gzip.NewWriter(pw)
		if err = json.NewEncoder(gz).Encode(dl); err != nil {
			err = fmt.Errorf("json encoding failed for %s: %w", objectName, err)
			return
		}
		err = gz.Close()
	}()

	bytesWritten, copyErr := io.Copy(w, pr)
	// Unblocks the encoder when the upload stopped reading early.
	_ = pr.CloseWithError(copyErr)
	<-encoded
	closeErr := w.Close()
	if copyErr != nil {
		return fmt.Errorf("failed to stream dead letter to %s: %w", objectName, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to finalize %s: %w", objectName, closeErr)
	}

	a.logger.Info().
		Str("object_name", objectName).
		Str("msg_id", dl.Message.ID).
		Int64("bytes_written", bytesWritten).
		Msg("Dead letter archived.")
	return nil
}
