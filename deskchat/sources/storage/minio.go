package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"deskchat/deskchat/config"
	"deskchat/deskchat/utils/logging"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// TranscriptArchive stores the transcript of a closed chat.
type TranscriptArchive interface {
	ArchiveTranscript(ctx context.Context, t Transcript) (string, error)
}

type Transcript struct {
	ChatID       string    `json:"chat_id"`
	CustomerName string    `json:"customer_name"`
	AgentID      string    `json:"agent_id,omitempty"`
	Text         string    `json:"transcript"`
	ClosedAt     time.Time `json:"closed_at"`
}

type MinIOClient struct {
	client *minio.Client
	bucket string
}

var _ TranscriptArchive = (*MinIOClient)(nil)

func NewMinIOClient(ctx context.Context, cfg config.Config) (*MinIOClient, error) {
	bucket := cfg.MinIOBucket
	client, err := minio.New(
		cfg.MinIOEndpoint,
		&minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinIOAccessKey, cfg.MinIOSecretKey, ""),
			Secure: cfg.MinIOUseSSL,
		},
	)
	if err != nil {
		return nil, err
	}
	// Create bucket if not exists
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, err
		}
		logging.AppLogger.Info("created transcript bucket", zap.String("bucket", bucket))
	}
	return &MinIOClient{client: client, bucket: bucket}, nil
}

// TranscriptKey is the object key of a chat transcript.
func TranscriptKey(chatID string, closedAt time.Time) string {
	return path.Join("transcripts", closedAt.UTC().Format("2006/01/02"), fmt.Sprintf("%s.json", chatID))
}

func (m *MinIOClient) ArchiveTranscript(ctx context.Context, t Transcript) (string, error) {
	defer logging.LogDuration(ctx, "MinIOClient.ArchiveTranscript")()

	data, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	key := TranscriptKey(t.ChatID, t.ClosedAt)
	_, err = m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", err
	}
	return key, nil
}

func (m *MinIOClient) GetTranscript(ctx context.Context, key string) (*Transcript, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, err
	}
	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
