package minio

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dkrish7/osprey/internal/config"
	"github.com/dkrish7/osprey/internal/storage"
	"github.com/dkrish7/osprey/internal/tracer"
	"github.com/dkrish7/osprey/internal/util"
)

// MinioClient wraps the MinIO SDK client. Raw captured tool output is
// archived here keyed by content hash.
type MinioClient struct {
	client    *minio.Client
	bucket    string
	transport *http.Transport
}

func NewMinioClient(cfg *config.MinioConfig) (storage.Storage, error) {

	transport := &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   50,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       120 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		DisableCompression: true,
		DisableKeepAlives:  false,
	}

	cli, err := minio.New(cfg.URL, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.ACCESS_KEY, cfg.SECRET_KEY, ""),
		Secure:    cfg.USE_SSL,
		Transport: transport,
	})
	if err != nil {
		return nil, err
	}

	return &MinioClient{client: cli, bucket: cfg.RESULTS_BUCKET, transport: transport}, nil
}

func (m *MinioClient) Upload(ctx context.Context, objectPath string, data []byte) error {
	ctx, span := tracer.GetTracer().Start(ctx, "MinIO/Upload")
	defer span.End()

	reader := bytes.NewReader(data)

	_, err := m.client.PutObject(ctx, m.bucket, objectPath, reader, -1, minio.PutObjectOptions{})
	if err != nil {
		util.RecordSpanError(span, err)
		return err
	}

	return nil
}

func (m *MinioClient) Download(ctx context.Context, objectPath string) ([]byte, error) {
	ctx, span := tracer.GetTracer().Start(ctx, "MinIO/Download")
	defer span.End()

	object, err := m.client.GetObject(ctx, m.bucket, objectPath, minio.GetObjectOptions{})
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}
	defer object.Close()

	// check if the object exists
	if _, err := object.Stat(); err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}

	data, err := io.ReadAll(object)
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}

	return data, nil
}

func (m *MinioClient) ShutDown(ctx context.Context) {
	m.transport.CloseIdleConnections()
}
