package zohobooks

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/mmdatafocus/sales_backend/utils"
)

// Archiver keeps a raw copy of what a run fetched, before it is written.
type Archiver interface {
	Archive(ctx context.Context, module, mode string, startedAt time.Time, items []Record) error
}

// GCSArchiver writes one NDJSON object per run to
// gs://<bucket>/zoho/<module>/<mode>/<startedAt>.ndjson.
type GCSArchiver struct {
	Bucket string
	upload func(ctx context.Context, bucket, objectName, contentType string, data []byte) error
}

func NewGCSArchiver(bucket string) *GCSArchiver {
	return &GCSArchiver{Bucket: bucket, upload: utils.UploadObject}
}

func (a *GCSArchiver) Archive(ctx context.Context, module, mode string, startedAt time.Time, items []Record) error {
	data, err := encodeNDJSON(items)
	if err != nil {
		return err
	}
	return a.upload(ctx, a.Bucket, archiveObjectName(module, mode, startedAt), "application/x-ndjson", data)
}

func archiveObjectName(module, mode string, startedAt time.Time) string {
	return fmt.Sprintf("zoho/%s/%s/%s.ndjson", module, mode, startedAt.UTC().Format("20060102T150405Z"))
}

func encodeNDJSON(items []Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, it := range items {
		if err := enc.Encode(it); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
