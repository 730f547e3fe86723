package storage

import (
	"context"
	"fmt"
	"time"
)

// Archive keeps copies of admitted outfit snapshots.
type Archive interface {
	Put(ctx context.Context, key string, content []byte, contentType string) error
	Delete(ctx context.Context, key string) error
}

// SnapshotKey builds the object key for a snapshot stored at t.
func SnapshotKey(t time.Time, digest string) string {
	t = t.UTC()
	return fmt.Sprintf("snapshots/%s/%s-%s.png", t.Format("2006/01/02"), t.Format("150405"), digest)
}

// NoopArchive is used when no bucket is configured.
type NoopArchive struct{}

func (NoopArchive) Put(context.Context, string, []byte, string) error { return nil }

func (NoopArchive) Delete(context.Context, string) error { return nil }
