package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/adboard/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// ObjectChecker reports whether an archive object already exists.
type ObjectChecker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// AuditArchiver implements domain.Archiver. It uploads audit entries older
// than a cutoff to archive/audit/YYYY-MM.jsonl and then prunes them from the
// primary store. Entries are only deleted after the upload succeeds.
type AuditArchiver struct {
	writer  domain.BlobWriter
	checker ObjectChecker
	audit   domain.AuditStore
	now     func() time.Time
	logger  *slog.Logger
}

// NewAuditArchiver creates an AuditArchiver. checker may be nil, in which case
// an existing object for the same month is overwritten.
func NewAuditArchiver(writer domain.BlobWriter, checker ObjectChecker, audit domain.AuditStore, now func() time.Time, logger *slog.Logger) *AuditArchiver {
	if now == nil {
		now = time.Now
	}
	return &AuditArchiver{
		writer:  writer,
		checker: checker,
		audit:   audit,
		now:     now,
		logger:  logger.With(slog.String("component", "audit_archiver")),
	}
}

// ArchiveAudit moves every audit entry created before the cutoff to object
// storage and returns how many were archived.
func (a *AuditArchiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path, err := a.objectPath(ctx, before)
	if err != nil {
		return 0, err
	}

	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	deleted, err := a.audit.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit prune: %w", err)
	}
	if deleted != int64(len(entries)) {
		a.logger.WarnContext(ctx, "pruned count differs from archived count",
			slog.Int("archived", len(entries)),
			slog.Int64("pruned", deleted),
		)
	}

	count := int64(len(entries))
	if err := a.audit.Log(ctx, "archive.audit", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive audit log: %w", err)
	}

	a.logger.InfoContext(ctx, "audit archived",
		slog.String("path", path),
		slog.Int64("count", count),
	)
	return count, nil
}

// objectPath picks the month's archive key, suffixing it with the current unix
// time when an earlier run already wrote that month.
func (a *AuditArchiver) objectPath(ctx context.Context, before time.Time) (string, error) {
	path := archivePath("audit", before, "")
	if a.checker == nil {
		return path, nil
	}
	exists, err := a.checker.Exists(ctx, path)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive audit exists: %w", err)
	}
	if !exists {
		return path, nil
	}
	return archivePath("audit", before, fmt.Sprintf("-%d", a.now().Unix())), nil
}

// archivePath builds the archive key, partitioned by the cutoff's month:
//
//	archive/audit/2026-10.jsonl
func archivePath(kind string, before time.Time, suffix string) string {
	return fmt.Sprintf("archive/%s/%s%s.jsonl", kind, before.UTC().Format("2006-01"), suffix)
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*AuditArchiver)(nil)
