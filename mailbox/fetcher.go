// Package mailbox downloads report attachments from a mail store into the
// staging directory.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sensor_report_loader/config"
	"sensor_report_loader/logger"
	"sensor_report_loader/metrics"
)

// ErrNoPayload is returned by Mailbox.Message for a message without a MIME
// body. Such a message is left unread.
var ErrNoPayload = errors.New("message has no payload")

// Part is a node of a message's MIME tree.
type Part struct {
	Filename     string
	MimeType     string
	AttachmentID string
	Parts        []Part
}

// Mailbox is the mail store the fetcher reads from.
type Mailbox interface {
	// Search returns one page of message ids matching query and the token of
	// the next page, empty on the last page.
	Search(ctx context.Context, query, pageToken string) (ids []string, next string, err error)
	// Message returns the root part of a message.
	Message(ctx context.Context, id string) (*Part, error)
	Attachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
	MarkRead(ctx context.Context, id string) error
}

// Result counts the work of one fetch.
type Result struct {
	Messages    int      `json:"messages"`
	Attachments int      `json:"attachments"`
	Failures    int      `json:"failures"`
	MarkedRead  int      `json:"marked_read"`
	Files       []string `json:"files"`
}

// Fetcher copies matching attachments of unread report mails to disk.
type Fetcher struct {
	mailbox Mailbox
	cfg     config.FetchConfig
	dir     string
}

// NewFetcher creates a fetcher saving into dir.
func NewFetcher(mb Mailbox, cfg config.FetchConfig, dir string) *Fetcher {
	return &Fetcher{mailbox: mb, cfg: cfg, dir: dir}
}

// Fetch processes every message matching the configured query. Failures on a
// single message or attachment are counted and logged; only a staging
// directory that cannot be created or a cancelled context end the run early.
func (f *Fetcher) Fetch(ctx context.Context) (*Result, error) {
	result := &Result{}

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return result, fmt.Errorf("failed to create staging directory %s: %w", f.dir, err)
	}

	ids, err := f.search(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Failures++
		logger.Errorf("❌ Mail search failed: %v\n", err)
	}
	if len(ids) == 0 {
		logger.Println("No new report mails found")
		return result, nil
	}

	logger.Printf("Found %d report mail(s)\n", len(ids))

	for i, id := range ids {
		if i > 0 {
			if err := f.wait(ctx); err != nil {
				return result, err
			}
		}
		result.Messages++
		f.processMessage(ctx, id, result)
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
	}

	logger.Printf("Fetch finished: %d attachment(s) saved, %d failure(s)\n", result.Attachments, result.Failures)
	return result, nil
}

// search follows pagination until the last page. Ids collected before a
// failing page are returned with the error.
func (f *Fetcher) search(ctx context.Context) ([]string, error) {
	var ids []string
	token := ""
	for {
		page, next, err := f.mailbox.Search(ctx, f.cfg.Query, token)
		if err != nil {
			return ids, fmt.Errorf("search %q: %w", f.cfg.Query, err)
		}
		ids = append(ids, page...)
		if next == "" {
			return ids, nil
		}
		token = next
	}
}

func (f *Fetcher) processMessage(ctx context.Context, id string, result *Result) {
	logger.Printf("Processing message %s\n", id)

	root, err := f.mailbox.Message(ctx, id)
	if err != nil {
		result.Failures++
		logger.Errorf("❌ Could not read message %s: %v\n", id, err)
		return
	}

	failed := 0
	for _, part := range f.reportParts(root) {
		path, err := f.save(ctx, id, part)
		if err != nil {
			failed++
			result.Failures++
			metrics.AttachmentFailures.Inc()
			logger.Errorf("❌ %s: %v\n", part.Filename, err)
			continue
		}
		result.Attachments++
		result.Files = append(result.Files, path)
		metrics.AttachmentsSaved.Inc()
		logger.Printf("✅ Saved %s\n", path)
	}

	if failed > 0 && f.cfg.KeepUnreadOnFailure {
		logger.Warnf("⚠️ Message %s left unread: %d attachment(s) failed\n", id, failed)
		return
	}

	if err := f.mailbox.MarkRead(ctx, id); err != nil {
		logger.Warnf("⚠️ Could not mark message %s as read: %v\n", id, err)
		return
	}
	result.MarkedRead++
}

// reportParts walks the part tree depth-first and returns the report
// attachments in document order.
func (f *Fetcher) reportParts(root *Part) []Part {
	if root == nil {
		return nil
	}

	var matches []Part
	var walk func(p Part)
	walk = func(p Part) {
		if f.isReport(p) {
			matches = append(matches, p)
		}
		for _, child := range p.Parts {
			walk(child)
		}
	}
	walk(*root)

	return matches
}

func (f *Fetcher) isReport(p Part) bool {
	if p.AttachmentID == "" || p.Filename == "" {
		return false
	}
	name := filepath.Base(p.Filename)
	return strings.HasPrefix(name, f.cfg.AttachmentPrefix) &&
		strings.HasSuffix(strings.ToLower(name), strings.ToLower(f.cfg.AttachmentExt))
}

func (f *Fetcher) save(ctx context.Context, messageID string, part Part) (string, error) {
	data, err := f.mailbox.Attachment(ctx, messageID, part.AttachmentID)
	if err != nil {
		return "", fmt.Errorf("download attachment %s: %w", part.AttachmentID, err)
	}

	// base name only; a declared path never escapes the staging directory
	path := filepath.Join(f.dir, filepath.Base(part.Filename))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("save: %w", err)
	}
	return path, nil
}

func (f *Fetcher) wait(ctx context.Context) error {
	if f.cfg.Throttle <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(f.cfg.Throttle)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
