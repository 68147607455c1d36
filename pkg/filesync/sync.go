package filesync

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/cuemby/fleetd/pkg/errs"
	"github.com/cuemby/fleetd/pkg/metrics"
)

// SyncResult reports the outcome of a single restore or backup pass.
type SyncResult struct {
	WorkspaceID string
	FilesSynced int
	Errors      []FileError
}

// FileError records a single file's failure during a sync pass.
type FileError struct {
	Path string
	Err  error
}

// Restore materialises every object under the workspace's prefix at target,
// implementing the create/restart restore contract. It returns a wrapped
// errs.InvalidState error if the error rate exceeds partialErrorThreshold;
// the caller decides whether a partial restore is fatal.
func (e *Engine) Restore(ctx context.Context, workspaceID, target string) error {
	prefix := e.workspacePrefix(workspaceID)
	result := SyncResult{WorkspaceID: workspaceID}
	total := 0

	paginator := s3.NewListObjectsV2Paginator(e.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(e.bucket),
		Prefix: aws.String(prefix + "/"),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			if isNoSuchBucket(err) {
				e.logger.Warn().Str("bucket", e.bucket).Msg("object store bucket does not exist")
				break
			}
			return errs.Wrap(errs.UpstreamUnreachable, "listing workspace objects", err)
		}

		for _, obj := range page.Contents {
			total++
			key := aws.ToString(obj.Key)
			relative := strings.TrimPrefix(key, prefix+"/")
			if relative == "" {
				continue
			}

			if err := e.downloadTo(ctx, key, filepath.Join(target, relative)); err != nil {
				result.Errors = append(result.Errors, FileError{Path: relative, Err: err})
				e.logger.Warn().Err(err).Str("path", relative).Str("workspace_id", workspaceID).
					Msg("failed to restore file from object store")
				continue
			}
			result.FilesSynced++
		}
	}

	e.recordErrorRate(workspaceID, len(result.Errors), total)

	if total > 0 && errorRate(len(result.Errors), total) >= partialErrorThreshold {
		return errs.New(errs.Internal, fmt.Sprintf("restore partial: %d/%d files failed", len(result.Errors), total))
	}
	return nil
}

func (e *Engine) downloadTo(ctx context.Context, key, path string) error {
	resp, err := e.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, resp.Body)
	return err
}

// Backup walks source, excluding defaultExcludes, and uploads every file
// whose content hash differs from the object store's current ETag. If
// deleteMissing is true, objects present in the store with no file on disk
// are removed.
func (e *Engine) Backup(ctx context.Context, workspaceID, source string, deleteMissing bool) error {
	timer := metrics.NewTimer()
	outcome := "success"
	defer func() {
		timer.ObserveDurationVec(metrics.FilesyncBackupDuration, outcome)
	}()

	prefix := e.workspacePrefix(workspaceID)
	result := SyncResult{WorkspaceID: workspaceID}
	total := 0
	seen := make(map[string]bool)

	walkErr := filepath.WalkDir(source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			if isExcluded(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		relative, err := filepath.Rel(source, path)
		if err != nil {
			return nil
		}
		if isExcluded(relative) {
			return nil
		}

		total++
		seen[relative] = true
		if err := e.uploadIfChanged(ctx, prefix+"/"+relative, path); err != nil {
			result.Errors = append(result.Errors, FileError{Path: relative, Err: err})
			e.logger.Warn().Err(err).Str("path", relative).Str("workspace_id", workspaceID).
				Msg("failed to back up file to object store")
			return nil
		}
		result.FilesSynced++
		return nil
	})
	if walkErr != nil && !os.IsNotExist(walkErr) {
		outcome = "error"
		return errs.Wrap(errs.Internal, "walking workspace directory", walkErr)
	}

	if deleteMissing {
		if err := e.deleteAbsent(ctx, workspaceID, seen); err != nil {
			e.logger.Warn().Err(err).Str("workspace_id", workspaceID).Msg("failed to reconcile deletions")
		}
	}

	e.recordErrorRate(workspaceID, len(result.Errors), total)
	if total > 0 && errorRate(len(result.Errors), total) >= partialErrorThreshold {
		outcome = "error"
		return errs.New(errs.Internal, fmt.Sprintf("backup partial: %d/%d files failed", len(result.Errors), total))
	}
	return nil
}

// uploadIfChanged uploads path to key only if its content hash differs from
// the object's current ETag, matching the Contents comparison the spec
// mandates for backup.
func (e *Engine) uploadIfChanged(ctx context.Context, key, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	sum := md5.Sum(content)
	localHash := hex.EncodeToString(sum[:])

	head, err := e.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(e.bucket), Key: aws.String(key)})
	if err == nil {
		remoteHash := strings.Trim(aws.ToString(head.ETag), `"`)
		if remoteHash == localHash {
			return nil
		}
	}

	_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(key),
		Body:   strings.NewReader(string(content)),
	})
	return err
}

func (e *Engine) deleteAbsent(ctx context.Context, workspaceID string, present map[string]bool) error {
	prefix := e.workspacePrefix(workspaceID)
	var toDelete []types.ObjectIdentifier

	paginator := s3.NewListObjectsV2Paginator(e.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(e.bucket),
		Prefix: aws.String(prefix + "/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			relative := strings.TrimPrefix(key, prefix+"/")
			if !present[relative] {
				toDelete = append(toDelete, types.ObjectIdentifier{Key: obj.Key})
			}
		}
	}
	if len(toDelete) == 0 {
		return nil
	}
	_, err := e.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(e.bucket),
		Delete: &types.Delete{Objects: toDelete},
	})
	return err
}

// DeleteWorkspaceFiles removes the entire workspace subtree. Idempotent.
func (e *Engine) DeleteWorkspaceFiles(ctx context.Context, workspaceID string) error {
	prefix := e.workspacePrefix(workspaceID)
	deleted := 0

	paginator := s3.NewListObjectsV2Paginator(e.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(e.bucket),
		Prefix: aws.String(prefix + "/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			if isNoSuchBucket(err) {
				return nil
			}
			return errs.Wrap(errs.UpstreamUnreachable, "listing workspace objects for delete", err)
		}
		if len(page.Contents) == 0 {
			continue
		}
		var objs []types.ObjectIdentifier
		for _, obj := range page.Contents {
			objs = append(objs, types.ObjectIdentifier{Key: obj.Key})
		}
		if _, err := e.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(e.bucket),
			Delete: &types.Delete{Objects: objs},
		}); err != nil {
			return errs.Wrap(errs.UpstreamUnreachable, "deleting workspace objects", err)
		}
		deleted += len(objs)
	}

	e.logger.Info().Str("workspace_id", workspaceID).Int("files_deleted", deleted).
		Msg("deleted workspace files from object store")
	return nil
}

// GetWorkspaceSize reports the total object-store usage of a workspace.
func (e *Engine) GetWorkspaceSize(ctx context.Context, workspaceID string) (totalBytes int64, fileCount int, err error) {
	prefix := e.workspacePrefix(workspaceID)

	paginator := s3.NewListObjectsV2Paginator(e.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(e.bucket),
		Prefix: aws.String(prefix + "/"),
	})
	for paginator.HasMorePages() {
		page, pageErr := paginator.NextPage(ctx)
		if pageErr != nil {
			if isNoSuchBucket(pageErr) {
				return 0, 0, nil
			}
			return 0, 0, pageErr
		}
		for _, obj := range page.Contents {
			totalBytes += aws.ToInt64(obj.Size)
			fileCount++
		}
	}
	return totalBytes, fileCount, nil
}

func (e *Engine) recordErrorRate(workspaceID string, failed, total int) {
	metrics.FilesyncErrorRate.WithLabelValues(workspaceID).Set(errorRate(failed, total))
}

func errorRate(failed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(failed) / float64(total)
}

func isExcluded(name string) bool {
	for _, pattern := range defaultExcludes {
		if name == pattern || strings.Contains(name, "/"+pattern+"/") || strings.HasPrefix(name, pattern+"/") {
			return true
		}
	}
	return false
}

func isNoSuchBucket(err error) bool {
	var nsb *types.NoSuchBucket
	return errors.As(err, &nsb)
}

// backgroundSyncs tracks the per-workspace periodic backup goroutines.
type backgroundSyncs struct {
	mu    sync.Mutex
	tasks map[string]chan struct{}
}

func newBackgroundSyncs() *backgroundSyncs {
	return &backgroundSyncs{tasks: make(map[string]chan struct{})}
}

// StartBackground starts the periodic backup loop for a workspace. A
// workspace already under background sync is left untouched.
func (e *Engine) StartBackground(workspaceID, source string, interval int) {
	e.bg.mu.Lock()
	defer e.bg.mu.Unlock()

	if _, exists := e.bg.tasks[workspaceID]; exists {
		e.logger.Warn().Str("workspace_id", workspaceID).Msg("background sync already running")
		return
	}
	if interval <= 0 {
		interval = 300
	}

	stopCh := make(chan struct{})
	e.bg.tasks[workspaceID] = stopCh

	go e.backgroundLoop(workspaceID, source, time.Duration(interval)*time.Second, stopCh)
	e.logger.Info().Str("workspace_id", workspaceID).Int("interval", interval).Msg("started background sync")
}

func (e *Engine) backgroundLoop(workspaceID, source string, interval time.Duration, stopCh chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := e.Backup(context.Background(), workspaceID, source, false); err != nil {
				e.logger.Error().Err(err).Str("workspace_id", workspaceID).Msg("background sync failed")
			}
		case <-stopCh:
			// Final sync before stopping, per the spec's cancellation contract.
			if err := e.Backup(context.Background(), workspaceID, source, false); err != nil {
				e.logger.Error().Err(err).Str("workspace_id", workspaceID).Msg("final sync before stop failed")
			}
			return
		}
	}
}

// StopBackground stops the periodic backup loop for a workspace, performing
// a final backup before returning.
func (e *Engine) StopBackground(workspaceID string) {
	e.bg.mu.Lock()
	stopCh, exists := e.bg.tasks[workspaceID]
	if exists {
		delete(e.bg.tasks, workspaceID)
	}
	e.bg.mu.Unlock()

	if !exists {
		return
	}
	close(stopCh)
	e.logger.Info().Str("workspace_id", workspaceID).Msg("stopped background sync")
}
