package workspace

import "context"

// FileSync is the subset of the File Sync Engine (C5) the lifecycle manager
// drives directly; the full contract (dotfiles, pod templates) lives in
// pkg/filesync and is exercised through the public API instead.
type FileSync interface {
	Restore(ctx context.Context, workspaceID, target string) error
	Backup(ctx context.Context, workspaceID, source string, deleteMissing bool) error
	StartBackground(workspaceID, source string, interval int)
	StopBackground(workspaceID string)
	DeleteWorkspaceFiles(ctx context.Context, workspaceID string) error
}

// noopFileSync is used when the manager is constructed without a File Sync
// Engine (e.g. unit tests exercising only the state machine).
type noopFileSync struct{}

func (noopFileSync) Restore(ctx context.Context, workspaceID, target string) error { return nil }
func (noopFileSync) Backup(ctx context.Context, workspaceID, source string, deleteMissing bool) error {
	return nil
}
func (noopFileSync) StartBackground(workspaceID, source string, interval int) {}
func (noopFileSync) StopBackground(workspaceID string)                        {}
func (noopFileSync) DeleteWorkspaceFiles(ctx context.Context, workspaceID string) error {
	return nil
}
