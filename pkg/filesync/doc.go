// Package filesync implements the File Sync Engine: it keeps a workspace's
// on-disk files, a user's dotfiles, and a user's git identity mirrored
// against a single S3-compatible object store.
//
// Engine satisfies pkg/workspace's FileSync interface, so the Workspace
// Lifecycle Manager drives Restore/Backup/StartBackground/StopBackground/
// DeleteWorkspaceFiles without depending on this package directly. The
// dotfiles and pod-template operations are a superset not required by that
// interface; they are called from the public API around create and
// restart, where a user_id and a template selection are available.
//
// Object layout:
//
//	<prefix>/<workspace_id>/<relative_path>   workspace files
//	users/<user_id>/dotfiles/<relative_path>  user dotfiles
//	users/<user_id>/config/git.json           user git identity
//
// Restore downloads every object under a workspace's prefix; Backup walks
// the workspace directory and uploads any file whose content hash differs
// from the object's current ETag, optionally deleting objects with no
// on-disk counterpart. Both report a partial failure once the per-pass
// error rate crosses partialErrorThreshold, leaving the caller to decide
// whether that is fatal.
package filesync
