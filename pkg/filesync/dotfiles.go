package filesync

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cuemby/fleetd/pkg/errs"
)

// GitIdentity is the user's git identity, stored alongside their dotfiles.
type GitIdentity struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// SyncUserDotfiles restores a user's dotfiles from the object store to
// target (usually /home/dev), then applies their git identity if one is
// stored. SSH files are chmod 0600 after write, matching the source system's
// permission handling.
func (e *Engine) SyncUserDotfiles(ctx context.Context, workspaceID, userID, target string) (SyncResult, error) {
	prefix := e.userDotfilesPrefix(userID)
	result := SyncResult{WorkspaceID: workspaceID}

	paginator := s3.NewListObjectsV2Paginator(e.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(e.bucket),
		Prefix: aws.String(prefix + "/"),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			if isNoSuchBucket(err) {
				break
			}
			return result, errs.Wrap(errs.UpstreamUnreachable, "listing user dotfiles", err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			relative := strings.TrimPrefix(key, prefix+"/")
			if relative == "" {
				continue
			}
			path := filepath.Join(target, relative)

			if err := e.downloadTo(ctx, key, path); err != nil {
				result.Errors = append(result.Errors, FileError{Path: relative, Err: err})
				e.logger.Warn().Err(err).Str("user_id", userID).Str("path", relative).
					Msg("failed to sync user dotfile")
				continue
			}
			if strings.HasPrefix(relative, ".ssh") {
				_ = os.Chmod(path, 0o600)
			}
			result.FilesSynced++
		}
	}

	e.applyGitIdentity(ctx, workspaceID, userID, target)
	return result, nil
}

// applyGitIdentity reads users/<user_id>/config/git.json, if present, and
// writes a .gitconfig under target reflecting it. Absence of the object is
// not an error.
func (e *Engine) applyGitIdentity(ctx context.Context, workspaceID, userID, target string) {
	resp, err := e.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(e.gitConfigKey(userID)),
	})
	if err != nil {
		return
	}
	defer resp.Body.Close()

	var identity GitIdentity
	if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		e.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to decode stored git identity")
		return
	}

	var b strings.Builder
	b.WriteString("[user]\n")
	if identity.Name != "" {
		b.WriteString("\tname = " + identity.Name + "\n")
	}
	if identity.Email != "" {
		b.WriteString("\temail = " + identity.Email + "\n")
	}
	if err := os.WriteFile(filepath.Join(target, ".gitconfig"), []byte(b.String()), 0o644); err != nil {
		e.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to write git identity")
	}
}

// SaveUserDotfiles uploads the named dotfiles (defaultDotfiles if paths is
// nil) from source to the object store, skipping any that don't exist.
func (e *Engine) SaveUserDotfiles(ctx context.Context, workspaceID, userID, source string, paths []string) (SyncResult, error) {
	if paths == nil {
		paths = defaultDotfiles
	}
	prefix := e.userDotfilesPrefix(userID)
	result := SyncResult{WorkspaceID: workspaceID}

	for _, dotfile := range paths {
		path := filepath.Join(source, dotfile)
		if _, err := os.Stat(path); err != nil {
			continue
		}

		content, err := os.ReadFile(path)
		if err != nil {
			result.Errors = append(result.Errors, FileError{Path: dotfile, Err: err})
			continue
		}

		key := prefix + "/" + dotfile
		if _, err := e.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(e.bucket),
			Key:    aws.String(key),
			Body:   strings.NewReader(string(content)),
		}); err != nil {
			result.Errors = append(result.Errors, FileError{Path: dotfile, Err: err})
			continue
		}
		result.FilesSynced++
	}

	e.logger.Info().Str("user_id", userID).Int("files_saved", result.FilesSynced).
		Msg("saved user dotfiles")
	return result, nil
}

// SaveGitIdentity stores a user's git identity for future dotfile syncs.
func (e *Engine) SaveGitIdentity(ctx context.Context, userID string, identity GitIdentity) error {
	body, err := json.Marshal(identity)
	if err != nil {
		return err
	}
	_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(e.gitConfigKey(userID)),
		Body:   strings.NewReader(string(body)),
	})
	return err
}
