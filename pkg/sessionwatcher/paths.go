package sessionwatcher

import (
	"path/filepath"
	"strings"
)

// EncodeProjectPath mirrors the on-disk directory naming scheme: every '/'
// becomes '-', matching how conversation files are laid out on the laptop.
func EncodeProjectPath(projectPath string) string {
	normalized := filepath.Clean(projectPath)
	return strings.ReplaceAll(normalized, "/", "-")
}

// DecodeProjectPath reverses EncodeProjectPath.
func DecodeProjectPath(encoded string) string {
	if strings.HasPrefix(encoded, "-") {
		return strings.ReplaceAll(encoded, "-", "/")
	}
	return "/" + strings.ReplaceAll(encoded, "-", "/")
}

// conversationFromPath extracts the (projectPath, conversationID) pair a
// conversation file's path encodes: root/{encoded-project}/{conversation-id}.jsonl
func conversationFromPath(path string) (projectPath, conversationID string) {
	dir, file := filepath.Split(path)
	encoded := filepath.Base(filepath.Clean(dir))
	conversationID = strings.TrimSuffix(file, filepath.Ext(file))
	return DecodeProjectPath(encoded), conversationID
}
