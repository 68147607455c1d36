package sessionwatcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/fleetd/pkg/types"
)

func TestEncodeDecodeProjectPath(t *testing.T) {
	encoded := EncodeProjectPath("/Users/foo/bar")
	if encoded != "-Users-foo-bar" {
		t.Fatalf("unexpected encoding: %s", encoded)
	}
	if decoded := DecodeProjectPath(encoded); decoded != "/Users/foo/bar" {
		t.Fatalf("unexpected decoding: %s", decoded)
	}
}

func TestParseEntry_AssignsDeterministicID(t *testing.T) {
	line := []byte(`{"type":"progress","data":{"type":"thinking"}}`)
	entry := parseEntry(line)
	if entry.ID == "" {
		t.Fatal("expected a deterministic id for an entry without uuid")
	}
	again := parseEntry(line)
	if again.ID != entry.ID {
		t.Fatal("expected deterministic id to be stable across calls")
	}
}

func TestEntriesAfter(t *testing.T) {
	entries := []Entry{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	got := entriesAfter(entries, "a")
	if len(got) != 2 || got[0].ID != "b" {
		t.Fatalf("unexpected entries: %+v", got)
	}
	if got := entriesAfter(entries, ""); len(got) != 3 {
		t.Fatalf("expected full slice when lastID empty, got %+v", got)
	}
}

func TestReadEntries_Reverse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	content := `{"uuid":"1","type":"user"}` + "\n" + `{"uuid":"2","type":"assistant"}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	entries, err := ReadEntries(path, true, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].ID != "2" {
		t.Fatalf("expected newest-first order, got %+v", entries)
	}
}

func TestWatcher_FlushEmitsNewEntries(t *testing.T) {
	root := t.TempDir()
	projectDir := filepath.Join(root, EncodeProjectPath("/Users/foo/bar"))
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		t.Fatal(err)
	}
	sessionPath := filepath.Join(projectDir, "conv-1.jsonl")
	if err := os.WriteFile(sessionPath, []byte(`{"uuid":"1","type":"user"}`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	emitted := make(chan []Entry, 1)
	lookup := func(ctx context.Context, projectPath, conversationID string) ([]types.WatchedConversation, error) {
		return []types.WatchedConversation{{ConversationID: conversationID, ProjectPath: projectPath}}, nil
	}
	emit := func(ctx context.Context, sub types.WatchedConversation, entries []Entry) error {
		emitted <- entries
		return nil
	}

	w := NewWatcher(root, lookup, emit)
	w.flush(context.Background(), sessionPath)

	select {
	case entries := <-emitted:
		if len(entries) != 1 || entries[0].ID != "1" {
			t.Fatalf("unexpected entries: %+v", entries)
		}
	case <-time.After(time.Second):
		t.Fatal("expected flush to emit entries")
	}
}
