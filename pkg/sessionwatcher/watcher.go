package sessionwatcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cuemby/fleetd/pkg/log"
	"github.com/cuemby/fleetd/pkg/types"
)

// DebounceInterval matches the original 500ms batching window.
const DebounceInterval = 500 * time.Millisecond

// LookupFunc answers "who watches this conversation", backed by the control
// plane's Workspace Store (lookup_watchers in SPEC_FULL.md §4.7.2) so
// subscribers survive a laptop restart without any local state.
type LookupFunc func(ctx context.Context, projectPath, conversationID string) ([]types.WatchedConversation, error)

// EmitFunc delivers newly-appended entries to one subscriber, in file order.
type EmitFunc func(ctx context.Context, sub types.WatchedConversation, entries []Entry) error

// Watcher monitors a conversations root directory and syncs appended
// entries to subscribers, debouncing bursts of writes to the same file.
type Watcher struct {
	root     string
	debounce time.Duration
	lookup   LookupFunc
	emit     EmitFunc

	fsw *fsnotify.Watcher

	mu         sync.Mutex
	lastSynced map[string]string
	timers     map[string]*time.Timer

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewWatcher builds a Watcher rooted at root (the local conversations
// directory), which must already exist.
func NewWatcher(root string, lookup LookupFunc, emit EmitFunc) *Watcher {
	return &Watcher{
		root:       root,
		debounce:   DebounceInterval,
		lookup:     lookup,
		emit:       emit,
		lastSynced: make(map[string]string),
		timers:     make(map[string]*time.Timer),
		stopCh:     make(chan struct{}),
	}
}

// Start begins watching. It walks root adding every existing directory (and
// new ones as they appear) since fsnotify, unlike watchdog, does not watch
// recursively on its own.
func (w *Watcher) Start(ctx context.Context) error {
	if _, err := os.Stat(w.root); os.IsNotExist(err) {
		log.WithComponent("sessionwatcher").Info().Str("path", w.root).
			Msg("conversations directory does not exist, skipping watcher")
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw

	if err := filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	}); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()
	logger := log.WithComponent("sessionwatcher")
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleFSEvent(ctx, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Msg("filesystem watch error")
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) handleFSEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.fsw.Add(event.Name)
			return
		}
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	if filepath.Ext(event.Name) != ".jsonl" {
		return
	}
	w.queueFlush(ctx, event.Name)
}

// queueFlush (re)starts the debounce timer for path; a burst of writes
// collapses into a single flush DebounceInterval after the last one.
func (w *Watcher) queueFlush(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.flush(ctx, path)
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
	})
}

func (w *Watcher) flush(ctx context.Context, path string) {
	logger := log.WithComponent("sessionwatcher")
	projectPath, conversationID := conversationFromPath(path)

	subs, err := w.lookup(ctx, projectPath, conversationID)
	if err != nil {
		logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("watcher lookup failed")
		return
	}
	if len(subs) == 0 {
		return
	}

	key := projectPath + "/" + conversationID
	w.mu.Lock()
	lastID := w.lastSynced[key]
	w.mu.Unlock()
	if lastID == "" {
		for _, s := range subs {
			if s.LastSyncedEntryID != "" {
				lastID = s.LastSyncedEntryID
				break
			}
		}
	}

	entries, err := readAllEntries(path)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("reading conversation file")
		return
	}
	newEntries := entriesAfter(entries, lastID)
	if len(newEntries) == 0 {
		return
	}

	for _, sub := range subs {
		if err := w.emit(ctx, sub, newEntries); err != nil {
			logger.Warn().Err(err).Str("conversation_id", conversationID).
				Str("subscriber_session_id", sub.SubscriberSessionID).Msg("emitting conversation sync failed")
		}
	}

	w.mu.Lock()
	w.lastSynced[key] = newEntries[len(newEntries)-1].ID
	w.mu.Unlock()
}

// Stop halts the watcher, flushing every path with a pending debounce timer
// before returning, per the cancellation contract in SPEC_FULL.md §5.
func (w *Watcher) Stop(ctx context.Context) {
	close(w.stopCh)
	if w.fsw != nil {
		_ = w.fsw.Close()
	}
	w.wg.Wait()

	w.mu.Lock()
	pending := make([]string, 0, len(w.timers))
	for path, t := range w.timers {
		t.Stop()
		pending = append(pending, path)
	}
	w.timers = make(map[string]*time.Timer)
	w.mu.Unlock()

	for _, path := range pending {
		w.flush(ctx, path)
	}
}
