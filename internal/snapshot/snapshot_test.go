package snapshot

import (
	"encoding/json"
	"os"
	"testing"

	"fishfry/internal/docstore"
	"fishfry/internal/document"
)

func TestWriteSnapshot_WritesDocumentsJSON(t *testing.T) {
	dir := t.TempDir()
	s := docstore.NewInMemoryStore()
	_, _, _ = s.Put(docstore.OrderKey("d", "o-1"), document.Document{"order": map[string]any{"id": "o-1"}}, 1)
	_, _, _ = s.Put(docstore.OrderKey("d", "o-2"), document.Document{"order": map[string]any{"id": "o-2"}}, 4)
	_, _ = s.Increment(docstore.CounterKey("d"), docstore.CounterStart)

	snap := NewFilesystemSnapshotter(dir)
	n, err := snap.WriteSnapshot("sid", s)
	if err != nil {
		t.Fatalf("WriteSnapshot error: %v", err)
	}
	if n != 3 {
		t.Fatalf("wrote %d envelopes, want 3", n)
	}

	b, err := os.ReadFile(Path(dir, "sid"))
	if err != nil {
		t.Fatalf("documents.json missing: %v", err)
	}
	var m map[string]docstore.Envelope
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if len(m) != 3 || m[docstore.OrderKey("d", "o-2")].Seq != 4 {
		t.Fatalf("unexpected keys: %v", m)
	}
	if _, err := os.Stat(Path(dir, "sid") + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temporary file left behind: %v", err)
	}
}
