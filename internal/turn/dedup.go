package turn

import (
	"encoding/json"
	"sync"

	"github.com/cortexd/runtime/pkg/models"
)

// dedupKey canonicalizes a tool call's (name, args) pair for duplicate
// detection within a single turn. Go's json.Marshal sorts map keys
// alphabetically, so round-tripping the raw args through map[string]any
// gives a canonical form for free without a bespoke canonicalizer.
func dedupKey(call models.ToolCall) string {
	var v any
	if err := json.Unmarshal(call.Input, &v); err != nil {
		// Unparseable args still need a stable key; fall back to the
		// raw bytes rather than failing duplicate detection outright.
		return call.Name + ":" + string(call.Input)
	}
	canon, err := json.Marshal(v)
	if err != nil {
		return call.Name + ":" + string(call.Input)
	}
	return call.Name + ":" + string(canon)
}

// dedupTable memoizes tool observations within one turn, keyed by
// dedupKey, so a second identical call short-circuits to the first
// call's result instead of re-invoking the pathway. Calls dispatch
// concurrently, so a second caller for a key already in flight blocks
// on the first caller's entry rather than racing it.
type dedupTable struct {
	mu   sync.Mutex
	seen map[string]*dedupEntry
}

type dedupEntry struct {
	done   chan struct{}
	result models.ToolResult
}

func newDedupTable() *dedupTable {
	return &dedupTable{seen: make(map[string]*dedupEntry)}
}

// claim registers key as in flight and returns its entry. If another
// caller already claimed key this turn, existing is true and the
// caller should wait on entry.done instead of invoking the pathway
// itself.
func (d *dedupTable) claim(key string) (entry *dedupEntry, existing bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.seen[key]; ok {
		return e, true
	}
	e := &dedupEntry{done: make(chan struct{})}
	d.seen[key] = e
	return e, false
}

// resolve records the result for an entry claimed by this caller and
// releases anyone waiting on it.
func (d *dedupTable) resolve(entry *dedupEntry, result models.ToolResult) {
	entry.result = result
	close(entry.done)
}
