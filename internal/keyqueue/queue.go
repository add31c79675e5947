package keyqueue

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// KeyQueue holds identity keys in discovery order, dropping repeats.
type KeyQueue struct {
	seen   map[string]bool
	queue  []string
	Source string
	mu     sync.Mutex
}

func NewKeyQueue(source string) *KeyQueue {
	return &KeyQueue{
		seen:   make(map[string]bool),
		queue:  make([]string, 0),
		Source: source,
	}
}

// Add enqueues key unless it is blank or already seen.
func (q *KeyQueue) Add(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	key = NormalizeKey(key)
	if key == "" || q.seen[key] {
		return false
	}
	q.seen[key] = true
	q.queue = append(q.queue, key)
	return true
}

func (q *KeyQueue) Get() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.queue) == 0 {
		return "", false
	}
	key := q.queue[0]
	q.queue = q.queue[1:]
	return key, true
}

// Keys returns the pending keys without draining the queue.
func (q *KeyQueue) Keys() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]string, len(q.queue))
	copy(out, q.queue)
	return out
}

func (q *KeyQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

func NormalizeKey(key string) string {
	return strings.TrimSpace(key)
}

// KeyOf renders an id value decoded from JSON as a key. Integral floats lose
// their fractional part so 1234 and 1234.0 map to the same key.
func KeyOf(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return NormalizeKey(id)
	case float64:
		if id == float64(int64(id)) {
			return fmt.Sprintf("%d", int64(id))
		}
		return fmt.Sprintf("%v", id)
	case json.Number:
		return id.String()
	default:
		return NormalizeKey(fmt.Sprintf("%v", id))
	}
}

func ComputeContentHash(content string) string {
	hash := md5.Sum([]byte(content))
	return fmt.Sprintf("%x", hash)
}

// SynthesizeKey builds a composite key for items without a source id. Map keys
// are marshalled in sorted order, so equal payloads always hash the same.
func SynthesizeKey(source string, item map[string]any) (string, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return "", err
	}
	return strings.ToLower(source) + ":" + ComputeContentHash(string(data)), nil
}
