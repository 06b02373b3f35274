package inventory

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// SequenceStore keeps a monotonic counter per code prefix.
type SequenceStore interface {
	// Next stores and returns max(current, floor)+1.
	Next(ctx context.Context, prefix string, floor int) (int, error)
}

// MemorySequence is a process-local SequenceStore.
type MemorySequence struct {
	mu       sync.Mutex
	counters map[string]int
}

// NewMemorySequence constructs an empty MemorySequence.
func NewMemorySequence() *MemorySequence {
	return &MemorySequence{counters: make(map[string]int)}
}

// Next implements SequenceStore.
func (s *MemorySequence) Next(ctx context.Context, prefix string, floor int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.counters[prefix]
	if floor > cur {
		cur = floor
	}
	cur++
	s.counters[prefix] = cur
	return cur, nil
}

const sequenceKeyPrefix = "inventory:code_seq:"

var nextSequenceScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local floor = tonumber(ARGV[1])
if floor > current then
	current = floor
end
current = current + 1
redis.call('SET', KEYS[1], current)
return current
`)

// RedisSequence shares code counters between processes.
type RedisSequence struct {
	client *redis.Client
}

// NewRedisSequence constructs a RedisSequence.
func NewRedisSequence(client *redis.Client) *RedisSequence {
	return &RedisSequence{client: client}
}

// Next implements SequenceStore atomically through a server-side script.
func (s *RedisSequence) Next(ctx context.Context, prefix string, floor int) (int, error) {
	n, err := nextSequenceScript.Run(ctx, s.client, []string{sequenceKeyPrefix + prefix}, floor).Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}
