package session

import (
	"encoding/binary"
	"hash/fnv"
	"sync"

	"cedar/internal/chat"
)

// lockStripes is the fixed number of mutexes in each striping table.
// Striping bounds lock-registry memory regardless of how many chats the
// process touches over its lifetime; unrelated chats only contend on the
// rare occasions their keys hash to the same stripe.
const lockStripes = 64

// keyLocks provides per-chat and per-scope mutual exclusion via fixed-size
// lock striping. Chat keys and numbering scopes hash into separate tables
// so a long-held chat lock never blocks number allocation in its scope.
type keyLocks struct {
	keys   [lockStripes]sync.Mutex
	scopes [lockStripes]sync.Mutex
}

func hash64(parts ...int64) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, p := range parts {
		binary.LittleEndian.PutUint64(buf[:], uint64(p))
		h.Write(buf[:])
	}
	return h.Sum64()
}

// forKey returns the mutex guarding all mutations of the chat at k.
func (l *keyLocks) forKey(k chat.Key) *sync.Mutex {
	return &l.keys[hash64(k.ProjectID, k.BranchID, k.Number)%lockStripes]
}

// forScope returns the mutex guarding the (project, branch) chat-number
// counter.
func (l *keyLocks) forScope(s chat.Scope) *sync.Mutex {
	return &l.scopes[hash64(s.ProjectID, s.BranchID)%lockStripes]
}
