package llm

import "sync"

// maxMemoryTurns bounds how many past exchanges are replayed per session.
const maxMemoryTurns = 8

// exchange is one completed user/assistant round-trip.
type exchange struct {
	user      string
	assistant string
}

// sessionMemory holds the conversation history for one session. Its mutex
// also serializes completions for the session: the provider never sees more
// than one in-flight call per session.
type sessionMemory struct {
	mu        sync.Mutex
	exchanges []exchange
}

func (s *sessionMemory) history() []Message {
	start := 0
	if len(s.exchanges) > maxMemoryTurns {
		start = len(s.exchanges) - maxMemoryTurns
	}
	msgs := make([]Message, 0, (len(s.exchanges)-start)*2)
	for _, e := range s.exchanges[start:] {
		msgs = append(msgs, Message{Role: RoleUser, Content: e.user})
		msgs = append(msgs, Message{Role: RoleAssistant, Content: e.assistant})
	}
	return msgs
}

func (s *sessionMemory) add(user, assistant string) {
	s.exchanges = append(s.exchanges, exchange{user: user, assistant: assistant})
	if len(s.exchanges) > maxMemoryTurns {
		s.exchanges = s.exchanges[len(s.exchanges)-maxMemoryTurns:]
	}
}

// memoryStore partitions conversation memory by session id. Memory is
// in-process only and dropped with the session.
type memoryStore struct {
	mu       sync.Mutex
	sessions map[string]*sessionMemory
}

func newMemoryStore() *memoryStore {
	return &memoryStore{sessions: make(map[string]*sessionMemory)}
}

// session returns the memory for a session id, creating it on first use.
func (m *memoryStore) session(id string) *sessionMemory {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		s = &sessionMemory{}
		m.sessions[id] = s
	}
	return s
}

// drop discards all memory for a session id.
func (m *memoryStore) drop(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}
