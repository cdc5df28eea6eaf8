package reviewcode

import (
	"context"
	"sync"
	"time"

	"github.com/alsseok01/babsang/internal/models"
)

type memEntry struct {
	code    models.ReviewCode
	expires time.Time
}

// Memory is the single-instance backend.
type Memory struct {
	mu    sync.Mutex
	codes map[string]memEntry
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{codes: map[string]memEntry{}, now: time.Now}
}

func (m *Memory) Put(_ context.Context, c models.ReviewCode, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.sweepLocked(now)
	if _, ok := m.codes[c.Code]; ok {
		return errTaken
	}
	m.codes[c.Code] = memEntry{code: c, expires: now.Add(ttl)}
	return nil
}

func (m *Memory) Take(_ context.Context, code string) (models.ReviewCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked(m.now())
	e, ok := m.codes[code]
	if !ok {
		return models.ReviewCode{}, ErrUnknownCode
	}
	delete(m.codes, code)
	return e.code, nil
}

func (m *Memory) sweepLocked(now time.Time) {
	for k, e := range m.codes {
		if !now.Before(e.expires) {
			delete(m.codes, k)
		}
	}
}
