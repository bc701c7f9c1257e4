package service

import (
	"fmt"
	"sync"

	"github.com/noah-isme/course-score-api/internal/models"
)

// scopeLocker serializes work per key while unrelated keys proceed concurrently.
// Entries are reference counted and dropped once no goroutine holds or waits on them.
type scopeLocker struct {
	mu    sync.Mutex
	locks map[string]*scopeLock
}

type scopeLock struct {
	mu   sync.Mutex
	refs int
}

func newScopeLocker() *scopeLocker {
	return &scopeLocker{locks: make(map[string]*scopeLock)}
}

// Lock blocks until key is free and returns the matching unlock func.
func (l *scopeLocker) Lock(key string) func() {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &scopeLock{}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

func (l *scopeLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func rankingKey(courseID string, examType models.ExamType) string {
	return fmt.Sprintf("rank:%s:%s", courseID, examType)
}

func courseFinalKey(studentID, courseID string) string {
	return fmt.Sprintf("final:%s:%s", studentID, courseID)
}

func studentFinalKey(studentID string) string {
	return "student:" + studentID
}
