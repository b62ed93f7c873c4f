package auth

import "sync"

// LoadingTracker reference-counts in-flight requests and reports when the
// aggregate flips between idle and busy.
type LoadingTracker struct {
	mu       sync.Mutex
	count    int
	onChange func(loading bool)
}

func NewLoadingTracker(onChange func(loading bool)) *LoadingTracker {
	return &LoadingTracker{onChange: onChange}
}

func (l *LoadingTracker) Begin() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count++
	if l.count == 1 && l.onChange != nil {
		l.onChange(true)
	}
}

func (l *LoadingTracker) End() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count == 0 {
		return
	}
	l.count--
	if l.count == 0 && l.onChange != nil {
		l.onChange(false)
	}
}

func (l *LoadingTracker) Active() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count > 0
}
