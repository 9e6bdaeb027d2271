package fleet

import "sync"

// keyLocks serializes fan-outs touching the same key email. Two
// concurrent operations on one key must not interleave their panel
// writes; operations on different keys proceed in parallel.
type keyLocks struct {
	m sync.Map // email -> chan struct{}, closed on release
}

func (l *keyLocks) lock(key string) {
	for {
		ch := make(chan struct{})
		actual, loaded := l.m.LoadOrStore(key, ch)
		if !loaded {
			return
		}
		<-actual.(chan struct{})
	}
}

func (l *keyLocks) unlock(key string) {
	v, ok := l.m.LoadAndDelete(key)
	if ok {
		close(v.(chan struct{}))
	}
}
