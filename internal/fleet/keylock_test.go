package fleet

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyLocksMutualExclusion(t *testing.T) {
	var l keyLocks
	var counter, max int32

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.lock("k-shared")
			defer l.unlock("k-shared")

			cur := atomic.AddInt32(&counter, 1)
			for {
				old := atomic.LoadInt32(&max)
				if cur <= old || atomic.CompareAndSwapInt32(&max, old, cur) {
					break
				}
			}
			atomic.AddInt32(&counter, -1)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&max))
}

func TestKeyLocksIndependentKeys(t *testing.T) {
	var l keyLocks
	l.lock("k-a")
	done := make(chan struct{})
	go func() {
		l.lock("k-b")
		l.unlock("k-b")
		close(done)
	}()
	<-done // a different key is never blocked
	l.unlock("k-a")
}
