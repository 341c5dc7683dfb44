package cache

import "sync"

// lockRegistry 为每个 identifier 提供读写锁：不同 identifier 互不影响，
// 同一 identifier 的读共享、写互斥。锁按需创建，持有者与等待者归零后回收，
// 因此占用只与并发中的 identifier 数量相关。
type lockRegistry struct {
	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.RWMutex
	refs int
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[string]*entryLock)}
}

// RLock 获取读锁并返回释放函数。
func (r *lockRegistry) RLock(key string) func() {
	lock := r.acquire(key)
	lock.mu.RLock()
	return func() {
		lock.mu.RUnlock()
		r.release(key, lock)
	}
}

// Lock 获取写锁并返回释放函数。
func (r *lockRegistry) Lock(key string) func() {
	lock := r.acquire(key)
	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		r.release(key, lock)
	}
}

// size 返回当前登记的锁数量，仅供测试观察回收行为。
func (r *lockRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}

func (r *lockRegistry) acquire(key string) *entryLock {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock := r.locks[key]
	if lock == nil {
		lock = &entryLock{}
		r.locks[key] = lock
	}
	lock.refs++
	return lock
}

func (r *lockRegistry) release(key string, lock *entryLock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock.refs--
	if lock.refs == 0 && r.locks[key] == lock {
		delete(r.locks, key)
	}
}
