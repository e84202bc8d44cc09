package coordination

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryStore 进程内协调存储实现（单实例模式和测试用）
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	windows map[string]*memoryWindow

	// 测试钩子：模拟存储不可达
	unavailable bool
}

type memoryEntry struct {
	value    string
	expireAt time.Time
}

type memoryWindow struct {
	events   map[string]time.Time
	expireAt time.Time
}

// NewMemoryStore 创建内存协调存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		windows: make(map[string]*memoryWindow),
	}
}

// SetUnavailable 模拟存储不可达（仅测试用）
func (s *MemoryStore) SetUnavailable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = v
}

func (s *MemoryStore) checkAvailable() error {
	if s.unavailable {
		return ErrUnavailable
	}
	return nil
}

// get 读取未过期的 entry，调用方需持有锁
func (s *MemoryStore) get(key string) (memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expireAt.IsZero() && time.Now().After(e.expireAt) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

func expireAt(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

// SetNX 当 key 不存在时写入
func (s *MemoryStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAvailable(); err != nil {
		return false, err
	}

	if _, exists := s.get(key); exists {
		return false, nil
	}
	s.entries[key] = memoryEntry{value: value, expireAt: expireAt(ttl)}
	return true, nil
}

// Get 读取 key
func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAvailable(); err != nil {
		return "", err
	}

	e, ok := s.get(key)
	if !ok {
		return "", nil
	}
	return e.value, nil
}

// CompareAndSwap 值匹配时替换并刷新 TTL
func (s *MemoryStore) CompareAndSwap(ctx context.Context, key, old, new string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAvailable(); err != nil {
		return false, err
	}

	e, ok := s.get(key)
	if !ok || e.value != old {
		return false, nil
	}
	s.entries[key] = memoryEntry{value: new, expireAt: expireAt(ttl)}
	return true, nil
}

// CompareAndDelete 值匹配时删除
func (s *MemoryStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAvailable(); err != nil {
		return false, err
	}

	e, ok := s.get(key)
	if !ok || e.value != value {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

// CompareAndExpire 值匹配时刷新 TTL
func (s *MemoryStore) CompareAndExpire(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAvailable(); err != nil {
		return false, err
	}

	e, ok := s.get(key)
	if !ok || e.value != value {
		return false, nil
	}
	e.expireAt = expireAt(ttl)
	s.entries[key] = e
	return true, nil
}

// Set 无条件写入
func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAvailable(); err != nil {
		return err
	}

	s.entries[key] = memoryEntry{value: value, expireAt: expireAt(ttl)}
	return nil
}

// Delete 删除 key
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAvailable(); err != nil {
		return err
	}

	delete(s.entries, key)
	return nil
}

// Increment 原子自增并刷新 TTL
func (s *MemoryStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAvailable(); err != nil {
		return 0, err
	}

	var n int64
	if e, ok := s.get(key); ok {
		n, _ = strconv.ParseInt(e.value, 10, 64)
	}
	n++
	s.entries[key] = memoryEntry{value: strconv.FormatInt(n, 10), expireAt: expireAt(ttl)}
	return n, nil
}

// WindowAdd 向滑动窗口追加事件
func (s *MemoryStore) WindowAdd(ctx context.Context, key, member string, at time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAvailable(); err != nil {
		return err
	}

	w, ok := s.windows[key]
	if !ok || (!w.expireAt.IsZero() && time.Now().After(w.expireAt)) {
		w = &memoryWindow{events: make(map[string]time.Time)}
		s.windows[key] = w
	}
	w.events[member] = at
	w.expireAt = expireAt(ttl)
	return nil
}

// WindowCount 清除过期事件后统计
func (s *MemoryStore) WindowCount(ctx context.Context, key string, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAvailable(); err != nil {
		return 0, err
	}

	w, ok := s.windows[key]
	if !ok {
		return 0, nil
	}
	for member, at := range w.events {
		if at.Before(since) {
			delete(w.events, member)
		}
	}
	return int64(len(w.events)), nil
}

// WindowOldest 返回窗口内最早事件的时间
func (s *MemoryStore) WindowOldest(ctx context.Context, key string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAvailable(); err != nil {
		return time.Time{}, err
	}

	w, ok := s.windows[key]
	if !ok {
		return time.Time{}, nil
	}
	var oldest time.Time
	for _, at := range w.events {
		if oldest.IsZero() || at.Before(oldest) {
			oldest = at
		}
	}
	return oldest, nil
}

// TTL 返回剩余存活时间
func (s *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAvailable(); err != nil {
		return 0, err
	}

	e, ok := s.get(key)
	if !ok || e.expireAt.IsZero() {
		return 0, nil
	}
	remaining := time.Until(e.expireAt)
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

// Ping 健康检查
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkAvailable()
}

// Close 关闭
func (s *MemoryStore) Close() error {
	return nil
}
