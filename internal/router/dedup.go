package router

import "sync"

// Deduplicator 记录正在处理中的请求 ID，同一 ID 在处理完成前只会被接纳一次
type Deduplicator struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewDeduplicator() *Deduplicator {
	return &Deduplicator{inFlight: make(map[string]struct{})}
}

// Admit 请求 ID 未在处理中时登记并返回 true
func (d *Deduplicator) Admit(requestID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.inFlight[requestID]; ok {
		return false
	}
	d.inFlight[requestID] = struct{}{}
	return true
}

// Release 移除请求 ID，之后相同 ID 可再次被接纳
func (d *Deduplicator) Release(requestID string) {
	d.mu.Lock()
	delete(d.inFlight, requestID)
	d.mu.Unlock()
}

// Len 正在处理中的请求数
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inFlight)
}
