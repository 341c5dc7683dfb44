package cache

import (
	"context"
	"sync"
)

// coordinator 保存进程内全部跨 goroutine 共享的簿记：各区域正在写入的 key、
// 在途的 info 写入数、正在选择性清理的 key 以及全量清理标记。所有状态由同一把 mu 保护，
// 状态变化时关闭 changed 并换新，等待方在醒来后重新检查条件。
// 流式写入按规范路径登记；info 写入不去重，只计数，由 lockRegistry 串行化。
type coordinator struct {
	mu          sync.Mutex
	changed     chan struct{}
	writing     map[Area]map[string]struct{}
	infoWriters int
	purging     map[string]struct{}
	purgingAll  bool
}

func newCoordinator() *coordinator {
	c := &coordinator{
		changed: make(chan struct{}),
		writing: make(map[Area]map[string]struct{}, len(Areas)),
		purging: make(map[string]struct{}),
	}
	for _, area := range Areas {
		c.writing[area] = make(map[string]struct{})
	}
	return c
}

func (c *coordinator) broadcastLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// waitLocked 在持有 mu 时调用，阻塞直到 ready() 成立或 ctx 结束；返回时仍持有 mu。
func (c *coordinator) waitLocked(ctx context.Context, ready func() bool) error {
	for !ready() {
		ch := c.changed
		c.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			c.mu.Lock()
			return ctx.Err()
		}
		c.mu.Lock()
	}
	return nil
}

// tryBeginWrite 登记 key 为该区域的首个写入者。key 已在写入或全量清理进行中时返回 false，
// 调用方应改用丢弃型 Writer，不阻塞。
func (c *coordinator) tryBeginWrite(area Area, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.purgingAll {
		return false
	}
	set := c.writing[area]
	if _, exists := set[key]; exists {
		return false
	}
	set[key] = struct{}{}
	return true
}

func (c *coordinator) endWrite(area Area, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.writing[area], key)
	c.broadcastLocked()
}

// beginInfoWrite 登记一次 info 写入。全量清理进行中时阻塞到清理结束，
// 之后的写入不会被清理吞掉。
func (c *coordinator) beginInfoWrite(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.waitLocked(ctx, func() bool { return !c.purgingAll }); err != nil {
		return err
	}
	c.infoWriters++
	return nil
}

func (c *coordinator) endInfoWrite() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.infoWriters--
	c.broadcastLocked()
}

func (c *coordinator) isWriting(area Area, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.writing[area][key]
	return ok
}

func (c *coordinator) writesIdleLocked() bool {
	if c.infoWriters > 0 {
		return false
	}
	for _, set := range c.writing {
		if len(set) > 0 {
			return false
		}
	}
	return true
}
