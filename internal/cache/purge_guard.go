package cache

import "context"

// beginPurgeAll 抢占全量清理标记。已有全量清理时返回 false（调用方直接返回，不算错误）。
// 标记先于等待设置，因此等待期间新的选择性清理直接让路、新的写入拿到丢弃型 Writer；
// 随后阻塞到在途的选择性清理与写入全部结束。ctx 结束时撤销标记。
func (c *coordinator) beginPurgeAll(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.purgingAll {
		return false, nil
	}
	c.purgingAll = true
	err := c.waitLocked(ctx, func() bool {
		return len(c.purging) == 0 && c.writesIdleLocked()
	})
	if err != nil {
		c.purgingAll = false
		c.broadcastLocked()
		return false, err
	}
	return true, nil
}

func (c *coordinator) endPurgeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgingAll = false
	c.broadcastLocked()
}

// beginPurge 登记对 key 的选择性清理。全量清理进行中时返回 false，全量清理会顺带删除该条目；
// 同一 key 正被其他 goroutine 清理时阻塞等待。
func (c *coordinator) beginPurge(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.purgingAll {
		return false, nil
	}
	err := c.waitLocked(ctx, func() bool {
		_, busy := c.purging[key]
		return !busy || c.purgingAll
	})
	if err != nil {
		return false, err
	}
	if c.purgingAll {
		return false, nil
	}
	c.purging[key] = struct{}{}
	return true, nil
}

func (c *coordinator) endPurge(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.purging, key)
	c.broadcastLocked()
}

// globalPurgeInProgress 供 PurgeExpired/PurgeInfos 判断是否需要让路。
func (c *coordinator) globalPurgeInProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.purgingAll
}
