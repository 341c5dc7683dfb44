package cache

import (
	"bytes"
	"container/list"
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// BackendHeap 是内存后端在配置中的名称。
const BackendHeap = "heap"

// DefaultHeapMaxSize 是内存后端默认容量。
const DefaultHeapMaxSize int64 = 256 * 1024 * 1024

// HeapOptions 描述内存后端的构造参数。
type HeapOptions struct {
	MaxSize  int64
	TTL      time.Duration
	ExpireBy ExpireBy
	Logger   logrus.FieldLogger
	Metrics  *Metrics
	Now      func() time.Time
}

// HeapCache 把条目保存在进程内存中，按字节数做 LRU 淘汰。
// 写入同样经由 coordinator 去重，Close 时整体提交，读者不会看到半成品。
type HeapCache struct {
	mu       sync.Mutex
	maxBytes int64
	nbytes   int64
	ll       *list.List
	items    map[heapKey]*list.Element

	coord   *coordinator
	clock   expiryClock
	logger  logrus.FieldLogger
	metrics *Metrics
}

var _ Cache = (*HeapCache)(nil)

type heapKey struct {
	area Area
	key  string
}

type heapEntry struct {
	key        heapKey
	identifier Identifier
	data       []byte
	storedAt   time.Time
	accessedAt time.Time
}

// NewHeapCache 构造内存后端，MaxSize 非正数时使用默认容量。
func NewHeapCache(opts HeapOptions) *HeapCache {
	maxBytes := opts.MaxSize
	if maxBytes <= 0 {
		maxBytes = DefaultHeapMaxSize
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	expireBy := opts.ExpireBy
	if expireBy == "" {
		expireBy = ExpireByAccess
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &HeapCache{
		maxBytes: maxBytes,
		ll:       list.New(),
		items:    make(map[heapKey]*list.Element),
		coord:    newCoordinator(),
		clock:    expiryClock{ttl: opts.TTL, by: expireBy, now: now},
		logger:   logger.WithField("backend", BackendHeap),
		metrics:  opts.Metrics,
	}
}

func (c *HeapCache) Name() string {
	return BackendHeap
}

// Size 返回当前占用的字节数。
func (c *HeapCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nbytes
}

func (c *HeapCache) Info(ctx context.Context, id Identifier) (*Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, ok := c.get(heapKey{area: AreaInfo, key: string(id)})
	if !ok {
		c.metrics.miss(c.Name(), AreaInfo)
		return nil, ErrNotFound
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, ioError("decode_info", string(id), err)
	}
	c.metrics.hit(c.Name(), AreaInfo)
	return &info, nil
}

func (c *HeapCache) PutInfo(ctx context.Context, id Identifier, info Info) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.coord.beginInfoWrite(ctx); err != nil {
		return err
	}
	defer c.coord.endInfoWrite()

	key := string(id)
	if info.Identifier == "" {
		info.Identifier = id
	}
	if info.SerializedAt.IsZero() {
		info.SerializedAt = c.clock.now().UTC()
	}
	data, err := json.Marshal(info)
	if err != nil {
		return ioError("encode_info", key, err)
	}
	c.add(heapKey{area: AreaInfo, key: key}, id, data)
	c.metrics.write(c.Name(), AreaInfo)
	return nil
}

func (c *HeapCache) NewSourceReader(ctx context.Context, id Identifier) (*ReadResult, error) {
	return c.openReadable(ctx, heapKey{area: AreaSource, key: string(id)}, string(id))
}

func (c *HeapCache) NewSourceWriter(ctx context.Context, id Identifier) (io.WriteCloser, error) {
	return c.openWritable(ctx, heapKey{area: AreaSource, key: string(id)}, id)
}

func (c *HeapCache) NewDerivativeReader(ctx context.Context, ops OperationList) (*ReadResult, error) {
	return c.openReadable(ctx, heapKey{area: AreaDerivative, key: ops.Key()}, ops.String())
}

func (c *HeapCache) NewDerivativeWriter(ctx context.Context, ops OperationList) (io.WriteCloser, error) {
	return c.openWritable(ctx, heapKey{area: AreaDerivative, key: ops.Key()}, ops.Identifier)
}

// openReadable 按 key 查找条目，name 只用于 Entry.Key 的展示。
func (c *HeapCache) openReadable(ctx context.Context, key heapKey, name string) (*ReadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ele, ok := c.lookupLocked(key)
	if !ok {
		c.metrics.miss(c.Name(), key.area)
		return nil, ErrNotFound
	}
	entry := ele.Value.(*heapEntry)
	c.metrics.hit(c.Name(), key.area)
	return &ReadResult{
		Entry: Entry{
			Key:       name,
			SizeBytes: int64(len(entry.data)),
			ModTime:   entry.storedAt,
		},
		Reader: nopSeekCloser{bytes.NewReader(entry.data)},
	}, nil
}

func (c *HeapCache) openWritable(ctx context.Context, key heapKey, id Identifier) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.coord.tryBeginWrite(key.area, key.key) {
		c.metrics.discard(c.Name(), key.area)
		return discardWriter{}, nil
	}
	return &heapWriter{cache: c, key: key, identifier: id}, nil
}

func (c *HeapCache) get(key heapKey) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ele, ok := c.lookupLocked(key)
	if !ok {
		return nil, false
	}
	return ele.Value.(*heapEntry).data, true
}

// lookupLocked 查找条目并刷新 LRU 顺序；过期条目在这里被删除。
func (c *HeapCache) lookupLocked(key heapKey) (*list.Element, bool) {
	ele, ok := c.items[key]
	if !ok {
		return nil, false
	}
	entry := ele.Value.(*heapEntry)
	if c.expiredLocked(entry) {
		c.removeElementLocked(ele)
		c.metrics.expire(c.Name(), key.area)
		return nil, false
	}
	entry.accessedAt = c.clock.now()
	c.ll.MoveToFront(ele)
	return ele, true
}

func (c *HeapCache) expiredLocked(entry *heapEntry) bool {
	ref := entry.storedAt
	if c.clock.by == ExpireByAccess {
		ref = entry.accessedAt
	}
	return c.clock.expiredAt(ref)
}

func (c *HeapCache) add(key heapKey, id Identifier, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.now()
	if ele, ok := c.items[key]; ok {
		entry := ele.Value.(*heapEntry)
		c.nbytes += int64(len(data)) - int64(len(entry.data))
		entry.data = data
		entry.storedAt = now
		entry.accessedAt = now
		c.ll.MoveToFront(ele)
	} else {
		entry := &heapEntry{key: key, identifier: id, data: data, storedAt: now, accessedAt: now}
		c.items[key] = c.ll.PushFront(entry)
		c.nbytes += int64(len(key.key)) + int64(len(data))
	}
	for c.maxBytes < c.nbytes && c.ll.Len() > 0 {
		c.removeElementLocked(c.ll.Back())
	}
}

func (c *HeapCache) removeElementLocked(ele *list.Element) {
	entry := ele.Value.(*heapEntry)
	c.ll.Remove(ele)
	delete(c.items, entry.key)
	c.nbytes -= int64(len(entry.key.key)) + int64(len(entry.data))
}

// removeWhere 删除满足条件的条目并按区域计数。
func (c *HeapCache) removeWhere(match func(*heapEntry) bool) map[Area]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	counts := make(map[Area]int)
	for ele := c.ll.Front(); ele != nil; {
		next := ele.Next()
		entry := ele.Value.(*heapEntry)
		if match(entry) {
			c.removeElementLocked(ele)
			counts[entry.key.area]++
		}
		ele = next
	}
	return counts
}

func (c *HeapCache) Purge(ctx context.Context, id Identifier) error {
	key := "identifier:" + string(id)
	ok, err := c.coord.beginPurge(ctx, key)
	if err != nil || !ok {
		return err
	}
	defer c.coord.endPurge(key)

	for area, n := range c.removeWhere(func(e *heapEntry) bool { return e.identifier == id }) {
		c.metrics.purge(c.Name(), area, n)
	}
	return nil
}

func (c *HeapCache) PurgeSource(ctx context.Context, id Identifier) error {
	return c.purgeKey(ctx, heapKey{area: AreaSource, key: string(id)})
}

func (c *HeapCache) PurgeDerivative(ctx context.Context, ops OperationList) error {
	return c.purgeKey(ctx, heapKey{area: AreaDerivative, key: ops.Key()})
}

func (c *HeapCache) purgeKey(ctx context.Context, target heapKey) error {
	key := string(target.area) + ":" + target.key
	ok, err := c.coord.beginPurge(ctx, key)
	if err != nil || !ok {
		return err
	}
	defer c.coord.endPurge(key)

	counts := c.removeWhere(func(e *heapEntry) bool { return e.key == target })
	c.metrics.purge(c.Name(), target.area, counts[target.area])
	return nil
}

func (c *HeapCache) PurgeInfos(ctx context.Context) error {
	if c.coord.globalPurgeInProgress() {
		return nil
	}
	counts := c.removeWhere(func(e *heapEntry) bool { return e.key.area == AreaInfo })
	c.metrics.purge(c.Name(), AreaInfo, counts[AreaInfo])
	return nil
}

func (c *HeapCache) PurgeAll(ctx context.Context) error {
	ok, err := c.coord.beginPurgeAll(ctx)
	if err != nil || !ok {
		return err
	}
	defer c.coord.endPurgeAll()

	for area, n := range c.removeWhere(func(*heapEntry) bool { return true }) {
		c.metrics.purge(c.Name(), area, n)
	}
	c.logger.WithField("action", "purge_all").Info("cache_purged")
	return nil
}

func (c *HeapCache) PurgeExpired(ctx context.Context) error {
	if !c.clock.enabled() || c.coord.globalPurgeInProgress() {
		return nil
	}
	counts := c.removeWhere(c.expiredLocked)
	for area, n := range counts {
		c.metrics.expireN(c.Name(), area, n)
	}
	return nil
}

// Sweep 对内存后端没有临时文件可清理。
func (c *HeapCache) Sweep(context.Context) (SweepResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return SweepResult{Scanned: c.ll.Len()}, nil
}

// heapWriter 在内存中缓冲，Close 时把非空内容整体提交。
type heapWriter struct {
	cache      *HeapCache
	key        heapKey
	identifier Identifier
	buf        bytes.Buffer
	once       sync.Once
}

func (w *heapWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *heapWriter) Close() error {
	w.once.Do(func() {
		defer w.cache.coord.endWrite(w.key.area, w.key.key)
		if w.buf.Len() == 0 {
			return
		}
		data := append([]byte(nil), w.buf.Bytes()...)
		w.cache.add(w.key, w.identifier, data)
		w.cache.metrics.write(w.cache.Name(), w.key.area)
	})
	return nil
}

type nopSeekCloser struct {
	*bytes.Reader
}

func (nopSeekCloser) Close() error {
	return nil
}
