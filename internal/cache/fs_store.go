package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// BackendFilesystem 是文件系统后端在配置中的名称。
const BackendFilesystem = "filesystem"

// FilesystemOptions 描述文件系统后端的构造参数。
type FilesystemOptions struct {
	Root                string
	DirectoryDepth      int
	DirectoryNameLength int
	// TTL 为 0 表示条目永不过期。
	TTL             time.Duration
	ExpireBy        ExpireBy
	MinCleanableAge time.Duration
	Logger          logrus.FieldLogger
	Metrics         *Metrics
	Now             func() time.Time
}

// FilesystemCache 以 root/source、root/image、root/info 三个区域存放缓存，
// 仅依赖进程内簿记与文件 rename 协调并发。
type FilesystemCache struct {
	pather  Pather
	clock   expiryClock
	sweeper sweeper
	coord   *coordinator
	locks   *lockRegistry
	logger  logrus.FieldLogger
	metrics *Metrics
}

var _ Cache = (*FilesystemCache)(nil)

// NewFilesystemCache 校验根目录并创建三个区域目录。
func NewFilesystemCache(opts FilesystemOptions) (*FilesystemCache, error) {
	if strings.TrimSpace(opts.Root) == "" {
		return nil, configError("init", errors.New("cache root pathname required"))
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, configError("init", fmt.Errorf("resolve cache root: %w", err))
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("backend", BackendFilesystem)

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	minAge := opts.MinCleanableAge
	if minAge <= 0 {
		minAge = DefaultMinCleanableAge
	}
	expireBy := opts.ExpireBy
	if expireBy == "" {
		expireBy = ExpireByAccess
	}
	if expireBy == ExpireByAccess && opts.TTL > 0 && !AccessTimeSupported() {
		logger.WithField("action", "cache_init").
			Warn("access time unavailable on this platform, TTL falls back to modification time")
	}

	c := &FilesystemCache{
		pather:  NewPather(root, opts.DirectoryDepth, opts.DirectoryNameLength),
		clock:   expiryClock{ttl: opts.TTL, by: expireBy, now: now},
		sweeper: sweeper{minAge: minAge, now: now, logger: logger},
		coord:   newCoordinator(),
		locks:   newLockRegistry(),
		logger:  logger,
		metrics: opts.Metrics,
	}
	for _, area := range Areas {
		if err := os.MkdirAll(c.pather.AreaDir(area), 0o755); err != nil {
			return nil, ioError("init", c.pather.AreaDir(area), err)
		}
	}
	return c, nil
}

func (c *FilesystemCache) Name() string {
	return BackendFilesystem
}

// Pather 暴露路径编码器，便于诊断与测试。
func (c *FilesystemCache) Pather() Pather {
	return c.pather
}

func (c *FilesystemCache) Info(ctx context.Context, id Identifier) (*Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := c.pather.InfoPath(id)

	unlock := c.locks.RLock(string(id))
	data, expired, err := c.readInfoFile(path)
	unlock()

	switch {
	case errors.Is(err, ErrNotFound):
		c.metrics.miss(c.Name(), AreaInfo)
		return nil, ErrNotFound
	case err != nil:
		return nil, err
	case expired:
		c.removeExpiredInfo(id, path)
		c.metrics.miss(c.Name(), AreaInfo)
		return nil, ErrNotFound
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, ioError("decode_info", path, err)
	}
	c.metrics.hit(c.Name(), AreaInfo)
	return &info, nil
}

func (c *FilesystemCache) readInfoFile(path string) ([]byte, bool, error) {
	stat, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, ErrNotFound
		}
		return nil, false, ioError("stat_info", path, err)
	}
	if stat.IsDir() {
		return nil, false, ErrNotFound
	}
	if c.clock.expired(stat) {
		return nil, true, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, ErrNotFound
		}
		return nil, false, ioError("read_info", path, err)
	}
	return data, false, nil
}

// removeExpiredInfo 在写锁下重新确认过期后删除，避免误删刚被替换的新记录。
func (c *FilesystemCache) removeExpiredInfo(id Identifier, path string) {
	unlock := c.locks.Lock(string(id))
	defer unlock()

	stat, err := os.Stat(path)
	if err != nil || !c.clock.expired(stat) {
		return
	}
	if err := removeFile(path); err != nil {
		c.logger.WithError(err).WithField("path", path).Warn("cache_expired_remove_failed")
		return
	}
	c.metrics.expire(c.Name(), AreaInfo)
}

// PutInfo 整体替换 info 记录。同一 identifier 的写入在条目写锁下串行执行，后写者覆盖先写者。
func (c *FilesystemCache) PutInfo(ctx context.Context, id Identifier, info Info) error {
	if err := ctx.Err(); err != nil {
		return err
	}
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

	if err := c.coord.beginInfoWrite(ctx); err != nil {
		return err
	}
	release := c.coord.endInfoWrite

	unlock := c.locks.Lock(key)
	defer unlock()

	path := c.pather.InfoPath(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		release()
		return ioError("mkdir", filepath.Dir(path), err)
	}
	w, err := newAtomicWriter(path, c.logger, release, func(int64) { c.metrics.write(c.Name(), AreaInfo) })
	if err != nil {
		release()
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (c *FilesystemCache) NewSourceReader(ctx context.Context, id Identifier) (*ReadResult, error) {
	return c.openReadable(ctx, AreaSource, string(id), c.pather.SourcePath(id))
}

func (c *FilesystemCache) NewSourceWriter(ctx context.Context, id Identifier) (io.WriteCloser, error) {
	return c.openWritable(ctx, AreaSource, c.pather.SourcePath(id))
}

func (c *FilesystemCache) NewDerivativeReader(ctx context.Context, ops OperationList) (*ReadResult, error) {
	return c.openReadable(ctx, AreaDerivative, ops.String(), c.pather.DerivativePath(ops))
}

func (c *FilesystemCache) NewDerivativeWriter(ctx context.Context, ops OperationList) (io.WriteCloser, error) {
	return c.openWritable(ctx, AreaDerivative, c.pather.DerivativePath(ops))
}

func (c *FilesystemCache) openReadable(ctx context.Context, area Area, key, path string) (*ReadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stat, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.metrics.miss(c.Name(), area)
			return nil, ErrNotFound
		}
		return nil, ioError("stat", path, err)
	}
	if stat.IsDir() {
		c.metrics.miss(c.Name(), area)
		return nil, ErrNotFound
	}
	if c.clock.expired(stat) {
		// 正在写入的 key 会被 rename 覆盖，不必删除
		if !c.coord.isWriting(area, path) {
			if err := removeFile(path); err != nil {
				c.logger.WithError(err).WithField("path", path).Warn("cache_expired_remove_failed")
			} else {
				c.metrics.expire(c.Name(), area)
			}
		}
		c.metrics.miss(c.Name(), area)
		return nil, ErrNotFound
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.metrics.miss(c.Name(), area)
			return nil, ErrNotFound
		}
		return nil, ioError("open", path, err)
	}
	c.metrics.hit(c.Name(), area)
	return &ReadResult{
		Entry: Entry{
			Key:       key,
			FilePath:  path,
			SizeBytes: stat.Size(),
			ModTime:   stat.ModTime(),
		},
		Reader: f,
	}, nil
}

// openWritable 以规范路径作为写入登记的 key，指向同一文件的写入者才互相去重。
func (c *FilesystemCache) openWritable(ctx context.Context, area Area, path string) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.coord.tryBeginWrite(area, path) {
		c.metrics.discard(c.Name(), area)
		c.logger.WithFields(logrus.Fields{"area": area, "path": path}).Debug("cache_write_discarded")
		return discardWriter{}, nil
	}
	release := func() { c.coord.endWrite(area, path) }

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		release()
		return nil, ioError("mkdir", filepath.Dir(path), err)
	}
	w, err := newAtomicWriter(path, c.logger, release, func(int64) { c.metrics.write(c.Name(), area) })
	if err != nil {
		release()
		return nil, err
	}
	return w, nil
}

func (c *FilesystemCache) Purge(ctx context.Context, id Identifier) error {
	key := "identifier:" + string(id)
	ok, err := c.coord.beginPurge(ctx, key)
	if err != nil || !ok {
		return err
	}
	defer c.coord.endPurge(key)

	deleted := 0
	if c.removeBestEffort(c.pather.SourcePath(id)) {
		deleted++
		c.metrics.purge(c.Name(), AreaSource, 1)
	}

	unlock := c.locks.Lock(string(id))
	if c.removeBestEffort(c.pather.InfoPath(id)) {
		deleted++
		c.metrics.purge(c.Name(), AreaInfo, 1)
	}
	unlock()

	n, err := c.purgeDerivativesOf(id)
	deleted += n
	c.metrics.purge(c.Name(), AreaDerivative, n)

	c.logger.WithFields(logrus.Fields{
		"action":     "purge",
		"identifier": string(id),
		"deleted":    deleted,
	}).Info("cache_purged")
	return err
}

// purgeDerivativesOf 删除 identifier 分片目录中属于它的衍生图，跳过在途的临时文件。
func (c *FilesystemCache) purgeDerivativesOf(id Identifier) (int, error) {
	dir, prefixes := c.pather.DerivativePrefixes(id)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, ioError("list", dir, err)
	}
	deleted := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || IsTempFile(name) || !hasAnyPrefix(name, prefixes) {
			continue
		}
		if c.removeBestEffort(filepath.Join(dir, name)) {
			deleted++
		}
	}
	return deleted, nil
}

func (c *FilesystemCache) PurgeSource(ctx context.Context, id Identifier) error {
	path := c.pather.SourcePath(id)
	key := "source:" + path
	ok, err := c.coord.beginPurge(ctx, key)
	if err != nil || !ok {
		return err
	}
	defer c.coord.endPurge(key)

	if c.removeBestEffort(path) {
		c.metrics.purge(c.Name(), AreaSource, 1)
	}
	return nil
}

func (c *FilesystemCache) PurgeDerivative(ctx context.Context, ops OperationList) error {
	path := c.pather.DerivativePath(ops)
	key := "derivative:" + path
	ok, err := c.coord.beginPurge(ctx, key)
	if err != nil || !ok {
		return err
	}
	defer c.coord.endPurge(key)

	if c.removeBestEffort(path) {
		c.metrics.purge(c.Name(), AreaDerivative, 1)
	}
	return nil
}

func (c *FilesystemCache) PurgeInfos(ctx context.Context) error {
	if c.coord.globalPurgeInProgress() {
		return nil
	}
	deleted, err := c.clearArea(ctx, AreaInfo, false)
	c.metrics.purge(c.Name(), AreaInfo, deleted)
	c.logger.WithFields(logrus.Fields{"action": "purge_infos", "deleted": deleted}).Info("cache_purged")
	return err
}

// PurgeAll 在获得全量清理标记后并行清空三个区域，目录结构保留。
func (c *FilesystemCache) PurgeAll(ctx context.Context) error {
	ok, err := c.coord.beginPurgeAll(ctx)
	if err != nil || !ok {
		return err
	}
	defer c.coord.endPurgeAll()

	counts := make([]int, len(Areas))
	g, gctx := errgroup.WithContext(ctx)
	for i, area := range Areas {
		g.Go(func() error {
			n, err := c.clearArea(gctx, area, true)
			counts[i] = n
			return err
		})
	}
	err = g.Wait()

	total := 0
	for i, area := range Areas {
		total += counts[i]
		c.metrics.purge(c.Name(), area, counts[i])
	}
	c.logger.WithFields(logrus.Fields{"action": "purge_all", "deleted": total}).Info("cache_purged")
	return err
}

// clearArea 删除区域内的文件；includeTemp 为 false 时保留在途的临时文件。
func (c *FilesystemCache) clearArea(ctx context.Context, area Area, includeTemp bool) (int, error) {
	deleted := 0
	err := walkFiles(ctx, c.pather.AreaDir(area), c.logger, func(path string, info fs.FileInfo) {
		if !includeTemp && IsTempFile(info.Name()) {
			return
		}
		if c.removeBestEffort(path) {
			deleted++
		}
	})
	return deleted, err
}

func (c *FilesystemCache) PurgeExpired(ctx context.Context) error {
	if !c.clock.enabled() || c.coord.globalPurgeInProgress() {
		return nil
	}
	total := 0
	for _, area := range []Area{AreaDerivative, AreaInfo, AreaSource} {
		deleted := 0
		err := walkFiles(ctx, c.pather.AreaDir(area), c.logger, func(path string, info fs.FileInfo) {
			if IsTempFile(info.Name()) || !c.clock.expired(info) {
				return
			}
			if c.removeBestEffort(path) {
				deleted++
			}
		})
		c.metrics.expireN(c.Name(), area, deleted)
		total += deleted
		if err != nil {
			return err
		}
	}
	c.logger.WithFields(logrus.Fields{"action": "purge_expired", "deleted": total}).Info("cache_purged")
	return nil
}

func (c *FilesystemCache) Sweep(ctx context.Context) (SweepResult, error) {
	roots := make([]string, 0, len(Areas))
	for _, area := range Areas {
		roots = append(roots, c.pather.AreaDir(area))
	}
	result, err := c.sweeper.sweep(ctx, roots)
	c.metrics.sweep(c.Name(), result.Deleted)
	c.logger.WithFields(logrus.Fields{
		"action":  "sweep",
		"scanned": result.Scanned,
		"deleted": result.Deleted,
		"failed":  result.Failed,
	}).Info("cache_swept")
	return result, err
}

// removeBestEffort 删除文件并返回是否真正删除了一个文件；失败只记录日志。
func (c *FilesystemCache) removeBestEffort(path string) bool {
	if err := os.Remove(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.WithError(err).WithField("path", path).Warn("cache_remove_failed")
		}
		return false
	}
	return true
}

func hasAnyPrefix(name string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
