package cache

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"
)

// Identifier 是源图的逻辑名称，对缓存而言是不透明字符串。
type Identifier string

func (id Identifier) String() string {
	return string(id)
}

// Operation 描述一次变换操作。IsNoOp 为 true 的操作不参与指纹计算。
type Operation interface {
	String() string
	IsNoOp() bool
}

// StringOperation 是以字符串表示的操作，空字符串视为 no-op。
type StringOperation string

func (o StringOperation) String() string {
	return string(o)
}

// IsNoOp 返回操作是否为空操作。
func (o StringOperation) IsNoOp() bool {
	return strings.TrimSpace(string(o)) == ""
}

// OperationList 由源图标识、有序变换列表与输出格式组成，唯一定位一个衍生图。
type OperationList struct {
	Identifier Identifier
	Operations []Operation
	Format     string
}

// String 返回衍生图指纹，例如 cats_crop300x300_jpg；对操作顺序敏感。
func (l OperationList) String() string {
	parts := make([]string, 0, len(l.Operations)+2)
	parts = append(parts, string(l.Identifier))
	for _, op := range l.effectiveOperations() {
		parts = append(parts, op.String())
	}
	if l.Format != "" {
		parts = append(parts, l.Format)
	}
	return strings.Join(parts, "_")
}

// Key 返回无歧义的指纹编码：各组成部分各自 JSON 转义，
// 因此 {a_b} 与 {a, [b]} 不会得到相同的 key。
func (l OperationList) Key() string {
	parts := make([]string, 0, len(l.Operations)+2)
	parts = append(parts, string(l.Identifier), l.Format)
	for _, op := range l.effectiveOperations() {
		parts = append(parts, op.String())
	}
	data, _ := json.Marshal(parts)
	return string(data)
}

func (l OperationList) effectiveOperations() []Operation {
	result := make([]Operation, 0, len(l.Operations))
	for _, op := range l.Operations {
		if op == nil || op.IsNoOp() {
			continue
		}
		result = append(result, op)
	}
	return result
}

// ImageInfo 描述单个子图（分辨率层级）的尺寸与切片大小。
type ImageInfo struct {
	Width       int `json:"width"`
	Height      int `json:"height"`
	TileWidth   int `json:"tileWidth"`
	TileHeight  int `json:"tileHeight"`
	Orientation int `json:"orientation,omitempty"`
}

// Info 是图像元数据记录，缓存只负责整体序列化，不理解其语义。
type Info struct {
	Identifier     Identifier  `json:"identifier"`
	MediaType      string      `json:"mediaType"`
	NumResolutions int         `json:"numResolutions"`
	Images         []ImageInfo `json:"images"`
	SerializedAt   time.Time   `json:"serializedAt"`
}

// Entry 表示一次缓存命中结果。内存后端的 FilePath 为空。
type Entry struct {
	Key       string    `json:"key"`
	FilePath  string    `json:"file_path,omitempty"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

// ReadResult 组合 Entry 与正文 Reader，调用方负责关闭 Reader。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

// InfoCache 管理 info 记录。
type InfoCache interface {
	// Info 返回缓存的 info 记录；未命中或已过期时返回 ErrNotFound（过期条目会被顺带删除）。
	Info(ctx context.Context, id Identifier) (*Info, error)

	// PutInfo 整体替换 info 记录，写入通过临时文件 + rename 保证原子性。
	PutInfo(ctx context.Context, id Identifier, info Info) error
}

// SourceCache 管理源图字节。
type SourceCache interface {
	NewSourceReader(ctx context.Context, id Identifier) (*ReadResult, error)

	// NewSourceWriter 返回写入句柄；同一 key 已有写入者时返回丢弃型 Writer。
	NewSourceWriter(ctx context.Context, id Identifier) (io.WriteCloser, error)

	// PurgeSource 只删除源图，info 与衍生图保留。
	PurgeSource(ctx context.Context, id Identifier) error
}

// DerivativeCache 管理衍生图字节。
type DerivativeCache interface {
	NewDerivativeReader(ctx context.Context, ops OperationList) (*ReadResult, error)

	// NewDerivativeWriter 返回写入句柄，Close 时把临时文件 rename 到规范路径。
	// 同一指纹已有写入者或全量清理进行中时返回丢弃型 Writer，这不是错误。
	NewDerivativeWriter(ctx context.Context, ops OperationList) (io.WriteCloser, error)

	PurgeDerivative(ctx context.Context, ops OperationList) error
}

// Cache 是所有后端需要满足的完整契约。
type Cache interface {
	InfoCache
	SourceCache
	DerivativeCache

	// Purge 删除 identifier 对应的源图、info 以及全部衍生图。全量清理进行中时直接返回。
	Purge(ctx context.Context, id Identifier) error
	// PurgeInfos 删除全部 info 记录。
	PurgeInfos(ctx context.Context) error
	// PurgeAll 清空全部存储区域；已有全量清理时直接返回。
	PurgeAll(ctx context.Context) error
	// PurgeExpired 删除超过 TTL 的条目，TTL 为 0 时不做任何事。
	PurgeExpired(ctx context.Context) error
	// Sweep 清理超过最小年龄的临时文件与空文件。
	Sweep(ctx context.Context) (SweepResult, error)

	Name() string
}

// SweepResult 汇总一次清扫或清理的结果，失败只计数不中断。
type SweepResult struct {
	Scanned int `json:"scanned"`
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")
