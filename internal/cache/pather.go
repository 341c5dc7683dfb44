package cache

import (
	"crypto/md5"
	"encoding/hex"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Area 表示缓存根目录下的一个存储区域。
type Area string

const (
	AreaSource     Area = "source"
	AreaDerivative Area = "image"
	AreaInfo       Area = "info"
)

// Areas 按固定顺序列出全部区域。
var Areas = []Area{AreaSource, AreaDerivative, AreaInfo}

const (
	// DefaultDirectoryDepth/DefaultDirectoryNameLength 是哈希子目录的默认层数与每层字符数。
	DefaultDirectoryDepth      = 3
	DefaultDirectoryNameLength = 2

	maxFilenameLength = 255
	infoExtension     = ".json"
	tempExtension     = ".tmp"
)

// tempSuffixLength 为 "_" + uuid + ".tmp" 预留长度，保证临时文件名也不超过 255 字节。
var tempSuffixLength = 1 + len(uuid.Nil.String()) + len(tempExtension)

var tempFilePattern = regexp.MustCompile(`_[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\.tmp$`)

// Pather 把缓存 key 映射为文件路径：root/<area>/<哈希目录>/<转义文件名>。
// 它没有共享状态，可以按值复制。
type Pather struct {
	Root       string
	Depth      int
	NameLength int
}

// NewPather 构造 Pather，depth/nameLength 非正数时使用默认值。
func NewPather(root string, depth, nameLength int) Pather {
	if depth <= 0 {
		depth = DefaultDirectoryDepth
	}
	if nameLength <= 0 {
		nameLength = DefaultDirectoryNameLength
	}
	return Pather{Root: root, Depth: depth, NameLength: nameLength}
}

// AreaDir 返回区域根目录。
func (p Pather) AreaDir(area Area) string {
	return filepath.Join(p.Root, string(area))
}

// HashedDir 返回 identifier 在指定区域下的分片目录。
func (p Pather) HashedDir(area Area, id Identifier) string {
	return filepath.Join(append([]string{p.AreaDir(area)}, p.hashSegments(string(id))...)...)
}

// hashSegments 将 MD5 十六进制摘要切分为 Depth 段、每段 NameLength 个字符。
// 摘要长度不足时剩余层级被丢弃。
func (p Pather) hashSegments(key string) []string {
	sum := md5.Sum([]byte(key))
	digest := hex.EncodeToString(sum[:])
	segments := make([]string, 0, p.Depth)
	for i := 0; i < p.Depth; i++ {
		start := i * p.NameLength
		end := start + p.NameLength
		if end > len(digest) {
			break
		}
		segments = append(segments, digest[start:end])
	}
	return segments
}

// SourcePath 返回源图文件路径（无扩展名）。
func (p Pather) SourcePath(id Identifier) string {
	name := truncateEscaped(EscapeFilename(string(id)), maxCanonicalLength(""))
	return filepath.Join(p.HashedDir(AreaSource, id), name)
}

// InfoPath 返回 info 记录路径。
func (p Pather) InfoPath(id Identifier) string {
	name := truncateEscaped(EscapeFilename(string(id)), maxCanonicalLength(infoExtension))
	return filepath.Join(p.HashedDir(AreaInfo, id), name+infoExtension)
}

// DerivativePath 返回衍生图路径。衍生图按 identifier 分片，同一源图的全部衍生图位于同一目录。
func (p Pather) DerivativePath(ops OperationList) string {
	ext := ""
	if ops.Format != "" {
		ext = "." + escapeExtension(ops.Format)
	}
	parts := []string{EscapeFilename(string(ops.Identifier))}
	for _, op := range ops.effectiveOperations() {
		parts = append(parts, EscapeFilename(op.String()))
	}
	stem := truncateEscaped(strings.Join(parts, "_"), maxCanonicalLength(ext))
	return filepath.Join(p.HashedDir(AreaDerivative, ops.Identifier), stem+ext)
}

// DerivativePrefixes 返回 identifier 的衍生图所在目录，以及衍生图文件名可能的前缀。
func (p Pather) DerivativePrefixes(id Identifier) (string, []string) {
	escaped := EscapeFilename(string(id))
	return p.HashedDir(AreaDerivative, id), []string{escaped + "_", escaped + "."}
}

func maxCanonicalLength(ext string) int {
	return maxFilenameLength - tempSuffixLength - len(ext)
}

// TempPath 在规范路径后追加每次调用唯一的 uuid 与 .tmp 扩展名。
func TempPath(canonical string) string {
	return canonical + "_" + uuid.NewString() + tempExtension
}

// IsTempFile 判断文件名是否符合临时文件命名规则。
func IsTempFile(name string) bool {
	return tempFilePattern.MatchString(filepath.Base(name))
}

// escapeExtension 转义衍生图扩展名。扩展名恰好是 tmp 时首字节也被转义，
// 这样规范文件名永远不会以 .tmp 结尾，不会被当成临时文件清扫。
func escapeExtension(format string) string {
	escaped := EscapeFilename(format)
	if escaped == tempExtension[1:] {
		return "%74" + escaped[1:]
	}
	return escaped
}

// EscapeFilename 将 [A-Za-z0-9_-] 之外的每个字节转义为 %XX，并截断到 255 字节。
// 截断不会拆开一个转义序列。
func EscapeFilename(s string) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isFilenameSafe(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0F])
	}
	return truncateEscaped(b.String(), maxFilenameLength)
}

// UnescapeFilename 是 EscapeFilename 的逆操作，非法转义原样保留。
func UnescapeFilename(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			if decoded, err := hex.DecodeString(s[i+1 : i+3]); err == nil {
				b.WriteByte(decoded[0])
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isFilenameSafe(c byte) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == '_' || c == '-'
}

func truncateEscaped(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	// 回退到转义序列开头，避免留下半个 %XX
	if idx := strings.LastIndexByte(s[:cut], '%'); idx >= 0 && idx > cut-3 {
		cut = idx
	}
	return s[:cut]
}
