//go:build !linux && !darwin

package cache

import (
	"io/fs"
	"time"
)

const accessTimeSupported = false

func accessTime(fs.FileInfo) (time.Time, bool) {
	return time.Time{}, false
}
