//go:build !linux

package frames

import (
	"os"
	"time"
)

func fileTime(_ string, info os.FileInfo) time.Time {
	return info.ModTime()
}
