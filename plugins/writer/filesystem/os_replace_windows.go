//go:build windows

package filesystem

import "os"

// osReplace: Windows 上 os.Rename 以 MOVEFILE_REPLACE_EXISTING 覆盖目标。
func osReplace(tmpPath, dest string) error {
	return os.Rename(tmpPath, dest)
}

// syncDir: Windows 无目录 fsync。
func syncDir(string) error { return nil }
