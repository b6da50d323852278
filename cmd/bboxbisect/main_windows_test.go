//go:build windows

package main

import "time"

// windowsFileCleanupDelay 在 Windows 上稍作等待，确保文件句柄释放后再清理临时目录。
func windowsFileCleanupDelay() {
	time.Sleep(500 * time.Millisecond)
}
