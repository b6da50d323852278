//go:build !windows

package main

func windowsFileCleanupDelay() {}
