// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build !windows

// Package hardlink reports how many directory entries reference a file on disk.
package hardlink

import (
	"os"
	"syscall"
)

// LinkCount returns the number of hard links to the file at path.
func LinkCount(path string) (uint64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		// Unexpected FileInfo implementation; treat as a single link.
		return 1, nil
	}
	return uint64(stat.Nlink), nil
}
