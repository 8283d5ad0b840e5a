// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package diag emits the core's rare diagnostics.
package diag

import (
	"log/slog"
	"sync"
)

var (
	mu     sync.Mutex
	warned = map[string]bool{}
)

// WarnOnce logs msg at warning level the first time key is seen and
// never again for the lifetime of the process.
func WarnOnce(key, msg string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	if warned[key] {
		return
	}
	warned[key] = true
	slog.Warn(msg, args...)
}
