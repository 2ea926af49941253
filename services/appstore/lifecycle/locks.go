// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lifecycle

import (
	"sync"

	"github.com/AleutianAI/appdock/services/appstore/datatypes"
)

// appLocks is a keyed try-lock. One lifecycle command may hold an
// app's lock at a time; a second command fails fast instead of
// queueing, because the user-facing answer to "install while
// installing" is a conflict, not a wait.
type appLocks struct {
	mu     sync.Mutex
	locked map[string]bool
}

func newAppLocks() *appLocks {
	return &appLocks{locked: make(map[string]bool)}
}

// acquire claims the lock for appID. Returns
// datatypes.ErrOperationInProgress when another command holds it. The
// returned release function is idempotent.
func (l *appLocks) acquire(appID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.locked[appID] {
		return nil, datatypes.ErrOperationInProgress
	}
	l.locked[appID] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.locked, appID)
			l.mu.Unlock()
		})
	}, nil
}
