// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/appdock/services/appstore/datatypes"
)

func appKey(id string) []byte {
	return []byte(appKeyPrefix + id)
}

// GetApp returns the row for id, or datatypes.ErrAppNotFound.
func (s *Store) GetApp(id string) (*datatypes.App, error) {
	var app *datatypes.App

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(appKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			app = &datatypes.App{}
			return json.Unmarshal(val, app)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, datatypes.ErrAppNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get app %s: %w", id, err)
	}
	return app, nil
}

// ListApps returns all rows sorted by ID.
func (s *Store) ListApps() ([]*datatypes.App, error) {
	var apps []*datatypes.App

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(appKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				app := &datatypes.App{}
				if err := json.Unmarshal(val, app); err != nil {
					return err
				}
				apps = append(apps, app)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list apps: %w", err)
	}

	sort.Slice(apps, func(i, j int) bool { return apps[i].ID < apps[j].ID })
	return apps, nil
}

// PutApp upserts a row and bumps UpdatedAt. CreatedAt is set on first
// write when the caller left it zero.
func (s *Store) PutApp(app *datatypes.App) error {
	if app == nil || app.ID == "" {
		return errors.New("app with non-empty id is required")
	}
	if !app.Status.Valid() {
		return fmt.Errorf("undefined status %q for app %s", app.Status, app.ID)
	}

	now := time.Now().UTC()
	if app.CreatedAt.IsZero() {
		app.CreatedAt = now
	}
	app.UpdatedAt = now

	data, err := json.Marshal(app)
	if err != nil {
		return fmt.Errorf("marshal app %s: %w", app.ID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(appKey(app.ID), data)
	})
	if err != nil {
		return fmt.Errorf("put app %s: %w", app.ID, err)
	}
	return nil
}

// DeleteApp removes a row. Returns datatypes.ErrAppNotFound when the
// row does not exist.
func (s *Store) DeleteApp(id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(appKey(id)); err != nil {
			return err
		}
		return txn.Delete(appKey(id))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return datatypes.ErrAppNotFound
	}
	if err != nil {
		return fmt.Errorf("delete app %s: %w", id, err)
	}
	return nil
}

// SetStatusFrom conditionally moves an app from one status to another.
//
// The read and the write happen in one transaction: when the stored
// status is not `from` the call fails with datatypes.ErrStatusConflict
// and nothing is written. This is the guard that keeps two concurrent
// commands from both claiming the same app.
func (s *Store) SetStatusFrom(id string, from, to datatypes.AppStatus) (*datatypes.App, error) {
	if !from.Valid() || !to.Valid() {
		return nil, fmt.Errorf("undefined status transition %q -> %q", from, to)
	}

	var app *datatypes.App
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(appKey(id))
		if err != nil {
			return err
		}

		app = &datatypes.App{}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, app)
		}); err != nil {
			return err
		}

		if app.Status != from {
			return datatypes.ErrStatusConflict
		}

		app.Status = to
		app.UpdatedAt = time.Now().UTC()

		data, err := json.Marshal(app)
		if err != nil {
			return err
		}
		return txn.Set(appKey(id), data)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, datatypes.ErrAppNotFound
	}
	if errors.Is(err, datatypes.ErrStatusConflict) {
		return nil, err
	}
	if errors.Is(err, badger.ErrConflict) {
		// A concurrent transaction touched the row. Semantically the
		// same failure as a lost status race.
		return nil, datatypes.ErrStatusConflict
	}
	if err != nil {
		return nil, fmt.Errorf("set status of app %s: %w", id, err)
	}
	return app, nil
}

// SetStatus unconditionally writes an app's status. Used for settling
// an app into its terminal state at the end of an operation, where the
// transitional status was already claimed via SetStatusFrom.
func (s *Store) SetStatus(id string, to datatypes.AppStatus) (*datatypes.App, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("undefined status %q", to)
	}

	var app *datatypes.App
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(appKey(id))
		if err != nil {
			return err
		}

		app = &datatypes.App{}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, app)
		}); err != nil {
			return err
		}

		app.Status = to
		app.UpdatedAt = time.Now().UTC()

		data, err := json.Marshal(app)
		if err != nil {
			return err
		}
		return txn.Set(appKey(id), data)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, datatypes.ErrAppNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("set status of app %s: %w", id, err)
	}
	return app, nil
}

// TouchApp records a UI open: bumps NumOpened and LastOpened in one
// transaction.
func (s *Store) TouchApp(id string) (*datatypes.App, error) {
	var app *datatypes.App
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(appKey(id))
		if err != nil {
			return err
		}

		app = &datatypes.App{}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, app)
		}); err != nil {
			return err
		}

		now := time.Now().UTC()
		app.NumOpened++
		app.LastOpened = now
		app.UpdatedAt = now

		data, err := json.Marshal(app)
		if err != nil {
			return err
		}
		return txn.Set(appKey(id), data)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, datatypes.ErrAppNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("touch app %s: %w", id, err)
	}
	return app, nil
}
