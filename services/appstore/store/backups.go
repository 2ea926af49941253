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

func backupKey(appID, backupID string) []byte {
	return []byte(backupKeyPrefix + appID + "/" + backupID)
}

func backupPrefix(appID string) []byte {
	return []byte(backupKeyPrefix + appID + "/")
}

// PutBackup inserts a backup row. Rows are immutable; writing an
// existing ID is an error.
func (s *Store) PutBackup(b *datatypes.Backup) error {
	if b == nil || b.ID == "" || b.AppID == "" {
		return errors.New("backup with non-empty id and app id is required")
	}

	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = b.CreatedAt

	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal backup %s: %w", b.ID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		key := backupKey(b.AppID, b.ID)
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("backup %s already exists", b.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("put backup %s: %w", b.ID, err)
	}
	return nil
}

// GetBackup returns one backup row, or datatypes.ErrBackupNotFound.
func (s *Store) GetBackup(appID, backupID string) (*datatypes.Backup, error) {
	var b *datatypes.Backup

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(backupKey(appID, backupID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			b = &datatypes.Backup{}
			return json.Unmarshal(val, b)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, datatypes.ErrBackupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get backup %s: %w", backupID, err)
	}
	return b, nil
}

// ListBackups returns one page of an app's backups, newest first.
//
// page is 1-based; out-of-range pages return an empty Data slice with
// accurate Total and PageCount so clients can clamp.
func (s *Store) ListBackups(appID string, page, pageSize int) (*datatypes.BackupPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}

	var all []datatypes.Backup
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = backupPrefix(appID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var b datatypes.Backup
				if err := json.Unmarshal(val, &b); err != nil {
					return err
				}
				all = append(all, b)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list backups for %s: %w", appID, err)
	}

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	total := len(all)
	pageCount := (total + pageSize - 1) / pageSize
	if pageCount == 0 {
		pageCount = 1
	}

	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	return &datatypes.BackupPage{
		Total:     total,
		PageCount: pageCount,
		Data:      all[start:end],
	}, nil
}

// DeleteBackup removes one backup row. Returns
// datatypes.ErrBackupNotFound when the row does not exist.
func (s *Store) DeleteBackup(appID, backupID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		key := backupKey(appID, backupID)
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return datatypes.ErrBackupNotFound
	}
	if err != nil {
		return fmt.Errorf("delete backup %s: %w", backupID, err)
	}
	return nil
}

// DeleteAppBackups removes every backup row for an app. Used by
// uninstall when the operator opts to discard backups, and by backup
// retention.
func (s *Store) DeleteAppBackups(appID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = backupPrefix(appID)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete backups for %s: %w", appID, err)
	}
	return nil
}
