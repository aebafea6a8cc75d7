// imap2maildir
// Copyright (C) 2022 The imap2maildir authors
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, write to the Free Software Foundation, Inc.,
// 51 Franklin Street, Fifth Floor, Boston, MA 02110-1301 USA.

package mailsync

import (
	"database/sql"

	"github.com/aallamaa/imap2maildir/config"
	"github.com/aallamaa/imap2maildir/errors"
	"github.com/aallamaa/imap2maildir/log"
)

// SeenCache holds in-memory duplicates of the store indexes for the
// duration of one run. Both maps are filled by a single full store scan
// on the first lookup; after that lookups never touch the database.
// Writes issued through the engine are mirrored in so the cache stays
// consistent with the store for the rest of the run.
//
// Hash keys are the canonical lowercase hex fingerprint string, remote
// ids are typed uint32 keys. Comparing anything else invites the
// numeric/string mismatches a text database column allows.
type SeenCache struct {
	store      *SeenStore
	byHash     map[string]string
	byRemoteID map[uint32]string
	logger     *log.Logger
	e          *errors.Error
}

func NewSeenCache(globalconfig *config.Config, store *SeenStore) *SeenCache {
	logprefix := "seencache"
	return &SeenCache{
		store:  store,
		logger: log.GetLogger(logprefix, globalconfig.LogLevel),
		e:      errors.New(logprefix),
	}
}

func (c *SeenCache) populate() error {
	if c.byHash != nil {
		return nil
	}

	byHash := make(map[string]string)
	byRemoteID := make(map[uint32]string)
	err := c.store.ForEach(func(hash string, mailfile string, uid sql.NullInt64) {
		byHash[hash] = mailfile
		if uid.Valid {
			byRemoteID[uint32(uid.Int64)] = mailfile
		}
	})
	if err != nil {
		return c.e.E(err)
	}

	c.byHash = byHash
	c.byRemoteID = byRemoteID
	c.logger.Debugf("populated from store: %d records, %d with remote ids", len(byHash), len(byRemoteID))
	return nil
}

func (c *SeenCache) LookupByHash(hash string) (mailfile string, ok bool, err error) {
	if err = c.populate(); err != nil {
		return "", false, err
	}
	mailfile, ok = c.byHash[hash]
	return mailfile, ok, nil
}

func (c *SeenCache) LookupByRemoteID(uid uint32) (mailfile string, ok bool, err error) {
	if err = c.populate(); err != nil {
		return "", false, err
	}
	mailfile, ok = c.byRemoteID[uid]
	return mailfile, ok, nil
}

// Record mirrors a store Put. No-op before the first lookup populated the
// maps, the scan will pick the row up anyway.
func (c *SeenCache) Record(hash string, mailfile string, uid uint32) {
	if c.byHash == nil {
		return
	}
	c.byHash[hash] = mailfile
	c.byRemoteID[uid] = mailfile
}

// RecordRemoteID mirrors a store BackfillRemoteID.
func (c *SeenCache) RecordRemoteID(uid uint32, mailfile string) {
	if c.byRemoteID == nil {
		return
	}
	c.byRemoteID[uid] = mailfile
}
