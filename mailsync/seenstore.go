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
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/aallamaa/imap2maildir/config"
	"github.com/aallamaa/imap2maildir/errors"
	"github.com/aallamaa/imap2maildir/log"
)

var (
	// ErrStorageUnavailable means the record store cannot be opened or
	// migrated. Fatal, nothing is processed.
	ErrStorageUnavailable = fmt.Errorf("record store unavailable")

	// ErrNotFound means a backfill targeted a hash absent from the
	// store. Given the lookups preceding every backfill this signals a
	// programming defect, not a recoverable condition.
	ErrNotFound = fmt.Errorf("record not found")
)

// SeenStore is the durable record of every message ever copied (or
// poisoned). One row per distinct message hash in a sqlite database
// colocated with the mailbox.
type SeenStore struct {
	path     string
	db       *sql.DB
	activeTx *sql.Tx
	logger   *log.Logger
	e        *errors.Error
}

// OpenSeenStore opens or creates the seenmessages table at dbpath. A
// table created before remote id tracking is migrated in place by adding
// the uid column, existing rows keep a null uid until backfilled.
func OpenSeenStore(globalconfig *config.Config, dbpath string) (s *SeenStore, err error) {
	logprefix := fmt.Sprintf("seenstore: %s", dbpath)
	errprefix := logprefix
	logger := log.GetLogger(logprefix, globalconfig.LogLevel)
	e := errors.New(errprefix)

	db, err := sql.Open("sqlite3", dbpath)
	if err != nil {
		return nil, e.E(fmt.Errorf("%w: %s", ErrStorageUnavailable, err))
	}

	sqlstmt := `create table if not exists seenmessages (hash text unique not null, mailfile text not null, uid integer);`
	if _, err = db.Exec(sqlstmt); err != nil {
		logger.Errorf("%q: %s", err, sqlstmt)
		db.Close()
		return nil, e.E(fmt.Errorf("%w: %s", ErrStorageUnavailable, err))
	}

	s = &SeenStore{
		path:   dbpath,
		db:     db,
		logger: logger,
		e:      e,
	}

	if err = s.migrate(); err != nil {
		db.Close()
		return nil, e.E(fmt.Errorf("%w: %s", ErrStorageUnavailable, err))
	}

	return s, nil
}

// migrate adds the uid column to a table created before remote ids were
// tracked. Additive only, no data loss.
func (s *SeenStore) migrate() (err error) {
	rows, err := s.db.Query("pragma table_info(seenmessages)")
	if err != nil {
		return err
	}
	defer rows.Close()

	hasUID := false
	for rows.Next() {
		var cid, notnull, pk int
		var name, ctype string
		var dflt sql.NullString
		if err = rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return err
		}
		if name == "uid" {
			hasUID = true
		}
	}
	if err = rows.Err(); err != nil {
		return err
	}

	if !hasUID {
		s.logger.Infof("migrating seenmessages table: adding uid column")
		_, err = s.db.Exec("alter table seenmessages add column uid integer")
	}
	return err
}

func (s *SeenStore) LookupByHash(hash string) (mailfile string, ok bool, err error) {
	err = s.db.QueryRow("select mailfile from seenmessages where hash = ?", hash).Scan(&mailfile)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, s.e.E(err)
	}
	return mailfile, true, nil
}

func (s *SeenStore) LookupByRemoteID(uid uint32) (mailfile string, ok bool, err error) {
	err = s.db.QueryRow("select mailfile from seenmessages where uid = ?", uid).Scan(&mailfile)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, s.e.E(err)
	}
	return mailfile, true, nil
}

// Put upserts the record for hash. An existing row for the same hash is
// deleted first, last write wins. The transaction is committed before
// returning so partial progress survives a crash.
func (s *SeenStore) Put(hash string, mailfile string, uid uint32) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return s.e.E(err)
	}
	s.activeTx = tx

	if _, err = tx.Exec("delete from seenmessages where hash = ?", hash); err != nil {
		tx.Rollback()
		s.activeTx = nil
		return s.e.E(err)
	}
	if _, err = tx.Exec("insert into seenmessages(hash, mailfile, uid) values (?, ?, ?)", hash, mailfile, uid); err != nil {
		tx.Rollback()
		s.activeTx = nil
		return s.e.E(err)
	}

	err = tx.Commit()
	s.activeTx = nil
	return s.e.E(err)
}

// BackfillRemoteID sets the remote id on the existing row for hash,
// without touching its location.
func (s *SeenStore) BackfillRemoteID(hash string, uid uint32) (err error) {
	res, err := s.db.Exec("update seenmessages set uid = ? where hash = ?", uid, hash)
	if err != nil {
		return s.e.E(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.e.E(err)
	}
	if n == 0 {
		return s.e.E(fmt.Errorf("%w: no record for hash %s", ErrNotFound, hash))
	}
	return nil
}

// ForEach runs fn over every record. Used to populate the lookup cache.
func (s *SeenStore) ForEach(fn func(hash string, mailfile string, uid sql.NullInt64)) (err error) {
	rows, err := s.db.Query("select hash, mailfile, uid from seenmessages")
	if err != nil {
		return s.e.E(err)
	}
	defer rows.Close()

	for rows.Next() {
		var hash, mailfile string
		var uid sql.NullInt64
		if err = rows.Scan(&hash, &mailfile, &uid); err != nil {
			return s.e.E(err)
		}
		fn(hash, mailfile, uid)
	}
	return s.e.E(rows.Err())
}

// Rollback aborts the active uncommitted transaction. Safe to call when
// none is active, which is the normal case since Put commits per call.
func (s *SeenStore) Rollback() (err error) {
	if s.activeTx == nil {
		return nil
	}
	err = s.activeTx.Rollback()
	s.activeTx = nil
	return s.e.E(err)
}

func (s *SeenStore) Close() (err error) {
	return s.db.Close()
}
