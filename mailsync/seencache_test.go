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
	"testing"
)

func TestSeenCacheLazyPopulate(t *testing.T) {
	s := openTestStore(t)
	if err := s.Put("hash1", "file1", 10); err != nil {
		t.Fatal(err)
	}

	c := NewSeenCache(testConfig(), s)
	if c.byHash != nil {
		t.Fatal("Cache populated before the first lookup")
	}

	mailfile, ok, err := c.LookupByHash("hash1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || mailfile != "file1" {
		t.Fatalf("Expected mailfile \"file1\", found \"%s\" (ok: %t)", mailfile, ok)
	}

	mailfile, ok, err = c.LookupByRemoteID(10)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || mailfile != "file1" {
		t.Fatalf("Expected mailfile \"file1\", found \"%s\" (ok: %t)", mailfile, ok)
	}

	// Rows written behind the populated cache's back are invisible, the
	// engine mirrors its writes instead
	if err = s.Put("hash2", "file2", 20); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ = c.LookupByHash("hash2"); ok {
		t.Fatal("Populated cache saw a row it was never told about")
	}
}

func TestSeenCacheRecordMirrors(t *testing.T) {
	s := openTestStore(t)
	c := NewSeenCache(testConfig(), s)

	// Populate on empty store
	if _, ok, err := c.LookupByHash("hash1"); err != nil || ok {
		t.Fatalf("Unexpected lookup result on empty store (ok: %t, err: %s)", ok, err)
	}

	c.Record("hash1", "file1", 10)

	mailfile, ok, err := c.LookupByHash("hash1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || mailfile != "file1" {
		t.Fatalf("Mirrored write not visible: \"%s\" (ok: %t)", mailfile, ok)
	}
	if mailfile, ok, _ = c.LookupByRemoteID(10); !ok || mailfile != "file1" {
		t.Fatalf("Mirrored write not visible by remote id: \"%s\" (ok: %t)", mailfile, ok)
	}

	c.RecordRemoteID(20, "file1")
	if _, ok, _ = c.LookupByRemoteID(20); !ok {
		t.Fatal("Mirrored backfill not visible")
	}
}

func TestSeenCacheNullRemoteID(t *testing.T) {
	s := openTestStore(t)

	// Simulate a migrated row with no remote id
	if _, err := s.db.Exec("insert into seenmessages(hash, mailfile) values ('oldhash', 'oldfile')"); err != nil {
		t.Fatal(err)
	}

	c := NewSeenCache(testConfig(), s)

	mailfile, ok, err := c.LookupByHash("oldhash")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || mailfile != "oldfile" {
		t.Fatalf("Expected mailfile \"oldfile\", found \"%s\" (ok: %t)", mailfile, ok)
	}
	if len(c.byRemoteID) != 0 {
		t.Fatalf("Null uid row indexed by remote id: %v", c.byRemoteID)
	}
}
