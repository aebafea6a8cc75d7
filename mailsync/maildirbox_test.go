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
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMaildirAddAndExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Mail")
	m, err := NewMaildirMailbox(testConfig(), dir)
	if err != nil {
		t.Fatal(err)
	}

	for _, d := range []string{"cur", "new", "tmp"} {
		if _, err := os.Stat(filepath.Join(dir, d)); err != nil {
			t.Fatalf("Subdirectory %s missing: %s", d, err)
		}
	}

	body := []byte("From: a@example.com\r\n\r\nhello\r\n")
	location, err := m.Add(&LocalMessage{From: "a@example.com", Date: time.Now(), Body: body})
	if err != nil {
		t.Fatal(err)
	}

	if !m.Exists(location) {
		t.Fatalf("Added message \"%s\" not found", location)
	}
	if m.Exists("1397565555_19.22053.localhost") {
		t.Fatal("Unknown location reported as existing")
	}
	if !m.Exists(PoisonLocation("deadbeef")) {
		t.Fatal("Poisoned location reported as missing")
	}

	content, err := os.ReadFile(filepath.Join(dir, "cur", location+":2,"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != string(body) {
		t.Fatalf("Stored body differs: %q", content)
	}

	if files, _ := os.ReadDir(filepath.Join(dir, "tmp")); len(files) != 0 {
		t.Fatalf("tmp not empty after delivery: %d files", len(files))
	}
}

func TestMaildirExistsAcrossInstances(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Mail")
	m1, err := NewMaildirMailbox(testConfig(), dir)
	if err != nil {
		t.Fatal(err)
	}

	location, err := m1.Add(&LocalMessage{Body: []byte("x\n")})
	if err != nil {
		t.Fatal(err)
	}

	// A fresh instance scans the directories from scratch
	m2, err := NewMaildirMailbox(testConfig(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if !m2.Exists(location) {
		t.Fatalf("Message \"%s\" invisible to a second instance", location)
	}
}

func TestMaildirUniqueFilenames(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Mail")
	m, err := NewMaildirMailbox(testConfig(), dir)
	if err != nil {
		t.Fatal(err)
	}

	locations := make(map[string]bool)
	for i := 0; i < 20; i++ {
		location, err := m.Add(&LocalMessage{Body: []byte("x\n")})
		if err != nil {
			t.Fatal(err)
		}
		if locations[location] {
			t.Fatalf("Duplicate location \"%s\"", location)
		}
		locations[location] = true
	}
}

func TestMaildirSplitFilename(t *testing.T) {
	m, err := NewMaildirMailbox(testConfig(), filepath.Join(t.TempDir(), "Mail"))
	if err != nil {
		t.Fatal(err)
	}

	if f := m.splitFilename("1397565555_19.22053.localhost:2,ST"); f != "1397565555_19.22053.localhost" {
		t.Fatalf("Unexpected split result: \"%s\"", f)
	}
	if f := m.splitFilename("1397565555_19.22053.localhost"); f != "1397565555_19.22053.localhost" {
		t.Fatalf("Unexpected split result without flags: \"%s\"", f)
	}
}
