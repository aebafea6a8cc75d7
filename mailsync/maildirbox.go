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
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aallamaa/imap2maildir/config"
	"github.com/aallamaa/imap2maildir/errors"
	"github.com/aallamaa/imap2maildir/log"
)

// MaildirMailbox stores messages as one file each under cur/ and new/.
// Locations are the unique part of the filename, without the flags
// suffix. No write lock is needed, filename uniqueness makes concurrent
// writers safe.
type MaildirMailbox struct {
	maildir       string
	keys          map[string]bool
	lastScan      time.Time
	lastTime      int64
	lastTimeSeq   uint32
	infoSeparator rune
	logger        *log.Logger
	e             *errors.Error
}

func NewMaildirMailbox(globalconfig *config.Config, maildir string) (m *MaildirMailbox, err error) {
	logprefix := fmt.Sprintf("maildir: %s", maildir)
	errprefix := logprefix
	logger := log.GetLogger(logprefix, globalconfig.LogLevel)
	e := errors.New(errprefix)

	for _, d := range []string{"cur", "new", "tmp"} {
		if err = os.MkdirAll(filepath.Join(maildir, d), 0777); err != nil {
			return nil, e.E(err)
		}
	}

	m = &MaildirMailbox{
		maildir:       maildir,
		infoSeparator: ':', // TODO At the moment I don't care for filesystems not accepting colon in filenames
		logger:        logger,
		e:             e,
	}

	return m, nil
}

func (m *MaildirMailbox) getTimeSeq() (int64, uint32) {
	curtime := time.Now().Unix()

	if curtime == m.lastTime {
		m.lastTimeSeq++
	} else {
		m.lastTime = curtime
		m.lastTimeSeq = 0
	}

	return curtime, m.lastTimeSeq
}

func (m *MaildirMailbox) generateFilename() (string, error) {
	time, timeseq := m.getTimeSeq()
	hostname, err := os.Hostname()
	if err != nil {
		m.logger.Debug("Error getting hostname")
		return "", err
	}
	filename := fmt.Sprintf("%d_%d.%d.%s", time, timeseq, os.Getpid(), hostname)
	return filename, nil
}

// splitFilename returns the unique part of a maildir filename, stripping
// the flags suffix if present.
func (m *MaildirMailbox) splitFilename(fullfilename string) string {
	if i := strings.IndexRune(fullfilename, m.infoSeparator); i >= 0 {
		return fullfilename[:i]
	}
	return fullfilename
}

// refreshListing rescans cur and new only when one of them changed since
// the last scan. The worst case staleness window is the filesystem
// timestamp resolution, acceptable since every write in a run goes
// through this same adapter.
func (m *MaildirMailbox) refreshListing() error {
	if m.keys != nil && !m.lastScan.IsZero() {
		changed := false
		for _, d := range []string{"cur", "new"} {
			fi, err := os.Stat(filepath.Join(m.maildir, d))
			if err != nil {
				return m.e.E(err)
			}
			if fi.ModTime().After(m.lastScan) {
				changed = true
			}
		}
		if !changed {
			return nil
		}
	}

	scanstart := time.Now()
	keys := make(map[string]bool)
	for _, d := range []string{"cur", "new"} {
		f, err := os.Open(filepath.Join(m.maildir, d))
		if err != nil {
			return m.e.E(err)
		}
		filenames, err := f.Readdirnames(0)
		f.Close()
		if err != nil {
			return m.e.E(err)
		}

		for _, n := range filenames {
			keys[m.splitFilename(n)] = true
		}
	}

	m.keys = keys
	m.lastScan = scanstart
	m.logger.Debugf("listing refreshed: %d messages", len(keys))
	return nil
}

func (m *MaildirMailbox) Exists(location string) bool {
	if IsPoisoned(location) {
		return true
	}

	if err := m.refreshListing(); err != nil {
		m.logger.Errorf("listing refresh failed: %s", err)
		return false
	}
	return m.keys[location]
}

func (m *MaildirMailbox) Add(msg *LocalMessage) (string, error) {
	filename, err := m.generateFilename()
	if err != nil {
		return "", m.e.E(err)
	}

	fullfilename := filename + string(m.infoSeparator) + "2,"
	tmpfilepath := filepath.Join(m.maildir, "tmp", fullfilename)
	curfilepath := filepath.Join(m.maildir, "cur", fullfilename)

	fo, err := os.Create(tmpfilepath)
	if err != nil {
		return "", m.e.E(err)
	}

	w := bufio.NewWriter(fo)
	if _, err = w.Write(msg.Body); err != nil {
		fo.Close()
		return "", m.e.E(err)
	}
	if err = w.Flush(); err != nil {
		fo.Close()
		return "", m.e.E(err)
	}
	if err = fo.Sync(); err != nil {
		fo.Close()
		return "", m.e.E(err)
	}
	if err = fo.Close(); err != nil {
		return "", m.e.E(err)
	}

	if err = os.Rename(tmpfilepath, curfilepath); err != nil {
		return "", m.e.E(err)
	}

	// Invalidate the cached listing so the next existence check rescans
	m.lastScan = time.Time{}

	return filename, nil
}

func (m *MaildirMailbox) Lock() (err error) {
	return
}

func (m *MaildirMailbox) Unlock() (err error) {
	return
}

func (m *MaildirMailbox) Close() (err error) {
	return
}
