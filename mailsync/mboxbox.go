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
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aallamaa/imap2maildir/config"
	"github.com/aallamaa/imap2maildir/errors"
	"github.com/aallamaa/imap2maildir/log"
)

// MboxMailbox stores messages concatenated in a single file, each
// introduced by a "From " separator line. Locations are the decimal
// message index in append order. A dotlock file guards the whole run
// against concurrent writers.
type MboxMailbox struct {
	path     string
	lockpath string
	locked   bool
	count    int
	scanned  bool
	lastScan time.Time
	logger   *log.Logger
	e        *errors.Error
}

func NewMboxMailbox(globalconfig *config.Config, path string) (m *MboxMailbox, err error) {
	logprefix := fmt.Sprintf("mbox: %s", path)
	errprefix := logprefix
	logger := log.GetLogger(logprefix, globalconfig.LogLevel)
	e := errors.New(errprefix)

	m = &MboxMailbox{
		path:     path,
		lockpath: path + ".lock",
		logger:   logger,
		e:        e,
	}

	return m, nil
}

// refreshCount rescans the file only when it changed since the last
// scan. A missing file counts as an empty mailbox, it is created on the
// first append.
func (m *MboxMailbox) refreshCount() error {
	fi, err := os.Stat(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			m.count = 0
			m.scanned = true
			m.lastScan = time.Now()
			return nil
		}
		return m.e.E(err)
	}

	if m.scanned && !fi.ModTime().After(m.lastScan) {
		return nil
	}

	scanstart := time.Now()
	f, err := os.Open(m.path)
	if err != nil {
		return m.e.E(err)
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "From ") {
			count++
		}
	}
	if err = scanner.Err(); err != nil {
		return m.e.E(err)
	}

	m.count = count
	m.scanned = true
	m.lastScan = scanstart
	m.logger.Debugf("mbox rescanned: %d messages", count)
	return nil
}

func (m *MboxMailbox) Exists(location string) bool {
	if IsPoisoned(location) {
		return true
	}

	index, err := strconv.Atoi(location)
	if err != nil {
		m.logger.Debugf("Wrong mbox location \"%s\": %s", location, err)
		return false
	}

	if err := m.refreshCount(); err != nil {
		m.logger.Errorf("mbox scan failed: %s", err)
		return false
	}
	return index >= 0 && index < m.count
}

func (m *MboxMailbox) Add(msg *LocalMessage) (location string, err error) {
	if err = m.refreshCount(); err != nil {
		return "", err
	}

	fo, err := os.OpenFile(m.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return "", m.e.E(err)
	}

	defer func() {
		if cerr := fo.Close(); cerr != nil {
			m.logger.Error("file close error")
		}
	}()

	w := bufio.NewWriter(fo)

	date := msg.Date
	if date.IsZero() {
		date = time.Now()
	}
	if _, err = fmt.Fprintf(w, "From %s %s\n", msg.From, date.UTC().Format(time.ANSIC)); err != nil {
		return "", m.e.E(err)
	}

	// Body lines starting with "From " get the usual ">" quoting so they
	// are not mistaken for separators on the next scan
	for _, line := range bytes.SplitAfter(msg.Body, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		if bytes.HasPrefix(line, []byte("From ")) {
			if err = w.WriteByte('>'); err != nil {
				return "", m.e.E(err)
			}
		}
		if _, err = w.Write(line); err != nil {
			return "", m.e.E(err)
		}
	}
	if len(msg.Body) > 0 && msg.Body[len(msg.Body)-1] != '\n' {
		if err = w.WriteByte('\n'); err != nil {
			return "", m.e.E(err)
		}
	}
	if err = w.WriteByte('\n'); err != nil {
		return "", m.e.E(err)
	}

	if err = w.Flush(); err != nil {
		return "", m.e.E(err)
	}
	if err = fo.Sync(); err != nil {
		return "", m.e.E(err)
	}

	location = strconv.Itoa(m.count)
	m.count++
	m.lastScan = time.Now()

	return location, nil
}

// Lock takes a dotlock on the mbox file, held for the whole run.
func (m *MboxMailbox) Lock() (err error) {
	if m.locked {
		return nil
	}

	fo, err := os.OpenFile(m.lockpath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return m.e.E(fmt.Errorf("cannot acquire mbox lock \"%s\": %s", m.lockpath, err))
	}
	fmt.Fprintf(fo, "%d\n", os.Getpid())
	if err = fo.Close(); err != nil {
		return m.e.E(err)
	}

	m.locked = true
	return nil
}

func (m *MboxMailbox) Unlock() (err error) {
	if !m.locked {
		return nil
	}
	m.locked = false
	return m.e.E(os.Remove(m.lockpath))
}

func (m *MboxMailbox) Close() (err error) {
	return m.Unlock()
}
