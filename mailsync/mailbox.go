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
	"fmt"
	"path/filepath"
	"time"

	"github.com/aallamaa/imap2maildir/config"
)

// LocalMessage is a fetched message ready to be stored locally. From and
// Date only matter for the mbox From line, maildir ignores them.
type LocalMessage struct {
	From string
	Date time.Time
	Body []byte
}

// Mailbox is the capability surface the sync engine needs from the local
// storage format: membership test by location, append, and a run-scoped
// write lock where the format requires one.
type Mailbox interface {
	Exists(location string) bool
	Add(msg *LocalMessage) (string, error)
	Lock() error
	Unlock() error
	Close() error
}

func NewMailbox(globalconfig *config.Config, conf *config.LocalConfig) (Mailbox, error) {
	switch conf.MailboxType {
	case "maildir":
		return NewMaildirMailbox(globalconfig, conf.Path)
	case "mbox":
		return NewMboxMailbox(globalconfig, conf.Path)
	}
	return nil, fmt.Errorf("Wrong mailbox type: \"%s\"", conf.MailboxType)
}

// SeenDBPath returns the record store location for a local mailbox:
// inside the directory for maildir, next to the file for mbox.
func SeenDBPath(conf *config.LocalConfig) string {
	if conf.MailboxType == "maildir" {
		return filepath.Join(conf.Path, ".imap2maildir.sqlite")
	}
	return conf.Path + ".sqlite"
}
