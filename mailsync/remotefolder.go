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
	"time"
)

// ErrRetrieval means a remote fetch failed for a specific message. The
// engine does not distinguish transient from permanent server problems.
var ErrRetrieval = fmt.Errorf("message retrieval failed")

// MessageSummary is what the remote folder reports about a message
// without fetching its body.
type MessageSummary struct {
	RemoteID     uint32
	Size         uint32
	InternalDate time.Time
	MessageID    string
	EnvelopeFrom string
}

// RemoteFolder is the capability surface the sync engine consumes from
// the remote mailbox protocol client.
//
// ListSummaries reports the messages matching the search filter in the
// server's natural folder order together with their total count at
// enumeration start. When a local existence predicate is registered the
// enumeration itself drops summaries the predicate confirms as already
// copied ("turbo"), so the returned slice can be shorter than the total.
// The predicate is a cooperative, single threaded callback.
type RemoteFolder interface {
	ListSummaries(search string) ([]*MessageSummary, int, error)
	FetchMessage(remoteID uint32) ([]byte, error)
	SetLocalPredicate(pred func(*MessageSummary) bool)
	Close() error
}
