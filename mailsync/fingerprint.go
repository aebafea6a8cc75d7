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
	"crypto/md5"
	"fmt"
	"strings"
	"time"
)

// Fingerprint computes the dedup key of a remote message from the
// attributes the server reports without a body fetch: size, internal date
// and message-id. Pure function, identical inputs always give the same
// key.
func Fingerprint(size uint32, date time.Time, messageID string) string {
	h := md5.New()
	fmt.Fprintf(h, "%d %d %s", size, date.Unix(), messageID)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// PoisonPrefix marks a record whose message is known to exist on the
// server but could not be retrieved. Poisoned locations always pass the
// mailbox existence test so a permanently failing fetch is never
// attempted again.
const PoisonPrefix = "POISON-"

func PoisonLocation(hash string) string {
	return PoisonPrefix + hash
}

func IsPoisoned(location string) bool {
	return strings.HasPrefix(location, PoisonPrefix)
}
