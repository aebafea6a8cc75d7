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
	"crypto/tls"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/aallamaa/imap2maildir/config"
	"github.com/aallamaa/imap2maildir/errors"
	"github.com/aallamaa/imap2maildir/log"
)

const (
	// summaryFetchBatch bounds the uid set of a single summary FETCH
	summaryFetchBatch = 500

	// keepaliveBatches is how many summary batches pass between NOOPs,
	// keeping long enumerations from tripping the server idle timeout
	keepaliveBatches = 4
)

// ImapFolder implements RemoteFolder over a single selected IMAP folder.
type ImapFolder struct {
	globalconfig *config.Config
	config       *config.RemoteConfig
	client       *client.Client
	selected     bool
	pred         func(*MessageSummary) bool
	logger       *log.Logger
	e            *errors.Error
}

func NewImapFolder(globalconfig *config.Config, conf *config.RemoteConfig) (m *ImapFolder, err error) {
	logprefix := fmt.Sprintf("imapfolder: %s %s", conf.Host, conf.Folder)
	errprefix := logprefix
	logger := log.GetLogger(logprefix, globalconfig.LogLevel)
	e := errors.New(errprefix)

	m = &ImapFolder{
		globalconfig: globalconfig,
		config:       conf,
		logger:       logger,
		e:            e,
	}

	if _, err = m.getImapClient(); err != nil {
		return nil, m.e.E(err)
	}

	return m, nil
}

func (m *ImapFolder) newImapClient() (c *client.Client, err error) {
	if m.config.Tls && m.config.Starttls {
		return nil, fmt.Errorf("Both tls and starttls enabled. Only one of them is permitted.")
	}

	addr := m.config.Host
	switch {
	case m.config.Port != 0:
		addr = addr + ":" + strconv.FormatUint(uint64(m.config.Port), 10)
	case m.config.Tls:
		addr = addr + ":993"
	default:
		addr = addr + ":143"
	}

	tlsconfig := &tls.Config{ServerName: m.config.Host}
	if !m.config.Validateservercert {
		tlsconfig.InsecureSkipVerify = true
	}

	if m.config.Tls {
		c, err = client.DialTLS(addr, tlsconfig)
	} else {
		c, err = client.Dial(addr)
	}
	if err != nil {
		return nil, err
	}

	if m.config.Starttls {
		if err = c.StartTLS(tlsconfig); err != nil {
			c.Logout()
			return nil, err
		}
	}

	if err = c.Login(m.config.Username, m.config.Password); err != nil {
		c.Logout()
		return nil, err
	}

	return c, nil
}

func (m *ImapFolder) getImapClient() (*client.Client, error) {
	if m.client != nil && m.client.State() != imap.LogoutState {
		return m.client, nil
	}

	c, err := m.newImapClient()
	if err != nil {
		m.logger.Debug("Connection error: ", err)
		return nil, err
	}

	m.client = c
	m.selected = false
	return c, nil
}

func (m *ImapFolder) selectFolder() (*client.Client, error) {
	c, err := m.getImapClient()
	if err != nil {
		return nil, err
	}
	if !m.selected {
		// Read only select, we never modify the remote folder
		if _, err = c.Select(m.config.Folder, true); err != nil {
			return nil, err
		}
		m.selected = true
	}
	return c, nil
}

// searchCriteria translates the small search filter language accepted on
// the command line (ALL, SEEN, UNSEEN, ANSWERED, FLAGGED, optionally
// followed by SINCE/BEFORE with an IMAP date like 2-Jan-2006) into
// search criteria.
func searchCriteria(search string) (*imap.SearchCriteria, error) {
	criteria := imap.NewSearchCriteria()
	fields := strings.Fields(strings.TrimSpace(search))
	if len(fields) == 0 {
		return criteria, nil
	}

	i := 0
	switch strings.ToUpper(fields[0]) {
	case "ALL":
		i++
	case "SEEN":
		criteria.WithFlags = append(criteria.WithFlags, imap.SeenFlag)
		i++
	case "UNSEEN":
		criteria.WithoutFlags = append(criteria.WithoutFlags, imap.SeenFlag)
		i++
	case "ANSWERED":
		criteria.WithFlags = append(criteria.WithFlags, imap.AnsweredFlag)
		i++
	case "FLAGGED":
		criteria.WithFlags = append(criteria.WithFlags, imap.FlaggedFlag)
		i++
	}

	for i < len(fields) {
		if i+1 >= len(fields) {
			return nil, fmt.Errorf("Wrong search filter: \"%s\"", search)
		}
		date, err := time.Parse("2-Jan-2006", fields[i+1])
		if err != nil {
			return nil, fmt.Errorf("Wrong search date \"%s\": %s", fields[i+1], err)
		}
		switch strings.ToUpper(fields[i]) {
		case "SINCE":
			criteria.Since = date
		case "BEFORE":
			criteria.Before = date
		default:
			return nil, fmt.Errorf("Wrong search filter term: \"%s\"", fields[i])
		}
		i += 2
	}

	return criteria, nil
}

func (m *ImapFolder) ListSummaries(search string) (summaries []*MessageSummary, total int, err error) {
	c, err := m.selectFolder()
	if err != nil {
		return nil, 0, m.e.E(err)
	}

	criteria, err := searchCriteria(search)
	if err != nil {
		return nil, 0, m.e.E(err)
	}

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, 0, m.e.E(err)
	}
	total = len(uids)
	m.logger.Debugf("%d messages matching search \"%s\"", total, search)

	summaries = make([]*MessageSummary, 0, total)
	items := []imap.FetchItem{imap.FetchUid, imap.FetchRFC822Size, imap.FetchInternalDate, imap.FetchEnvelope}

	for start := 0; start < len(uids); start += summaryFetchBatch {
		end := start + summaryFetchBatch
		if end > len(uids) {
			end = len(uids)
		}

		if start > 0 && (start/summaryFetchBatch)%keepaliveBatches == 0 {
			if err = c.Noop(); err != nil {
				return nil, 0, m.e.E(err)
			}
		}

		seqset := new(imap.SeqSet)
		seqset.AddNum(uids[start:end]...)

		messages := make(chan *imap.Message, 10)
		done := make(chan error, 1)
		go func() {
			done <- c.UidFetch(seqset, items, messages)
		}()

		for msg := range messages {
			sum := &MessageSummary{
				RemoteID:     msg.Uid,
				Size:         msg.Size,
				InternalDate: msg.InternalDate,
			}
			if msg.Envelope != nil {
				sum.MessageID = msg.Envelope.MessageId
				if len(msg.Envelope.From) > 0 {
					sum.EnvelopeFrom = msg.Envelope.From[0].Address()
				}
			}

			if m.pred != nil && m.pred(sum) {
				continue
			}
			summaries = append(summaries, sum)
		}

		if err = <-done; err != nil {
			return nil, 0, m.e.E(err)
		}
	}

	return summaries, total, nil
}

func (m *ImapFolder) FetchMessage(remoteID uint32) ([]byte, error) {
	c, err := m.selectFolder()
	if err != nil {
		return nil, m.e.E(fmt.Errorf("%w: %s", ErrRetrieval, err))
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(remoteID)

	// Peek, the mirror must not change the \Seen state on the server
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	var body []byte
	var readerr error
	for msg := range messages {
		r := msg.GetBody(section)
		if r == nil {
			continue
		}
		body, readerr = io.ReadAll(r)
	}

	if err = <-done; err != nil {
		return nil, m.e.E(fmt.Errorf("%w: %s", ErrRetrieval, err))
	}
	if readerr != nil {
		return nil, m.e.E(fmt.Errorf("%w: %s", ErrRetrieval, readerr))
	}
	if body == nil {
		return nil, m.e.E(fmt.Errorf("%w: server returned no body for uid %d", ErrRetrieval, remoteID))
	}

	return body, nil
}

func (m *ImapFolder) SetLocalPredicate(pred func(*MessageSummary) bool) {
	m.pred = pred
}

// ListFolders reports the names of all folders on the server.
func (m *ImapFolder) ListFolders() ([]string, error) {
	c, err := m.getImapClient()
	if err != nil {
		return nil, m.e.E(err)
	}

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", "*", mailboxes)
	}()

	names := make([]string, 0)
	for mb := range mailboxes {
		names = append(names, mb.Name)
	}
	if err = <-done; err != nil {
		return nil, m.e.E(err)
	}

	return names, nil
}

func (m *ImapFolder) Close() (err error) {
	if m.client == nil {
		return
	}
	return m.client.Logout()
}
