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
	"github.com/aallamaa/imap2maildir/config"
	"github.com/aallamaa/imap2maildir/errors"
	"github.com/aallamaa/imap2maildir/log"
)

// placeholderSender is used in mbox From lines when the fromline policy
// is "placeholder" or the envelope sender is unknown.
const placeholderSender = "imap2maildir"

// progressEvery is the number of handled messages between progress
// reports.
const progressEvery = 100

// SyncResult summarizes one run.
type SyncResult struct {
	// Total is the size of the remote summary sequence at enumeration
	// start. A static snapshot, the folder can grow while we run.
	Total int

	// Handled counts the messages fully reconciled this run
	Handled int

	Copied      int
	CopiedBytes uint64

	// TurboSkipped counts summaries the enumeration dropped because the
	// local existence predicate confirmed them as already copied
	TurboSkipped int

	LastRemoteID uint32
}

// SyncEngine reconciles one remote folder against the local mailbox and
// the seen record store, copying unseen messages, repairing
// partially-seen records and producing a run summary. It is the only
// component with control logic; everything is sequential, one fetch at a
// time.
type SyncEngine struct {
	globalconfig *config.Config
	config       *config.SyncConfig
	remote       RemoteFolder
	mailbox      Mailbox
	store        *SeenStore
	cache        *SeenCache
	logger       *log.Logger
	e            *errors.Error
	dryrun       bool
}

func NewSyncEngine(globalconfig *config.Config, conf *config.SyncConfig, remote RemoteFolder, mailbox Mailbox, store *SeenStore, dryrun bool) *SyncEngine {
	logprefix := "syncengine"
	errprefix := logprefix
	return &SyncEngine{
		globalconfig: globalconfig,
		config:       conf,
		remote:       remote,
		mailbox:      mailbox,
		store:        store,
		cache:        NewSeenCache(globalconfig, store),
		logger:       log.GetLogger(logprefix, globalconfig.LogLevel),
		e:            errors.New(errprefix),
		dryrun:       dryrun,
	}
}

// localExistencePredicate is handed to the remote folder in turbo mode.
// It runs inside the enumeration, single threaded.
func (s *SyncEngine) localExistencePredicate(res *SyncResult) func(*MessageSummary) bool {
	return func(sum *MessageSummary) bool {
		mailfile, ok, err := s.cache.LookupByRemoteID(sum.RemoteID)
		if err != nil {
			s.logger.Errorf("cache lookup failed: %s", err)
			return false
		}
		if !ok || !s.mailbox.Exists(mailfile) {
			return false
		}
		res.TurboSkipped++
		return true
	}
}

// Sync runs one bounded, resumable pass over the remote folder. The
// mailbox lock is held for the whole run and released on every exit
// path; a pending store transaction is rolled back before an error
// propagates. Fetch failures are contained per the poisoning rules, all
// other errors surface to the caller. Nothing is retried here, retry is
// the next invocation of the whole process.
func (s *SyncEngine) Sync() (res *SyncResult, err error) {
	res = &SyncResult{}

	if err = s.mailbox.Lock(); err != nil {
		return nil, s.e.E(err)
	}
	defer func() {
		if uerr := s.mailbox.Unlock(); uerr != nil {
			s.logger.Errorf("mailbox unlock failed: %s", uerr)
		}
		if err != nil {
			if rerr := s.store.Rollback(); rerr != nil {
				s.logger.Errorf("store rollback failed: %s", rerr)
			}
		}
	}()

	if s.config.Turbo {
		s.remote.SetLocalPredicate(s.localExistencePredicate(res))
	}

	summaries, total, err := s.remote.ListSummaries(s.config.Search)
	if err != nil {
		return nil, s.e.E(err)
	}
	res.Total = total
	s.logger.Infof("%d messages in remote folder, %d to examine, %d skipped by enumeration", total, len(summaries), res.TurboSkipped)

	for _, sum := range summaries {
		stop, herr := s.handleMessage(sum, res)
		if herr != nil {
			return nil, s.e.E(herr)
		}
		if stop {
			break
		}

		res.Handled++
		res.LastRemoteID = sum.RemoteID

		if res.Handled%progressEvery == 0 {
			s.reportProgress(res)
		}
		if s.config.Limit > 0 && res.Handled >= s.config.Limit {
			s.logger.Infof("limit of %d messages reached", s.config.Limit)
			break
		}
	}

	return res, nil
}

// handleMessage reconciles a single remote summary against local state.
// The stop flag ends the run without error, per the fetch failure
// containment rules.
func (s *SyncEngine) handleMessage(sum *MessageSummary, res *SyncResult) (stop bool, err error) {
	hash := Fingerprint(sum.Size, sum.InternalDate, sum.MessageID)

	mailfile, seen, err := s.cache.LookupByHash(hash)
	if err != nil {
		return false, err
	}

	if !seen {
		return s.copyMessage(sum, hash, res)
	}

	_, seenID, err := s.cache.LookupByRemoteID(sum.RemoteID)
	if err != nil {
		return false, err
	}
	if !seenID {
		// Record predates remote id tracking, or the id changed
		s.logger.Debugf("backfilling remote id %d for hash %s", sum.RemoteID, hash)
		if err = s.store.BackfillRemoteID(hash, sum.RemoteID); err != nil {
			return false, err
		}
		s.cache.RecordRemoteID(sum.RemoteID, mailfile)
		return false, nil
	}

	// Fully reconciled already. Enumeration filtering normally keeps
	// these out of the summary sequence.
	s.logger.Infof("message %d already recorded, nothing to do", sum.RemoteID)
	return false, nil
}

func (s *SyncEngine) copyMessage(sum *MessageSummary, hash string, res *SyncResult) (stop bool, err error) {
	if s.dryrun {
		s.logger.Infof("would copy message %d (%d bytes)", sum.RemoteID, sum.Size)
		res.Copied++
		res.CopiedBytes += uint64(sum.Size)
		return false, nil
	}

	body, ferr := s.remote.FetchMessage(sum.RemoteID)
	if ferr != nil {
		if res.Handled == 0 {
			// A failure on the very first message would block every
			// following run on the same message. Mark it seen but
			// unretrievable so the next run can move past it. Later
			// failures stop the run without poisoning, the connection
			// itself may be degraded.
			s.logger.Errorf("fetch of message %d failed: %s. Poisoning it and stopping", sum.RemoteID, ferr)
			if perr := s.store.Put(hash, PoisonLocation(hash), sum.RemoteID); perr != nil {
				return true, perr
			}
			s.cache.Record(hash, PoisonLocation(hash), sum.RemoteID)
			return true, nil
		}
		s.logger.Errorf("fetch of message %d failed: %s. Stopping, will retry on the next run", sum.RemoteID, ferr)
		return true, nil
	}

	from := sum.EnvelopeFrom
	if s.config.Fromline == "placeholder" || from == "" {
		from = placeholderSender
	}

	mailfile, err := s.mailbox.Add(&LocalMessage{From: from, Date: sum.InternalDate, Body: body})
	if err != nil {
		return false, err
	}
	if err = s.store.Put(hash, mailfile, sum.RemoteID); err != nil {
		return false, err
	}
	s.cache.Record(hash, mailfile, sum.RemoteID)

	res.Copied++
	res.CopiedBytes += uint64(sum.Size)
	return false, nil
}

func (s *SyncEngine) reportProgress(res *SyncResult) {
	done := res.Handled + res.TurboSkipped
	var percent float64
	if res.Total > 0 {
		percent = float64(done) * 100 / float64(res.Total)
	}
	// Total is a snapshot from enumeration start, the percentage can
	// pass 100 if the folder grows while we run
	s.logger.Infof("%d messages handled, %d copied (%d bytes), %.1f%% of %d", res.Handled, res.Copied, res.CopiedBytes, percent, res.Total)
}
