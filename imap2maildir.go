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

package main

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"

	"github.com/jessevdk/go-flags"

	"github.com/aallamaa/imap2maildir/config"
	"github.com/aallamaa/imap2maildir/log"
	"github.com/aallamaa/imap2maildir/mailsync"
)

var opts struct {
	Configfile string `short:"c" long:"config" description:"Config file location. Default: ~/.imap2maildirrc"`
	Debug      bool   `short:"d" long:"debug" description:"Enable full debug logs. Overrides log levels in configuration file"`
	DryRun     bool   `short:"n" long:"dryrun" description:"Do not copy messages but just log what will be done"`
	List       bool   `short:"l" long:"list" description:"List remote folders and then exit"`
	Folder     string `short:"f" long:"folder" description:"Remote folder to mirror. Overrides the configuration file"`
	Search     string `short:"S" long:"search" description:"Search filter, e.g. \"ALL\" or \"SINCE 1-Jan-2022\". Overrides the configuration file"`
	Limit      int    `short:"m" long:"limit" description:"Stop after handling this many messages. Overrides the configuration file"`
	Turbo      bool   `short:"t" long:"turbo" description:"Skip messages already copied locally during remote enumeration"`
}

func main() {
	logger := log.GetLogger(fmt.Sprintf("%s", "main"), "info")
	u, err := user.Current()
	if err != nil {
		logger.Errorf("Cannot determine current user")
		os.Exit(1)
	}

	var parser = flags.NewParser(&opts, flags.Default)

	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}

	if opts.Configfile == "" {
		opts.Configfile = filepath.Join(u.HomeDir, ".imap2maildirrc")
	}

	globalconfig, err := config.ParseConfig(opts.Configfile)
	if err != nil {
		logger.Errorf("Error parsing config file: %s", err)
		os.Exit(1)
	}

	if opts.Folder != "" {
		globalconfig.Remote.Folder = opts.Folder
	}
	if opts.Search != "" {
		globalconfig.Sync.Search = opts.Search
	}
	if opts.Limit != 0 {
		globalconfig.Sync.Limit = opts.Limit
	}
	if opts.Turbo {
		globalconfig.Sync.Turbo = true
	}
	if opts.Debug {
		globalconfig.LogLevel = "debug"
	}

	err = config.VerifyConfig(globalconfig)
	if err != nil {
		logger.Errorf("Error parsing config file: %s", err)
		os.Exit(1)
	}

	if _, err := log.LogLevelToPriority(globalconfig.LogLevel); err != nil {
		logger.Errorf("Error: %s", err)
		os.Exit(1)
	}

	remote, err := mailsync.NewImapFolder(globalconfig, globalconfig.Remote)
	if err != nil {
		logger.Errorf("Error connecting to \"%s\": %s", globalconfig.Remote.Host, err)
		os.Exit(1)
	}
	defer remote.Close()

	if opts.List {
		names, err := remote.ListFolders()
		if err != nil {
			logger.Errorf("Error listing folders: %s", err)
			os.Exit(1)
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return
	}

	mailbox, err := mailsync.NewMailbox(globalconfig, globalconfig.Local)
	if err != nil {
		logger.Errorf("Error opening mailbox \"%s\": %s", globalconfig.Local.Path, err)
		os.Exit(1)
	}
	defer mailbox.Close()

	store, err := mailsync.OpenSeenStore(globalconfig, mailsync.SeenDBPath(globalconfig.Local))
	if err != nil {
		logger.Errorf("Error opening seen message store: %s", err)
		os.Exit(1)
	}
	defer store.Close()

	engine := mailsync.NewSyncEngine(globalconfig, globalconfig.Sync, remote, mailbox, store, opts.DryRun)

	res, err := engine.Sync()
	if err != nil {
		logger.Errorf("Sync failed: %s", err)
		os.Exit(1)
	}

	logger.Infof("Sync done: %d handled, %d copied (%d bytes), %d skipped by enumeration, %d in remote folder", res.Handled, res.Copied, res.CopiedBytes, res.TurboSkipped, res.Total)
}
