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

package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Remote   *RemoteConfig `toml:"remote"`
	Local    *LocalConfig  `toml:"local"`
	Sync     *SyncConfig   `toml:"sync"`
	LogLevel string
}

type RemoteConfig struct {
	Host               string
	Port               uint16
	Username           string
	Password           string
	Tls                bool
	Starttls           bool
	Validateservercert bool

	// Folder to mirror
	Folder string
}

type LocalConfig struct {
	// Destination mailbox. A directory for "maildir", a file for "mbox"
	Path        string
	MailboxType string
}

type SyncConfig struct {
	// Search filter passed to the server. Empty means ALL
	Search string

	// Maximum number of messages processed per run. 0 means unbounded
	Limit int

	// Let the enumeration skip messages already known as copied
	Turbo bool

	// "envelope" uses the envelope sender in mbox From lines,
	// "placeholder" a fixed string
	Fromline string
}

// ParseConfig reads the toml config file. Sections are prefilled with
// their defaults so unset options keep them.
func ParseConfig(conffilepath string) (conf *Config, err error) {
	conf = &Config{
		Remote:   &RemoteConfig{Validateservercert: true, Folder: "INBOX"},
		Local:    &LocalConfig{MailboxType: "maildir"},
		Sync:     &SyncConfig{Search: "ALL", Fromline: "envelope"},
		LogLevel: "info",
	}

	if _, err = toml.DecodeFile(conffilepath, conf); err != nil {
		return nil, err
	}
	return conf, nil
}

func VerifyConfig(config *Config) (err error) {
	validloglevels := []string{"error", "warning", "info", "debug"}
	if !StringInSlice(config.LogLevel, validloglevels) {
		return fmt.Errorf("Wrong log level: \"%s\". Valid levels are: %s", config.LogLevel, validloglevels)
	}

	if err = VerifyRemoteConfig(config.Remote); err != nil {
		return err
	}
	if err = VerifyLocalConfig(config.Local); err != nil {
		return err
	}
	return VerifySyncConfig(config.Sync)
}

func VerifyRemoteConfig(config *RemoteConfig) (err error) {
	errprefix := "[remote] "
	if config.Host == "" {
		return fmt.Errorf(errprefix + "host option is empty")
	}
	if config.Username == "" {
		return fmt.Errorf(errprefix + "username option is empty")
	}
	if config.Password == "" {
		return fmt.Errorf(errprefix + "password option is empty")
	}
	if config.Folder == "" {
		return fmt.Errorf(errprefix + "folder option is empty")
	}
	if config.Tls && config.Starttls {
		return fmt.Errorf(errprefix + "Both tls and starttls enabled. Only one of them is permitted.")
	}
	return
}

func VerifyLocalConfig(config *LocalConfig) (err error) {
	errprefix := "[local] "
	if config.Path == "" {
		return fmt.Errorf(errprefix + "path option is empty")
	}

	validmailboxtypes := []string{"maildir", "mbox"}
	if !StringInSlice(config.MailboxType, validmailboxtypes) {
		return fmt.Errorf(errprefix+"Wrong mailbox type: \"%s\". Valid types are: %s", config.MailboxType, validmailboxtypes)
	}
	return
}

func VerifySyncConfig(config *SyncConfig) (err error) {
	errprefix := "[sync] "
	if config.Limit < 0 {
		return fmt.Errorf(errprefix + "limit must be positive")
	}

	validfromlines := []string{"envelope", "placeholder"}
	if !StringInSlice(config.Fromline, validfromlines) {
		return fmt.Errorf(errprefix+"Wrong fromline: \"%s\". Valid modes are: %s", config.Fromline, validfromlines)
	}
	return
}

func StringInSlice(a string, list []string) bool {
	for _, b := range list {
		if b == a {
			return true
		}
	}
	return false
}
