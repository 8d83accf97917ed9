// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package buildinfo

// Populated at build time via -ldflags.
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// UserAgent identifies outbound HTTP requests to providers and clients.
func UserAgent() string {
	return "periodarr/" + Version
}
