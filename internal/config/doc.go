// Package config loads the airdrop daemon's JSON configuration file, fills in
// defaults and resolves relative paths against the file's directory.
package config
