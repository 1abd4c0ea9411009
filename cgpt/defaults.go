// Package cgpt holds application-wide defaults and the error taxonomy shared
// by the CoffeeGPT packages.
package cgpt

import (
	"os"
	"path/filepath"
)

const (
	DefaultAppName      = "coffeegpt"
	DefaultDatabaseType = "libsql"
	DefaultRadiusMeters = 3000
	DefaultPageSize     = 5
	DefaultChatModel    = "gemini-2.5-flash"

	// RefusalText is returned verbatim for questions outside the coffee domain.
	RefusalText = "Sorry, I'm not an expert at that field."
	// NoResultsText stands in for an adapter result with zero records.
	NoResultsText = "No results found"
)

var (
	DefaultConfigPath  = filepath.Join(userConfigDir(), DefaultAppName)
	DefaultCacheDir    = filepath.Join(userCacheDir(), DefaultAppName)
	DefaultDatabaseDir = filepath.Join(DefaultCacheDir, "db")
	DefaultDatabaseDSN = filepath.Join(DefaultDatabaseDir, "transcripts.db")
)

func userConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return "."
}

func userCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir
	}
	return os.TempDir()
}
