// Package config provides configuration management for coreupdater.
package config

import "time"

// Default configuration values for coreupdater.
const (
	// DefaultRoot is the installation updated when none is configured.
	DefaultRoot = "."

	// DefaultAdminDir is the local name of the admin directory.
	DefaultAdminDir = "admin"

	// DefaultServer is the release API endpoint.
	DefaultServer = "https://api.thirtybees.com"

	// DefaultTimeout bounds each API request.
	DefaultTimeout = 20 * time.Second

	// DefaultUpdateMode selects the newest stable release.
	DefaultUpdateMode = "STABLE"

	// DefaultServerPerformance is the tier used to size each invocation.
	DefaultServerPerformance = "NORMAL"

	// DefaultDatabaseDriver is used when a DSN is configured without driver.
	DefaultDatabaseDriver = "mysql"

	// DefaultTablePrefix is prepended to table definitions.
	DefaultTablePrefix = "tb_"

	// DefaultMinFreeSpace is required on the installation's file system.
	DefaultMinFreeSpace = "200MB"

	// DefaultHistoryRetentionDays is how long history entries are kept.
	DefaultHistoryRetentionDays = 90
)

// DefaultCacheFiles are removed by the update script.
var DefaultCacheFiles = []string{
	"cache/class_index.php",
}

// DefaultCacheDirs are emptied after an update.
var DefaultCacheDirs = []string{
	"cache/smarty/compile",
	"cache/smarty/cache",
}

// DefaultIgnoreTables are never reported as extra tables.
var DefaultIgnoreTables = []string{
	"connections",
	"connections_page",
	"connections_source",
	"guest",
	"page_viewed",
}
