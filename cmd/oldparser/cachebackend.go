package main

import (
	"fmt"

	"oldparser/internal/parser"
)

// openCacheBackend builds the durable cache.Backend named by the active
// config's cache.backend setting.
func openCacheBackend() (parser.Backend, error) {
	switch cfg.Cache.Backend {
	case "", "memory":
		return parser.NewMemoryBackend(), nil
	case "file":
		path := cfg.Cache.FilePath
		if path == "" {
			path = "oldparser_cache.json"
		}
		return parser.NewFileBackend(path)
	case "sqlite":
		path := cfg.Cache.SQLitePath
		if path == "" {
			path = "oldparser_cache.db"
		}
		return parser.NewSQLiteBackend(path)
	default:
		return nil, fmt.Errorf("unsupported cache backend %q (want \"memory\", \"file\", or \"sqlite\")", cfg.Cache.Backend)
	}
}
