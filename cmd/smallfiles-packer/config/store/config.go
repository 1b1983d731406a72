package storeconfig

import (
	"time"

	"github.com/nspcc-dev/smallfiles/cmd/smallfiles-packer/config"
)

const (
	subsection = "store"

	// TypeMongo is a MongoDB record store.
	TypeMongo = "mongo"
	// TypeBolt is a local bbolt file record store.
	TypeBolt = "bolt"
	// TypeMySQL is a MySQL record store.
	TypeMySQL = "mysql"
	// TypeSQLite is a local SQLite file record store.
	TypeSQLite = "sqlite"

	// TypeDefault is a default record store type.
	TypeDefault = TypeMongo
	// DatabaseDefault is a default MongoDB database name.
	DatabaseDefault = "smallfiles"
	// TimeoutDefault is a default timeout of a single store operation.
	TimeoutDefault = 10 * time.Second
)

// Type returns the value of "type" config parameter
// from "store" section.
//
// Returns TypeDefault if the value is not set.
func Type(c *config.Config) string {
	v := config.StringSafe(c.Sub(subsection), "type")
	if v != "" {
		return v
	}

	return TypeDefault
}

// URI returns the value of "uri" config parameter
// from "store" section: MongoDB connection string or MySQL DSN.
func URI(c *config.Config) string {
	return config.StringSafe(c.Sub(subsection), "uri")
}

// Database returns the value of "database" config parameter
// from "store" section.
//
// Returns DatabaseDefault if the value is not set.
func Database(c *config.Config) string {
	v := config.StringSafe(c.Sub(subsection), "database")
	if v != "" {
		return v
	}

	return DatabaseDefault
}

// Path returns the value of "path" config parameter
// from "store" section: the file of bolt and SQLite stores.
func Path(c *config.Config) string {
	return config.StringSafe(c.Sub(subsection), "path")
}

// Timeout returns the value of "timeout" config parameter
// from "store" section.
//
// Returns TimeoutDefault if the value is not positive duration.
func Timeout(c *config.Config) time.Duration {
	v := config.DurationSafe(c.Sub(subsection), "timeout")
	if v > 0 {
		return v
	}

	return TimeoutDefault
}
