// Package registry is the table of every backend compiled into the relay.
package registry

import (
	"github.com/surrealdb/surrealmirror/pkg/backend"
	"github.com/surrealdb/surrealmirror/pkg/backend/elasticsearch"
	"github.com/surrealdb/surrealmirror/pkg/backend/journal"
	"github.com/surrealdb/surrealmirror/pkg/backend/memory"
	"github.com/surrealdb/surrealmirror/pkg/backend/mongodb"
	"github.com/surrealdb/surrealmirror/pkg/backend/postgres"
	"github.com/surrealdb/surrealmirror/pkg/backend/sqlite"
	"github.com/surrealdb/surrealmirror/pkg/backend/surrealdb"
)

// Registrations lists the built-in backends.
func Registrations() []backend.Registration {
	return []backend.Registration{
		elasticsearch.Registration,
		journal.Registration,
		memory.Registration,
		mongodb.Registration,
		postgres.Registration,
		sqlite.Registration,
		surrealdb.Registration,
	}
}

// Default returns a registry holding every built-in backend.
func Default() *backend.Registry {
	r, err := backend.NewRegistry(Registrations()...)
	if err != nil {
		// the table is static
		panic(err)
	}
	return r
}
