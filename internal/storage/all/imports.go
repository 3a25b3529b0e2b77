// Package all wires all built-in storage backends into the storage factory.
//
// This package exists purely for side effects: importing it (even as a blank
// import) runs the init functions of each concrete backend, which register
// their factories with the storage package. The following kinds become
// available at runtime:
//
//   - "postgres" (dsload/internal/storage/postgres)
//   - "mssql"    (dsload/internal/storage/mssql)
//   - "mysql"    (dsload/internal/storage/mysql)
//   - "sqlite"   (dsload/internal/storage/sqlite)
//
// Typical usage (in cmd/dsload):
//
//	import _ "dsload/internal/storage/all"
//
//	repo, err := storage.New(ctx, storage.Config{
//	    Kind:     env.DB.Kind,
//	    Host:     env.DB.Host,
//	    Port:     env.DB.Port,
//	    Database: env.DB.Name,
//	    User:     env.DB.User,
//	    Password: env.DB.Password,
//	})
//	if err != nil {
//	    // connection failure: abort the run
//	}
//	defer repo.Close()
//
// A binary that needs only a subset of backends can import those packages
// directly instead.
package all

import (
	_ "dsload/internal/storage/mssql"
	_ "dsload/internal/storage/mysql"
	_ "dsload/internal/storage/postgres"
	_ "dsload/internal/storage/sqlite"
)
