// Package database opens the hub's SQLite workspace store and keeps its
// schema current.
//
// The store holds two tables, workspace_tabs (saved documents) and
// workspace_variables (values behind data blocks); the repositories over
// them live in internal/workspace. Their schema ships as SQL migrations
// embedded by the top-level migrations package.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns are nullable or carry a default, so
// an older binary keeps working against a newer schema. Every migration has
// a .down.sql file so blockctl can step back one version.
package database
