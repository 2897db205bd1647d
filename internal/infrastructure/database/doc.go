// Package database provides SQLite connectivity for softbus.
//
// The database persists the device catalogue, group membership and the
// dispatch log so a restarted node comes back with the same topology. The
// bus itself never touches it; package provision writes definitions and
// package audit writes dispatch events.
//
// Usage:
//
//	db, err := database.Open(database.ConfigFrom(cfg.Database))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive: new columns must be NULLABLE or have a DEFAULT,
// and every .up.sql ships with a .down.sql.
package database
