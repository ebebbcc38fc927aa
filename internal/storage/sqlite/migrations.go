package sqlite

// tableName is the single table that holds device readings.
const tableName = "registros"

// schema contains the database schema DDL.
const schema = `
-- Device readings, one row per report
CREATE TABLE IF NOT EXISTS registros (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    numero_pacote INTEGER,
    fazenda TEXT,
    dispositivo_id TEXT,
    temperatura REAL,
    u1 REAL,
    u2 REAL,
    u3 REAL,
    u4 REAL,
    u5 REAL,
    fruto TEXT,
    data TEXT,
    hora TEXT
);
`

// column is a registros column that may be missing from a table created by
// an older release.
type column struct {
	Name string
	Type string
}

// additiveColumns lists every non-key column in declaration order. Any of
// them missing from an existing table is added by MigrateSchema.
var additiveColumns = []column{
	{"numero_pacote", "INTEGER"},
	{"fazenda", "TEXT"},
	{"dispositivo_id", "TEXT"},
	{"temperatura", "REAL"},
	{"u1", "REAL"},
	{"u2", "REAL"},
	{"u3", "REAL"},
	{"u4", "REAL"},
	{"u5", "REAL"},
	{"fruto", "TEXT"},
	{"data", "TEXT"},
	{"hora", "TEXT"},
}
