package main

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

// foreignKey is one column reference, table(column) -> refTable.
type foreignKey struct {
	Table    string
	Column   string
	RefTable string
}

func (f foreignKey) String() string {
	return fmt.Sprintf("%s(%s) -> %s", f.Table, f.Column, f.RefTable)
}

// requiredFKs are the references the ledger relies on.
var requiredFKs = []foreignKey{
	{"transactions", "user_id", "users"},
	{"transactions", "student_id", "students"},
	{"transactions", "bill_id", "bills"},
	{"bills", "student_id", "students"},
}

const fkSQL = `
	SELECT
	  con.oid::regclass::text AS constraint_name,
	  rel.relname AS table_name,
	  att.attname AS src_column,
	  confrel.relname AS referenced_table,
	  pg_get_constraintdef(con.oid) AS definition
	FROM pg_constraint con
	JOIN pg_class rel ON rel.oid = con.conrelid
	JOIN pg_class confrel ON confrel.oid = con.confrelid
	JOIN unnest(con.conkey) AS u(attnum) ON true
	JOIN pg_attribute att ON att.attrelid = con.conrelid AND att.attnum = u.attnum
	WHERE con.contype = 'f'
	ORDER BY rel.relname, constraint_name;
`

// loadFKs connects to Postgres using dsn and returns its foreign keys, printing each one.
func loadFKs(dsn string) ([]foreignKey, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	rows, err := db.Query(fkSQL)
	if err != nil {
		return nil, fmt.Errorf("query constraints: %w", err)
	}
	defer rows.Close()

	var out []foreignKey
	fmt.Println("Foreign keys:")
	for rows.Next() {
		var cname, def string
		var fk foreignKey
		if err := rows.Scan(&cname, &fk.Table, &fk.Column, &fk.RefTable, &def); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		fmt.Printf("- %s: %s\n    def: %s\n", cname, fk, def)
		out = append(out, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

// missingFKs returns the required references not present in found.
func missingFKs(required, found []foreignKey) []foreignKey {
	have := make(map[foreignKey]bool, len(found))
	for _, f := range found {
		have[f] = true
	}
	var out []foreignKey
	for _, r := range required {
		if !have[r] {
			out = append(out, r)
		}
	}
	return out
}

func main() {
	_ = godotenv.Load()
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "DB_DSN not set; export DB_DSN and retry")
		os.Exit(2)
	}
	found, err := loadFKs(dsn)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	missing := missingFKs(requiredFKs, found)
	if len(missing) > 0 {
		fmt.Println("Missing foreign keys:")
		for _, m := range missing {
			fmt.Printf("- %s\n", m)
		}
		os.Exit(1)
	}
	fmt.Printf("all %d required foreign keys present\n", len(requiredFKs))
}
