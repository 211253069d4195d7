package sqlstore

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/pressly/goose/v3"
)

// Dialect holds what differs between the supported databases.
type Dialect struct {
	name   string
	driver string
	goose  goose.Dialect
	dir    string
}

var (
	// Postgres uses the pgx driver and a JSONB body column.
	Postgres = Dialect{name: "postgres", driver: "pgx", goose: goose.DialectPostgres, dir: "migrations/postgres"}

	// SQLite uses the pure-Go modernc driver and a TEXT body column.
	SQLite = Dialect{name: "sqlite", driver: "sqlite", goose: goose.DialectSQLite3, dir: "migrations/sqlite"}
)

// DialectByName returns the dialect called name ("postgres" or "sqlite").
func DialectByName(name string) (Dialect, error) {
	switch name {
	case Postgres.name:
		return Postgres, nil
	case SQLite.name:
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("arbor: unknown sql dialect %q", name)
	}
}

func (d Dialect) String() string { return d.name }

// Driver returns the database/sql driver name.
func (d Dialect) Driver() string { return d.driver }

func (d Dialect) placeholder(n int) string {
	if d.name == Postgres.name {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// path is the argument selecting a top-level body field.
func (d Dialect) path(field string) string {
	if d.name == Postgres.name {
		return field
	}
	return "$." + field
}

// extract selects a body field as a scalar. p is the placeholder of path.
func (d Dialect) extract(p string) string {
	if d.name == Postgres.name {
		return "(body->>" + p + "::text)"
	}
	return "json_extract(body, " + p + ")"
}

// sortable selects a body field for ORDER BY.
func (d Dialect) sortable(p string) string {
	if d.name == Postgres.name {
		return "(body->" + p + "::text)"
	}
	return "json_extract(body, " + p + ")"
}

// cast converts an extracted field to the type of v. SQLite keeps JSON
// numbers and booleans native, Postgres extracts text.
func (d Dialect) cast(expr string, v any) string {
	if d.name != Postgres.name {
		return expr
	}
	switch class(v) {
	case classNumber:
		return expr + "::numeric"
	case classBool:
		return expr + "::boolean"
	}
	return expr
}

// page renders OFFSET/LIMIT; limit < 0 means unlimited.
func (d Dialect) page(offset, limit int) string {
	switch {
	case limit >= 0 && offset > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	case limit >= 0:
		return fmt.Sprintf(" LIMIT %d", limit)
	case offset > 0 && d.name == SQLite.name:
		return fmt.Sprintf(" LIMIT -1 OFFSET %d", offset)
	case offset > 0:
		return fmt.Sprintf(" OFFSET %d", offset)
	}
	return ""
}

type valueClass int

const (
	classNone valueClass = iota
	classString
	classNumber
	classBool
)

func class(v any) valueClass {
	if v == nil {
		return classNone
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.String:
		return classString
	case reflect.Bool:
		return classBool
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return classNumber
	}
	return classNone
}

// bindable converts named scalar types to their base kind so every driver
// accepts them.
func bindable(v any) any {
	rv := reflect.ValueOf(v)
	switch class(v) {
	case classString:
		return rv.String()
	case classBool:
		return rv.Bool()
	case classNumber:
		switch rv.Kind() {
		case reflect.Float32, reflect.Float64:
			return rv.Float()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return int64(rv.Uint())
		default:
			return rv.Int()
		}
	}
	return v
}
