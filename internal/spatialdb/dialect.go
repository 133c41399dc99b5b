// Package spatialdb runs the bounding-box point queries and supervoxel/root
// upserts against an aligned-volume database, in raw database/sql rather
// than through GORM's query builder, because it needs precise control over
// placeholder dialect and the PostGIS ST_3DMakeBox function call.
package spatialdb

import "fmt"

// Dialect abstracts the one difference the spatial query and upsert
// statements care about between Postgres and MySQL: parameter placeholder
// syntax. Everything else (PostGIS geometry functions) is Postgres-only by
// construction, matching the source system's requirement that annotation
// databases run on PostGIS.
type Dialect interface {
	Placeholder(n int) string
	Name() string
}

// Postgres uses $1, $2, ... placeholders.
type Postgres struct{}

func (Postgres) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }
func (Postgres) Name() string             { return "postgres" }

// MySQL uses ? placeholders for every parameter.
type MySQL struct{}

func (MySQL) Placeholder(int) string { return "?" }
func (MySQL) Name() string           { return "mysql" }

// DialectFor returns the Dialect matching a database/sql driver name as
// configured in internal/repository.DBConfig.
func DialectFor(dbType string) (Dialect, error) {
	switch dbType {
	case "postgres", "postgresql":
		return Postgres{}, nil
	case "mysql":
		return MySQL{}, nil
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dbType)
	}
}
