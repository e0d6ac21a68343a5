package env

import (
	"context"
	"database/sql"
	"strings"
)

type (
	TableDef struct {
		Name       string
		Columns    []ColumnDef
		PrimaryKey []string
		Unique     []UniqueDef
	}

	UniqueDef struct {
		Name    string
		Columns []string
	}

	ColumnDef struct {
		Name     string
		Datatype string
	}
)

// ListTables returns the name of every table in the database, sorted.
func ListTables(ctx context.Context, db Querier) ([]string, error) {
	rows, err := db.QueryContext(ctx, `select name from sqlite_master where type = 'table' order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ret []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		ret = append(ret, name)
	}
	return ret, rows.Err()
}

// MissingTables returns the subset of names without a matching table.
func MissingTables(ctx context.Context, db Querier, names ...string) ([]string, error) {
	tables, err := ListTables(ctx, db)
	if err != nil {
		return nil, err
	}
	existing := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		existing[t] = struct{}{}
	}
	var missing []string
	for _, n := range names {
		if _, ok := existing[n]; !ok {
			missing = append(missing, n)
		}
	}
	return missing, nil
}

// LoadTableDef describes the columns, primary key and unique indexes of name.
// sql.ErrNoRows is returned if the table does not exist.
func LoadTableDef(ctx context.Context, db Querier, name string) (*TableDef, error) {
	td := TableDef{
		Name: name,
	}

	type tableInfoRow struct {
		name     string
		datatype string
		pk       int
	}
	rows, err := db.QueryContext(ctx, `select name, type, pk from pragma_table_info(?) order by name`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var row tableInfoRow
		err = rows.Scan(&row.name, &row.datatype, &row.pk)
		if err != nil {
			return nil, err
		}
		td.Columns = append(td.Columns, ColumnDef{Name: row.name, Datatype: strings.ToLower(row.datatype)})
		if row.pk > 0 {
			td.PrimaryKey = append(td.PrimaryKey, row.name)
		}
	}
	if len(td.Columns) == 0 {
		return nil, sql.ErrNoRows
	}
	uniqueIdx, err := listUniqueIndexes(ctx, db, name)
	if err != nil {
		return nil, err
	}
	for _, v := range uniqueIdx {
		udef, err := loadUniqueDef(ctx, db, v)
		if err != nil {
			return nil, err
		}
		td.Unique = append(td.Unique, udef)
	}
	return &td, nil
}

func loadUniqueDef(ctx context.Context, db Querier, name string) (UniqueDef, error) {
	rows, err := db.QueryContext(ctx, `select name from pragma_index_info(?) order by name`, name)
	if err != nil {
		return UniqueDef{}, err
	}
	defer rows.Close()
	ud := UniqueDef{
		Name: name,
	}
	for rows.Next() {
		var name string
		err = rows.Scan(&name)
		if err != nil {
			return UniqueDef{}, err
		}
		ud.Columns = append(ud.Columns, name)
	}
	return ud, nil
}

func listUniqueIndexes(ctx context.Context, db Querier, name string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `select name from pragma_index_list(?) where [unique] = 1 order by name`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ret []string
	for rows.Next() {
		var name string
		err = rows.Scan(&name)
		if err != nil {
			return nil, err
		}
		ret = append(ret, name)
	}
	return ret, nil
}
