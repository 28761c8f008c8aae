package database

import (
	"bufio"
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/semmidev/strongbox/internal/domain"
)

const DefaultInsertBatch = 100

// NativeDumper produces a logical dump over a plain database connection. It
// is the fallback when the external dump tool is unavailable or fails.
type NativeDumper struct {
	db       *sql.DB
	database string
	batch    int
	now      func() time.Time
}

func NewNative(db *sql.DB, database string, batch int) *NativeDumper {
	if batch <= 0 {
		batch = DefaultInsertBatch
	}
	return &NativeDumper{db: db, database: database, batch: batch, now: time.Now}
}

func (n *NativeDumper) ListTables(ctx context.Context) ([]string, error) {
	if n.db == nil {
		return nil, fmt.Errorf("no database connection")
	}

	rows, err := n.db.QueryContext(ctx, "SHOW FULL TABLES WHERE Table_type = 'BASE TABLE'")
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name, kind string
		if err := rows.Scan(&name, &kind); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return tables, nil
}

func (n *NativeDumper) Dump(ctx context.Context, destination string, sink domain.ProgressSink) ([]string, error) {
	tables, err := n.ListTables(ctx)
	if err != nil {
		return nil, err
	}

	out, err := os.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("create dump file: %w", err)
	}
	defer out.Close()

	w := bufio.NewWriterSize(out, 256*1024)
	fmt.Fprintf(w, "-- Logical dump of %s\n", quoteIdent(n.database))
	fmt.Fprintf(w, "-- Generated %s\n\n", n.now().UTC().Format(time.RFC3339))
	w.WriteString("SET NAMES utf8mb4;\n")
	w.WriteString("SET FOREIGN_KEY_CHECKS=0;\n")

	var warnings []string
	for i, table := range tables {
		sink.Advance(float64(i)/float64(len(tables)), fmt.Sprintf("dumping table %s", table), table)

		if err := n.dumpTable(ctx, w, table); err != nil {
			if isConnectionError(err) || ctx.Err() != nil {
				return warnings, fmt.Errorf("dump table %s: %w", table, err)
			}
			warning := fmt.Sprintf("table %s: %v", table, err)
			warnings = append(warnings, warning)
			fmt.Fprintf(w, "\n-- WARNING: %s\n", oneLine(warning))
		}
	}

	w.WriteString("\nSET FOREIGN_KEY_CHECKS=1;\n")
	if err := w.Flush(); err != nil {
		return warnings, fmt.Errorf("write dump file: %w", err)
	}
	if err := out.Sync(); err != nil {
		return warnings, fmt.Errorf("sync dump file: %w", err)
	}

	sink.Advance(1, "database dumped", "")
	return warnings, nil
}

func (n *NativeDumper) dumpTable(ctx context.Context, w *bufio.Writer, table string) error {
	var name, create string
	err := n.db.QueryRowContext(ctx, "SHOW CREATE TABLE "+quoteIdent(table)).Scan(&name, &create)
	if err != nil {
		return fmt.Errorf("show create table: %w", err)
	}

	fmt.Fprintf(w, "\n--\n-- Table structure for table %s\n--\n\n", quoteIdent(table))
	fmt.Fprintf(w, "DROP TABLE IF EXISTS %s;\n", quoteIdent(table))
	w.WriteString(create)
	w.WriteString(";\n\n")

	rows, err := n.db.QueryContext(ctx, "SELECT * FROM "+quoteIdent(table))
	if err != nil {
		return fmt.Errorf("select rows: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("columns: %w", err)
	}
	numeric := numericColumns(rows, len(columns))

	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
	}
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES\n", quoteIdent(table), strings.Join(quoted, ","))

	values := make([]sql.RawBytes, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}

	var batch strings.Builder
	inBatch := 0
	flush := func() {
		if inBatch == 0 {
			return
		}
		w.WriteString(prefix)
		w.WriteString(batch.String())
		w.WriteString(";\n")
		batch.Reset()
		inBatch = 0
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		if inBatch > 0 {
			batch.WriteString(",\n")
		}
		batch.WriteByte('(')
		for i, v := range values {
			if i > 0 {
				batch.WriteByte(',')
			}
			batch.WriteString(sqlLiteral(v, numeric[i]))
		}
		batch.WriteByte(')')
		inBatch++

		if inBatch == n.batch {
			flush()
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read rows: %w", err)
	}
	flush()
	return nil
}

func numericColumns(rows *sql.Rows, n int) []bool {
	numeric := make([]bool, n)
	types, err := rows.ColumnTypes()
	if err != nil {
		return numeric
	}
	for i, t := range types {
		switch strings.ToUpper(t.DatabaseTypeName()) {
		case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT",
			"UNSIGNED TINYINT", "UNSIGNED SMALLINT", "UNSIGNED MEDIUMINT", "UNSIGNED INT", "UNSIGNED BIGINT",
			"DECIMAL", "FLOAT", "DOUBLE", "YEAR":
			numeric[i] = true
		}
	}
	return numeric
}

// sqlLiteral renders a scanned value. NULL stays NULL, numbers are written
// bare, and everything else is quoted and escaped.
func sqlLiteral(v sql.RawBytes, numeric bool) string {
	if v == nil {
		return "NULL"
	}
	if numeric {
		return string(v)
	}
	return escapeString(string(v))
}

func escapeString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case 0:
			b.WriteString(`\0`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '"':
			b.WriteString(`\"`)
		case 0x1a:
			b.WriteString(`\Z`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isConnectionError(err error) bool {
	return errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, sql.ErrConnDone)
}
