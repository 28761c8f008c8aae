package database

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/go-sql-driver/mysql"

	"github.com/semmidev/strongbox/internal/domain"
)

// alreadyExists lists server errors that mean the object is already in place.
var alreadyExists = map[uint16]string{
	1007: "database exists",
	1050: "table exists",
	1061: "duplicate key name",
	1304: "procedure or function exists",
	1359: "trigger exists",
	1537: "event exists",
	1826: "duplicate foreign key constraint",
}

type ScriptResult struct {
	Statements int
	Skipped    int
	Warnings   []string
}

// ExecuteScript runs every statement of a dump in order on one session.
// "Already exists" errors are recorded and skipped; any other error stops
// the script.
func ExecuteScript(ctx context.Context, exec domain.StatementExecutor, script io.Reader) (ScriptResult, error) {
	var result ScriptResult
	splitter := NewSplitter(script)
	for {
		stmt, err := splitter.Next()
		if errors.Is(err, io.EOF) {
			return result, nil
		}
		if err != nil {
			return result, err
		}

		if _, err := exec.ExecContext(ctx, stmt); err != nil {
			var myErr *mysql.MySQLError
			if errors.As(err, &myErr) {
				if reason, ok := alreadyExists[myErr.Number]; ok {
					result.Skipped++
					result.Warnings = append(result.Warnings,
						fmt.Sprintf("statement %d skipped (%s): %s", result.Statements+result.Skipped, reason, myErr.Message))
					continue
				}
			}
			return result, fmt.Errorf("statement %d: %w", result.Statements+result.Skipped+1, err)
		}

		result.Statements++
	}
}
