package database

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/semmidev/strongbox/internal/config"
	"github.com/semmidev/strongbox/internal/domain"
)

// mysqldump --verbose announces each table on stderr.
var verboseTableLine = regexp.MustCompile("^-- Retrieving table structure for table `?(.+?)`?\\.{3}\\s*$")

// stderrTail is how many trailing stderr lines are kept for error messages.
const stderrTail = 20

// TableLister reports the tables a dump will cover, for progress only.
type TableLister interface {
	ListTables(ctx context.Context) ([]string, error)
}

// MySQLDump runs the external mysqldump binary. Nothing passes through a
// shell and the password travels in MYSQL_PWD, never in argv.
type MySQLDump struct {
	config *config.DatabaseConfig
	tables TableLister
}

func NewMySQLDump(cfg *config.DatabaseConfig, tables TableLister) *MySQLDump {
	return &MySQLDump{config: cfg, tables: tables}
}

func (m *MySQLDump) binary() string {
	if m.config.DumpBinary == "" {
		return "mysqldump"
	}
	return m.config.DumpBinary
}

func (m *MySQLDump) args() []string {
	return []string{
		fmt.Sprintf("--host=%s", m.config.Host),
		fmt.Sprintf("--port=%d", m.config.Port),
		fmt.Sprintf("--user=%s", m.config.Username),
		"--single-transaction",
		"--quick",
		"--lock-tables=false",
		"--routines",
		"--triggers",
		"--events",
		"--add-drop-table",
		"--verbose",
		m.config.Database,
	}
}

func (m *MySQLDump) Dump(ctx context.Context, destination string, sink domain.ProgressSink) ([]string, error) {
	total := 0
	if m.tables != nil {
		if tables, err := m.tables.ListTables(ctx); err == nil {
			total = len(tables)
		}
	}

	out, err := os.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("create dump file: %w", err)
	}
	defer out.Close()

	cmd := exec.CommandContext(ctx, m.binary(), m.args()...)
	cmd.Env = append(os.Environ(), "MYSQL_PWD="+m.config.Password)
	cmd.Stdout = out

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("mysqldump stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", m.binary(), err)
	}

	// Stdout goes straight to the file, so reading stderr here cannot
	// deadlock. The pipe must be drained before Wait closes it.
	tail := monitorStderr(stderr, total, sink)

	if waitErr := cmd.Wait(); waitErr != nil {
		return nil, fmt.Errorf("mysqldump failed: %w, output: %s", waitErr, strings.Join(tail, "\n"))
	}

	if err := out.Sync(); err != nil {
		return nil, fmt.Errorf("sync dump file: %w", err)
	}
	info, err := out.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat dump file: %w", err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("mysqldump produced empty output, output: %s", strings.Join(tail, "\n"))
	}

	sink.Advance(1, "database dumped", "")
	return nil, nil
}

// monitorStderr turns verbose table announcements into progress and keeps
// the last lines for diagnostics.
func monitorStderr(r io.Reader, total int, sink domain.ProgressSink) []string {
	var tail []string
	seen := 0

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if match := verboseTableLine.FindStringSubmatch(line); match != nil {
			fraction := 0.0
			if total > 0 {
				fraction = float64(seen) / float64(total)
			}
			seen++
			sink.Advance(fraction, fmt.Sprintf("dumping table %s", match[1]), match[1])
			continue
		}

		tail = append(tail, line)
		if len(tail) > stderrTail {
			tail = tail[1:]
		}
	}
	// Drain whatever is left if the scanner gave up on an oversized line.
	io.Copy(io.Discard, r)
	return tail
}
