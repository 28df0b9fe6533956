package duck

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/malbeclabs/powerfeat/pkg/frame"
)

// nullToken marks a null cell in staged CSV files. String cells are always
// quoted and quoted cells are never read as null, so a string equal to the
// token survives staging.
const nullToken = `\N`

const stageTimeLayout = "2006-01-02 15:04:05.999999"

var stageSeq atomic.Uint64

// ColumnInfo is a column name with its DuckDB type.
type ColumnInfo struct {
	Name string
	Type string
}

// scanFunc returns the table function that reads uri.
func scanFunc(uri string) string {
	lower := strings.ToLower(uri)
	if strings.HasSuffix(lower, ".csv") || strings.HasSuffix(lower, ".csv.gz") {
		return fmt.Sprintf("read_csv_auto(%s)", quoteLiteral(uri))
	}
	return fmt.Sprintf("read_parquet(%s)", quoteLiteral(uri))
}

// kindOf maps a DuckDB type name to the frame kind it is read as.
func kindOf(duckType string) frame.Kind {
	t := strings.ToUpper(strings.TrimSpace(duckType))
	switch {
	case t == "DOUBLE" || t == "FLOAT" || t == "REAL" || strings.HasPrefix(t, "DECIMAL"):
		return frame.KindFloat
	case t == "BOOLEAN" || strings.HasSuffix(t, "INT") || t == "INTEGER" || t == "BIGINT" || t == "HUGEINT" ||
		t == "UINTEGER" || t == "UBIGINT":
		return frame.KindInt
	case t == "DATE" || strings.HasPrefix(t, "TIMESTAMP"):
		return frame.KindTime
	}
	return frame.KindString
}

func castType(k frame.Kind) string {
	switch k {
	case frame.KindFloat:
		return "DOUBLE"
	case frame.KindInt:
		return "BIGINT"
	case frame.KindTime:
		return "TIMESTAMP"
	}
	return "VARCHAR"
}

// Describe returns the columns of the table at uri.
func Describe(ctx context.Context, conn Connection, uri string) ([]ColumnInfo, error) {
	rows, err := conn.QueryContext(ctx, "DESCRIBE SELECT * FROM "+scanFunc(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to describe %s: %w", uri, err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	var cols []ColumnInfo
	for rows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		cols = append(cols, ColumnInfo{Name: fmt.Sprint(values[0]), Type: fmt.Sprint(values[1])})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return cols, nil
}

// ReadTable loads the Parquet or CSV table at uri into a frame. Remote reads are
// retried on transient errors.
func ReadTable(ctx context.Context, log *slog.Logger, conn Connection, uri string) (*frame.Frame, error) {
	read := func() (*frame.Frame, error) { return readTable(ctx, conn, uri) }
	if IsS3(uri) {
		return retryRemote(ctx, log, "read "+uri, read)
	}
	return read()
}

func readTable(ctx context.Context, conn Connection, uri string) (*frame.Frame, error) {
	info, err := Describe(ctx, conn, uri)
	if err != nil {
		return nil, err
	}
	if len(info) == 0 {
		return nil, fmt.Errorf("table %s has no columns", uri)
	}

	cols := make([]*frame.Column, len(info))
	exprs := make([]string, len(info))
	for i, c := range info {
		k := kindOf(c.Type)
		cols[i] = &frame.Column{Name: c.Name, Kind: k}
		exprs[i] = fmt.Sprintf("CAST(%s AS %s)", quoteIdent(c.Name), castType(k))
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(exprs, ", "), scanFunc(uri))
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", uri, err)
	}
	defer rows.Close()

	valid := make([][]bool, len(cols))
	ptrs := make([]any, len(cols))
	strs := make([]sql.NullString, len(cols))
	floats := make([]sql.NullFloat64, len(cols))
	ints := make([]sql.NullInt64, len(cols))
	times := make([]sql.NullTime, len(cols))
	for i, c := range cols {
		switch c.Kind {
		case frame.KindString:
			ptrs[i] = &strs[i]
		case frame.KindFloat:
			ptrs[i] = &floats[i]
		case frame.KindInt:
			ptrs[i] = &ints[i]
		case frame.KindTime:
			ptrs[i] = &times[i]
		}
	}

	n := 0
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row %d of %s: %w", n, uri, err)
		}
		for i, c := range cols {
			var ok bool
			switch c.Kind {
			case frame.KindString:
				c.Strings = append(c.Strings, strs[i].String)
				ok = strs[i].Valid
			case frame.KindFloat:
				c.Floats = append(c.Floats, floats[i].Float64)
				ok = floats[i].Valid
			case frame.KindInt:
				c.Ints = append(c.Ints, ints[i].Int64)
				ok = ints[i].Valid
			case frame.KindTime:
				c.Times = append(c.Times, times[i].Time.UTC())
				ok = times[i].Valid
			}
			valid[i] = append(valid[i], ok)
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows of %s: %w", uri, err)
	}

	for i, c := range cols {
		for _, ok := range valid[i] {
			if !ok {
				c.Valid = valid[i]
				break
			}
		}
	}
	f, err := frame.New(cols...)
	if err != nil {
		return nil, fmt.Errorf("failed to build frame from %s: %w", uri, err)
	}
	return f, nil
}

// WriteTable writes f as Parquet to uri. The frame is staged through CSV into a
// temporary table and copied out. Local files are written to a sibling temp path
// and renamed into place so readers never see a partial file.
func WriteTable(ctx context.Context, log *slog.Logger, conn Connection, f *frame.Frame, uri string) error {
	if f.NumCols() == 0 {
		return errors.New("cannot write a table with no columns")
	}
	start := time.Now()
	defer func() {
		log.Debug("duck: table written", "uri", uri, "rows", f.NumRows(), "columns", f.NumCols(), "duration", time.Since(start).String())
	}()

	csvPath, err := stageCSV(ctx, f)
	if err != nil {
		return err
	}
	defer os.Remove(csvPath)

	if IsS3(uri) {
		_, err := retryRemote(ctx, log, "write "+uri, func() (struct{}, error) {
			return struct{}{}, copyOut(ctx, log, conn, f, csvPath, uri)
		})
		return err
	}

	if err := os.MkdirAll(filepath.Dir(uri), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp := fmt.Sprintf("%s.tmp-%d", uri, os.Getpid())
	defer os.Remove(tmp)
	if err := copyOut(ctx, log, conn, f, csvPath, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, uri); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", uri, err)
	}
	return nil
}

func stageCSV(ctx context.Context, f *frame.Frame) (string, error) {
	tmpFile, err := os.CreateTemp("", "powerfeat_stage_*.csv")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer tmpFile.Close()

	w := bufio.NewWriter(tmpFile)
	cols := f.Columns()
	var line []byte
	for r := 0; r < f.NumRows(); r++ {
		if r%4096 == 0 {
			select {
			case <-ctx.Done():
				os.Remove(tmpFile.Name())
				return "", fmt.Errorf("context cancelled during CSV writing: %w", ctx.Err())
			default:
			}
		}
		line = line[:0]
		for i, c := range cols {
			if i > 0 {
				line = append(line, ',')
			}
			line = appendStageValue(line, c, r)
		}
		line = append(line, '\n')
		if _, err := w.Write(line); err != nil {
			os.Remove(tmpFile.Name())
			return "", fmt.Errorf("failed to write CSV row %d: %w", r, err)
		}
	}
	if err := w.Flush(); err != nil {
		os.Remove(tmpFile.Name())
		return "", fmt.Errorf("failed to flush CSV: %w", err)
	}
	return tmpFile.Name(), nil
}

func appendStageValue(buf []byte, c *frame.Column, r int) []byte {
	if c.IsNull(r) {
		return append(buf, nullToken...)
	}
	switch c.Kind {
	case frame.KindFloat:
		return strconv.AppendFloat(buf, c.Floats[r], 'g', -1, 64)
	case frame.KindTime:
		return c.Times[r].UTC().AppendFormat(buf, stageTimeLayout)
	case frame.KindString:
		buf = append(buf, '"')
		buf = append(buf, strings.ReplaceAll(c.Strings[r], `"`, `""`)...)
		return append(buf, '"')
	}
	return append(buf, c.Format(r)...)
}

// copyOut loads the staged CSV into a temporary table and copies it to dest.
func copyOut(ctx context.Context, log *slog.Logger, conn Connection, f *frame.Frame, csvPath, dest string) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			log.Error("duck: failed to rollback transaction", "dest", dest, "error", err)
		}
	}()

	stage := fmt.Sprintf("powerfeat_stage_%d", stageSeq.Add(1))
	defs := make([]string, 0, f.NumCols())
	for _, c := range f.Columns() {
		defs = append(defs, fmt.Sprintf("%s %s", quoteIdent(c.Name), castType(c.Kind)))
	}
	createSQL := fmt.Sprintf("CREATE TEMP TABLE %s (\n\t%s\n)", stage, strings.Join(defs, ",\n\t"))
	if _, err := tx.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("failed to create stage table: %w", err)
	}

	if f.NumRows() > 0 {
		copyIn := fmt.Sprintf("COPY %s FROM %s (FORMAT CSV, HEADER false, QUOTE '\"', ESCAPE '\"', NULLSTR %s, ALLOW_QUOTED_NULLS false)", stage, quoteLiteral(csvPath), quoteLiteral(nullToken))
		if _, err := tx.ExecContext(ctx, copyIn); err != nil {
			return fmt.Errorf("failed to COPY FROM CSV: %w", err)
		}
	}

	copyTo := fmt.Sprintf("COPY %s TO %s (FORMAT PARQUET)", stage, quoteLiteral(dest))
	if _, err := tx.ExecContext(ctx, copyTo); err != nil {
		return fmt.Errorf("failed to COPY TO %s: %w", dest, err)
	}

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+stage); err != nil {
		log.Error("duck: failed to drop stage table", "error", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Exists reports whether a table is present at uri.
func Exists(ctx context.Context, log *slog.Logger, conn Connection, uri string) (bool, error) {
	if !IsS3(uri) {
		_, err := os.Stat(uri)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return retryRemote(ctx, log, "stat "+uri, func() (bool, error) {
		var n int64
		if err := conn.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM glob(%s)", quoteLiteral(uri))).Scan(&n); err != nil {
			return false, fmt.Errorf("failed to stat %s: %w", uri, err)
		}
		return n > 0, nil
	})
}
