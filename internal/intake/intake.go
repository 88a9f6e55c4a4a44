// Package intake reads the order batches to evaluate from CSV files.
//
// Every *.csv file of the input directory is read in name order. A file may
// start with a UTF-8 byte order mark and may use a comma, semicolon, tab or
// pipe as its delimiter; the delimiter is sniffed from the header line.
package intake

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/roach88/resendgate/internal/engine"
)

// Column names understood in input files.
const (
	ColumnOrderID        = "ORDER_UNIQUE_ID"
	ColumnArticleProduct = "ARTICLE_PRODUCT_ID"
	ColumnWorkflowStatus = "WORKFLOW_STATUS"
)

// Context keys attached to every job.
const (
	KeyFile      = "file"
	KeyRowNumber = "row_number"
)

// ErrMissingOrderColumn is returned for a file without an ORDER_UNIQUE_ID
// column.
var ErrMissingOrderColumn = errors.New("field " + ColumnOrderID + " missing")

// contextColumns are copied into the job context when present and non-empty.
var contextColumns = []string{ColumnArticleProduct, ColumnWorkflowStatus}

var delimiters = []rune{',', ';', '\t', '|'}

// FindCSVFiles lists the *.csv files of dir, sorted by name.
func FindCSVFiles(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("input directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input directory: %s is not a directory", dir)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("list csv files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// ReadFile reads the jobs of one CSV file. Rows with a blank order id are
// skipped; row numbers count the header as row 1.
func ReadFile(path string) ([]engine.Job, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	jobs, err := Read(filepath.Base(path), f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return jobs, nil
}

// Read parses CSV content. name is recorded as the file of every job.
func Read(name string, r io.Reader) ([]engine.Job, error) {
	data, err := io.ReadAll(transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())))
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = sniffDelimiter(data)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrMissingOrderColumn
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, col := range header {
		if _, dup := index[col]; !dup {
			index[col] = i
		}
	}
	idCol, ok := index[ColumnOrderID]
	if !ok {
		return nil, ErrMissingOrderColumn
	}

	var jobs []engine.Job
	for row := 2; ; row++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}

		orderID := strings.TrimSpace(field(record, idCol))
		if orderID == "" {
			continue
		}

		ctx := []engine.Field{
			{Key: KeyFile, Value: name},
			{Key: KeyRowNumber, Value: row},
		}
		for _, col := range contextColumns {
			i, ok := index[col]
			if !ok {
				continue
			}
			if v := field(record, i); v != "" {
				ctx = append(ctx, engine.Field{Key: col, Value: v})
			}
		}
		jobs = append(jobs, engine.Job{OrderID: orderID, Context: ctx})
	}
	return jobs, nil
}

func field(record []string, i int) string {
	if i < len(record) {
		return record[i]
	}
	return ""
}

// sniffDelimiter picks the candidate delimiter that occurs most often in the
// header line. Ties go to the earlier candidate; no candidate means a comma.
func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		line = data[:i]
	}
	best, bestCount := ',', 0
	for _, d := range delimiters {
		if n := bytes.Count(line, []byte(string(d))); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}
