// Package ingest loads the shop dataset from a directory of CSV files.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/shopgeo/internal/domain/record"
)

// Extension selects the files that become collections.
const Extension = ".csv"

// DefaultParallelism bounds how many files are parsed at once.
const DefaultParallelism = 4

// ErrMissingPrimaryKey is returned for a file whose header has no "id" column.
var ErrMissingPrimaryKey = errors.New("missing primary key column")

type row struct {
	id     string
	fields map[string]string
}

type table struct {
	kind record.Kind
	rows []row
}

// Loader reads every *.csv file in a directory into a record.Store. The file
// base name is the collection kind (shops.csv -> shops).
type Loader struct {
	dir         string
	parallelism int
	logger      *zap.Logger
}

// NewLoader creates a loader for dir. logger may be nil.
func NewLoader(dir string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{dir: dir, parallelism: DefaultParallelism, logger: logger}
}

// WithParallelism sets the number of files parsed concurrently.
func (l *Loader) WithParallelism(n int) *Loader {
	if n > 0 {
		l.parallelism = n
	}
	return l
}

// Load parses the directory. The known kinds are always registered, so an
// absent file yields an empty collection rather than an unknown kind.
func (l *Loader) Load(ctx context.Context) (*record.Store, error) {
	if _, err := os.Stat(l.dir); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	paths, err := filepath.Glob(filepath.Join(l.dir, "*"+Extension))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", l.dir, err)
	}
	sort.Strings(paths)

	tables := make([]table, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.parallelism)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			t, err := parseFile(path)
			if err != nil {
				return err
			}
			tables[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	b := record.NewBuilder().
		Collection(record.Shops).
		Collection(record.Products).
		Collection(record.Tags).
		Collection(record.Taggings)
	for _, t := range tables {
		b.Collection(t.kind)
		for _, r := range t.rows {
			if err := b.Add(t.kind, r.id, r.fields); err != nil {
				return nil, fmt.Errorf("load %s: %w", t.kind, err)
			}
		}
		l.logger.Info("Collection loaded",
			zap.String("kind", string(t.kind)),
			zap.Int("records", len(t.rows)),
		)
	}
	return b.Build(), nil
}

func parseFile(path string) (table, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return table{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	kind := record.Kind(strings.TrimSuffix(filepath.Base(path), Extension))
	rows, err := readRows(f)
	if err != nil {
		return table{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return table{kind: kind, rows: rows}, nil
}

// readRows parses one CSV collection. The first line is the header; the "id"
// column is the primary key and stays a field of every row. An empty input
// is an empty collection.
func readRows(r io.Reader) ([]row, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	idCol := -1
	for i, name := range header {
		if name == record.PrimaryKey {
			idCol = i
			break
		}
	}
	if idCol < 0 {
		return nil, ErrMissingPrimaryKey
	}

	var rows []row
	for {
		values, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(rows)+1, err)
		}
		fields := make(map[string]string, len(header))
		for i, name := range header {
			fields[name] = values[i]
		}
		rows = append(rows, row{id: strings.TrimSpace(values[idCol]), fields: fields})
	}
	return rows, nil
}
