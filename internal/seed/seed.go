// Package seed reads the initial URI list of a crawl.
//
// A seed file is either CSV with a header row naming at least the uri and
// type columns, or plain text with one URI per line. The location may be a
// local path or a gs://bucket/object URL.
package seed

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/ld-frontier/internal/uri"
)

// ErrMissingColumns is returned for CSV seeds lacking a uri or type header.
var ErrMissingColumns = errors.New("csv seed must have uri and type columns")

const (
	colURI  = "uri"
	colType = "type"
)

// ObjectOpener reads an object from a bucket.
type ObjectOpener interface {
	Open(ctx context.Context, bucket, object string) (io.ReadCloser, error)
}

// Reader loads seed files.
type Reader struct {
	objects ObjectOpener
	logger  *zap.Logger
}

// NewReader creates a Reader. objects may be nil when no gs:// seeds are used.
func NewReader(objects ObjectOpener, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{objects: objects, logger: logger.Named("seed")}
}

// Load opens location and parses it. Files ending in .csv are parsed as CSV;
// everything else as one URI per line.
func (r *Reader) Load(ctx context.Context, location string) ([]uri.CrawleableURI, error) {
	rc, err := r.open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rc.Close(); cerr != nil {
			r.logger.Warn("closing seed source failed", zap.String("location", location), zap.Error(cerr))
		}
	}()

	var seeds []uri.CrawleableURI
	if strings.EqualFold(filepath.Ext(location), ".csv") {
		seeds, err = r.ReadCSV(rc)
	} else {
		seeds, err = r.ReadLines(rc)
	}
	if err != nil {
		return nil, fmt.Errorf("read seed %s: %w", location, err)
	}
	r.logger.Info("seed loaded", zap.String("location", location), zap.Int("uris", len(seeds)))
	return seeds, nil
}

func (r *Reader) open(ctx context.Context, location string) (io.ReadCloser, error) {
	if bucket, object, ok := splitGCS(location); ok {
		if r.objects == nil {
			return nil, fmt.Errorf("seed %s: no object store configured", location)
		}
		rc, err := r.objects.Open(ctx, bucket, object)
		if err != nil {
			return nil, fmt.Errorf("open seed object %s: %w", location, err)
		}
		return rc, nil
	}
	f, err := os.Open(filepath.Clean(location))
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	return f, nil
}

func splitGCS(location string) (bucket, object string, ok bool) {
	rest, found := strings.CutPrefix(location, "gs://")
	if !found {
		return "", "", false
	}
	bucket, object, found = strings.Cut(rest, "/")
	if !found || bucket == "" || object == "" {
		return "", "", false
	}
	return bucket, object, true
}

// ReadCSV parses a CSV seed. Header names match case-insensitively. Rows
// with an empty uri or type are skipped. The type is stored under
// uri.KeyType and every other column under its header name.
func (r *Reader) ReadCSV(in io.Reader) ([]uri.CrawleableURI, error) {
	cr := csv.NewReader(in)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrMissingColumns
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	uriIdx, typeIdx := -1, -1
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		header[i] = h
		switch strings.ToLower(h) {
		case colURI:
			uriIdx = i
		case colType:
			typeIdx = i
		}
	}
	if uriIdx < 0 || typeIdx < 0 {
		return nil, ErrMissingColumns
	}

	var out []uri.CrawleableURI
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", line, err)
		}
		raw, typ := field(rec, uriIdx), field(rec, typeIdx)
		if raw == "" || typ == "" {
			continue
		}
		c, err := uri.New(raw)
		if err != nil {
			r.logger.Warn("skipping invalid seed uri", zap.Int("row", line), zap.String("uri", raw), zap.Error(err))
			continue
		}
		c = c.WithData(uri.KeyType, typ)
		for i, h := range header {
			if i == uriIdx || i == typeIdx || h == "" {
				continue
			}
			c.Data[h] = field(rec, i)
		}
		out = append(out, c)
	}
	return out, nil
}

// ReadLines parses one URI per line. Blank lines and lines starting with #
// are ignored.
func (r *Reader) ReadLines(in io.Reader) ([]uri.CrawleableURI, error) {
	var out []uri.CrawleableURI
	sc := bufio.NewScanner(in)
	for line := 1; sc.Scan(); line++ {
		raw := strings.TrimSpace(sc.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		c, err := uri.New(raw)
		if err != nil {
			r.logger.Warn("skipping invalid seed uri", zap.Int("line", line), zap.String("uri", raw), zap.Error(err))
			continue
		}
		out = append(out, c)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan seed: %w", err)
	}
	return out, nil
}

func field(rec []string, i int) string {
	if i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}
