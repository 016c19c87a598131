package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Source yields classified records until io.EOF.
type Source interface {
	Name() string
	Next() (Record, error)
	Close() error
}

// BatchFilePath is where the batch for a version is expected.
func BatchFilePath(dataDir, version string) string {
	return filepath.Join(dataDir, fmt.Sprintf("pois_%s.csv", version))
}

// CSVSource reads a comma-separated batch file. The first row is a header and is skipped.
type CSVSource struct {
	path   string
	file   *os.File
	reader *csv.Reader
	line   int
	eof    bool
}

func OpenCSVSource(path string) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open batch file %s", path)
	}

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	s := &CSVSource{path: path, file: f, reader: reader}
	if _, err := reader.Read(); err != nil {
		var parseErr *csv.ParseError
		switch {
		case err == io.EOF:
			s.eof = true
		case errors.As(err, &parseErr):
			// A broken header line is still just a header.
		default:
			_ = f.Close()
			return nil, errors.Wrapf(err, "read header of %s", path)
		}
	}
	return s, nil
}

func (s *CSVSource) Name() string { return s.path }

func (s *CSVSource) Next() (Record, error) {
	if s.eof {
		return nil, io.EOF
	}
	for {
		row, err := s.reader.Read()
		if err == io.EOF {
			s.eof = true
			return nil, io.EOF
		}

		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			s.line = parseErr.StartLine
			return Rejected{Line: s.line, Reason: RejectMalformedLine, Detail: parseErr.Err.Error()}, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read %s after line %d", s.path, s.line)
		}
		s.line, _ = s.reader.FieldPos(0)
		if len(row) == 1 && row[0] == "" {
			continue
		}
		return ParseFields(s.line, row), nil
	}
}

func (s *CSVSource) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
