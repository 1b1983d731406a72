package archive

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// Listing is the content of an archive.
type Listing struct {
	Entries []Entry
	// Index is the text index from the archive comment.
	Index string

	zr *zip.Reader
}

// List reads the central directory of the archive of the given size.
func List(r io.ReaderAt, size int64) (*Listing, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("read central directory: %w", err)
	}
	zr.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())

	l := &Listing{
		Entries: make([]Entry, len(zr.File)),
		Index:   zr.Comment,
		zr:      zr,
	}

	for i, f := range zr.File {
		l.Entries[i] = Entry{Name: f.Name, Size: f.UncompressedSize64}
	}

	return l, nil
}

// Open returns reader of the i-th entry payload. The checksum is verified
// when the reader reaches EOF.
func (l *Listing) Open(i int) (io.ReadCloser, error) {
	if i < 0 || i >= len(l.zr.File) {
		return nil, fmt.Errorf("entry %d out of range", i)
	}
	return l.zr.File[i].Open()
}

// IndexRecord is a parsed line of the archive index.
type IndexRecord struct {
	Name string
	Size uint64
	Path string
}

// ParseIndex parses the archive index text. Malformed lines are skipped.
func ParseIndex(index string) []IndexRecord {
	var (
		res []IndexRecord
		sc  = bufio.NewScanner(strings.NewReader(index))
	)

	for sc.Scan() {
		name, rest, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}

		rest = strings.TrimLeft(rest, " ")
		sz, p, ok := strings.Cut(rest, " ")
		if !ok {
			continue
		}

		size, err := strconv.ParseUint(sz, 10, 64)
		if err != nil {
			continue
		}

		res = append(res, IndexRecord{Name: name, Size: size, Path: p})
	}

	return res
}
