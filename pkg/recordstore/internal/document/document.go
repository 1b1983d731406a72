// Package document defines the stored form of the records shared by the
// document-oriented backends. Field names follow the collections written
// by the existing deployment so that documents stay readable by the
// metadata and bfid writers.
package document

import (
	"math"

	"github.com/nspcc-dev/smallfiles/pkg/recordstore"
)

// File is a stored recordstore.FileRecord.
type File struct {
	ID     string `bson:"pnfsid"`
	Path   string `bson:"path,omitempty"`
	Parent string `bson:"parent,omitempty"`
	Size   int64  `bson:"size"`
	// CTime is written as floating point seconds by the metadata filler.
	CTime      float64 `bson:"ctime"`
	Group      string  `bson:"group,omitempty"`
	Store      string  `bson:"store,omitempty"`
	State      string  `bson:"state,omitempty"`
	Lock       string  `bson:"lock,omitempty"`
	ArchiveURL string  `bson:"archiveUrl,omitempty"`
}

// Archive is a stored recordstore.ArchiveRecord.
type Archive struct {
	ID   string `bson:"pnfsid"`
	Path string `bson:"path"`
}

// FromFileRecord converts record to its document.
func FromFileRecord(rec recordstore.FileRecord) File {
	var st string
	if rec.State.Phase != recordstore.PhaseUnknown {
		st = rec.State.String()
	}

	return File{
		ID:         rec.ID,
		Path:       rec.Path,
		Parent:     rec.Parent,
		Size:       int64(rec.Size),
		CTime:      float64(rec.CTime),
		Group:      rec.Group,
		Store:      rec.Store,
		State:      st,
		Lock:       rec.Lock,
		ArchiveURL: rec.ArchiveURL,
	}
}

// FileRecord converts document to the record. Documents without a state
// or with an unparsable one (not yet processed by the metadata filler)
// get PhaseUnknown and are never selected for packing.
func (d File) FileRecord() recordstore.FileRecord {
	st, err := recordstore.ParseState(d.State)
	if err != nil {
		st = recordstore.State{}
	}

	var size uint64
	if d.Size > 0 {
		size = uint64(d.Size)
	}

	return recordstore.FileRecord{
		ID:         d.ID,
		Path:       d.Path,
		Parent:     d.Parent,
		Size:       size,
		CTime:      int64(math.Floor(d.CTime)),
		Group:      d.Group,
		Store:      d.Store,
		State:      st,
		Lock:       d.Lock,
		ArchiveURL: d.ArchiveURL,
	}
}

// FromArchiveRecord converts archive record to its document.
func FromArchiveRecord(a recordstore.ArchiveRecord) Archive {
	return Archive{ID: a.ID, Path: a.Path}
}

// ArchiveRecord converts document to the record.
func (d Archive) ArchiveRecord() recordstore.ArchiveRecord {
	return recordstore.ArchiveRecord{ID: d.ID, Path: d.Path}
}
