// Converts doc-part rows to and from their JSONL representation.

package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/maruel/docrel/internal/d2r"
	"github.com/maruel/docrel/internal/jsonldb"
	"github.com/maruel/docrel/internal/kvdoc"
	"github.com/maruel/docrel/internal/meta"
)

// storedRow is one line of a doc-part table file. Values is an extended JSON
// object keyed by column identifier.
type storedRow struct {
	Rid    int64           `json:"rid"`
	Pid    int64           `json:"pid,omitempty"`
	Did    int64           `json:"did"`
	Seq    *int            `json:"seq,omitempty"`
	Values json.RawMessage `json:"v"`
}

func (r *storedRow) Clone() *storedRow {
	c := *r
	c.Values = slices.Clone(r.Values)
	if r.Seq != nil {
		s := *r.Seq
		c.Seq = &s
	}
	return &c
}

func (r *storedRow) GetID() int64 {
	return r.Rid
}

// encodeRow renders r with its columns in the creation order of dp.
func encodeRow(dp *meta.DocPart, r *d2r.Row) (*storedRow, error) {
	doc := kvdoc.NewDocument()
	for _, f := range dp.Fields() {
		if v, ok := r.Values[f.Identifier()]; ok {
			doc.Set(f.Identifier(), v)
		}
	}
	if doc.Len() != len(r.Values) {
		return nil, fmt.Errorf("row %d of %s has columns unknown to the schema", r.Rid, dp.Identifier())
	}
	var buf bytes.Buffer
	if err := kvdoc.AppendJSON(&buf, doc); err != nil {
		return nil, fmt.Errorf("failed to encode row %d of %s: %w", r.Rid, dp.Identifier(), err)
	}
	out := &storedRow{Rid: r.Rid, Pid: r.Pid, Did: r.Did, Values: buf.Bytes()}
	if r.HasSeq() {
		seq := r.Seq
		out.Seq = &seq
	}
	return out, nil
}

func decodeRow(sr *storedRow) (*d2r.Row, error) {
	doc, err := kvdoc.ParseDocument(sr.Values)
	if err != nil {
		return nil, fmt.Errorf("failed to decode row %d: %w", sr.Rid, err)
	}
	r := &d2r.Row{Rid: sr.Rid, Pid: sr.Pid, Did: sr.Did, Seq: d2r.NoSeq, Values: make(map[string]kvdoc.Value, doc.Len())}
	if sr.Seq != nil {
		r.Seq = *sr.Seq
	}
	for k, v := range doc.All() {
		r.Values[k] = v
	}
	return r, nil
}

// columnsOf returns the table header of dp.
func columnsOf(dp *meta.DocPart) []jsonldb.Column {
	fields := dp.Fields()
	out := make([]jsonldb.Column, len(fields))
	for i, f := range fields {
		out[i] = jsonldb.Column{Name: f.Identifier(), Type: f.Type().String()}
	}
	return out
}
