package docstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

type dumpWriter struct {
	bw *bufio.Writer
}

func newDumpWriter(w io.Writer) *dumpWriter {
	return &dumpWriter{bw: bufio.NewWriter(w)}
}

// writeCollection emits one record per document. An empty collection is
// recorded with a null document so it survives a round trip.
func (d *dumpWriter) writeCollection(name string, docs []Document) error {
	if len(docs) == 0 {
		return d.writeRaw(name, json.RawMessage("null"))
	}
	for _, doc := range docs {
		raw, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		if err := d.writeRaw(name, raw); err != nil {
			return err
		}
	}
	return nil
}

func (d *dumpWriter) writeRaw(name string, raw json.RawMessage) error {
	line, err := json.Marshal(DumpRecord{Collection: name, Document: raw})
	if err != nil {
		return err
	}
	if _, err := d.bw.Write(line); err != nil {
		return err
	}
	return d.bw.WriteByte('\n')
}

func (d *dumpWriter) flush() error { return d.bw.Flush() }

// readDump calls fn for every document in a dump. Collections recorded as
// empty are reported with a nil document.
func readDump(r io.Reader, fn func(coll string, doc Document) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), 64<<20)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec DumpRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return fmt.Errorf("dump line %d: %w", line, err)
		}
		if err := ValidateName("collection", rec.Collection); err != nil {
			return fmt.Errorf("dump line %d: %w", line, err)
		}
		if string(rec.Document) == "null" || len(rec.Document) == 0 {
			if err := fn(rec.Collection, nil); err != nil {
				return err
			}
			continue
		}
		doc, err := DecodeDocument(rec.Document)
		if err != nil {
			return fmt.Errorf("dump line %d: %w", line, err)
		}
		if err := fn(rec.Collection, doc); err != nil {
			return err
		}
	}
	return sc.Err()
}
