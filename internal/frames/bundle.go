package frames

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Capture window bounds relative to the incident time.
const (
	windowBefore = 30 * time.Second
	windowAfter  = 5 * time.Second
)

// BundleInput is everything ExportBundle needs to assemble an incident
// archive. Config, HealthSnapshot, Instrument, BookTop, and Proof are
// passed as opaque values and marshaled as-is; callers own their shape so
// this package never needs to import checksum/health/config types and risk
// a dependency cycle.
type BundleInput struct {
	Incident       Incident
	Config         interface{}
	HealthSnapshot interface{}
	Instrument     interface{} // nil if not yet known for this symbol
	BookTop        interface{} // nil if the book was never seeded
	Proof          interface{} // nil if no verification has run yet
	Ring           *Ring       // the global ring, or the incident's symbol ring if it has one
}

// ExportBundle writes a deflate-compressed zip archive to w containing
// metadata.json, config.json, health.json, instrument.json (if present),
// book_top.json (if present), checksums.json (if present), and
// frames.ndjson covering [incident_time-30s, incident_time+5s].
func ExportBundle(w io.Writer, in BundleInput) error {
	zw := zip.NewWriter(w)

	if err := writeJSONEntry(zw, "metadata.json", in.Incident); err != nil {
		return err
	}
	if err := writeJSONEntry(zw, "config.json", in.Config); err != nil {
		return err
	}
	if err := writeJSONEntry(zw, "health.json", in.HealthSnapshot); err != nil {
		return err
	}
	if in.Instrument != nil {
		if err := writeJSONEntry(zw, "instrument.json", in.Instrument); err != nil {
			return err
		}
	}
	if in.BookTop != nil {
		if err := writeJSONEntry(zw, "book_top.json", in.BookTop); err != nil {
			return err
		}
	}
	if in.Proof != nil {
		if err := writeJSONEntry(zw, "checksums.json", in.Proof); err != nil {
			return err
		}
	}

	if err := writeFramesNDJSON(zw, in.Incident.Timestamp, in.Ring); err != nil {
		return err
	}

	return zw.Close()
}

func writeJSONEntry(zw *zip.Writer, name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	f, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	_, err = f.Write(data)
	return err
}

func writeFramesNDJSON(zw *zip.Writer, incidentTime time.Time, ring *Ring) error {
	f, err := zw.Create("frames.ndjson")
	if err != nil {
		return fmt.Errorf("create frames.ndjson: %w", err)
	}
	if ring == nil {
		return nil
	}

	from := incidentTime.Add(-windowBefore)
	to := incidentTime.Add(windowAfter)

	var buf bytes.Buffer
	for _, frame := range ring.Window(from, to) {
		line := struct {
			TS  string `json:"ts"`
			Raw string `json:"raw_frame"`
		}{TS: frame.TS.Format(time.RFC3339Nano), Raw: frame.Raw}

		data, err := json.Marshal(line)
		if err != nil {
			return fmt.Errorf("marshal frame line: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	_, err = f.Write(buf.Bytes())
	return err
}
