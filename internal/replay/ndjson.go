package replay

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"bookguard/pkg/wire"
)

// LoadFrames reads an NDJSON frame log eagerly into memory, skipping blank
// lines. Each non-blank line must decode as a wire.RecordedFrame.
func LoadFrames(r io.Reader) ([]wire.RecordedFrame, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var frames []wire.RecordedFrame
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var f wire.RecordedFrame
		if err := json.Unmarshal(line, &f); err != nil {
			return nil, fmt.Errorf("replay: decode line %d: %w", lineNo, err)
		}
		frames = append(frames, f)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("replay: scan frame log: %w", err)
	}
	return frames, nil
}
