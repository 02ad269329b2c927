package oplog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// ReadSink decodes a JSON-lines sink file back into entries, oldest first.
// Lines that fail to decode are skipped so a partially written tail does not
// hide the rest of the history.
func ReadSink(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("oplog: open sink: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("oplog: read sink: %w", err)
	}
	return entries, nil
}
