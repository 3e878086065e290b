// Package capture persists frames crossing the relay as timestamped .bin
// files for offline inspection. The shutdown janitor sweeps them back out.
package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Stage names the pipeline point a frame was captured at. Each stage maps to
// its own scratch directory.
type Stage string

const (
	StageInboundRaw   Stage = "inbound/raw_capture"
	StageDisassembled Stage = "inbound/disassembled_packets"
	StageOutboundRaw  Stage = "outbound/raw_capture"
	StageAssembled    Stage = "outbound/assembled_packets"
)

var stages = []Stage{StageInboundRaw, StageDisassembled, StageOutboundRaw, StageAssembled}

// Capture writes frames under root when enabled. The zero-value sink is
// disabled and writes nothing, so callers never need a nil check.
type Capture struct {
	enabled bool
	root    string
	seq     atomic.Uint64
}

// New prepares the scratch directory tree. With enabled false the returned
// sink discards writes but Cleanup still sweeps root.
func New(enabled bool, root string) (*Capture, error) {
	c := &Capture{enabled: enabled, root: root}
	if !enabled {
		return c, nil
	}
	for _, stage := range stages {
		if err := os.MkdirAll(filepath.Join(root, string(stage)), 0o755); err != nil {
			return nil, fmt.Errorf("create capture directory: %w", err)
		}
	}
	return c, nil
}

// Write persists one frame under the stage directory. Failures are logged
// and swallowed: capture must never stall the pipeline.
func (c *Capture) Write(stage Stage, frame []byte) {
	if c == nil || !c.enabled {
		return
	}

	// Timestamp orders files oldest to newest; the sequence number keeps
	// names unique within one microsecond.
	now := time.Now()
	name := fmt.Sprintf("%s%06d_%08d.bin",
		now.Format("20060102150405"), now.Nanosecond()/1000, c.seq.Add(1))
	path := filepath.Join(c.root, string(stage), name)

	if err := os.WriteFile(path, frame, 0o644); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("frame capture failed")
		return
	}
	log.Trace().Str("path", path).Int("size", len(frame)).Msg("captured frame")
}

// Cleanup deletes every .bin file under the stage directories and returns
// how many were removed. Missing directories are not an error.
func (c *Capture) Cleanup() int {
	if c == nil || c.root == "" {
		return 0
	}

	deleted := 0
	for _, stage := range stages {
		dir := filepath.Join(c.root, string(stage))
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".bin") {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			log.Debug().Str("path", path).Msg("deleting capture file")
			if err := os.Remove(path); err != nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to delete capture file")
				continue
			}
			deleted++
		}
	}
	return deleted
}
