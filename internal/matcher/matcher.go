// Package matcher defines the producer contract shared by every chat
// source and the export loop that drives a producer into a recorder.
package matcher

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/darkskygit/ChatImporter/internal/record"
)

// MsgMatcher is a producer of canonical chat records. MetadataMerger
// may return nil when the producer has no merge semantics.
type MsgMatcher interface {
	Records() ([]record.RecordType, error)
	MetadataMerger() record.MetadataMerger
}

// Export streams every record of the matcher into the recorder,
// logging progress in roughly 1% steps.
func Export(recorder record.ChatRecorder, m MsgMatcher) error {
	records, err := m.Records()
	if err != nil {
		return fmt.Errorf("cannot transform records: %w", err)
	}

	progress := 0.0
	sw := time.Now()
	for i, rt := range records {
		if frac := float64(i+1) / float64(len(records)); frac-progress > 0.01 {
			progress = frac
			log.Info().
				Str("progress", fmt.Sprintf("%.2f%%", progress*100)).
				Int("current", i).
				Int("total", len(records)).
				Dur("elapsed", time.Since(sw)).
				Msg("importing")
			sw = time.Now()
		}
		ok, err := recorder.InsertOrUpdateRecord(rt, m.MetadataMerger())
		if err != nil {
			return fmt.Errorf("cannot insert record %s: %w", rt.Record.Display(), err)
		}
		if !ok {
			log.Warn().Str("content", rt.Record.Content).Msg("failed to insert record")
		}
	}
	return recorder.RefreshIndex()
}
