package record

import (
	"github.com/rs/zerolog/log"

	"github.com/darkskygit/ChatImporter/internal/phash"
)

// similarityThreshold is the perceptual-hash Hamming bound under which
// two images count as the same picture.
const similarityThreshold = 5

// MergeMetadata fuses a previously stored metadata payload with a
// freshly derived one. The merged field map is the union keyed by field
// name; on conflict the new value wins, and fields present only in the
// old payload survive. Conflicts are reported as warnings, except a
// thumbnail regenerated against the same underlying image, which stays
// silent.
func MergeMetadata(blobs BlobSource, attaches Attachments, oldRaw, newRaw []byte) []byte {
	oldMeta, err := UnmarshalMetadata(oldRaw)
	if err != nil {
		log.Error().Err(err).Msg("failed to parse old metadata")
		return newRaw
	}
	newMeta, err := UnmarshalMetadata(newRaw)
	if err != nil {
		// The new payload is freshly derived; a parse failure here is a
		// producer bug, not backup damage.
		log.Error().Err(err).Msg("failed to parse new metadata")
		return newRaw
	}

	merged := NewAttachMetadata().WithType(newMeta.MType)
	for key, val := range oldMeta.Fields {
		merged.Fields[key] = val
	}
	for key, val := range newMeta.Fields {
		merged.Fields[key] = val
	}

	reportOverrides(blobs, attaches, oldMeta.Fields, merged.Fields)

	out, err := merged.Marshal()
	if err != nil {
		log.Error().Err(err).Msg("failed to serialize merged metadata")
		return newRaw
	}
	return out
}

// reportOverrides warns once per field whose value changed, skipping a
// thumbnail override whose new high-resolution counterparts are
// perceptually similar to the replaced thumbnail.
func reportOverrides(blobs BlobSource, attaches Attachments, oldFields, newFields map[string]MetadataValue) {
	for key, oldVal := range oldFields {
		newVal, ok := newFields[key]
		if !ok || newVal == oldVal {
			continue
		}
		if key == "thum" {
			if thum, isInt := newVal.Int(); isInt && thumbnailMatches(blobs, attaches, oldVal, newFields, thum) {
				// The re-imported backup merely regenerated the
				// thumbnail against the same underlying image.
				continue
			}
		}
		log.Warn().
			Str("field", key).
			Str("old", oldVal.String()).
			Str("new", newVal.String()).
			Msg("metadata override")
	}
}

// thumbnailMatches fingerprints the incoming thumbnail and compares it
// against the new high-resolution blobs (and the prior thumbnail, since
// a migrated record may have regenerated it).
func thumbnailMatches(blobs BlobSource, attaches Attachments, oldVal MetadataValue, newFields map[string]MetadataValue, thum int64) bool {
	var targets []uint64
	for _, name := range []string{"img", "hd"} {
		hash, isInt := newFields[name].Int()
		if !isInt {
			continue
		}
		if h, ok := fingerprintStored(blobs, hash); ok {
			targets = append(targets, h)
		}
	}
	if old, isInt := oldVal.Int(); isInt {
		if h, ok := fingerprintStored(blobs, old); ok {
			targets = append(targets, h)
		}
	}
	if len(targets) == 0 {
		return false
	}

	blob, ok := attaches[HashKey(thum)]
	if !ok {
		return false
	}
	thumHash, err := phash.BlobDHash(blob)
	if err != nil {
		log.Warn().Int64("hash", thum).Err(err).Msg("failed to decode image")
		return false
	}
	for _, target := range targets {
		if phash.Distance(target, thumHash) <= similarityThreshold {
			return true
		}
	}
	log.Warn().Int64("hash", thum).Msg("failed to find similar image")
	return false
}

func fingerprintStored(blobs BlobSource, hash int64) (uint64, bool) {
	blob, err := blobs.GetBlob(hash)
	if err != nil {
		return 0, false
	}
	h, err := phash.BlobDHash(blob)
	if err != nil {
		log.Warn().Int64("hash", hash).Err(err).Msg("failed to decode image")
		return 0, false
	}
	return h, true
}
