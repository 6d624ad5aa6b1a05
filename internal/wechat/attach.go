package wechat

import (
	"fmt"
	"path"

	"github.com/rs/zerolog/log"

	"github.com/darkskygit/ChatImporter/internal/backup"
	"github.com/darkskygit/ChatImporter/internal/record"
)

// Attachments of a message live under composed path templates:
// Documents/<account>/<Img|Audio|Video|OpenData>/<chat-hash>/<local-id>
// with a per-kind extension. Every resolved blob is content-addressed
// before it leaves this file.

type resolvedFile struct {
	ftype    string
	metadata record.AttachMetadata
	data     []byte
}

// getFile resolves one attachment by its exact template path via the
// manifest index of the account's document tree.
func (l RecordLine) getFile(b *backup.Backup, files map[string]backup.BackupFile, account, hashedUser, fileType, folder, ext string) (resolvedFile, bool) {
	if l.SkipResource {
		return resolvedFile{}, false
	}
	rel := fmt.Sprintf("Documents/%s/%s/%s/%d.%s", account, folder, hashedUser, l.LocalID, ext)
	file, ok := files[rel]
	if !ok {
		log.Debug().
			Str("kind", fileType).
			Str("account", account).
			Str("chat", hashedUser).
			Int64("local_id", l.LocalID).
			Msg("attachment not found")
		return resolvedFile{}, false
	}
	data, err := b.ReadFile(file)
	if err != nil {
		log.Warn().
			Str("kind", fileType).
			Str("account", account).
			Str("chat", hashedUser).
			Int64("local_id", l.LocalID).
			Err(err).
			Msg("failed to read attachment")
		return resolvedFile{}, false
	}
	return resolvedFile{
		ftype:    fileType,
		metadata: record.NewAttachMetadata().WithHash(fileType, record.NewBlob(data).Hash),
		data:     data,
	}, true
}

// collectFiles folds resolved attachments into one metadata payload and
// a content-addressed bundle. Reports false when nothing resolved.
func collectFiles(files []resolvedFile) (record.AttachMetadata, record.Attachments, bool) {
	metadata := record.NewAttachMetadata()
	attaches := make(record.Attachments)
	for _, f := range files {
		hash, ok := f.metadata.Fields[f.ftype].Int()
		if !ok {
			continue
		}
		metadata = metadata.WithHash(f.ftype, hash)
		attaches[record.HashKey(hash)] = f.data
	}
	if len(attaches) == 0 || metadata.Empty() {
		return record.AttachMetadata{}, nil, false
	}
	return metadata, attaches, true
}

// GetImage resolves the thumbnail, standard and high-definition image
// variants of the line.
func (l RecordLine) GetImage(b *backup.Backup, files map[string]backup.BackupFile, account, hashedUser string) (record.AttachMetadata, record.Attachments, bool) {
	var resolved []resolvedFile
	for _, spec := range []struct{ ftype, ext string }{
		{"thum", "pic_thum"},
		{"img", "pic"},
		{"hd", "pic_hd"},
	} {
		if f, ok := l.getFile(b, files, account, hashedUser, spec.ftype, "Img", spec.ext); ok {
			resolved = append(resolved, f)
		}
	}
	return collectFiles(resolved)
}

// GetAudio resolves the voice payload of the line.
func (l RecordLine) GetAudio(b *backup.Backup, files map[string]backup.BackupFile, account, hashedUser string) (record.AttachMetadata, record.Attachments, bool) {
	if f, ok := l.getFile(b, files, account, hashedUser, "voice", "Audio", "aud"); ok {
		return collectFiles([]resolvedFile{f})
	}
	return record.AttachMetadata{}, nil, false
}

// GetVideo resolves the video payload of the line.
func (l RecordLine) GetVideo(b *backup.Backup, files map[string]backup.BackupFile, account, hashedUser string) (record.AttachMetadata, record.Attachments, bool) {
	if f, ok := l.getFile(b, files, account, hashedUser, "video", "Video", "mp4"); ok {
		return collectFiles([]resolvedFile{f})
	}
	return record.AttachMetadata{}, nil, false
}

// GetCustomApp resolves app-share payloads: pattern-derived descriptors
// plus every file under the OpenData template, each content-addressed
// under an attach:<name> field.
func (l RecordLine) GetCustomApp(b *backup.Backup, account, hashedUser string) (record.AttachMetadata, record.Attachments) {
	metadata := l.CustomAppMetadata()
	attaches := make(record.Attachments)
	if l.SkipResource {
		return metadata, attaches
	}
	prefix := fmt.Sprintf("Documents/%s/OpenData/%s/%d", account, hashedUser, l.LocalID)
	for _, file := range b.FindRegex(backupDomain, fmt.Sprintf("%s[\\./]", regexpQuote(prefix))) {
		name := path.Base(file.RelativePath)
		data, err := b.ReadFile(file)
		if err != nil {
			log.Warn().
				Str("account", account).
				Str("chat", hashedUser).
				Int64("local_id", l.LocalID).
				Str("name", name).
				Err(err).
				Msg("failed to read attachment")
			continue
		}
		blob := record.NewBlob(data)
		metadata = metadata.WithHash("attach:"+name, blob.Hash)
		attaches[record.HashKey(blob.Hash)] = data
	}
	return metadata, attaches
}

// AttachHashes sweeps every attachment path of the line for the
// consistency audit: content hash to relative path.
func (l RecordLine) AttachHashes(b *backup.Backup, account, hashedUser string) map[int64]string {
	out := make(map[int64]string)
	pattern := fmt.Sprintf("^Documents/%s/(Audio|Img|OpenData|Video)/%s/%d[\\./]", regexpQuote(account), hashedUser, l.LocalID)
	for _, file := range b.FindRegex(backupDomain, pattern) {
		data, err := b.ReadFile(file)
		if err != nil {
			log.Error().Str("path", file.RelativePath).Err(err).Msg("failed to read attachment")
			continue
		}
		out[record.NewBlob(data).Hash] = file.RelativePath
	}
	return out
}
