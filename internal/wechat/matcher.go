package wechat

import (
	"github.com/darkskygit/ChatImporter/internal/backup"
	"github.com/darkskygit/ChatImporter/internal/record"
)

// Matcher adapts the extractor to the polymorphic producer contract.
// names carries the chat targeting: nil extracts every chat table, an
// empty list every contacted chat, explicit names match by substring.
type Matcher struct {
	extractor    *Extractor
	accounts     []string
	names        []string
	skipResource bool
}

// NewMatcher builds the WeChat producer over the backup at root.
func NewMatcher(root string, names []string, prompt backup.PasscodePrompt) (*Matcher, error) {
	extractor, err := NewExtractor(root, prompt)
	if err != nil {
		return nil, err
	}
	return &Matcher{
		extractor: extractor,
		accounts:  extractor.Users(),
		names:     names,
	}, nil
}

// Records streams every targeted chat of every built account.
func (m *Matcher) Records() ([]record.RecordType, error) {
	var out []record.RecordType
	for _, account := range m.accounts {
		u, ok := m.extractor.UserDB(account)
		if !ok {
			continue
		}
		for _, name := range u.RecordNames(m.names) {
			out = append(out, u.Records(m.extractor.Backup(), name, m.skipResource)...)
		}
		u.Exhaust()
	}
	return out, nil
}

// MetadataMerger returns the merge-aware metadata fusion of the record
// schema.
func (m *Matcher) MetadataMerger() record.MetadataMerger {
	return record.MergeMetadata
}

// Close releases the extractor's scratch state.
func (m *Matcher) Close() {
	m.extractor.Close()
}
