// Package record defines the canonical chat record schema shared by
// every producer, the content-addressed attachment model, and the
// merge-aware metadata layer consulted on re-import.
package record

import "fmt"

// Record is the canonical normalized chat record.
type Record struct {
	ChatType   string
	OwnerID    string
	GroupID    string
	SenderID   string
	SenderName string
	Content    string
	// Timestamp is unix milliseconds including the deterministic
	// sub-second disambiguation offset.
	Timestamp int64
	// Metadata is a serialized AttachMetadata payload, or nil.
	Metadata []byte
}

// Display renders the record's primary key for log lines.
func (r Record) Display() string {
	return fmt.Sprintf("%s/%s/%s/%s@%d", r.ChatType, r.OwnerID, r.GroupID, r.SenderID, r.Timestamp)
}

// Attachments maps stringified content hashes to raw blob bytes.
type Attachments map[string][]byte

// RecordType pairs a record with its optional attachment bundle; the
// unit every matcher emits and every recorder consumes.
type RecordType struct {
	Record   Record
	Attaches Attachments
}

// NewRecordType wraps a bare record.
func NewRecordType(r Record) RecordType {
	return RecordType{Record: r}
}

// NewRecordTypeWithAttaches wraps a record with its attachment bundle.
func NewRecordTypeWithAttaches(r Record, attaches Attachments) RecordType {
	return RecordType{Record: r, Attaches: attaches}
}
