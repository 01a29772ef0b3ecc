package models

import (
	"sort"
	"time"

	"github.com/dmitrijs2005/openemail/internal/identity"
)

// Message is a root message as persisted locally. File-part messages are
// never stored as Message records; they are reachable through Attachments.
type Message struct {
	// ID is the root message id.
	ID string

	// Author is the sender address.
	Author identity.EmailAddress

	// Readers lists private recipients. Empty for broadcasts.
	Readers []identity.EmailAddress

	Subject string

	// SubjectID groups a thread; it defaults to the parent or the message id.
	SubjectID string

	// Body is the decrypted plaintext body, possibly empty.
	Body string

	Category string

	// Date is the authoring time in UTC.
	Date time.Time

	// Size and Checksum describe the plaintext payload.
	Size     int64
	Checksum string

	IsBroadcast bool
	IsRead      bool
	IsDeleted   bool

	Attachments []Attachment

	// DeliveredTo records readers that confirmed receipt of an outgoing
	// message, keyed by reader address.
	DeliveredTo map[string]time.Time
}

// IsOutgoing reports whether the message was authored by addr.
func (m *Message) IsOutgoing(addr identity.EmailAddress) bool {
	return m.Author == addr
}

// PendingReaders lists readers that have not confirmed delivery yet.
// The author is never pending.
func (m *Message) PendingReaders() []identity.EmailAddress {
	var out []identity.EmailAddress
	for _, r := range m.Readers {
		if r == m.Author {
			continue
		}
		if _, ok := m.DeliveredTo[r.String()]; !ok {
			out = append(out, r)
		}
	}
	return out
}

// PartIDs returns the ids of every file-part message of the attachments.
func (m *Message) PartIDs() []string {
	var ids []string
	for _, a := range m.Attachments {
		ids = append(ids, a.PartIDs...)
	}
	return ids
}

// Attachment is a logical file identified by ParentID + FileName, stored
// remotely as one or more file-part messages.
type Attachment struct {
	ParentID string
	FileName string
	MimeType string
	Size     int64
	Modified time.Time

	// PartIDs are the file-part message ids in part order.
	PartIDs []string

	// TotalParts is the declared number of parts.
	TotalParts int
}

// ID is the attachment identity within its parent message.
func (a Attachment) ID() string {
	return a.ParentID + "/" + a.FileName
}

// IsComplete reports whether every declared part is known.
func (a Attachment) IsComplete() bool {
	return a.TotalParts > 0 && len(a.PartIDs) == a.TotalParts
}

// FilePartInfo describes one part of a file as listed in the Files content
// header.
type FilePartInfo struct {
	// MessageID is the id of the file-part message carrying this part.
	MessageID string
	Name      string
	Type      string

	// Size is the size of the whole logical file.
	Size     int64
	Modified time.Time

	// Part is 1-based; TotalParts >= Part.
	Part       int
	TotalParts int
}

// FileInfo groups the parts of one logical file.
type FileInfo struct {
	Name     string
	Type     string
	Size     int64
	Modified time.Time
	Parts    []FilePartInfo
}

// IsComplete reports whether the number of parts matches the declared total.
func (f FileInfo) IsComplete() bool {
	return len(f.Parts) > 0 && len(f.Parts) == f.Parts[0].TotalParts
}

// GroupFiles groups parts by file name, keeping first-seen file order and
// sorting parts by part number.
func GroupFiles(parts []FilePartInfo) []FileInfo {
	var order []string
	byName := make(map[string]*FileInfo)
	for _, p := range parts {
		fi, ok := byName[p.Name]
		if !ok {
			fi = &FileInfo{Name: p.Name, Type: p.Type, Size: p.Size, Modified: p.Modified}
			byName[p.Name] = fi
			order = append(order, p.Name)
		}
		fi.Parts = append(fi.Parts, p)
	}

	out := make([]FileInfo, 0, len(order))
	for _, name := range order {
		fi := byName[name]
		sort.Slice(fi.Parts, func(i, j int) bool { return fi.Parts[i].Part < fi.Parts[j].Part })
		out = append(out, *fi)
	}
	return out
}

// AttachmentsFromFiles converts a Files manifest into attachments of parentID.
func AttachmentsFromFiles(parentID string, parts []FilePartInfo) []Attachment {
	files := GroupFiles(parts)
	out := make([]Attachment, 0, len(files))
	for _, f := range files {
		a := Attachment{
			ParentID: parentID,
			FileName: f.Name,
			MimeType: f.Type,
			Size:     f.Size,
			Modified: f.Modified,
		}
		if len(f.Parts) > 0 {
			a.TotalParts = f.Parts[0].TotalParts
		}
		for _, p := range f.Parts {
			a.PartIDs = append(a.PartIDs, p.MessageID)
		}
		out = append(out, a)
	}
	return out
}
