package envelope

import (
	"bufio"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/openemail/internal/attrs"
	"github.com/dmitrijs2005/openemail/internal/client/models"
	"github.com/dmitrijs2005/openemail/internal/common"
	"github.com/dmitrijs2005/openemail/internal/cryptox"
	"github.com/dmitrijs2005/openemail/internal/identity"
)

// Content header keys.
const (
	contentMessageID = "Message-Id"
	contentAuthor    = "Author"
	contentSize      = "Size"
	contentChecksum  = "Checksum"
	contentCategory  = "Category"
	contentDate      = "Date"
	contentSubject   = "Subject"
	contentSubjectID = "Subject-Id"
	contentParentID  = "Parent-Id"
	contentReaders   = "Readers"
	contentFiles     = "Files"
)

// DefaultCategory is used when a message carries no category.
const DefaultCategory = "personal"

// ContentHeaders is the metadata of a message segment, encrypted under the
// access key for private messages and plaintext for broadcasts.
type ContentHeaders struct {
	MessageID string
	Author    identity.EmailAddress
	Date      time.Time
	Subject   string
	SubjectID string

	// ParentID is set on file-part messages and points at the root message.
	ParentID string

	// Checksum is the hex SHA-256 of the plaintext payload; Size its length.
	Checksum string
	Size     int64
	Category string

	// Readers is empty for broadcasts.
	Readers []identity.EmailAddress

	Files []models.FilePartInfo
}

// IsBroadcast reports a message with no reader list.
func (h *ContentHeaders) IsBroadcast() bool {
	return len(h.Readers) == 0
}

// IsRoot reports whether this segment is a root message rather than a file part.
func (h *ContentHeaders) IsRoot() bool {
	return h.ParentID == "" || h.ParentID == h.MessageID
}

func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
}

// Serialize renders canonical "Key: value\n" text.
func (h *ContentHeaders) Serialize() string {
	var sb strings.Builder
	put := func(k, v string) {
		if v == "" {
			return
		}
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(v)
		sb.WriteString("\n")
	}

	category := h.Category
	if category == "" {
		category = DefaultCategory
	}
	subjectID := h.SubjectID
	if subjectID == "" {
		subjectID = h.defaultSubjectID()
	}

	put(contentMessageID, h.MessageID)
	put(contentAuthor, h.Author.String())
	put(contentSize, strconv.FormatInt(h.Size, 10))
	if h.Checksum != "" {
		put(contentChecksum, attrs.Format(
			attrs.Pair{Key: "algorithm", Value: cryptox.ChecksumAlgorithm},
			attrs.Pair{Key: "value", Value: h.Checksum},
		))
	}
	put(contentCategory, category)
	put(contentDate, h.Date.UTC().Format(time.RFC3339))
	put(contentSubject, oneLine(h.Subject))
	put(contentSubjectID, subjectID)
	put(contentParentID, h.ParentID)
	put(contentReaders, identity.JoinAddresses(h.Readers))
	put(contentFiles, formatFiles(h.Files))
	return sb.String()
}

func (h *ContentHeaders) defaultSubjectID() string {
	if h.ParentID != "" {
		return h.ParentID
	}
	return h.MessageID
}

// ParseContentHeaders parses the canonical text form. Message-Id, Author
// and Date are required.
func ParseContentHeaders(data string) (*ContentHeaders, error) {
	h := &ContentHeaders{}
	values := make(map[string]string)

	sc := bufio.NewScanner(strings.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: line %q", ErrBadContentHeaders, line)
		}
		values[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadContentHeaders, err)
	}

	get := func(k string) string { return values[strings.ToLower(k)] }

	h.MessageID = get(contentMessageID)
	if !common.IsValidMessageID(h.MessageID) {
		return nil, fmt.Errorf("%w: %s %q", ErrBadContentHeaders, contentMessageID, h.MessageID)
	}

	author, err := identity.ParseEmailAddress(get(contentAuthor))
	if err != nil {
		return nil, fmt.Errorf("%w: author: %v", ErrBadContentHeaders, err)
	}
	h.Author = author

	date, err := time.Parse(time.RFC3339, get(contentDate))
	if err != nil {
		return nil, fmt.Errorf("%w: date: %v", ErrBadContentHeaders, err)
	}
	h.Date = date.UTC()

	if s := get(contentSize); s != "" {
		h.Size, err = strconv.ParseInt(s, 10, 64)
		if err != nil || h.Size < 0 {
			return nil, fmt.Errorf("%w: size %q", ErrBadContentHeaders, s)
		}
	}

	if s := get(contentChecksum); s != "" {
		a, err := attrs.Parse(s)
		if err != nil || !strings.EqualFold(a.Get("algorithm"), cryptox.ChecksumAlgorithm) {
			return nil, fmt.Errorf("%w: checksum %q", ErrBadContentHeaders, s)
		}
		h.Checksum = a.Get("value")
	}

	h.Category = get(contentCategory)
	if h.Category == "" {
		h.Category = DefaultCategory
	}
	h.Subject = get(contentSubject)
	h.ParentID = get(contentParentID)
	if h.ParentID != "" && !common.IsValidMessageID(h.ParentID) {
		return nil, fmt.Errorf("%w: %s %q", ErrBadContentHeaders, contentParentID, h.ParentID)
	}
	h.SubjectID = get(contentSubjectID)
	if h.SubjectID == "" {
		h.SubjectID = h.defaultSubjectID()
	}

	if s := get(contentReaders); s != "" {
		readers, err := identity.ParseAddressList(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadReaderAddress, err)
		}
		h.Readers = readers
	}

	if s := get(contentFiles); s != "" {
		files, err := parseFiles(s)
		if err != nil {
			return nil, err
		}
		h.Files = files
	}

	return h, nil
}

func formatFiles(files []models.FilePartInfo) string {
	groups := make([]string, 0, len(files))
	for _, f := range files {
		modified := ""
		if !f.Modified.IsZero() {
			modified = f.Modified.UTC().Format(time.RFC3339)
		}
		groups = append(groups, attrs.Format(
			attrs.Pair{Key: "name", Value: url.QueryEscape(f.Name)},
			attrs.Pair{Key: "type", Value: url.QueryEscape(f.Type)},
			attrs.Pair{Key: "size", Value: strconv.FormatInt(f.Size, 10)},
			attrs.Pair{Key: "modified", Value: modified},
			attrs.Pair{Key: "id", Value: f.MessageID},
			attrs.Pair{Key: "part", Value: fmt.Sprintf("%d/%d", f.Part, f.TotalParts)},
		))
	}
	return attrs.FormatGroups(groups)
}

func parseFiles(s string) ([]models.FilePartInfo, error) {
	groups, err := attrs.ParseGroups(s)
	if err != nil {
		return nil, fmt.Errorf("%w: files: %v", ErrBadContentHeaders, err)
	}

	out := make([]models.FilePartInfo, 0, len(groups))
	for _, g := range groups {
		name, err := url.QueryUnescape(g.Get("name"))
		if err != nil || name == "" {
			return nil, fmt.Errorf("%w: file name %q", ErrBadContentHeaders, g.Get("name"))
		}
		mime, _ := url.QueryUnescape(g.Get("type"))

		f := models.FilePartInfo{
			MessageID: g.Get("id"),
			Name:      name,
			Type:      mime,
		}
		if !common.IsValidMessageID(f.MessageID) {
			return nil, fmt.Errorf("%w: file %q id %q", ErrBadContentHeaders, name, f.MessageID)
		}
		if v := g.Get("size"); v != "" {
			if f.Size, err = strconv.ParseInt(v, 10, 64); err != nil {
				return nil, fmt.Errorf("%w: file size %q", ErrBadContentHeaders, v)
			}
		}
		if v := g.Get("modified"); v != "" {
			f.Modified, _ = time.Parse(time.RFC3339, v)
		}

		f.Part, f.TotalParts = 1, 1
		if v := g.Get("part"); v != "" {
			p, t, ok := strings.Cut(v, "/")
			part, err1 := strconv.Atoi(p)
			total, err2 := strconv.Atoi(t)
			if !ok || err1 != nil || err2 != nil || part < 1 || total < part {
				return nil, fmt.Errorf("%w: file part %q", ErrBadContentHeaders, v)
			}
			f.Part, f.TotalParts = part, total
		}
		out = append(out, f)
	}
	return out, nil
}
