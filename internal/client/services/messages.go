package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/openemail/internal/client/client"
	"github.com/dmitrijs2005/openemail/internal/client/models"
	"github.com/dmitrijs2005/openemail/internal/common"
	"github.com/dmitrijs2005/openemail/internal/cryptox"
	"github.com/dmitrijs2005/openemail/internal/dbx"
	"github.com/dmitrijs2005/openemail/internal/envelope"
	"github.com/dmitrijs2005/openemail/internal/identity"
)

var (
	ErrDuplicateAttachment = errors.New("duplicate attachment name")
	ErrNotAuthor           = errors.New("message was not written by the current user")
)

// SendRequest describes an outgoing message. Attachments are local file
// paths; the file name becomes the attachment name.
type SendRequest struct {
	Readers     []identity.EmailAddress
	Broadcast   bool
	Subject     string
	Body        string
	ParentID    string
	Category    string
	Attachments []string

	// Progress, when set, is called after every uploaded file part.
	Progress func(done, total int)
}

type MessageService interface {
	Send(ctx context.Context, req SendRequest) (*models.Message, error)
	// Recall deletes an outgoing message and its file parts from every
	// delegated host, then locally.
	Recall(ctx context.Context, id string) error
	List(ctx context.Context, search string) ([]models.Message, error)
	Get(ctx context.Context, id string) (*models.Message, error)
	MarkAsRead(ctx context.Context, id string, read bool) error
	// Delete tombstones a message locally so sync does not fetch it again.
	Delete(ctx context.Context, id string) error
	// Wait blocks until reader notifications started by Send are done.
	Wait()
}

type messageService struct {
	s  *Session
	wg sync.WaitGroup
}

func NewMessageService(s *Session) MessageService {
	return &messageService{s: s}
}

// newMessageID is the hex SHA-256 of random bytes and the author address.
func newMessageID(author identity.EmailAddress) string {
	h := sha256.New()
	h.Write(common.GenerateRandByteArray(32))
	h.Write([]byte(author.String()))
	return hex.EncodeToString(h.Sum(nil))
}

// outgoing is a validated SendRequest.
type outgoing struct {
	rootID    string
	subjectID string
	date      time.Time
	readers   []identity.EmailAddress
	profiles  []*models.Profile
	files     []attachmentFile
}

type attachmentFile struct {
	path     string
	name     string
	mimeType string
	size     int64
	modified time.Time
	parts    []client.Range
	partIDs  []string
}

func (m *messageService) Send(ctx context.Context, req SendRequest) (*models.Message, error) {
	out, err := m.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	user := m.s.User

	var manifest []models.FilePartInfo
	total := 0
	for _, f := range out.files {
		total += len(f.parts)
		for i, id := range f.partIDs {
			manifest = append(manifest, models.FilePartInfo{
				MessageID:  id,
				Name:       f.name,
				Type:       f.mimeType,
				Size:       f.size,
				Modified:   f.modified,
				Part:       i + 1,
				TotalParts: len(f.parts),
			})
		}
	}

	done := 0
	k := 0
	for _, f := range out.files {
		for i, r := range f.parts {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := m.uploadPart(ctx, req, out, f, r, manifest[k]); err != nil {
				return nil, fmt.Errorf("upload of %s part %d: %w", f.name, i+1, err)
			}
			k++
			done++
			if req.Progress != nil {
				req.Progress(done, total)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	body := []byte(req.Body)
	h := m.headers(req, out, out.rootID)
	h.Checksum = cryptox.SHA256Sum(body)
	h.Size = int64(len(body))
	h.Files = manifest

	sealed, err := envelope.Seal(user, h, out.profiles, envelope.PayloadCipher{Algorithm: cryptox.SymmetricCipher})
	if err != nil {
		return nil, err
	}
	payload := client.BytesPayload(body)
	if !req.Broadcast {
		ct, err := cryptox.EncryptXChaCha20Poly1305(body, sealed.AccessKey)
		if err != nil {
			return nil, err
		}
		payload = client.BytesPayload(ct)
	}
	if err := m.s.Client.UploadMessage(ctx, user, sealed.Envelope, payload); err != nil {
		return nil, fmt.Errorf("upload of message: %w", err)
	}

	msg := &models.Message{
		ID:          out.rootID,
		Author:      user.Address,
		Readers:     out.readers,
		Subject:     h.Subject,
		SubjectID:   out.subjectID,
		Body:        req.Body,
		Category:    h.Category,
		Date:        out.date,
		Size:        h.Size,
		Checksum:    h.Checksum,
		IsBroadcast: req.Broadcast,
		IsRead:      true,
		Attachments: models.AttachmentsFromFiles(out.rootID, manifest),
	}
	err = dbx.WithTx(ctx, m.s.DB, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return m.s.messageRepo(tx).StoreMessage(ctx, msg)
	})
	if err != nil {
		return nil, fmt.Errorf("saving error: %w", err)
	}

	m.notify(ctx, out.readers)
	return msg, nil
}

// prepare validates req and resolves every reader profile. Any reader
// without usable keys aborts the send.
func (m *messageService) prepare(ctx context.Context, req SendRequest) (*outgoing, error) {
	user := m.s.User
	if strings.TrimSpace(req.Subject) == "" && req.Body == "" && len(req.Attachments) == 0 {
		return nil, common.ErrEmptyMessage
	}

	out := &outgoing{
		rootID: newMessageID(user.Address),
		date:   time.Now().UTC().Truncate(time.Second),
	}
	out.subjectID = out.rootID

	if req.ParentID != "" {
		parent, err := m.s.messageRepo(m.s.DB).Message(ctx, req.ParentID)
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%w: %s", common.ErrInvalidParentMessage, req.ParentID)
		}
		if err != nil {
			return nil, err
		}
		out.subjectID = parent.SubjectID
		if out.subjectID == "" {
			out.subjectID = parent.ID
		}
	}

	if !req.Broadcast {
		seen := map[string]bool{user.Address.String(): true}
		for _, r := range req.Readers {
			if r.IsZero() || seen[r.String()] {
				continue
			}
			seen[r.String()] = true
			out.readers = append(out.readers, r)
		}
		if len(out.readers) == 0 {
			return nil, common.ErrNoValidReaders
		}
		for _, r := range out.readers {
			p, err := m.s.Client.FetchProfile(ctx, r, false)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", common.ErrInaccessibleReaders, r, err)
			}
			if p.EncryptionKey == nil || p.SigningKey == nil {
				return nil, fmt.Errorf("%w: %s has no usable keys", common.ErrInaccessibleReaders, r)
			}
			out.profiles = append(out.profiles, p)
		}
	}

	names := make(map[string]bool)
	for _, path := range req.Attachments {
		st, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if st.IsDir() {
			return nil, fmt.Errorf("%s is a directory", path)
		}
		name := filepath.Base(path)
		if names[name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAttachment, name)
		}
		names[name] = true

		f := attachmentFile{
			path:     path,
			name:     name,
			mimeType: mimeType(name),
			size:     st.Size(),
			modified: st.ModTime().UTC().Truncate(time.Second),
			parts:    client.SplitParts(st.Size(), m.s.maxMessageSize()),
		}
		for range f.parts {
			f.partIDs = append(f.partIDs, newMessageID(user.Address))
		}
		out.files = append(out.files, f)
	}
	return out, nil
}

func mimeType(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func (m *messageService) headers(req SendRequest, out *outgoing, id string) *envelope.ContentHeaders {
	category := req.Category
	if category == "" {
		category = envelope.DefaultCategory
	}
	return &envelope.ContentHeaders{
		MessageID: id,
		Author:    m.s.User.Address,
		Date:      out.date,
		Subject:   req.Subject,
		SubjectID: out.subjectID,
		Category:  category,
		Readers:   out.readers,
	}
}

// uploadPart seals and uploads one file-part message. Private parts are
// encrypted to a scratch file first; broadcast parts stream straight from
// the source range.
func (m *messageService) uploadPart(ctx context.Context, req SendRequest, out *outgoing, f attachmentFile, r client.Range, info models.FilePartInfo) error {
	sum, n, err := cryptox.FileChecksum(f.path, r.Offset, r.Length)
	if err != nil {
		return err
	}
	if n != r.Length {
		return fmt.Errorf("%w: %s changed while sending", cryptox.ErrFileRead, f.path)
	}

	h := m.headers(req, out, info.MessageID)
	h.ParentID = out.rootID
	h.Checksum = sum
	h.Size = r.Length
	h.Files = []models.FilePartInfo{info}

	sealed, err := envelope.Seal(m.s.User, h, out.profiles, envelope.PayloadCipher{
		Algorithm: cryptox.SymmetricFileCipher,
		ChunkSize: cryptox.DefaultChunkSize,
	})
	if err != nil {
		return err
	}

	payload := client.FileRangePayload(f.path, r.Offset, r.Length)
	if !req.Broadcast {
		tmp, err := m.s.Layout.TempFile(m.s.User.Address)
		if err != nil {
			return err
		}
		defer os.Remove(tmp)
		if err := cryptox.EncryptFileRange(f.path, r.Offset, r.Length, tmp, sealed.AccessKey, cryptox.DefaultChunkSize); err != nil {
			return err
		}
		if payload, err = client.FilePayload(tmp); err != nil {
			return err
		}
		if payload.Size() != cryptox.EncryptedStreamSize(r.Length, cryptox.DefaultChunkSize) {
			return fmt.Errorf("%w: %s changed while sending", cryptox.ErrFileRead, f.path)
		}
	}
	return m.s.Client.UploadMessage(ctx, m.s.User, sealed.Envelope, payload)
}

// notify tells every reader about a new message in the background. The
// send has already succeeded, so failures are only logged; the next
// delivery reconciliation notifies again.
func (m *messageService) notify(ctx context.Context, readers []identity.EmailAddress) {
	ctx = context.WithoutCancel(ctx)
	for _, r := range readers {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if err := m.s.Client.NotifyReader(ctx, m.s.User, r); err != nil {
				m.s.Log.Warn(ctx, "reader notification failed", "reader", r.String(), "error", err)
			}
		}()
	}
}

func (m *messageService) Wait() {
	m.wg.Wait()
}

func (m *messageService) Recall(ctx context.Context, id string) error {
	repo := m.s.messageRepo(m.s.DB)
	msg, err := repo.Message(ctx, id)
	if err != nil {
		return err
	}
	if !msg.IsOutgoing(m.s.User.Address) {
		return fmt.Errorf("%w: %s", ErrNotAuthor, id)
	}

	for _, pid := range append(msg.PartIDs(), msg.ID) {
		if err := m.s.Client.RecallMessage(ctx, m.s.User, pid); err != nil {
			return fmt.Errorf("recall of %s: %w", pid, err)
		}
	}

	if err := repo.DeleteMessage(ctx, id); err != nil {
		return err
	}
	return m.s.Layout.RemoveMessageDir(m.s.User.Address, id)
}

func (m *messageService) List(ctx context.Context, search string) ([]models.Message, error) {
	return m.s.messageRepo(m.s.DB).AllMessages(ctx, search)
}

func (m *messageService) Get(ctx context.Context, id string) (*models.Message, error) {
	return m.s.messageRepo(m.s.DB).Message(ctx, id)
}

func (m *messageService) MarkAsRead(ctx context.Context, id string, read bool) error {
	return m.s.messageRepo(m.s.DB).MarkAsRead(ctx, id, read)
}

func (m *messageService) Delete(ctx context.Context, id string) error {
	if err := m.s.messageRepo(m.s.DB).MarkAsDeleted(ctx, id); err != nil {
		return err
	}
	return m.s.Layout.RemoveMessageDir(m.s.User.Address, id)
}
