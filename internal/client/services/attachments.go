package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/openemail/internal/client/client"
	"github.com/dmitrijs2005/openemail/internal/client/models"
	"github.com/dmitrijs2005/openemail/internal/common"
	"github.com/dmitrijs2005/openemail/internal/filex"
)

var (
	ErrUnknownDownload      = errors.New("unknown download")
	ErrUnknownAttachment    = errors.New("unknown attachment")
	ErrIncompleteAttachment = errors.New("attachment parts are missing")
	ErrDownloadCancelled    = errors.New("download cancelled")
)

// DownloadProgress is a snapshot of one attachment download.
type DownloadProgress struct {
	Handle     string
	MessageID  string
	FileName   string
	PartsDone  int
	TotalParts int

	// Done is set once the download finished, failed or was cancelled.
	Done      bool
	Cancelled bool
	Err       error

	// Path is the reassembled file once the download succeeded.
	Path string
}

// AttachmentService downloads attachments in the background.
type AttachmentService interface {
	// Download starts fetching an attachment of a stored message and
	// returns a handle for Cancel and Wait.
	Download(ctx context.Context, messageID, fileName string) (string, error)
	Cancel(handle string) error
	// Wait blocks until the download finishes and returns its final state.
	Wait(ctx context.Context, handle string) (DownloadProgress, error)
	// Progress publishes snapshots of every download. Slow readers miss
	// intermediate snapshots.
	Progress() <-chan DownloadProgress
}

type download struct {
	state  DownloadProgress
	cancel context.CancelFunc
	done   chan struct{}
}

type attachmentService struct {
	s *Session

	mu        sync.Mutex
	downloads map[string]*download
	progress  chan DownloadProgress
}

const progressBuffer = 64

func NewAttachmentService(s *Session) AttachmentService {
	return &attachmentService{
		s:         s,
		downloads: make(map[string]*download),
		progress:  make(chan DownloadProgress, progressBuffer),
	}
}

func (a *attachmentService) Progress() <-chan DownloadProgress {
	return a.progress
}

func (a *attachmentService) Download(ctx context.Context, messageID, fileName string) (string, error) {
	msg, err := a.s.messageRepo(a.s.DB).Message(ctx, messageID)
	if err != nil {
		return "", err
	}
	var att *models.Attachment
	for i := range msg.Attachments {
		if msg.Attachments[i].FileName == fileName {
			att = &msg.Attachments[i]
			break
		}
	}
	if att == nil {
		return "", fmt.Errorf("%w: %s in %s", ErrUnknownAttachment, fileName, messageID)
	}
	if !att.IsComplete() {
		return "", fmt.Errorf("%w: %s", ErrIncompleteAttachment, att.ID())
	}
	dst, err := a.s.Layout.MessageFile(a.s.User.Address, msg.ID, att.FileName)
	if err != nil {
		return "", err
	}

	handle := uuid.NewString()
	dctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d := &download{
		state: DownloadProgress{
			Handle:     handle,
			MessageID:  msg.ID,
			FileName:   att.FileName,
			TotalParts: len(att.PartIDs),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	a.mu.Lock()
	a.downloads[handle] = d
	a.mu.Unlock()
	a.publish(d.state)

	go func() {
		defer cancel()
		path, err := a.fetch(dctx, handle, msg, *att, dst)
		a.finish(handle, path, err)
	}()
	return handle, nil
}

func location(s *Session, msg *models.Message) client.Location {
	switch {
	case msg.IsOutgoing(s.User.Address):
		return client.LocationLocal
	case msg.IsBroadcast:
		return client.LocationBroadcast
	default:
		return client.LocationLink
	}
}

// fetch downloads every part to the scratch folder, checks that each part
// belongs to msg and concatenates them in order into dst.
func (a *attachmentService) fetch(ctx context.Context, handle string, msg *models.Message, att models.Attachment, dst string) (string, error) {
	user := a.s.User
	loc := location(a.s, msg)

	parts := make([]string, 0, len(att.PartIDs))
	cleanup := func() {
		for _, p := range parts {
			os.Remove(p)
		}
	}

	for _, id := range att.PartIDs {
		tmp, err := a.s.Layout.TempFile(user.Address)
		if err != nil {
			cleanup()
			return "", err
		}
		got, err := a.s.Client.DownloadMessage(ctx, user, loc, msg.Author, id, tmp)
		if err != nil {
			cleanup()
			return "", err
		}
		parts = append(parts, tmp)
		if got.Headers.ParentID != msg.ID {
			cleanup()
			return "", fmt.Errorf("%w: part %s belongs to %q", common.ErrInvalidParentMessage, id, got.Headers.ParentID)
		}
		a.update(handle, func(p *DownloadProgress) { p.PartsDone++ })
	}

	if _, err := a.s.Layout.EnsureMessageDir(user.Address, msg.ID); err != nil {
		cleanup()
		return "", err
	}
	if err := filex.Concatenate(dst, parts); err != nil {
		cleanup()
		return "", err
	}
	return dst, nil
}

func (a *attachmentService) update(handle string, fn func(p *DownloadProgress)) {
	a.mu.Lock()
	d, ok := a.downloads[handle]
	if !ok {
		a.mu.Unlock()
		return
	}
	fn(&d.state)
	snap := d.state
	a.mu.Unlock()
	a.publish(snap)
}

func (a *attachmentService) finish(handle, path string, err error) {
	a.mu.Lock()
	d := a.downloads[handle]
	d.state.Done = true
	if d.state.Cancelled {
		err = ErrDownloadCancelled
	}
	if err != nil {
		d.state.Err = err
	} else {
		d.state.Path = path
	}
	snap := d.state
	a.publish(snap)
	close(d.done)
	a.mu.Unlock()

	if err != nil && !snap.Cancelled {
		a.s.Log.Warn(context.Background(), "attachment download failed",
			"message", snap.MessageID, "file", snap.FileName, "error", err)
	}
}

// publish never blocks; a full channel drops the snapshot.
func (a *attachmentService) publish(p DownloadProgress) {
	select {
	case a.progress <- p:
	default:
	}
}

func (a *attachmentService) Cancel(handle string) error {
	a.mu.Lock()
	d, ok := a.downloads[handle]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownDownload, handle)
	}
	if !d.state.Done {
		d.state.Cancelled = true
	}
	a.mu.Unlock()
	d.cancel()
	return nil
}

func (a *attachmentService) Wait(ctx context.Context, handle string) (DownloadProgress, error) {
	a.mu.Lock()
	d, ok := a.downloads[handle]
	a.mu.Unlock()
	if !ok {
		return DownloadProgress{}, fmt.Errorf("%w: %s", ErrUnknownDownload, handle)
	}

	select {
	case <-d.done:
	case <-ctx.Done():
		return DownloadProgress{}, ctx.Err()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return d.state, nil
}
