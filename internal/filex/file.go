// Package filex lays out message files on disk and moves payloads between
// temporary and final locations.
package filex

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/openemail/internal/common"
	"github.com/dmitrijs2005/openemail/internal/identity"
)

var (
	ErrBadFileName  = errors.New("bad file name")
	ErrBadMessageID = errors.New("bad message id")
)

// EnsureDir creates dir and its parents.
func EnsureDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o770); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return dir, nil
}

// Layout is the message folder tree
// {root}/messages/{userAddress}/{messageId}/{file}.
type Layout struct {
	Root string
}

func NewLayout(root string) Layout {
	return Layout{Root: root}
}

func (l Layout) UserDir(user identity.EmailAddress) string {
	return filepath.Join(l.Root, "messages", user.String())
}

// MessageDir refuses ids that are not a single plain path element.
func (l Layout) MessageDir(user identity.EmailAddress, messageID string) (string, error) {
	if !common.IsValidMessageID(messageID) {
		return "", fmt.Errorf("%w: %q", ErrBadMessageID, messageID)
	}
	return filepath.Join(l.UserDir(user), messageID), nil
}

// MessageFile returns the path of name inside the message folder. Names
// that would escape the folder are rejected.
func (l Layout) MessageFile(user identity.EmailAddress, messageID, name string) (string, error) {
	clean := filepath.Base(name)
	if name == "" || clean != name || clean == "." || clean == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrBadFileName, name)
	}
	dir, err := l.MessageDir(user, messageID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, clean), nil
}

// EnsureMessageDir creates the message folder.
func (l Layout) EnsureMessageDir(user identity.EmailAddress, messageID string) (string, error) {
	dir, err := l.MessageDir(user, messageID)
	if err != nil {
		return "", err
	}
	return EnsureDir(dir)
}

// TempFile returns a fresh path in the user's scratch folder.
func (l Layout) TempFile(user identity.EmailAddress) (string, error) {
	dir, err := EnsureDir(filepath.Join(l.Root, "tmp", user.String()))
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, uuid.NewString()), nil
}

// RemoveMessageDir deletes the message folder and everything in it.
func (l Layout) RemoveMessageDir(user identity.EmailAddress, messageID string) error {
	dir, err := l.MessageDir(user, messageID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// Concatenate writes parts to dst in order and removes the parts once dst
// is complete. dst is replaced atomically.
func Concatenate(dst string, parts []string) error {
	if _, err := EnsureDir(filepath.Dir(dst)); err != nil {
		return err
	}
	tmp := dst + ".partial"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}

	for _, p := range parts {
		if err := appendFile(out, p); err != nil {
			out.Close()
			os.Remove(tmp)
			return err
		}
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}

	for _, p := range parts {
		os.Remove(p)
	}
	return nil
}

func appendFile(dst io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(dst, f)
	return err
}

// Move relocates src to dst, copying when a rename crosses devices.
func Move(src, dst string) error {
	if _, err := EnsureDir(filepath.Dir(dst)); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
