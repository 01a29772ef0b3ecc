package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/openemail/internal/client/client"
	"github.com/dmitrijs2005/openemail/internal/client/models"
	"github.com/dmitrijs2005/openemail/internal/common"
	"github.com/dmitrijs2005/openemail/internal/identity"
)

var ErrSelfContact = errors.New("cannot add yourself as a contact")

// ContactService manages the address book. Contacts live as encrypted
// links on the user's delegated hosts and are mirrored locally.
type ContactService interface {
	Add(ctx context.Context, addr identity.EmailAddress, receiveBroadcasts bool) (*models.Contact, error)
	Remove(ctx context.Context, addr identity.EmailAddress) error
	List(ctx context.Context) ([]models.Contact, error)
}

type contactService struct {
	s *Session
}

func NewContactService(s *Session) ContactService {
	return &contactService{s: s}
}

// Add checks that addr publishes a profile, stores the link on the hosts
// and then locally.
func (c *contactService) Add(ctx context.Context, addr identity.EmailAddress, receiveBroadcasts bool) (*models.Contact, error) {
	user := c.s.User
	if addr == user.Address {
		return nil, ErrSelfContact
	}
	profile, err := c.s.Client.FetchProfile(ctx, addr, false)
	if err != nil {
		return nil, fmt.Errorf("profile of %s: %w", addr, err)
	}

	link := client.RemoteLink{
		Link:              user.ConnectionLink(addr),
		Address:           addr,
		ReceiveBroadcasts: receiveBroadcasts,
	}
	if err := c.s.Client.StoreLink(ctx, user, link); err != nil {
		return nil, err
	}

	contact := &models.Contact{
		ID:                link.Link,
		Address:           addr,
		CachedName:        profile.Name(),
		ReceiveBroadcasts: receiveBroadcasts,
		UpdatedAt:         time.Now().UTC(),
	}
	if err := c.s.contactRepo(c.s.DB).StoreContact(ctx, contact); err != nil {
		return nil, fmt.Errorf("saving error: %w", err)
	}
	return contact, nil
}

// Remove deletes the link from the hosts, then locally. A link the hosts
// never had is still removed locally.
func (c *contactService) Remove(ctx context.Context, addr identity.EmailAddress) error {
	err := c.s.Client.DeleteLink(ctx, c.s.User, addr)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return err
	}
	err = c.s.contactRepo(c.s.DB).DeleteContact(ctx, c.s.User.ConnectionLink(addr))
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return err
	}
	return nil
}

func (c *contactService) List(ctx context.Context) ([]models.Contact, error) {
	return c.s.contactRepo(c.s.DB).AllContacts(ctx)
}
