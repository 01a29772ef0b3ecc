// Package contacts persists the local address book. Contacts are keyed by
// the connection link between the local user and the contact address.
package contacts

import (
	"context"

	"github.com/dmitrijs2005/openemail/internal/client/models"
	"github.com/dmitrijs2005/openemail/internal/identity"
)

type Repository interface {
	// Contact returns the contact with link id or common.ErrorNotFound.
	Contact(ctx context.Context, id string) (*models.Contact, error)
	ContactByAddress(ctx context.Context, addr identity.EmailAddress) (*models.Contact, error)
	StoreContact(ctx context.Context, c *models.Contact) error
	StoreContacts(ctx context.Context, cs []models.Contact) error
	AllContacts(ctx context.Context) ([]models.Contact, error)
	DeleteContact(ctx context.Context, id string) error
}
