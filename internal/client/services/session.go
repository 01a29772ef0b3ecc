// Package services contains the application services of the OpenEmail
// client: authentication, sending and recalling messages, attachment
// downloads, contacts, profiles and the sync orchestrator.
//
// Every service except AuthService works on behalf of one signed-in user.
// The user is carried by a Session built once at login and passed to the
// service constructors.
package services

import (
	"database/sql"

	"github.com/dmitrijs2005/openemail/internal/client/client"
	"github.com/dmitrijs2005/openemail/internal/client/repositories/contacts"
	"github.com/dmitrijs2005/openemail/internal/client/repositories/messages"
	"github.com/dmitrijs2005/openemail/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/openemail/internal/client/repositories/notifications"
	"github.com/dmitrijs2005/openemail/internal/common"
	"github.com/dmitrijs2005/openemail/internal/dbx"
	"github.com/dmitrijs2005/openemail/internal/filex"
	"github.com/dmitrijs2005/openemail/internal/identity"
	"github.com/dmitrijs2005/openemail/internal/logging"
)

// Session is the signed-in state shared by the services of one user.
type Session struct {
	User   *identity.LocalUser
	Client client.Client
	DB     *sql.DB
	Layout filex.Layout
	Log    logging.Logger

	// MaxMessageSize bounds one uploaded segment. Zero means
	// common.MaxMessageSize.
	MaxMessageSize int64
}

func (s *Session) maxMessageSize() int64 {
	if s.MaxMessageSize > 0 {
		return s.MaxMessageSize
	}
	return common.MaxMessageSize
}

func (s *Session) messageRepo(db dbx.DBTX) messages.Repository {
	return messages.NewSQLiteRepository(db)
}

func (s *Session) contactRepo(db dbx.DBTX) contacts.Repository {
	return contacts.NewSQLiteRepository(db)
}

func (s *Session) notificationRepo(db dbx.DBTX) notifications.Repository {
	return notifications.NewSQLiteRepository(db)
}

func (s *Session) metadataRepo(db dbx.DBTX) metadata.Repository {
	return metadata.NewSQLiteRepository(db)
}
