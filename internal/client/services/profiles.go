package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/openemail/internal/client/models"
	"github.com/dmitrijs2005/openemail/internal/common"
	"github.com/dmitrijs2005/openemail/internal/identity"
)

var ErrReadOnlyAttribute = errors.New("attribute is managed by the client")

type ProfileService interface {
	Fetch(ctx context.Context, addr identity.EmailAddress, force bool) (*models.Profile, error)
	Image(ctx context.Context, addr identity.EmailAddress, force bool) ([]byte, error)
	// UpdateOwn applies changes to the user's published profile. An empty
	// value removes the attribute. Key attributes cannot be changed.
	UpdateOwn(ctx context.Context, changes map[models.ProfileAttribute]string) (*models.Profile, error)
	SetImage(ctx context.Context, image []byte) error
	DeleteImage(ctx context.Context) error
}

type profileService struct {
	s *Session
}

func NewProfileService(s *Session) ProfileService {
	return &profileService{s: s}
}

func (p *profileService) Fetch(ctx context.Context, addr identity.EmailAddress, force bool) (*models.Profile, error) {
	return p.s.Client.FetchProfile(ctx, addr, force)
}

func (p *profileService) Image(ctx context.Context, addr identity.EmailAddress, force bool) ([]byte, error) {
	return p.s.Client.FetchProfileImage(ctx, addr, force)
}

var clientManaged = map[models.ProfileAttribute]bool{
	models.ProfileEncryptionKey:  true,
	models.ProfileSigningKey:     true,
	models.ProfileLastSigningKey: true,
	models.ProfileUpdated:        true,
}

// UpdateOwn starts from the published profile so attributes set from
// another device survive. Keys always come from the local user.
func (p *profileService) UpdateOwn(ctx context.Context, changes map[models.ProfileAttribute]string) (*models.Profile, error) {
	for attr := range changes {
		if clientManaged[attr] {
			return nil, fmt.Errorf("%w: %s", ErrReadOnlyAttribute, attr)
		}
	}
	user := p.s.User

	profile := models.NewOwnProfile(user, time.Now())
	current, err := p.s.Client.FetchProfile(ctx, user.Address, true)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}
	if current != nil {
		for attr, v := range current.Attributes {
			if !clientManaged[attr] {
				profile.Set(attr, v)
			}
		}
	}
	for attr, v := range changes {
		if models.IsBoolAttribute(attr) && strings.TrimSpace(v) != "" {
			on, err := models.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", attr, err)
			}
			profile.SetBool(attr, on)
			continue
		}
		profile.Set(attr, v)
	}

	if err := p.s.Client.UploadProfile(ctx, user, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

func (p *profileService) SetImage(ctx context.Context, image []byte) error {
	return p.s.Client.UploadProfileImage(ctx, p.s.User, image)
}

func (p *profileService) DeleteImage(ctx context.Context) error {
	return p.s.Client.DeleteProfileImage(ctx, p.s.User)
}
