package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/openemail/internal/client/client"
	"github.com/dmitrijs2005/openemail/internal/client/discovery"
	"github.com/dmitrijs2005/openemail/internal/client/models"
	"github.com/dmitrijs2005/openemail/internal/client/repositories/repotest"
	"github.com/dmitrijs2005/openemail/internal/filex"
	"github.com/dmitrijs2005/openemail/internal/identity"
	"github.com/dmitrijs2005/openemail/internal/logging"
	"github.com/dmitrijs2005/openemail/internal/mailtest"
)

var (
	comHosts = []string{"mail1.example.com", "mail2.example.com", "mail3.example.com"}
	orgHosts = []string{"mail1.example.org", "mail2.example.org"}
)

// testPartSize keeps file parts small so multi-part sends stay cheap.
const testPartSize = 4096

type fixture struct {
	net    *mailtest.Network
	client *client.HTTPClient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	n := mailtest.NewNetwork()
	n.AddDomain("example.com", comHosts...)
	n.AddDomain("example.org", orgHosts...)
	n.AddDomain("example.net", "mail.example.net")

	log := logging.Discard()
	c := client.NewHTTPClient(n.Client(), discovery.New(n.Client(), log), log,
		client.Options{RetryAttempts: 3, RetryDelay: time.Millisecond})
	return &fixture{net: n, client: c}
}

// user provisions a fresh account on its domain's agents.
func (f *fixture) user(t *testing.T, addr, name string) *identity.LocalUser {
	t.Helper()
	u, err := identity.GenerateLocalUser(identity.MustParseEmailAddress(addr), name)
	require.NoError(t, err)
	f.net.AddAccount(models.NewOwnProfile(u, time.Now()))
	return u
}

// session gives u its own database and document folder.
func (f *fixture) session(t *testing.T, u *identity.LocalUser) *Session {
	t.Helper()
	return &Session{
		User:           u,
		Client:         f.client,
		DB:             repotest.OpenDB(t),
		Layout:         filex.NewLayout(t.TempDir()),
		Log:            logging.Discard(),
		MaxMessageSize: testPartSize,
	}
}

func (f *fixture) requests(method, contains string, hosts ...string) int {
	n := 0
	for _, h := range hosts {
		n += f.net.Agent(h).RequestCount(method, contains)
	}
	return n
}

// writeFile creates name with size pseudo-random bytes.
func writeFile(t *testing.T, name string, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i*31 + i/7)
	}
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path, data
}

func waitDownload(t *testing.T, svc AttachmentService, handle string) DownloadProgress {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p, err := svc.Wait(ctx, handle)
	require.NoError(t, err)
	return p
}
