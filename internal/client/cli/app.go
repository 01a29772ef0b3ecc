package cli

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/dmitrijs2005/openemail/internal/client/client"
	"github.com/dmitrijs2005/openemail/internal/client/config"
	"github.com/dmitrijs2005/openemail/internal/client/discovery"
	"github.com/dmitrijs2005/openemail/internal/client/services"
	"github.com/dmitrijs2005/openemail/internal/filex"
	"github.com/dmitrijs2005/openemail/internal/identity"
	"github.com/dmitrijs2005/openemail/internal/logging"
)

// session bundles the services bound to the signed-in user.
type session struct {
	*services.Session

	messages    services.MessageService
	attachments services.AttachmentService
	contacts    services.ContactService
	profiles    services.ProfileService
	sync        services.SyncService
}

type App struct {
	config *config.Config
	db     *sql.DB
	client client.Client
	log    logging.Logger
	auth   services.AuthService

	mu      sync.Mutex
	current *session

	// syncMu serializes manual and background sync runs.
	syncMu sync.Mutex

	reader *bufio.Reader
	out    io.Writer
}

// NewApp opens the local database under cfg.DataDir and builds the
// protocol client from cfg.
func NewApp(ctx context.Context, cfg *config.Config, log logging.Logger) (*App, error) {
	if _, err := filex.EnsureDir(cfg.DataDir); err != nil {
		return nil, fmt.Errorf("error creating data folder: %w", err)
	}
	db, err := client.InitDatabase(ctx, cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.HTTPTimeout
	httpClient := &http.Client{Transport: transport}

	resolver := discovery.New(httpClient, log,
		discovery.WithScheme(cfg.Scheme),
		discovery.WithVerifyDelegation(cfg.VerifyHostDelegation),
		discovery.WithCacheTTL(cfg.DelegationCacheTTL),
	)
	api := client.NewHTTPClient(httpClient, resolver, log, client.Options{
		Scheme:          cfg.Scheme,
		ProfileCacheTTL: cfg.ProfileCacheTTL,
		RetryAttempts:   cfg.RetryAttempts,
		RetryDelay:      cfg.RetryDelay,
	})
	return newApp(cfg, db, api, log, os.Stdin, os.Stdout), nil
}

func newApp(cfg *config.Config, db *sql.DB, c client.Client, log logging.Logger, in io.Reader, out io.Writer) *App {
	return &App{
		config: cfg,
		db:     db,
		client: c,
		log:    log,
		auth:   services.NewAuthService(c, db),
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run restores a stored session, starts the sync watcher and blocks in the
// REPL until the user exits or ctx ends.
func (a *App) Run(ctx context.Context) {
	defer a.Close()

	user, err := a.auth.CurrentUser(ctx)
	switch {
	case err == nil:
		a.startSession(user)
		fmt.Fprintf(a.out, "Signed in as %s\n", user.Address)
	case errors.Is(err, services.ErrNotLoggedIn):
		fmt.Fprintln(a.out, "Not signed in. Use 'register' or 'login'.")
	default:
		a.log.Warn(ctx, "stored credentials unusable", "error", err)
	}

	if a.config.SyncInterval > 0 {
		go a.StartSyncWatcher(ctx, a.config.SyncInterval)
	}
	runREPL(ctx, a, a.status, a.reader)
}

// Close waits for background notifications of the current session and
// closes the database.
func (a *App) Close() {
	a.endSession()
	if err := a.db.Close(); err != nil {
		a.log.Warn(context.Background(), "database close failed", "error", err)
	}
}

func (a *App) startSession(user *identity.LocalUser) {
	s := &services.Session{
		User:           user,
		Client:         a.client,
		DB:             a.db,
		Layout:         filex.NewLayout(a.config.DocumentsDir),
		Log:            a.log.With("user", user.Address.String()),
		MaxMessageSize: a.config.MaxMessageSize,
	}
	sess := &session{
		Session:     s,
		messages:    services.NewMessageService(s),
		attachments: services.NewAttachmentService(s),
		contacts:    services.NewContactService(s),
		profiles:    services.NewProfileService(s),
		sync:        services.NewSyncService(s),
	}

	a.mu.Lock()
	prev := a.current
	a.current = sess
	a.mu.Unlock()
	if prev != nil {
		prev.messages.Wait()
	}
}

func (a *App) endSession() {
	a.mu.Lock()
	prev := a.current
	a.current = nil
	a.mu.Unlock()
	if prev != nil {
		prev.messages.Wait()
	}
}

func (a *App) session() (*session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return nil, services.ErrNotLoggedIn
	}
	return a.current, nil
}

func (a *App) isLoggedIn() bool {
	_, err := a.session()
	return err == nil
}

func (a *App) status() string {
	s, err := a.session()
	if err != nil {
		return ""
	}
	return s.User.Address.String()
}

// StartSyncWatcher runs a full sync every interval while a user is signed
// in. Failures are logged; the next tick tries again.
func (a *App) StartSyncWatcher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s, err := a.session()
			if err != nil {
				continue
			}
			r, err := a.runSync(ctx, s)
			if err != nil {
				a.log.Warn(ctx, "background sync failed", "error", err)
				continue
			}
			if r.Messages > 0 {
				a.log.Info(ctx, "new messages", "count", r.Messages)
			}

		case <-ctx.Done():
			return
		}
	}
}

func (a *App) runSync(ctx context.Context, s *session) (services.Report, error) {
	a.syncMu.Lock()
	defer a.syncMu.Unlock()
	return s.sync.Run(ctx)
}
