package mailtest

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/openemail/internal/attrs"
	"github.com/dmitrijs2005/openemail/internal/client/models"
	"github.com/dmitrijs2005/openemail/internal/common"
	"github.com/dmitrijs2005/openemail/internal/cryptox"
	"github.com/dmitrijs2005/openemail/internal/identity"
	"github.com/dmitrijs2005/openemail/internal/sotn"
)

// StoredNotification is a notification as kept by the agent.
type StoredNotification struct {
	ID          string
	Link        string
	Fingerprint string
	Notifier    string
}

type storedMessage struct {
	id         string
	header     http.Header
	body       []byte
	links      map[string]bool
	broadcast  bool
	deliveries map[string]time.Time
}

type account struct {
	addr          identity.EmailAddress
	profile       string
	signingKey    []byte
	image         []byte
	messages      map[string]*storedMessage
	order         []string
	notifications []StoredNotification
	links         map[string]string
}

type failure struct {
	method   string
	contains string
	status   int
}

// Agent is an in-memory mail agent speaking the HTTP protocol. It serves
// the domains it was told about and verifies SOTN authorization on every
// /home request.
type Agent struct {
	Host string

	mu       sync.Mutex
	domains  map[string]bool
	accounts map[string]*account
	failures []failure
	requests []string
	now      func() time.Time
}

func NewAgent(host string, domains ...string) *Agent {
	a := &Agent{
		Host:     strings.ToLower(host),
		domains:  make(map[string]bool),
		accounts: make(map[string]*account),
		now:      time.Now,
	}
	for _, d := range domains {
		a.domains[strings.ToLower(d)] = true
	}
	return a
}

// Fail makes every request whose method matches (empty matches all) and
// whose path contains the substring answer status.
func (a *Agent) Fail(method, contains string, status int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures = append(a.failures, failure{method: method, contains: contains, status: status})
}

func (a *Agent) ClearFailures() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures = nil
}

// RequestCount counts served requests by method and path substring.
func (a *Agent) RequestCount(method, contains string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, r := range a.requests {
		m, p, _ := strings.Cut(r, " ")
		if (method == "" || m == method) && strings.Contains(p, contains) {
			n++
		}
	}
	return n
}

// AddAccount provisions an account directly from its profile.
func (a *Agent) AddAccount(p *models.Profile) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.addAccount(p.Address, p.Serialize())
}

func (a *Agent) addAccount(addr identity.EmailAddress, profile string) *account {
	acc := &account{
		addr:     addr,
		messages: make(map[string]*storedMessage),
		links:    make(map[string]string),
	}
	acc.setProfile(profile)
	a.accounts[addr.String()] = acc
	return acc
}

func (acc *account) setProfile(profile string) {
	acc.profile = profile
	if p := models.ParseProfile(acc.addr, profile); p.SigningKey != nil {
		acc.signingKey = p.SigningKey.Key
	}
}

// MessageIDs lists the ids stored for addr in upload order.
func (a *Agent) MessageIDs(addr identity.EmailAddress) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	acc, ok := a.accounts[addr.String()]
	if !ok {
		return nil
	}
	return append([]string(nil), acc.order...)
}

// AddMessageID lists id for addr without storing a message behind it, as a
// misbehaving host would.
func (a *Agent) AddMessageID(addr identity.EmailAddress, id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if acc, ok := a.accounts[addr.String()]; ok {
		acc.order = append(acc.order, id)
	}
}

// MessageHeader returns the stored envelope headers of a message.
func (a *Agent) MessageHeader(addr identity.EmailAddress, id string) http.Header {
	a.mu.Lock()
	defer a.mu.Unlock()
	if acc, ok := a.accounts[addr.String()]; ok {
		if m, ok := acc.messages[id]; ok {
			return m.header.Clone()
		}
	}
	return nil
}

// MessageSize returns the stored payload length of a message, or -1.
func (a *Agent) MessageSize(addr identity.EmailAddress, id string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if acc, ok := a.accounts[addr.String()]; ok {
		if m, ok := acc.messages[id]; ok {
			return len(m.body)
		}
	}
	return -1
}

func (a *Agent) Notifications(addr identity.EmailAddress) []StoredNotification {
	a.mu.Lock()
	defer a.mu.Unlock()
	if acc, ok := a.accounts[addr.String()]; ok {
		return append([]StoredNotification(nil), acc.notifications...)
	}
	return nil
}

// AddNotification stores a raw notification for addr.
func (a *Agent) AddNotification(addr identity.EmailAddress, n StoredNotification) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if acc, ok := a.accounts[addr.String()]; ok {
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		acc.notifications = append(acc.notifications, n)
	}
}

func (a *Agent) Links(addr identity.EmailAddress) map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]string)
	if acc, ok := a.accounts[addr.String()]; ok {
		for k, v := range acc.links {
			out[k] = v
		}
	}
	return out
}

func (a *Agent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.requests = append(a.requests, r.Method+" "+r.URL.Path)
	for _, f := range a.failures {
		if (f.method == "" || f.method == r.Method) && strings.Contains(r.URL.Path, f.contains) {
			http.Error(w, "injected failure", f.status)
			return
		}
	}

	seg := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case len(seg) == 2 && seg[0] == "mail":
		if r.Method != http.MethodHead || !a.domains[strings.ToLower(seg[1])] {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	case len(seg) == 3 && seg[0] == "account":
		a.serveAccount(w, r, seg[1], seg[2])
	case len(seg) >= 3 && seg[0] == "home":
		a.serveHome(w, r, seg[1], seg[2], seg[3:])
	case len(seg) >= 3 && seg[0] == "mail":
		a.serveMail(w, r, seg[1], seg[2], seg[3:])
	default:
		http.NotFound(w, r)
	}
}

func (a *Agent) lookup(domain, local string) (*account, identity.EmailAddress, bool) {
	addr, err := identity.ParseEmailAddress(local + "@" + domain)
	if err != nil || !a.domains[addr.HostPart()] {
		return nil, addr, false
	}
	acc, ok := a.accounts[addr.String()]
	return acc, addr, ok
}

func (a *Agent) serveAccount(w http.ResponseWriter, r *http.Request, domain, local string) {
	acc, addr, ok := a.lookup(domain, local)
	if addr.IsZero() || !a.domains[addr.HostPart()] {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodHead:
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodPost:
		if ok && acc != nil {
			http.Error(w, "account exists", http.StatusConflict)
			return
		}
		body, _ := io.ReadAll(r.Body)
		p := models.ParseProfile(addr, string(body))
		if p.SigningKey == nil || p.EncryptionKey == nil {
			http.Error(w, "missing keys", http.StatusBadRequest)
			return
		}
		key, err := sotn.Verify(r.Header.Get("Authorization"), a.Host)
		if err != nil || !bytes.Equal(key, p.SigningKey.Key) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		a.addAccount(addr, string(body))
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (a *Agent) authorized(r *http.Request, acc *account) bool {
	key, err := sotn.Verify(r.Header.Get("Authorization"), a.Host)
	return err == nil && len(acc.signingKey) == ed25519.PublicKeySize && bytes.Equal(key, acc.signingKey)
}

func (a *Agent) serveHome(w http.ResponseWriter, r *http.Request, domain, local string, rest []string) {
	acc, _, ok := a.lookup(domain, local)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if !a.authorized(r, acc) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	switch {
	case len(rest) == 0:
		w.WriteHeader(http.StatusOK)

	case len(rest) == 1 && rest[0] == "notifications":
		for _, n := range acc.notifications {
			fmt.Fprintf(w, "%s,%s,%s,%s\n", n.ID, n.Link, n.Fingerprint, n.Notifier)
		}

	case len(rest) == 1 && rest[0] == "profile" && r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		p := models.ParseProfile(acc.addr, string(body))
		if p.SigningKey == nil {
			http.Error(w, "missing signing key", http.StatusBadRequest)
			return
		}
		acc.setProfile(string(body))

	case len(rest) == 1 && rest[0] == "image":
		switch r.Method {
		case http.MethodPut:
			acc.image, _ = io.ReadAll(r.Body)
		case http.MethodDelete:
			acc.image = nil
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}

	case len(rest) == 1 && rest[0] == "links":
		ids := make([]string, 0, len(acc.links))
		for id := range acc.links {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(w, "%s,%s\n", id, acc.links[id])
		}

	case len(rest) == 2 && rest[0] == "links":
		switch r.Method {
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			acc.links[rest[1]] = strings.TrimSpace(string(body))
		case http.MethodDelete:
			if _, ok := acc.links[rest[1]]; !ok {
				http.NotFound(w, r)
				return
			}
			delete(acc.links, rest[1])
		case http.MethodGet:
			v, ok := acc.links[rest[1]]
			if !ok {
				http.NotFound(w, r)
				return
			}
			fmt.Fprint(w, v)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}

	case len(rest) == 1 && rest[0] == "messages":
		switch r.Method {
		case http.MethodGet:
			for _, id := range acc.order {
				fmt.Fprintln(w, id)
			}
		case http.MethodPost:
			a.storeMessage(w, r, acc)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}

	case len(rest) == 2 && rest[0] == "messages":
		m, ok := acc.messages[rest[1]]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if r.Method == http.MethodDelete {
			delete(acc.messages, m.id)
			acc.order = removeID(acc.order, m.id)
			return
		}
		writeMessage(w, r, m)

	case len(rest) == 3 && rest[0] == "messages" && rest[2] == "deliveries":
		m, ok := acc.messages[rest[1]]
		if !ok {
			http.NotFound(w, r)
			return
		}
		links := make([]string, 0, len(m.deliveries))
		for l := range m.deliveries {
			links = append(links, l)
		}
		sort.Strings(links)
		for _, l := range links {
			fmt.Fprintf(w, "%s,%d\n", l, m.deliveries[l].Unix())
		}

	default:
		http.NotFound(w, r)
	}
}

func (a *Agent) serveMail(w http.ResponseWriter, r *http.Request, domain, local string, rest []string) {
	acc, _, ok := a.lookup(domain, local)
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch {
	case len(rest) == 1 && rest[0] == "profile":
		fmt.Fprint(w, acc.profile)

	case len(rest) == 1 && rest[0] == "image":
		if len(acc.image) == 0 {
			http.NotFound(w, r)
			return
		}
		w.Write(acc.image)

	case len(rest) == 1 && rest[0] == "messages":
		for _, id := range acc.order {
			if acc.messages[id].broadcast {
				fmt.Fprintln(w, id)
			}
		}

	case len(rest) == 2 && rest[0] == "messages":
		m, ok := acc.messages[rest[1]]
		if !ok || !m.broadcast {
			http.NotFound(w, r)
			return
		}
		writeMessage(w, r, m)

	case len(rest) == 3 && rest[0] == "link" && rest[2] == "notifications" && r.Method == http.MethodPut:
		key, err := sotn.Verify(r.Header.Get("Authorization"), a.Host)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		acc.notifications = append(acc.notifications, StoredNotification{
			ID:          uuid.NewString(),
			Link:        rest[1],
			Fingerprint: cryptox.PublicKeyFingerprint(key),
			Notifier:    strings.TrimSpace(string(body)),
		})

	case len(rest) == 3 && rest[0] == "link" && rest[2] == "messages":
		for _, id := range acc.order {
			if acc.messages[id].links[rest[1]] {
				fmt.Fprintln(w, id)
			}
		}

	case len(rest) == 4 && rest[0] == "link" && rest[2] == "messages":
		m, ok := acc.messages[rest[3]]
		if !ok || !m.links[rest[1]] {
			http.NotFound(w, r)
			return
		}
		if r.Method == http.MethodGet {
			m.deliveries[rest[1]] = a.now()
		}
		writeMessage(w, r, m)

	default:
		http.NotFound(w, r)
	}
}

func (a *Agent) storeMessage(w http.ResponseWriter, r *http.Request, acc *account) {
	id := r.Header.Get(common.HeaderMessageID)
	if id == "" {
		http.Error(w, "missing message id", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m := &storedMessage{
		id:         id,
		header:     make(http.Header),
		body:       body,
		links:      make(map[string]bool),
		deliveries: make(map[string]time.Time),
	}
	for k, v := range r.Header {
		if strings.HasPrefix(strings.ToLower(k), strings.ToLower(common.EnvelopeHeaderPrefix)) {
			m.header[k] = v
		}
	}

	access := m.header.Get(common.HeaderAccess)
	m.broadcast = access == ""
	if groups, err := attrs.ParseGroups(access); err == nil {
		for _, g := range groups {
			if l := g.Get("link"); l != "" {
				m.links[l] = true
			}
		}
	}

	if _, exists := acc.messages[id]; !exists {
		acc.order = append(acc.order, id)
	}
	acc.messages[id] = m
}

func writeMessage(w http.ResponseWriter, r *http.Request, m *storedMessage) {
	for k, v := range m.header {
		w.Header()[k] = v
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Write(m.body)
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
