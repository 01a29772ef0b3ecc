package mailtest

import (
	"strings"

	"github.com/dmitrijs2005/openemail/internal/client/models"
	"github.com/dmitrijs2005/openemail/internal/common"
)

// Network is a Router with agents and well-known files for several domains.
type Network struct {
	*Router
	agents map[string]*Agent
}

func NewNetwork() *Network {
	return &Network{Router: NewRouter(), agents: make(map[string]*Agent)}
}

// AddDomain publishes a well-known file for domain listing hosts and starts
// an agent on each host serving the domain. Agents are shared between
// domains that list the same host.
func (n *Network) AddDomain(domain string, hosts ...string) []*Agent {
	n.Handle(domain, StaticText(common.WellKnownDelegationPath, strings.Join(hosts, "\n")+"\n"))

	out := make([]*Agent, 0, len(hosts))
	for _, h := range hosts {
		a, ok := n.agents[h]
		if !ok {
			a = NewAgent(h)
			n.agents[h] = a
			n.Handle(h, a)
		}
		a.mu.Lock()
		a.domains[strings.ToLower(domain)] = true
		a.mu.Unlock()
		out = append(out, a)
	}
	return out
}

func (n *Network) Agent(host string) *Agent {
	return n.agents[host]
}

// AddAccount provisions p on every agent serving its domain.
func (n *Network) AddAccount(p *models.Profile) {
	for _, a := range n.agents {
		a.mu.Lock()
		serves := a.domains[p.Address.HostPart()]
		a.mu.Unlock()
		if serves {
			a.AddAccount(p)
		}
	}
}
