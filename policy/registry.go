package policy

import (
	"sync"

	"github.com/rinastack/efcp-core/rerr"
)

// DTPFactory builds a DTP policy set from string key/value parameters
// supplied at connection-creation time.
type DTPFactory func(params map[string]string) *DTPPolicySet

// DTCPFactory builds a DTCP policy set from string key/value parameters.
type DTCPFactory func(params map[string]string) *DTCPPolicySet

var (
	regMu         sync.RWMutex
	dtpFactories  = map[string]DTPFactory{"default": DefaultDTPPolicySet}
	dtcpFactories = map[string]DTCPFactory{"default": DefaultDTCPPolicySet}
)

// RegisterDTP publishes a DTP policy-set factory under name, making it
// selectable from connection configuration. Re-registering a name
// replaces the previous factory, which is how a plug-in updates itself
// at runtime.
func RegisterDTP(name string, f DTPFactory) {
	regMu.Lock()
	dtpFactories[name] = f
	regMu.Unlock()
}

// RegisterDTCP publishes a DTCP policy-set factory under name.
func RegisterDTCP(name string, f DTCPFactory) {
	regMu.Lock()
	dtcpFactories[name] = f
	regMu.Unlock()
}

// UnregisterDTP withdraws a published DTP factory. Connections already
// carrying an instance built from it keep running; only new selections
// are affected.
func UnregisterDTP(name string) {
	regMu.Lock()
	delete(dtpFactories, name)
	regMu.Unlock()
}

// UnregisterDTCP withdraws a published DTCP factory.
func UnregisterDTCP(name string) {
	regMu.Lock()
	delete(dtcpFactories, name)
	regMu.Unlock()
}

// NewDTPPolicySet instantiates the named DTP policy set. An empty name
// selects "default"; an unknown name is PolicyRejected.
func NewDTPPolicySet(name string, params map[string]string) (*DTPPolicySet, error) {
	if name == "" {
		name = "default"
	}
	regMu.RLock()
	f, ok := dtpFactories[name]
	regMu.RUnlock()
	if !ok {
		return nil, rerr.New(rerr.PolicyRejected, "policy.new_dtp_policy_set")
	}
	return f(params), nil
}

// NewDTCPPolicySet instantiates the named DTCP policy set.
func NewDTCPPolicySet(name string, params map[string]string) (*DTCPPolicySet, error) {
	if name == "" {
		name = "default"
	}
	regMu.RLock()
	f, ok := dtcpFactories[name]
	regMu.RUnlock()
	if !ok {
		return nil, rerr.New(rerr.PolicyRejected, "policy.new_dtcp_policy_set")
	}
	return f(params), nil
}
