package blocklist

import (
	"fmt"
	"os/exec"
)

// Enforcer installs and removes host-level deny rules for blocked IPs.
// Enforcement is a side effect of the registry, not a second source of truth:
// when a rule cannot be installed the durable block entry still stands and
// the edge IsBlocked check keeps rejecting the address.
type Enforcer interface {
	Deny(ip string) error
	Allow(ip string) error
}

// IPTablesEnforcer shells out to iptables on the host.
type IPTablesEnforcer struct{}

func (IPTablesEnforcer) Deny(ip string) error {
	if err := exec.Command("iptables", "-I", "INPUT", "-s", ip, "-j", "DROP").Run(); err != nil {
		return fmt.Errorf("blocklist: install deny rule for %s: %w", ip, err)
	}
	return nil
}

func (IPTablesEnforcer) Allow(ip string) error {
	if err := exec.Command("iptables", "-D", "INPUT", "-s", ip, "-j", "DROP").Run(); err != nil {
		return fmt.Errorf("blocklist: remove deny rule for %s: %w", ip, err)
	}
	return nil
}

// NopEnforcer is used when firewall enforcement is disabled.
type NopEnforcer struct{}

func (NopEnforcer) Deny(string) error  { return nil }
func (NopEnforcer) Allow(string) error { return nil }
