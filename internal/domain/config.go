package domain

import "fmt"

// Unlimited is the sentinel for an absent object or byte limit.
const Unlimited int64 = -1

// ConfigKey identifies a domain configuration.
type ConfigKey struct {
	DomainName string `json:"domain" yaml:"domain"`
	ConfigName string `json:"config" yaml:"config"`
}

func (k ConfigKey) String() string {
	return fmt.Sprintf("%s/%s", k.DomainName, k.ConfigName)
}

// DomainConfiguration is a named bundle of seeds, credentials and budgets for
// harvesting one domain. It is owned by the domain and only referenced by
// harvest definitions.
type DomainConfiguration struct {
	Name       string
	DomainName string

	// Template names the crawler order template; jobs never mix templates.
	Template string

	Seedlists []string
	Passwords []string

	MaxObjects     int64 // Unlimited (-1) when not bounded
	MaxBytes       int64 // Unlimited (-1) when not bounded
	MaxRequestRate int

	Comments string
}

// Key returns the (domain, name) identity of the configuration.
func (c DomainConfiguration) Key() ConfigKey {
	return ConfigKey{DomainName: c.DomainName, ConfigName: c.Name}
}
