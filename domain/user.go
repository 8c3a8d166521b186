package domain

import "slices"

// LocalUser is a registered grid user as known to the user directory.
type LocalUser struct {
	Name        string              `yaml:"name" json:"name"`
	Email       string              `yaml:"email,omitempty" json:"email,omitempty"`
	DNs         []string            `yaml:"dns,omitempty" json:"dns,omitempty"`
	Groups      []string            `yaml:"groups,omitempty" json:"groups,omitempty"`
	ExternalIDs map[string][]string `yaml:"external_ids,omitempty" json:"external_ids,omitempty"` // provider -> subs
}

// HasExternalID reports whether the user is linked to sub at provider.
func (u *LocalUser) HasExternalID(provider, sub string) bool {
	return slices.Contains(u.ExternalIDs[provider], sub)
}

// UserChanges are the additions a candidate profile would bring to a local user.
type UserChanges struct {
	DNs        []string `json:"dns,omitempty" yaml:"dns,omitempty"`
	Groups     []string `json:"groups,omitempty" yaml:"groups,omitempty"`
	Provider   string   `json:"provider,omitempty" yaml:"provider,omitempty"`
	ExternalID string   `json:"external_id,omitempty" yaml:"external_id,omitempty"`
}

// Empty reports whether there is nothing to merge.
func (c UserChanges) Empty() bool {
	return len(c.DNs) == 0 && len(c.Groups) == 0 && c.ExternalID == ""
}

// Diff computes what profile adds on top of u. The local record is
// authoritative, so only additions are reported.
func (u *LocalUser) Diff(profile *UserProfile) UserChanges {
	changes := UserChanges{
		DNs:    Missing(u.DNs, profile.DNs),
		Groups: Missing(u.Groups, profile.Groups),
	}
	if profile.ExternalUserID != "" && !u.HasExternalID(profile.Provider, profile.ExternalUserID) {
		changes.Provider = profile.Provider
		changes.ExternalID = profile.ExternalUserID
	}
	return changes
}

// Apply merges the changes into the user.
func (u *LocalUser) Apply(c UserChanges) {
	u.DNs = Union(u.DNs, c.DNs)
	u.Groups = Union(u.Groups, c.Groups)
	if c.ExternalID != "" {
		if u.ExternalIDs == nil {
			u.ExternalIDs = make(map[string][]string)
		}
		u.ExternalIDs[c.Provider] = Union(u.ExternalIDs[c.Provider], []string{c.ExternalID})
	}
}
