package domain

import (
	"slices"
	"sort"
)

// UserProfile is the identity parsed out of one authentication response.
type UserProfile struct {
	ExternalUserID string         `bson:"external_user_id"          json:"external_user_id"          yaml:"external_user_id"`
	Provider       string         `bson:"provider"                  json:"provider"                  yaml:"provider"`
	UserName       string         `bson:"user_name,omitempty"       json:"user_name,omitempty"       yaml:"user_name,omitempty"`
	FullName       string         `bson:"full_name,omitempty"       json:"full_name,omitempty"       yaml:"full_name,omitempty"`
	Email          string         `bson:"email,omitempty"           json:"email,omitempty"           yaml:"email,omitempty"`
	DNs            []string       `bson:"dns,omitempty"             json:"dns,omitempty"             yaml:"dns,omitempty"`
	Groups         []string       `bson:"groups,omitempty"          json:"groups,omitempty"          yaml:"groups,omitempty"`
	VOMSRoles      []string       `bson:"voms_roles,omitempty"      json:"voms_roles,omitempty"      yaml:"voms_roles,omitempty"`
	NoSupport      []string       `bson:"no_support,omitempty"      json:"no_support,omitempty"      yaml:"no_support,omitempty"`
	ProxyProviders []string       `bson:"proxy_providers,omitempty" json:"proxy_providers,omitempty" yaml:"proxy_providers,omitempty"`
	Claims         map[string]any `bson:"-"                         json:"claims,omitempty"          yaml:"-"`
}

// Clone returns a deep copy of the profile.
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	c := *p
	c.DNs = slices.Clone(p.DNs)
	c.Groups = slices.Clone(p.Groups)
	c.VOMSRoles = slices.Clone(p.VOMSRoles)
	c.NoSupport = slices.Clone(p.NoSupport)
	c.ProxyProviders = slices.Clone(p.ProxyProviders)
	if p.Claims != nil {
		c.Claims = make(map[string]any, len(p.Claims))
		for k, v := range p.Claims {
			c.Claims[k] = v
		}
	}
	return &c
}

// MergeProfiles folds add into base. base wins for scalar fields that are
// already set; list fields become the ordered union. Neither input is
// modified.
func MergeProfiles(base, add *UserProfile) *UserProfile {
	if base == nil {
		return add.Clone()
	}
	out := base.Clone()
	if add == nil {
		return out
	}
	if out.UserName == "" {
		out.UserName = add.UserName
	}
	if out.FullName == "" {
		out.FullName = add.FullName
	}
	if out.Email == "" {
		out.Email = add.Email
	}
	out.DNs = Union(out.DNs, add.DNs)
	out.Groups = Union(out.Groups, add.Groups)
	out.VOMSRoles = Union(out.VOMSRoles, add.VOMSRoles)
	out.NoSupport = Union(out.NoSupport, add.NoSupport)
	out.ProxyProviders = Union(out.ProxyProviders, add.ProxyProviders)
	return out
}

// Union appends the items of b missing from a, keeping first-seen order.
func Union(a, b []string) []string {
	out := slices.Clone(a)
	for _, v := range b {
		if v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

// Missing returns the items of want that are not in have.
func Missing(have, want []string) []string {
	var out []string
	for _, v := range want {
		if v != "" && !slices.Contains(have, v) && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

// Profile is the cached view of one external identity, rebuilt from the
// sessions that carry it.
type Profile struct {
	ExternalUserID  string   `json:"external_user_id" yaml:"external_user_id"`
	Provider        string   `json:"provider" yaml:"provider"`
	UserName        string   `json:"user_name,omitempty" yaml:"user_name,omitempty"`
	DNs             []string `json:"dns,omitempty" yaml:"dns,omitempty"`
	Groups          []string `json:"groups,omitempty" yaml:"groups,omitempty"`
	VOMSRoles       []string `json:"voms_roles,omitempty" yaml:"voms_roles,omitempty"`
	SessionIDs      []string `json:"sessions" yaml:"sessions"`
	ReservedSession string   `json:"reserved_session,omitempty" yaml:"reserved_session,omitempty"`
}

// OwnedBy reports whether the given local name or DN belongs to this identity.
func (p *Profile) OwnedBy(userName, dn string) bool {
	if userName != "" && p.UserName == userName {
		return true
	}
	return dn != "" && slices.Contains(p.DNs, dn)
}

// BuildProfiles groups sessions by external identity. Sessions that have not
// been resolved yet are ignored. The result is deterministic for a given set
// of sessions regardless of their order.
func BuildProfiles(sessions []*Session) map[string]*Profile {
	sorted := slices.Clone(sessions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	profiles := make(map[string]*Profile)
	for _, s := range sorted {
		if s.ExternalUserID == "" {
			continue
		}
		p, ok := profiles[s.ExternalUserID]
		if !ok {
			p = &Profile{ExternalUserID: s.ExternalUserID, Provider: s.Provider}
			profiles[s.ExternalUserID] = p
		}
		p.SessionIDs = append(p.SessionIDs, s.ID)
		if p.UserName == "" {
			p.UserName = s.UserName
		}
		if s.UserDN != "" {
			p.DNs = Union(p.DNs, []string{s.UserDN})
		}
		if s.Profile != nil {
			if p.UserName == "" {
				p.UserName = s.Profile.UserName
			}
			p.DNs = Union(p.DNs, s.Profile.DNs)
			p.Groups = Union(p.Groups, s.Profile.Groups)
			p.VOMSRoles = Union(p.VOMSRoles, s.Profile.VOMSRoles)
		}
		if s.Reserved {
			p.ReservedSession = s.ID
		}
	}
	return profiles
}
