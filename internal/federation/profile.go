package federation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pilab-dev/oauthdirac/domain"
)

// MaxUserNameLength bounds generated user names to what grid accounts accept.
const MaxUserNameLength = 13

const defaultDNClaim = "dn"

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeUserName derives a local account name from the userinfo claims:
// preferred_username, else the initial of given_name followed by
// family_name, else the initial of the first word of name followed by the
// second word. The result is lowercase alphanumeric and at most
// MaxUserNameLength long.
func NormalizeUserName(claims map[string]any) string {
	var name string
	given, family := claimString(claims, "given_name"), claimString(claims, "family_name")
	words := strings.Fields(claimString(claims, "name"))

	switch {
	case claimString(claims, "preferred_username") != "":
		name = claimString(claims, "preferred_username")
	case given != "" && family != "":
		name = initial(given) + family
	case len(words) > 1:
		name = initial(words[0]) + words[1]
	}

	name = nonAlphanumeric.ReplaceAllString(strings.ToLower(name), "")
	if len(name) > MaxUserNameLength {
		name = name[:MaxUserNameLength]
	}
	return name
}

// ParseProfile builds the candidate profile from userinfo claims.
func ParseProfile(cfg *domain.IdentityProvider, claims map[string]any) (*domain.UserProfile, error) {
	sub := claimString(claims, "sub")
	if sub == "" {
		return nil, ErrMissingSubjectClaim
	}

	profile := &domain.UserProfile{
		ExternalUserID: sub,
		Provider:       cfg.Name,
		UserName:       NormalizeUserName(claims),
		Email:          claimString(claims, "email"),
		Groups:         domain.Union(nil, cfg.DefaultGroups),
		Claims:         claims,
	}

	given, family := claimString(claims, "given_name"), claimString(claims, "family_name")
	if given != "" && family != "" {
		profile.FullName = given + " " + family
	} else {
		profile.FullName = strings.Join(strings.Fields(claimString(claims, "name")), " ")
	}

	dnClaim := cfg.DNClaim
	if dnClaim == "" {
		dnClaim = defaultDNClaim
	}
	profile.DNs = domain.Union(nil, claimList(claims, dnClaim))

	if cfg.VOMSClaim != "" && cfg.VOMSPattern != "" {
		if err := parseVOMS(cfg, claimList(claims, cfg.VOMSClaim), profile); err != nil {
			return nil, err
		}
	}
	if cfg.ProxyProvider != "" {
		profile.ProxyProviders = []string{cfg.ProxyProvider}
	}
	return profile, nil
}

// parseVOMS maps VO membership entries onto local groups. VOMSGroups may hold
// "/VO" for the groups every member of the VO gets and "/VO/Role=ROLE" for
// role specific groups. Entries that do not parse, name an unknown VO or an
// unmapped role end up in NoSupport.
func parseVOMS(cfg *domain.IdentityProvider, entries []string, profile *domain.UserProfile) error {
	re, err := regexp.Compile(cfg.VOMSPattern)
	if err != nil {
		return fmt.Errorf("%w: invalid VOMS pattern: %v", ErrProviderMisconfigured, err)
	}
	voIdx, roleIdx := re.SubexpIndex("VO"), re.SubexpIndex("ROLE")
	if voIdx < 0 {
		return fmt.Errorf("%w: VOMS pattern has no VO group", ErrProviderMisconfigured)
	}

	for _, entry := range entries {
		m := re.FindStringSubmatch(entry)
		if m == nil || m[voIdx] == "" {
			profile.NoSupport = domain.Union(profile.NoSupport, []string{entry})
			continue
		}
		vo := "/" + m[voIdx]
		role := ""
		if roleIdx >= 0 {
			role = m[roleIdx]
		}
		key := vo
		if role != "" {
			key = vo + "/Role=" + role
		}

		if !knownVO(cfg.VOMSGroups, vo) {
			profile.NoSupport = domain.Union(profile.NoSupport, []string{key})
			continue
		}
		profile.Groups = domain.Union(profile.Groups, cfg.VOMSGroups[vo])
		if role != "" {
			groups, ok := cfg.VOMSGroups[key]
			if !ok {
				profile.NoSupport = domain.Union(profile.NoSupport, []string{key})
				continue
			}
			profile.Groups = domain.Union(profile.Groups, groups)
		}
		profile.VOMSRoles = domain.Union(profile.VOMSRoles, []string{key})
	}
	return nil
}

func initial(s string) string {
	for _, r := range s {
		return string(r)
	}
	return ""
}

func knownVO(mapping map[string][]string, vo string) bool {
	for k := range mapping {
		if k == vo || strings.HasPrefix(k, vo+"/") {
			return true
		}
	}
	return false
}

func claimString(claims map[string]any, name string) string {
	if s, ok := claims[name].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// claimList reads a claim that is either a list or a comma separated string.
func claimList(claims map[string]any, name string) []string {
	var out []string
	switch v := claims[name].(type) {
	case string:
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	case []string:
		out = append(out, v...)
	}
	return out
}
