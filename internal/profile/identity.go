// Package profile maps normalized directory entries onto the identity shape
// handed to HTTP callers.
package profile

import (
	"github.com/isometry/directory-auth/internal/ldap"
)

// Identity is the framework-facing view of an authenticated directory user.
type Identity struct {
	ID          string   `json:"id"`
	DN          string   `json:"dn"`
	DisplayName string   `json:"displayName,omitempty"`
	FamilyName  string   `json:"familyName,omitempty"`
	GivenName   string   `json:"givenName,omitempty"`
	Emails      []string `json:"emails,omitempty"`

	// Raw is the full normalized profile the identity was derived from.
	Raw ldap.Profile `json:"-"`
}

// FromProfile builds an Identity from a normalized profile.
//
// The ID is taken from objectGUID and falls back to uid. Family and given
// names accept both the Active Directory and the POSIX attribute names.
// Emails come from mail whether it collapsed to a scalar or not.
func FromProfile(p ldap.Profile) *Identity {
	if p == nil {
		return nil
	}

	return &Identity{
		ID:          firstOf(p, "objectGUID", "uid"),
		DN:          p.DN(),
		DisplayName: p.First("displayName"),
		FamilyName:  firstOf(p, "sn", "surName"),
		GivenName:   firstOf(p, "gn", "givenName"),
		Emails:      p.Strings("mail"),
		Raw:         p,
	}
}

// firstOf returns the first value of the first attribute present with a non-empty value.
func firstOf(p ldap.Profile, names ...string) string {
	for _, name := range names {
		if v := p.First(name); v != "" {
			return v
		}
	}
	return ""
}
