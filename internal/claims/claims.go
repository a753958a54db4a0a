// Package claims parses identity-provider claim documents and maps them
// to the gateway's normalized authority set.
package claims

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
)

// AuthorityPrefix is prepended to every normalized role name.
const AuthorityPrefix = "ROLE_"

// RoleList is the tagged result of parsing one roles claim. Present
// distinguishes an absent or null claim from one that exists but is
// empty; both contribute nothing to the authority set.
type RoleList struct {
	Present bool
	Roles   []string
}

func (l *RoleList) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		*l = RoleList{}
		return nil
	}
	var roles []string
	if err := json.Unmarshal(data, &roles); err != nil {
		return err
	}
	*l = RoleList{Present: true, Roles: roles}
	return nil
}

// RealmAccess is the realm-level roles claim ("realm_access": {"roles": [...]}).
type RealmAccess struct {
	Present bool
	Roles   []string
}

func (a *RealmAccess) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		*a = RealmAccess{}
		return nil
	}
	var raw struct {
		Roles []string `json:"roles"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = RealmAccess{Present: true, Roles: raw.Roles}
	return nil
}

// ResourceAccess is the per-client roles claim
// ("resource_access": {"<client-id>": {"roles": [...]}, ...}).
type ResourceAccess struct {
	Present bool
	Clients map[string][]string
}

func (a *ResourceAccess) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		*a = ResourceAccess{}
		return nil
	}
	var raw map[string]struct {
		Roles []string `json:"roles"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	clients := make(map[string][]string, len(raw))
	for client, access := range raw {
		clients[client] = access.Roles
	}
	*a = ResourceAccess{Present: true, Clients: clients}
	return nil
}

// GroupList is the group-membership claim: slash-separated hierarchical
// paths such as "/org/dept/ADMIN".
type GroupList struct {
	Present bool
	Groups  []string
}

func (l *GroupList) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		*l = GroupList{}
		return nil
	}
	var groups []string
	if err := json.Unmarshal(data, &groups); err != nil {
		return err
	}
	*l = GroupList{Present: true, Groups: groups}
	return nil
}

func isNull(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}

// Document is a typed view of the identity claims the gateway consumes.
// Unknown claims are ignored.
type Document struct {
	Subject           string `json:"sub"`
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
	Name              string `json:"name"`
	GivenName         string `json:"given_name"`
	FamilyName        string `json:"family_name"`

	RealmAccess    RealmAccess    `json:"realm_access"`
	ResourceAccess ResourceAccess `json:"resource_access"`
	Groups         GroupList      `json:"groups"`
}

// Parse decodes a raw claims document.
func Parse(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// DisplayName returns the canonical name used for greetings and audit:
// the preferred username, falling back to the provider's subject.
func (d Document) DisplayName() string {
	if d.PreferredUsername != "" {
		return d.PreferredUsername
	}
	return d.Subject
}

// Authorities derives the normalized authority set from all three claim
// sources: realm roles, per-client resource roles, and group memberships.
// All rules apply (not first-match) and the results are unioned with
// duplicates removed. Client identity is not encoded in resource-role
// authorities, and group paths contribute only their last segment.
//
// Authorities from the three sources are deliberately not namespaced: a
// realm role and a same-named group collapse into one authority. That
// matches the deployed contract but means the sources can shadow each
// other when scoping privileges.
func (d Document) Authorities() []string {
	set := make(map[string]struct{})

	if d.RealmAccess.Present {
		for _, role := range d.RealmAccess.Roles {
			addAuthority(set, role)
		}
	}

	if d.ResourceAccess.Present {
		for _, roles := range d.ResourceAccess.Clients {
			for _, role := range roles {
				addAuthority(set, role)
			}
		}
	}

	if d.Groups.Present {
		for _, group := range d.Groups.Groups {
			addAuthority(set, lastGroupSegment(group))
		}
	}

	authorities := make([]string, 0, len(set))
	for authority := range set {
		authorities = append(authorities, authority)
	}
	sort.Strings(authorities)
	return authorities
}

func addAuthority(set map[string]struct{}, role string) {
	if role == "" {
		return
	}
	set[AuthorityPrefix+strings.ToUpper(role)] = struct{}{}
}

// lastGroupSegment strips the leading slash from a hierarchical group
// path and returns its final segment ("/org/dept/ADMIN" -> "ADMIN").
func lastGroupSegment(group string) string {
	group = strings.TrimPrefix(group, "/")
	if group == "" {
		return ""
	}
	segments := strings.Split(group, "/")
	return segments[len(segments)-1]
}
