package domain

import (
	"slices"
)

// ExternalAccess describes who may see a synced file. It is used at
// search time for authorisation filtering.
//
// ExternalAccess is a value type: constructors copy their inputs and
// normalise them (sorted, deduplicated), all "updates" produce new
// values, and equality is structural. Do not mutate the slices.
type ExternalAccess struct {
	// UserEmails are addresses with direct access.
	UserEmails []string `json:"user_emails"`

	// GroupIDs are groups whose members have access.
	GroupIDs []string `json:"group_ids"`

	// IsPublic grants access to everyone regardless of identity.
	IsPublic bool `json:"is_public"`
}

// EmptyAccess returns an access that denies everyone. This is distinct
// from "permissions unknown": it is an explicit empty ACL.
func EmptyAccess() ExternalAccess {
	return ExternalAccess{UserEmails: []string{}, GroupIDs: []string{}}
}

// PublicAccess returns an access granting everyone.
func PublicAccess() ExternalAccess {
	return ExternalAccess{UserEmails: []string{}, GroupIDs: []string{}, IsPublic: true}
}

// AccessForUsers returns an access for the given user emails.
func AccessForUsers(emails ...string) ExternalAccess {
	return ExternalAccess{UserEmails: normalise(emails), GroupIDs: []string{}}
}

// AccessForUsersAndGroups returns an access for the given users and groups.
func AccessForUsersAndGroups(emails, groups []string) ExternalAccess {
	return ExternalAccess{UserEmails: normalise(emails), GroupIDs: normalise(groups)}
}

// CanAccess reports whether a requester with the given email and group
// memberships may see the file.
func (a ExternalAccess) CanAccess(email string, groups []string) bool {
	if a.IsPublic {
		return true
	}
	if slices.Contains(a.UserEmails, email) {
		return true
	}
	for _, g := range groups {
		if slices.Contains(a.GroupIDs, g) {
			return true
		}
	}
	return false
}

// IsEmpty reports whether the access denies everyone.
func (a ExternalAccess) IsEmpty() bool {
	return !a.IsPublic && len(a.UserEmails) == 0 && len(a.GroupIDs) == 0
}

// Equal reports structural equality.
func (a ExternalAccess) Equal(b ExternalAccess) bool {
	return a.IsPublic == b.IsPublic &&
		slices.Equal(a.UserEmails, b.UserEmails) &&
		slices.Equal(a.GroupIDs, b.GroupIDs)
}

// MergeAccess unions the given accesses into a new value. Public is
// sticky: if any input is public the result is public. Merging zero
// accesses yields EmptyAccess, which denies everyone.
func MergeAccess(accesses ...ExternalAccess) ExternalAccess {
	var emails, groups []string
	public := false
	for _, a := range accesses {
		emails = append(emails, a.UserEmails...)
		groups = append(groups, a.GroupIDs...)
		public = public || a.IsPublic
	}
	return ExternalAccess{
		UserEmails: normalise(emails),
		GroupIDs:   normalise(groups),
		IsPublic:   public,
	}
}

// normalise returns a sorted, deduplicated copy with empties removed.
func normalise(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
