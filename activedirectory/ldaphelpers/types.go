package ldaphelpers

// Attribute and class names used for group membership.
const (
	AttrObjectClass = "objectClass"
	AttrMember      = "member"
	AttrMemberOf    = "memberOf"

	ClassGroup    = "group"
	ClassUser     = "user"
	ClassComputer = "computer"
)
