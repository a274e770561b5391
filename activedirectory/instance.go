package activedirectory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"f0oster/groupsync/activedirectory/ldaphelpers"
	"f0oster/groupsync/directory"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"
)

// ActiveDirectoryInstance is an LDAP-backed directory.Client. Group and
// member ids are distinguished names.
type ActiveDirectoryInstance struct {
	BaseDn               string
	DomainControllerFQDN string
	PageSize             uint32
	Timeout              time.Duration
	ldapConnection       *ldap.Conn
	logger               *zap.Logger
}

var _ directory.Client = (*ActiveDirectoryInstance)(nil)

func NewActiveDirectoryInstance(baseDn string, domainControllerFQDN string, pageSize uint32, timeout time.Duration, logger *zap.Logger) *ActiveDirectoryInstance {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActiveDirectoryInstance{
		BaseDn:               baseDn,
		DomainControllerFQDN: domainControllerFQDN,
		PageSize:             pageSize,
		Timeout:              timeout,
		logger:               logger,
	}
}

// Connect dials the domain controller and binds with the given credentials.
func (ad *ActiveDirectoryInstance) Connect(username, password string) error {
	bindString := fmt.Sprintf("ldap://%s:389", ad.DomainControllerFQDN)
	if strings.HasPrefix(ad.DomainControllerFQDN, "ldap://") || strings.HasPrefix(ad.DomainControllerFQDN, "ldaps://") {
		bindString = ad.DomainControllerFQDN
	}

	conn, err := ldap.DialURL(bindString)
	if err != nil {
		return fmt.Errorf("failed to connect to LDAP server %s: %w", bindString, err)
	}
	if ad.Timeout > 0 {
		conn.SetTimeout(ad.Timeout)
	}

	// TODO: LDAPS, IWA/GSSAPI, etc
	if err := conn.Bind(username, password); err != nil {
		conn.Close()
		return fmt.Errorf("failed to bind to LDAP server %s: %w", bindString, err)
	}

	ad.ldapConnection = conn
	ad.logger.Info("bound to directory", zap.String("server", bindString), zap.String("base_dn", ad.BaseDn))
	return nil
}

func (ad *ActiveDirectoryInstance) Close() error {
	if ad.ldapConnection == nil {
		return nil
	}
	return ad.ldapConnection.Close()
}

// GetChildren returns the direct members of groupDN using a paged memberOf search.
func (ad *ActiveDirectoryInstance) GetChildren(ctx context.Context, groupDN string) ([]directory.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	request := ldap.NewSearchRequest(
		ad.BaseDn,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0, 0, false,
		childrenFilter(groupDN),
		[]string{ldaphelpers.AttrObjectClass},
		nil,
	)

	results, err := ad.ldapConnection.SearchWithPaging(request, ad.PageSize)
	if err != nil {
		return nil, classifyError("search members", err)
	}

	children := make([]directory.Object, 0, len(results.Entries))
	for _, entry := range results.Entries {
		children = append(children, directory.Object{ID: entry.DN, Kind: kindOf(entry)})
	}
	return children, nil
}

func (ad *ActiveDirectoryInstance) AddMembers(ctx context.Context, groupDN string, members []directory.Object) ([]directory.MemberOutcome, error) {
	return ad.modifyMembers(ctx, groupDN, members, true)
}

func (ad *ActiveDirectoryInstance) RemoveMembers(ctx context.Context, groupDN string, members []directory.Object) ([]directory.MemberOutcome, error) {
	return ad.modifyMembers(ctx, groupDN, members, false)
}

// modifyMembers issues one modify per member so a single bad DN cannot fail
// the whole batch.
func (ad *ActiveDirectoryInstance) modifyMembers(ctx context.Context, groupDN string, members []directory.Object, add bool) ([]directory.MemberOutcome, error) {
	op := "remove member"
	if add {
		op = "add member"
	}

	outcomes := make([]directory.MemberOutcome, 0, len(members))
	for _, member := range members {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		request := ldap.NewModifyRequest(groupDN, nil)
		if add {
			request.Add(ldaphelpers.AttrMember, []string{member.ID})
		} else {
			request.Delete(ldaphelpers.AttrMember, []string{member.ID})
		}

		err := ad.ldapConnection.Modify(request)
		if err != nil {
			err = classifyError(op, err)
			ad.logger.Debug("member modify failed",
				zap.String("group", groupDN),
				zap.String("member", member.ID),
				zap.Error(err))
		}
		outcomes = append(outcomes, directory.MemberOutcome{
			Member:  member,
			Outcome: directory.OutcomeFor(err),
			Err:     err,
		})
	}
	return outcomes, nil
}

// classifyError maps LDAP result codes onto the directory error taxonomy.
func classifyError(op string, err error) error {
	switch {
	case ldap.IsErrorAnyOf(err, ldap.LDAPResultNoSuchObject):
		return fmt.Errorf("%s: %w", op, directory.ErrNotFound)
	case ldap.IsErrorAnyOf(err,
		ldap.LDAPResultAttributeOrValueExists,
		ldap.LDAPResultEntryAlreadyExists,
		ldap.LDAPResultNoSuchAttribute,
		ldap.LDAPResultUnwillingToPerform):
		// AD answers unwillingToPerform when removing a value that is not present.
		return fmt.Errorf("%s: %w", op, directory.ErrAlreadyInDesiredState)
	case ldap.IsErrorAnyOf(err, ldap.LDAPResultBusy, ldap.LDAPResultAdminLimitExceeded):
		return &directory.RateLimitedError{}
	default:
		return &directory.TransientError{Op: op, Err: err}
	}
}

// childrenFilter matches the direct group and user members of groupDN.
// Computer accounts also carry the user class and are excluded.
func childrenFilter(groupDN string) string {
	return ldaphelpers.And(
		ldaphelpers.MemberOf(groupDN),
		ldaphelpers.Or(
			ldaphelpers.Eq(ldaphelpers.AttrObjectClass, ldaphelpers.ClassGroup),
			ldaphelpers.And(
				ldaphelpers.Eq(ldaphelpers.AttrObjectClass, ldaphelpers.ClassUser),
				ldaphelpers.Not(ldaphelpers.Eq(ldaphelpers.AttrObjectClass, ldaphelpers.ClassComputer)),
			),
		),
	).String()
}

func kindOf(entry *ldap.Entry) directory.Kind {
	for _, class := range entry.GetAttributeValues(ldaphelpers.AttrObjectClass) {
		if strings.EqualFold(class, ldaphelpers.ClassGroup) {
			return directory.KindGroup
		}
	}
	return directory.KindUser
}
