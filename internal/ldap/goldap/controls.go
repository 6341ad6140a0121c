package goldap

import (
	"bytes"
	"fmt"

	"github.com/go-ldap/ldap/v3"

	ldapclient "github.com/isometry/dirclient/internal/ldap"
)

// ControlHandler converts one control OID between the runtime and go-ldap.
type ControlHandler = ldapclient.ControlHandler[ldap.Control]

// ControlProcessor translates runtime controls to go-ldap controls.
type ControlProcessor = ldapclient.ControlProcessor[ldap.Control]

// NewControlProcessor creates a processor with the default handlers plus
// any extra handlers. Extra handlers replace defaults with the same OID.
func NewControlProcessor(extra ...ControlHandler) *ControlProcessor {
	handlers := append(DefaultControlHandlers(), extra...)
	return ldapclient.NewControlProcessor(controlOID, handlers...)
}

// DefaultControlHandlers returns handlers for paged results, ManageDsaIT,
// password policy and server-side sorting.
func DefaultControlHandlers() []ControlHandler {
	return []ControlHandler{
		pagedResultsHandler{},
		manageDsaITHandler{},
		passwordPolicyHandler{},
		sortHandler{},
		sortResultHandler{},
	}
}

func controlOID(c ldap.Control) string {
	return c.GetControlType()
}

func unexpectedControl(want string, got any) error {
	return fmt.Errorf("expected %s, got %T", want, got)
}

type pagedResultsHandler struct{}

func (pagedResultsHandler) OID() string { return ldapclient.OIDPagedResults }

func (pagedResultsHandler) ProcessRequest(ctl ldapclient.RequestControl) (ldap.Control, error) {
	paged, ok := ctl.(*ldapclient.PagedResultsControl)
	if !ok {
		return nil, unexpectedControl("paged results control", ctl)
	}
	native := ldap.NewControlPaging(paged.Size)
	native.SetCookie(bytes.Clone(paged.Cookie))
	return native, nil
}

func (pagedResultsHandler) ProcessResponse(_ []ldapclient.RequestControl, native ldap.Control) (ldapclient.ResponseControl, error) {
	paged, ok := native.(*ldap.ControlPaging)
	if !ok {
		return nil, unexpectedControl("paged results control", native)
	}
	return &ldapclient.PagedResultsResponseControl{Size: paged.PagingSize, Cookie: bytes.Clone(paged.Cookie)}, nil
}

type manageDsaITHandler struct{}

func (manageDsaITHandler) OID() string { return ldapclient.OIDManageDsaIT }

func (manageDsaITHandler) ProcessRequest(ctl ldapclient.RequestControl) (ldap.Control, error) {
	return ldap.NewControlManageDsaIT(ctl.Critical()), nil
}

func (manageDsaITHandler) ProcessResponse(_ []ldapclient.RequestControl, native ldap.Control) (ldapclient.ResponseControl, error) {
	ctl, ok := native.(*ldap.ControlManageDsaIT)
	if !ok {
		return nil, unexpectedControl("ManageDsaIT control", native)
	}
	return &ldapclient.ManageDsaITControl{Criticality: ctl.Criticality}, nil
}

type passwordPolicyHandler struct{}

func (passwordPolicyHandler) OID() string { return ldapclient.OIDPasswordPolicy }

func (passwordPolicyHandler) ProcessRequest(ldapclient.RequestControl) (ldap.Control, error) {
	return ldap.NewControlBeheraPasswordPolicy(), nil
}

func (passwordPolicyHandler) ProcessResponse(_ []ldapclient.RequestControl, native ldap.Control) (ldapclient.ResponseControl, error) {
	ctl, ok := native.(*ldap.ControlBeheraPasswordPolicy)
	if !ok {
		return nil, unexpectedControl("password policy control", native)
	}
	return &ldapclient.PasswordPolicyResponseControl{
		Expire:      ctl.Expire,
		Grace:       ctl.Grace,
		Error:       ctl.Error,
		ErrorString: ctl.ErrorString,
	}, nil
}

type sortHandler struct{}

func (sortHandler) OID() string { return ldapclient.OIDServerSideSort }

func (sortHandler) ProcessRequest(ctl ldapclient.RequestControl) (ldap.Control, error) {
	sortCtl, ok := ctl.(*ldapclient.SortControl)
	if !ok {
		return nil, unexpectedControl("sort control", ctl)
	}
	if len(sortCtl.Keys) == 0 {
		return nil, fmt.Errorf("sort control requires at least one key")
	}
	keys := make([]*ldap.SortKey, len(sortCtl.Keys))
	for i, k := range sortCtl.Keys {
		keys[i] = &ldap.SortKey{AttributeType: k.AttributeType, MatchingRule: k.MatchingRule, Reverse: k.Reverse}
	}
	return ldap.NewControlServerSideSortingWithSortKeys(keys), nil
}

func (sortHandler) ProcessResponse(_ []ldapclient.RequestControl, native ldap.Control) (ldapclient.ResponseControl, error) {
	return nil, fmt.Errorf("server-side sort request control returned in a response")
}

type sortResultHandler struct{}

func (sortResultHandler) OID() string { return ldapclient.OIDServerSideSortResult }

func (sortResultHandler) ProcessRequest(ctl ldapclient.RequestControl) (ldap.Control, error) {
	return nil, fmt.Errorf("server-side sort result control cannot be sent")
}

func (sortResultHandler) ProcessResponse(_ []ldapclient.RequestControl, native ldap.Control) (ldapclient.ResponseControl, error) {
	ctl, ok := native.(*ldap.ControlServerSideSortingResult)
	if !ok {
		return nil, unexpectedControl("sort result control", native)
	}
	return &ldapclient.SortResponseControl{Result: ldapclient.ResultCode(ctl.Result)}, nil
}

// GenericHandler passes controls with OID through as opaque string values.
type GenericHandler struct {
	ControlOID string
}

// NewGenericHandler creates a pass-through handler for oid.
func NewGenericHandler(oid string) GenericHandler {
	return GenericHandler{ControlOID: oid}
}

func (h GenericHandler) OID() string { return h.ControlOID }

func (h GenericHandler) ProcessRequest(ctl ldapclient.RequestControl) (ldap.Control, error) {
	var value string
	if g, ok := ctl.(*ldapclient.GenericControl); ok {
		value = g.Value
	}
	return ldap.NewControlString(h.ControlOID, ctl.Critical(), value), nil
}

func (h GenericHandler) ProcessResponse(_ []ldapclient.RequestControl, native ldap.Control) (ldapclient.ResponseControl, error) {
	ctl, ok := native.(*ldap.ControlString)
	if !ok {
		return nil, unexpectedControl("string control", native)
	}
	return &ldapclient.GenericControl{ControlOID: ctl.ControlType, Criticality: ctl.Criticality, Value: ctl.ControlValue}, nil
}
