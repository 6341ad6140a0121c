package goldap

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/go-ldap/ldap/v3"

	ldapclient "github.com/isometry/dirclient/internal/ldap"
)

// session is one go-ldap connection. go-ldap multiplexes requests by
// message ID, so a session accepts concurrent calls.
type session struct {
	conn       *ldap.Conn
	endpoint   string
	config     *ldapclient.ConnectionConfig
	controls   *ControlProcessor
	bufferSize int
}

var (
	_ ldapclient.Provider           = (*Provider)(nil)
	_ ldapclient.ProviderConnection = (*session)(nil)
)

func success() *ldapclient.Response[ldapclient.Void] {
	return ldapclient.NewResponse(ldapclient.Void{}, ldapclient.ResponseMeta{ResultCode: ldapclient.ResultSuccess})
}

func (s *session) Bind(ctx context.Context, req *ldapclient.BindRequest) (*ldapclient.Response[ldapclient.Void], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch req.SASLMechanism {
	case ldapclient.SASLExternal:
		if err := requireNoControls(req.Controls); err != nil {
			return nil, err
		}
		if err := s.conn.ExternalBind(); err != nil {
			return nil, operationError("bind", err, nil)
		}
		return success(), nil

	case ldapclient.SASLGSSAPI:
		if err := requireNoControls(req.Controls); err != nil {
			return nil, err
		}
		if err := gssapiBind(ctx, s.conn, s.config, s.endpoint, req); err != nil {
			var ldapErr *ldap.Error
			if errors.As(err, &ldapErr) {
				return nil, operationError("bind", err, nil)
			}
			return nil, err
		}
		return success(), nil
	}

	ctls, err := s.controls.ProcessRequestControls(req.Controls)
	if err != nil {
		return nil, err
	}
	result, err := s.conn.SimpleBind(&ldap.SimpleBindRequest{
		Username:           req.DN,
		Password:           req.Password,
		Controls:           ctls,
		AllowEmptyPassword: req.Password == "",
	})

	var native []ldap.Control
	if result != nil {
		native = result.Controls
	}
	respCtls, ctlErr := s.controls.ProcessResponseControls(req.Controls, native)
	if err != nil {
		return nil, operationError("bind", err, respCtls)
	}
	if ctlErr != nil {
		return nil, ctlErr
	}
	return ldapclient.NewResponse(ldapclient.Void{}, ldapclient.ResponseMeta{
		ResultCode: ldapclient.ResultSuccess,
		Controls:   respCtls,
	}), nil
}

func (s *session) Add(ctx context.Context, req *ldapclient.AddRequest) (*ldapclient.Response[ldapclient.Void], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctls, err := s.controls.ProcessRequestControls(req.Controls)
	if err != nil {
		return nil, err
	}

	addReq := ldap.NewAddRequest(req.DN, ctls)
	for _, name := range slices.Sorted(maps.Keys(req.Attributes)) {
		addReq.Attribute(name, req.Attributes[name])
	}
	if err := s.conn.Add(addReq); err != nil {
		return nil, operationError("add", err, nil)
	}
	return success(), nil
}

func (s *session) Compare(ctx context.Context, req *ldapclient.CompareRequest) (*ldapclient.Response[bool], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := requireNoControls(req.Controls); err != nil {
		return nil, err
	}

	match, err := s.conn.Compare(req.DN, req.Attribute, req.Value)
	if err != nil {
		return nil, operationError("compare", err, nil)
	}
	code := ldapclient.ResultCompareFalse
	if match {
		code = ldapclient.ResultCompareTrue
	}
	return ldapclient.NewResponse(match, ldapclient.ResponseMeta{ResultCode: code}), nil
}

func (s *session) Delete(ctx context.Context, req *ldapclient.DeleteRequest) (*ldapclient.Response[ldapclient.Void], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctls, err := s.controls.ProcessRequestControls(req.Controls)
	if err != nil {
		return nil, err
	}
	if err := s.conn.Del(ldap.NewDelRequest(req.DN, ctls)); err != nil {
		return nil, operationError("delete", err, nil)
	}
	return success(), nil
}

func (s *session) Modify(ctx context.Context, req *ldapclient.ModifyRequest) (*ldapclient.Response[ldapclient.Void], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctls, err := s.controls.ProcessRequestControls(req.Controls)
	if err != nil {
		return nil, err
	}

	modReq := ldap.NewModifyRequest(req.DN, ctls)
	for _, name := range slices.Sorted(maps.Keys(req.AddAttributes)) {
		modReq.Add(name, req.AddAttributes[name])
	}
	for _, name := range slices.Sorted(maps.Keys(req.ReplaceAttributes)) {
		modReq.Replace(name, req.ReplaceAttributes[name])
	}
	for _, name := range slices.Sorted(maps.Keys(req.DeleteAttributes)) {
		modReq.Delete(name, req.DeleteAttributes[name])
	}

	result, err := s.conn.ModifyWithResult(modReq)
	if err != nil {
		return nil, operationError("modify", err, nil)
	}
	meta := ldapclient.ResponseMeta{ResultCode: ldapclient.ResultSuccess}
	if result != nil {
		if meta.Controls, err = s.controls.ProcessResponseControls(req.Controls, result.Controls); err != nil {
			return nil, err
		}
		if result.Referral != "" {
			meta.ReferralURLs = []string{result.Referral}
		}
	}
	return ldapclient.NewResponse(ldapclient.Void{}, meta), nil
}

func (s *session) ModifyDN(ctx context.Context, req *ldapclient.ModifyDNRequest) (*ldapclient.Response[ldapclient.Void], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctls, err := s.controls.ProcessRequestControls(req.Controls)
	if err != nil {
		return nil, err
	}
	modReq := ldap.NewModifyDNWithControlsRequest(req.DN, req.NewRDN, req.DeleteOldRDN, req.NewSuperior, ctls)
	if err := s.conn.ModifyDN(modReq); err != nil {
		return nil, operationError("modifyDN", err, nil)
	}
	return success(), nil
}

func (s *session) Search(ctx context.Context, req *ldapclient.SearchRequest) (ldapclient.SearchIterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := ldap.CompileFilter(req.Filter); err != nil {
		return nil, fmt.Errorf("invalid search filter %q: %w", req.Filter, err)
	}
	ctls, err := s.controls.ProcessRequestControls(req.Controls)
	if err != nil {
		return nil, err
	}

	native := ldap.NewSearchRequest(
		req.BaseDN,
		searchScope(req.Scope),
		derefAliases(req.DerefAliases),
		req.SizeLimit,
		timeLimitSeconds(req.TimeLimit),
		req.TypesOnly,
		req.Filter,
		req.Attributes,
		ctls,
	)

	searchCtx, cancel := context.WithCancel(ctx)
	return newSearchIterator(searchCtx, cancel, s.conn.SearchAsync(searchCtx, native, s.bufferSize), req, s.controls), nil
}

func (s *session) Close() error {
	return s.conn.Close()
}

func requireNoControls(ctls []ldapclient.RequestControl) error {
	if len(ctls) > 0 {
		return &ldapclient.UnsupportedControlError{OID: ctls[0].OID()}
	}
	return nil
}

func searchScope(scope ldapclient.SearchScope) int {
	switch scope {
	case ldapclient.ScopeBaseObject:
		return ldap.ScopeBaseObject
	case ldapclient.ScopeSingleLevel:
		return ldap.ScopeSingleLevel
	default:
		return ldap.ScopeWholeSubtree
	}
}

func derefAliases(deref ldapclient.DerefAliases) int {
	switch deref {
	case ldapclient.DerefInSearching:
		return ldap.DerefInSearching
	case ldapclient.DerefFindingBaseObj:
		return ldap.DerefFindingBaseObj
	case ldapclient.DerefAlways:
		return ldap.DerefAlways
	default:
		return ldap.NeverDerefAliases
	}
}

// timeLimitSeconds rounds a positive time limit up to whole seconds.
func timeLimitSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

// operationError converts a go-ldap failure into an *OperationError.
func operationError(operation string, err error, ctls []ldapclient.ResponseControl) error {
	var ldapErr *ldap.Error
	if !errors.As(err, &ldapErr) {
		opErr := ldapclient.NewOperationError(operation, ldapclient.ResultLocalError, "", err)
		opErr.Controls = ctls
		return opErr
	}

	var message string
	if ldapErr.Err != nil {
		message = ldapErr.Err.Error()
	}
	opErr := ldapclient.NewOperationError(operation, resultCode(ldapErr.ResultCode), message, err)
	opErr.MatchedDN = ldapErr.MatchedDN
	opErr.Controls = ctls
	return opErr
}

// resultCode maps go-ldap result codes, including its client-side codes,
// onto protocol result codes.
func resultCode(code uint16) ldapclient.ResultCode {
	switch code {
	case ldap.ErrorNetwork:
		return ldapclient.ResultServerDown
	case ldap.ErrorFilterCompile, ldap.ErrorFilterDecompile:
		return ldapclient.ResultFilterError
	case ldap.ErrorUnexpectedMessage, ldap.ErrorUnexpectedResponse:
		return ldapclient.ResultDecodingError
	case ldap.ErrorEmptyPassword:
		return ldapclient.ResultParamError
	case ldap.ErrorDebugging:
		return ldapclient.ResultLocalError
	default:
		return ldapclient.ResultCode(code)
	}
}
