package goldap

import (
	"errors"
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ldapclient "github.com/isometry/dirclient/internal/ldap"
)

func TestOperationError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		expectedCode  ldapclient.ResultCode
		expectedMsg   string
		expectedMatch string
	}{
		{
			name: "server result",
			err: &ldap.Error{
				ResultCode: ldap.LDAPResultNoSuchObject,
				MatchedDN:  "dc=example,dc=com",
				Err:        errors.New("0000208D: NameErr"),
			},
			expectedCode:  ldapclient.ResultNoSuchObject,
			expectedMsg:   "0000208D: NameErr",
			expectedMatch: "dc=example,dc=com",
		},
		{
			name:         "network failure",
			err:          ldap.NewError(ldap.ErrorNetwork, errors.New("ldap: connection closed")),
			expectedCode: ldapclient.ResultServerDown,
			expectedMsg:  "ldap: connection closed",
		},
		{
			name:         "filter compile failure",
			err:          ldap.NewError(ldap.ErrorFilterCompile, errors.New("bad filter")),
			expectedCode: ldapclient.ResultFilterError,
			expectedMsg:  "bad filter",
		},
		{
			name:         "unexpected response",
			err:          ldap.NewError(ldap.ErrorUnexpectedResponse, errors.New("unexpected")),
			expectedCode: ldapclient.ResultDecodingError,
			expectedMsg:  "unexpected",
		},
		{
			name:         "non protocol error",
			err:          errors.New("failed to decode child control"),
			expectedCode: ldapclient.ResultLocalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := operationError("delete", tt.err, nil)

			var opErr *ldapclient.OperationError
			require.ErrorAs(t, err, &opErr)
			assert.Equal(t, "delete", opErr.Operation)
			assert.Equal(t, tt.expectedCode, opErr.ResultCode)
			assert.Equal(t, tt.expectedMsg, opErr.Message)
			assert.Equal(t, tt.expectedMatch, opErr.MatchedDN)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestOperationError_Controls(t *testing.T) {
	policy := &ldapclient.PasswordPolicyResponseControl{Expire: -1, Grace: 2}
	err := operationError("bind", ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid")), []ldapclient.ResponseControl{policy})

	var opErr *ldapclient.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, ldapclient.ResultInvalidCredentials, opErr.ResultCode)
	assert.Equal(t, []ldapclient.ResponseControl{policy}, opErr.Controls)
	assert.True(t, ldapclient.IsAuthenticationError(err))
}

func TestTimeLimitSeconds(t *testing.T) {
	tests := []struct {
		limit    time.Duration
		expected int
	}{
		{0, 0},
		{-time.Second, 0},
		{time.Millisecond, 1},
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
		{time.Minute, 60},
	}

	for _, tt := range tests {
		t.Run(tt.limit.String(), func(t *testing.T) {
			assert.Equal(t, tt.expected, timeLimitSeconds(tt.limit))
		})
	}
}

func TestSearchScopeAndDeref(t *testing.T) {
	assert.Equal(t, ldap.ScopeBaseObject, searchScope(ldapclient.ScopeBaseObject))
	assert.Equal(t, ldap.ScopeSingleLevel, searchScope(ldapclient.ScopeSingleLevel))
	assert.Equal(t, ldap.ScopeWholeSubtree, searchScope(ldapclient.ScopeWholeSubtree))

	assert.Equal(t, ldap.NeverDerefAliases, derefAliases(ldapclient.NeverDerefAliases))
	assert.Equal(t, ldap.DerefInSearching, derefAliases(ldapclient.DerefInSearching))
	assert.Equal(t, ldap.DerefFindingBaseObj, derefAliases(ldapclient.DerefFindingBaseObj))
	assert.Equal(t, ldap.DerefAlways, derefAliases(ldapclient.DerefAlways))
}

func TestRequireNoControls(t *testing.T) {
	assert.NoError(t, requireNoControls(nil))

	err := requireNoControls([]ldapclient.RequestControl{&ldapclient.ManageDsaITControl{}})
	var unsupported *ldapclient.UnsupportedControlError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, ldapclient.OIDManageDsaIT, unsupported.OID)
}
