package gateway

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFilterSuppressesInformationalCodes(t *testing.T) {
	var buf bytes.Buffer
	f := NewErrorFilter(DefaultErrorRules(), log.New(&buf, "", 0))

	for _, code := range []int{2104, 2106, 2108, 2119, 2158, 10167} {
		f.Handle(VenueError{Code: code, Message: "farm status", ReqID: -1})
	}

	assert.Empty(t, f.Surfaced(), "informational codes must never surface")
	assert.False(t, f.PermissionDenied())
	assert.Contains(t, buf.String(), "DEBUG:")
	assert.NotContains(t, buf.String(), "ERROR:")
}

func TestErrorFilterPermissionFlag(t *testing.T) {
	f := NewErrorFilter(DefaultErrorRules(), discardLogger())

	f.Handle(VenueError{Code: 10089, Message: "requires additional subscription", ReqID: 3})
	assert.True(t, f.PermissionDenied())
	assert.Empty(t, f.Surfaced(), "permission errors flag, they do not surface")

	f.ResetPermission()
	assert.False(t, f.PermissionDenied())
}

func TestErrorFilterSurfacesUnmatchedCodes(t *testing.T) {
	f := NewErrorFilter(DefaultErrorRules(), discardLogger())

	f.Handle(VenueError{Code: 200, Message: "no security definition", ReqID: 5})

	surfaced := f.Surfaced()
	require.Len(t, surfaced, 1)
	assert.Equal(t, 200, surfaced[0].Code)
	assert.Equal(t, int64(5), surfaced[0].ReqID)
}

func TestErrorFilterFirstMatchWins(t *testing.T) {
	rules := []ErrorRule{
		{Name: "everything", Match: func(VenueError) bool { return true }, Action: ActionSuppress},
		{Name: "never-reached", Match: func(VenueError) bool { return true }, Action: ActionFlagPermission},
	}
	f := NewErrorFilter(rules, discardLogger())

	f.Handle(VenueError{Code: 354})
	assert.False(t, f.PermissionDenied())
}
