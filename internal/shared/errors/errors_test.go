package errors

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialize_PlainError(t *testing.T) {
	serialized := NewUserExist("alice").Serialize()

	require.Len(t, serialized, 1)
	assert.Equal(t, "user_exist", serialized[0].Type)
	assert.Equal(t, "User 'alice' already exists", serialized[0].Message)
	assert.Equal(t, http.StatusBadRequest, serialized[0].Code)
	assert.Empty(t, serialized[0].Group)
	assert.Empty(t, serialized[0].Cause)
}

func TestSerialize_GroupWithSingleCauseCollapses(t *testing.T) {
	group := NewSynchronization(SyncGroup, []error{NewProxyTimeout()}, nil)

	serialized := group.Serialize()
	require.Len(t, serialized, 1)
	assert.Equal(t, "proxy_timeout", serialized[0].Type)
	assert.Empty(t, serialized[0].Group)
}

func TestSerialize_GroupExpandsIntoLabeledSiblings(t *testing.T) {
	group := NewSynchronization(
		SyncGroup, []error{NewProxyTimeout(), NewVPNTimeout()}, nil)

	serialized := group.Serialize()
	require.Len(t, serialized, 2)
	assert.Equal(t, "proxy_timeout", serialized[0].Type)
	assert.Equal(t, "vpn_timeout", serialized[1].Type)
	for _, entry := range serialized {
		assert.Equal(t, SyncGroup, entry.Group)
	}
}

func TestSerialize_DescribedErrorKeepsPayloadAndCauses(t *testing.T) {
	payload := map[string]string{"username": "alice"}
	described := NewSynchronization(
		"Cannot fully activate the user", []error{NewVPNTimeout()}, payload)

	serialized := described.Serialize()
	require.Len(t, serialized, 1)
	assert.Equal(t, "synchronization_error", serialized[0].Type)
	assert.Equal(t, "Cannot fully activate the user", serialized[0].Message)
	assert.Equal(t, payload, serialized[0].Payload)
	require.Len(t, serialized[0].Cause, 1)
	assert.Equal(t, "vpn_timeout", serialized[0].Cause[0].Type)
}

func TestNewSynchronization_FlattensNestedAggregates(t *testing.T) {
	inner := NewSynchronization(
		SyncGroup, []error{NewProxyTimeout(), NewVPNTimeout()}, nil)
	outer := NewSynchronization(SyncGroup, []error{inner, NewUserExist("bob")}, nil)

	require.Len(t, outer.Causes, 3)
	serialized := outer.Serialize()
	require.Len(t, serialized, 3)
	assert.Equal(t, "proxy_timeout", serialized[0].Type)
	assert.Equal(t, "vpn_timeout", serialized[1].Type)
	assert.Equal(t, "user_exist", serialized[2].Type)
}

func TestSerializeAny_WrapsForeignErrors(t *testing.T) {
	serialized := SerializeAny(stderrors.New("disk on fire"))

	require.Len(t, serialized, 1)
	assert.Equal(t, "unexpected", serialized[0].Type)
	assert.Equal(t, "Unexpected error happened", serialized[0].Message)
	require.Len(t, serialized[0].Cause, 1)
	assert.Equal(t, "disk on fire", serialized[0].Cause[0].Message)
}

func TestError_MessageIncludesCauses(t *testing.T) {
	err := NewSynchronization(SyncGroup, []error{NewProxyTimeout()}, nil)
	assert.Contains(t, err.Error(), "due to:")
	assert.Contains(t, err.Error(), "Failed to communicate with the proxy server")
}

func TestIs_TraversesCauseTree(t *testing.T) {
	err := NewSynchronization(SyncGroup, []error{
		NewUnexpected(NewVPNTimeout()),
	}, nil)

	assert.True(t, Is(err, KindSynchronization))
	assert.True(t, Is(err, KindUnexpected))
	assert.True(t, Is(err, KindVPNTimeout))
	assert.False(t, Is(err, KindProxyTimeout))
	assert.False(t, Is(nil, KindUnexpected))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindUserNotExist, KindOf(NewUserNotExist("alice")))
	assert.Equal(t, KindUnexpected, KindOf(stderrors.New("nope")))
}
