package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

// consumeFields flattens a wire message into its raw fields for
// inspection.
func consumeFields(t *testing.T, b []byte) map[protowire.Number][]byte {
	t.Helper()
	fields := make(map[protowire.Number][]byte)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		require.GreaterOrEqual(t, n, 0)
		b = b[n:]
		require.Equal(t, protowire.BytesType, typ)
		value, n := protowire.ConsumeBytes(b)
		require.GreaterOrEqual(t, n, 0)
		fields[num] = value
		b = b[n:]
	}
	return fields
}

func TestAlterInboundRequest(t *testing.T) {
	operation := addUserOperation(
		"alice@example.com", "2c1bbb0e-95ae-4752-a747-5bc2c8a4e12d", "xtls-rprx-vision")
	request := alterInboundRequest("vless-tcp", operation)

	fields := consumeFields(t, request)
	assert.Equal(t, "vless-tcp", string(fields[1]))

	envelope := consumeFields(t, fields[2])
	assert.Equal(t, addUserOperationType, string(envelope[1]))

	op := consumeFields(t, envelope[2])
	userMsg := consumeFields(t, op[1])
	assert.Equal(t, "alice@example.com", string(userMsg[2]))

	account := consumeFields(t, userMsg[3])
	assert.Equal(t, vlessAccountType, string(account[1]))
	vless := consumeFields(t, account[2])
	assert.Equal(t, "2c1bbb0e-95ae-4752-a747-5bc2c8a4e12d", string(vless[1]))
	assert.Equal(t, "xtls-rprx-vision", string(vless[2]))
}

func TestRemoveUserOperation(t *testing.T) {
	envelope := consumeFields(t, removeUserOperation("alice@example.com"))
	assert.Equal(t, removeUserOperationType, string(envelope[1]))
	op := consumeFields(t, envelope[2])
	assert.Equal(t, "alice@example.com", string(op[1]))
}

func TestQueryStatsRequest(t *testing.T) {
	b := queryStatsRequest("user", true)
	num, typ, n := protowire.ConsumeTag(b)
	require.GreaterOrEqual(t, n, 0)
	assert.Equal(t, protowire.Number(1), num)
	assert.Equal(t, protowire.BytesType, typ)
	b = b[n:]
	pattern, n := protowire.ConsumeString(b)
	require.GreaterOrEqual(t, n, 0)
	assert.Equal(t, "user", pattern)
	b = b[n:]

	num, typ, n = protowire.ConsumeTag(b)
	require.GreaterOrEqual(t, n, 0)
	assert.Equal(t, protowire.Number(2), num)
	assert.Equal(t, protowire.VarintType, typ)
	reset, _ := protowire.ConsumeVarint(b[n:])
	assert.Equal(t, uint64(1), reset)

	// The reset flag is omitted entirely when false.
	fields := consumeFields(t, queryStatsRequest("user", false))
	assert.Len(t, fields, 1)
}

func encodeStat(name string, value int64) []byte {
	var s []byte
	s = protowire.AppendTag(s, 1, protowire.BytesType)
	s = protowire.AppendString(s, name)
	s = protowire.AppendTag(s, 2, protowire.VarintType)
	s = protowire.AppendVarint(s, uint64(value))

	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, s)
	return b
}

func TestParseQueryStatsResponse(t *testing.T) {
	var response []byte
	response = append(response, encodeStat("user>>>alice@example.com>>>traffic>>>uplink", 123)...)
	response = append(response, encodeStat("user>>>alice@example.com>>>traffic>>>downlink", 456)...)

	stats, err := parseQueryStatsResponse(response)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "user>>>alice@example.com>>>traffic>>>uplink", stats[0].name)
	assert.Equal(t, int64(123), stats[0].value)
	assert.Equal(t, int64(456), stats[1].value)

	stats, err = parseQueryStatsResponse(nil)
	require.NoError(t, err)
	assert.Empty(t, stats)
}
