package service

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// The proxy API speaks the Xray-core gRPC surface. Only four messages are
// exchanged, so they are encoded directly on the wire format instead of
// carrying generated bindings for the whole upstream proto tree.
const (
	alterInboundMethod = "/xray.app.proxyman.command.HandlerService/AlterInbound"
	queryStatsMethod   = "/xray.app.stats.command.StatsService/QueryStats"

	addUserOperationType    = "xray.app.proxyman.command.AddUserOperation"
	removeUserOperationType = "xray.app.proxyman.command.RemoveUserOperation"
	vlessAccountType        = "xray.proxy.vless.Account"
)

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// typedMessage wraps a serialized message with its full type name, the
// envelope the proxy API uses for polymorphic fields.
func typedMessage(typeName string, value []byte) []byte {
	var b []byte
	b = appendStringField(b, 1, typeName)
	b = appendBytesField(b, 2, value)
	return b
}

func vlessAccount(uuid, flow string) []byte {
	var b []byte
	b = appendStringField(b, 1, uuid)
	b = appendStringField(b, 2, flow)
	return b
}

// addUserOperation alters an inbound with a new user entry. The account
// lands in field 3 of the user message, itself a typed message.
func addUserOperation(email, uuid, flow string) []byte {
	var account []byte
	account = appendBytesField(account, 3,
		typedMessage(vlessAccountType, vlessAccount(uuid, flow)))

	var userMsg []byte
	userMsg = appendStringField(nil, 2, email)
	userMsg = append(userMsg, account...)

	var op []byte
	op = appendBytesField(op, 1, userMsg)
	return typedMessage(addUserOperationType, op)
}

func removeUserOperation(email string) []byte {
	return typedMessage(removeUserOperationType, appendStringField(nil, 1, email))
}

// alterInboundRequest addresses one inbound by tag and applies the given
// typed operation to it.
func alterInboundRequest(tag string, operation []byte) []byte {
	var b []byte
	b = appendStringField(b, 1, tag)
	b = appendBytesField(b, 2, operation)
	return b
}

func queryStatsRequest(pattern string, reset bool) []byte {
	var b []byte
	b = appendStringField(b, 1, pattern)
	if reset {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b
}

type stat struct {
	name  string
	value int64
}

func parseStat(b []byte) (stat, error) {
	var s stat
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return s, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			name, n := protowire.ConsumeString(b)
			if n < 0 {
				return s, protowire.ParseError(n)
			}
			s.name = name
			b = b[n:]
		case num == 2 && typ == protowire.VarintType:
			value, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return s, protowire.ParseError(n)
			}
			s.value = int64(value)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return s, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return s, nil
}

func parseQueryStatsResponse(b []byte) ([]stat, error) {
	var stats []stat
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		if num == 1 && typ == protowire.BytesType {
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			s, err := parseStat(raw)
			if err != nil {
				return nil, fmt.Errorf("malformed stat entry: %w", err)
			}
			stats = append(stats, s)
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
	}
	return stats, nil
}
