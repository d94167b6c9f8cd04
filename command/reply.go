package command

import (
	"fmt"

	"github.com/tinyredis/tinyredis/resp"
)

// replyOK renders "+OK\r\n".
func replyOK() []byte { return resp.EncodeSimpleString("OK") }

// replyInt renders ":n\r\n".
func replyInt(n int64) []byte { return resp.EncodeInteger(n) }

// replyBulk renders a value as a RESP bulk string.
func replyBulk(s string) []byte { return resp.EncodeBulk([]byte(s)) }

// replyNullBulk renders "$-1\r\n" — the miss reply for GET/HGET/ZSCORE.
func replyNullBulk() []byte { return resp.EncodeNullBulk() }

// replyBulkArray renders a RESP array of bulk strings.
func replyBulkArray(items []string) []byte {
	enc := make([][]byte, len(items))
	for i, s := range items {
		enc[i] = resp.EncodeBulk([]byte(s))
	}
	return resp.EncodeArray(enc)
}

// replyErr renders a command.Error as "-ERR <tag> <message>\r\n".
func replyErr(kind ErrKind, msg string) []byte {
	return resp.EncodeError(fmt.Sprintf("ERR %s %s", kind.Tag(), msg))
}
