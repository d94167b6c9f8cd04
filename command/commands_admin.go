package command

import (
	"strconv"

	"github.com/tinyredis/tinyredis/lib/pool"
)

// parseInt parses a command argument as a base-10 int64.
func parseInt(b []byte) (int64, bool) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	return n, err == nil
}

// cmdPing implements PING [message].
func cmdPing(d *Dispatcher, argv [][]byte) ([]byte, error) {
	if len(argv) == 2 {
		return replyBulk(string(argv[1])), nil
	}
	return []byte("+PONG\r\n"), nil
}

// cmdEcho implements ECHO message.
func cmdEcho(d *Dispatcher, argv [][]byte) ([]byte, error) {
	return replyBulk(string(argv[1])), nil
}

// cmdSelect implements SELECT index. Only database 0 exists in this
// server, so any other index is a syntax error.
func cmdSelect(d *Dispatcher, argv [][]byte) ([]byte, error) {
	idx, ok := parseInt(argv[1])
	if !ok || idx != 0 {
		return nil, newErr(Syntax, "invalid DB index")
	}
	return replyOK(), nil
}

// cmdDel implements DEL key [key ...].
func cmdDel(d *Dispatcher, argv [][]byte) ([]byte, error) {
	keys := make([]string, len(argv)-1)
	for i, k := range argv[1:] {
		keys[i] = string(k)
	}
	return replyInt(int64(d.eng.Del(keys))), nil
}

// cmdExists implements EXISTS key.
func cmdExists(d *Dispatcher, argv [][]byte) ([]byte, error) {
	if d.eng.Exists(string(argv[1])) {
		return replyInt(1), nil
	}
	return replyInt(0), nil
}

// cmdExpire implements EXPIRE key seconds.
func cmdExpire(d *Dispatcher, argv [][]byte) ([]byte, error) {
	seconds, ok := parseInt(argv[2])
	if !ok {
		return nil, newErr(Syntax, "value is not an integer or out of range")
	}
	if d.eng.Expire(string(argv[1]), seconds) {
		return replyInt(1), nil
	}
	return replyInt(0), nil
}

// cmdExpireAt implements EXPIREAT key unix_time_ms. Used by clients
// directly and by AOF/replication replay of a rewritten log, which always
// emits EXPIREAT with an absolute timestamp rather than a relative TTL.
func cmdExpireAt(d *Dispatcher, argv [][]byte) ([]byte, error) {
	expireAtMs, ok := parseInt(argv[2])
	if !ok {
		return nil, newErr(Syntax, "value is not an integer or out of range")
	}
	if d.eng.ExpireAt(string(argv[1]), expireAtMs) {
		return replyInt(1), nil
	}
	return replyInt(0), nil
}

// cmdTTL implements TTL key.
func cmdTTL(d *Dispatcher, argv [][]byte) ([]byte, error) {
	return replyInt(d.eng.TTL(string(argv[1]))), nil
}

// cmdKeys implements KEYS *. Only the literal "*" pattern is supported.
func cmdKeys(d *Dispatcher, argv [][]byte) ([]byte, error) {
	if string(argv[1]) != "*" {
		return nil, newErr(Syntax, "only the '*' pattern is supported")
	}
	return replyBulkArray(d.eng.ListKeys()), nil
}

// cmdBgSave implements BGSAVE: fire the configured snapshot function on
// the worker pool and reply immediately.
func cmdBgSave(d *Dispatcher, argv [][]byte) ([]byte, error) {
	if d.saveNow == nil {
		return nil, newErr(IO, "background save not configured")
	}
	pool.Submit(func() {
		if err := d.saveNow(); err != nil {
			d.log.Errorf("command: background save failed: %s", err.Error())
		}
	})
	return []byte("+Background saving started\r\n"), nil
}

// cmdBgRewriteAOF implements BGREWRITEAOF: fire the configured rewrite
// function on the worker pool and reply immediately.
func cmdBgRewriteAOF(d *Dispatcher, argv [][]byte) ([]byte, error) {
	if d.rewriteAOF == nil {
		return nil, newErr(IO, "background rewrite not configured")
	}
	pool.Submit(func() {
		if err := d.rewriteAOF(); err != nil {
			d.log.Errorf("command: background AOF rewrite failed: %s", err.Error())
		}
	})
	return []byte("+Background append only file rewriting started\r\n"), nil
}
