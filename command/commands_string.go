package command

import "strings"

// cmdSet implements SET key value [EX seconds] [PX milliseconds].
func cmdSet(d *Dispatcher, argv [][]byte) ([]byte, error) {
	key, value := string(argv[1]), argv[2]
	if kind, ok := d.eng.TypeOf(key); ok && kind != "string" {
		return nil, newErr(WrongType, "Operation against a key holding the wrong kind of value")
	}

	var ttlMs *int64
	rest := argv[3:]
	switch len(rest) {
	case 0:
	case 2:
		opt := strings.ToUpper(string(rest[0]))
		n, ok := parseInt(rest[1])
		if !ok || n < 0 {
			return nil, newErr(Syntax, "invalid expire time")
		}
		switch opt {
		case "EX":
			ms := n * 1000
			ttlMs = &ms
		case "PX":
			ttlMs = &n
		default:
			return nil, newErr(Syntax, "syntax error")
		}
	default:
		return nil, newErr(Syntax, "syntax error")
	}

	d.eng.Set(key, value, ttlMs)
	return replyOK(), nil
}

// cmdGet implements GET key.
func cmdGet(d *Dispatcher, argv [][]byte) ([]byte, error) {
	key := string(argv[1])
	if kind, ok := d.eng.TypeOf(key); ok && kind != "string" {
		return nil, newErr(WrongType, "Operation against a key holding the wrong kind of value")
	}
	v, ok := d.eng.Get(key)
	if !ok {
		return replyNullBulk(), nil
	}
	return replyBulk(string(v)), nil
}
