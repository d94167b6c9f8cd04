package command

// cmdHSet implements HSET key field value.
func cmdHSet(d *Dispatcher, argv [][]byte) ([]byte, error) {
	key := string(argv[1])
	if kind, ok := d.eng.TypeOf(key); ok && kind != "hash" {
		return nil, newErr(WrongType, "Operation against a key holding the wrong kind of value")
	}
	n := d.eng.HSet(key, string(argv[2]), string(argv[3]))
	return replyInt(int64(n)), nil
}

// cmdHGet implements HGET key field.
func cmdHGet(d *Dispatcher, argv [][]byte) ([]byte, error) {
	key := string(argv[1])
	if kind, ok := d.eng.TypeOf(key); ok && kind != "hash" {
		return nil, newErr(WrongType, "Operation against a key holding the wrong kind of value")
	}
	v, ok := d.eng.HGet(key, string(argv[2]))
	if !ok {
		return replyNullBulk(), nil
	}
	return replyBulk(v), nil
}

// cmdHDel implements HDEL key field [field ...].
func cmdHDel(d *Dispatcher, argv [][]byte) ([]byte, error) {
	key := string(argv[1])
	if kind, ok := d.eng.TypeOf(key); ok && kind != "hash" {
		return nil, newErr(WrongType, "Operation against a key holding the wrong kind of value")
	}
	fields := make([]string, len(argv)-2)
	for i, f := range argv[2:] {
		fields[i] = string(f)
	}
	n := d.eng.HDel(key, fields)
	return replyInt(int64(n)), nil
}

// cmdHExists implements HEXISTS key field.
func cmdHExists(d *Dispatcher, argv [][]byte) ([]byte, error) {
	key := string(argv[1])
	if kind, ok := d.eng.TypeOf(key); ok && kind != "hash" {
		return nil, newErr(WrongType, "Operation against a key holding the wrong kind of value")
	}
	if d.eng.HExists(key, string(argv[2])) {
		return replyInt(1), nil
	}
	return replyInt(0), nil
}

// cmdHGetAll implements HGETALL key.
func cmdHGetAll(d *Dispatcher, argv [][]byte) ([]byte, error) {
	key := string(argv[1])
	if kind, ok := d.eng.TypeOf(key); ok && kind != "hash" {
		return nil, newErr(WrongType, "Operation against a key holding the wrong kind of value")
	}
	return replyBulkArray(d.eng.HGetAllFlat(key)), nil
}

// cmdHLen implements HLEN key.
func cmdHLen(d *Dispatcher, argv [][]byte) ([]byte, error) {
	key := string(argv[1])
	if kind, ok := d.eng.TypeOf(key); ok && kind != "hash" {
		return nil, newErr(WrongType, "Operation against a key holding the wrong kind of value")
	}
	return replyInt(int64(d.eng.HLen(key))), nil
}
