package command

import "strconv"

// cmdZAdd implements ZADD key score member.
func cmdZAdd(d *Dispatcher, argv [][]byte) ([]byte, error) {
	key := string(argv[1])
	if kind, ok := d.eng.TypeOf(key); ok && kind != "zset" {
		return nil, newErr(WrongType, "Operation against a key holding the wrong kind of value")
	}
	score, err := strconv.ParseFloat(string(argv[2]), 64)
	if err != nil {
		return nil, newErr(Syntax, "value is not a valid float")
	}
	n := d.eng.ZAdd(key, score, string(argv[3]))
	return replyInt(int64(n)), nil
}

// cmdZRem implements ZREM key member [member ...].
func cmdZRem(d *Dispatcher, argv [][]byte) ([]byte, error) {
	key := string(argv[1])
	if kind, ok := d.eng.TypeOf(key); ok && kind != "zset" {
		return nil, newErr(WrongType, "Operation against a key holding the wrong kind of value")
	}
	members := make([]string, len(argv)-2)
	for i, m := range argv[2:] {
		members[i] = string(m)
	}
	n := d.eng.ZRem(key, members)
	return replyInt(int64(n)), nil
}

// cmdZRange implements ZRANGE key start stop (ascending score order).
func cmdZRange(d *Dispatcher, argv [][]byte) ([]byte, error) {
	key := string(argv[1])
	if kind, ok := d.eng.TypeOf(key); ok && kind != "zset" {
		return nil, newErr(WrongType, "Operation against a key holding the wrong kind of value")
	}
	start, ok := parseInt(argv[2])
	if !ok {
		return nil, newErr(Syntax, "value is not an integer or out of range")
	}
	stop, ok := parseInt(argv[3])
	if !ok {
		return nil, newErr(Syntax, "value is not an integer or out of range")
	}
	return replyBulkArray(d.eng.ZRange(key, start, stop)), nil
}

// cmdZScore implements ZSCORE key member.
func cmdZScore(d *Dispatcher, argv [][]byte) ([]byte, error) {
	key := string(argv[1])
	if kind, ok := d.eng.TypeOf(key); ok && kind != "zset" {
		return nil, newErr(WrongType, "Operation against a key holding the wrong kind of value")
	}
	score, ok := d.eng.ZScore(key, string(argv[2]))
	if !ok {
		return replyNullBulk(), nil
	}
	return replyBulk(strconv.FormatFloat(score, 'g', 17, 64)), nil
}
