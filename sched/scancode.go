package sched

// scancodeToASCII translates a small subset of PS/2 Set 1 make-codes into
// ASCII, enough to exercise the scheduler's "translate keyboard scancodes
// into buffered characters" responsibility (spec §4.8 step 1) without
// reimplementing a full keyboard driver, which spec §1 scopes out as
// PIC-level hardware programming. Break codes (high bit set) and unmapped
// scancodes are dropped.
var scancodeToASCII = map[byte]byte{
	0x1e: 'a', 0x30: 'b', 0x2e: 'c', 0x20: 'd', 0x12: 'e',
	0x21: 'f', 0x22: 'g', 0x23: 'h', 0x17: 'i', 0x24: 'j',
	0x25: 'k', 0x26: 'l', 0x32: 'm', 0x31: 'n', 0x18: 'o',
	0x19: 'p', 0x10: 'q', 0x13: 'r', 0x1f: 's', 0x14: 't',
	0x16: 'u', 0x2f: 'v', 0x11: 'w', 0x2d: 'x', 0x15: 'y',
	0x2c: 'z',
	0x02: '1', 0x03: '2', 0x04: '3', 0x05: '4', 0x06: '5',
	0x07: '6', 0x08: '7', 0x09: '8', 0x0a: '9', 0x0b: '0',
	0x39: ' ', 0x1c: '\n',
}
