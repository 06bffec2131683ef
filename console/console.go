// Package console implements the VGA/PS2 console character device
// (spec §4.H): a non-blocking keyboard read (an empty key buffer gives a
// 0-byte read) and a VT-100 CSI-parsing write.
// Grounded on original_source/kernel/console/console.c for the
// read/write/getattr shape and the J/H/C/B command set, and on
// biscuit/src/circbuf/circbuf.go for the head/tail ring-buffer
// discipline (here over a plain []byte rather than a physical page,
// since this rewrite's memory-content model keeps device buffers as
// ordinary Go slices — see DESIGN.md).
package console

import (
	"sync"

	"simpleos/defs"
	"simpleos/fdops"
)

// Terminal is the character-cell display this backend drives. A real
// build backs it with VGA text-mode memory; NewMemTerminal backs it
// with an in-memory grid for hosted tests and tooling.
type Terminal interface {
	PutChar(c byte)
	ClearScreen()
	SetCursor(row, col int)
	MoveCursor(drow, dcol int)
	CursorPosition() (row, col int)
}

// ring is a fixed-capacity byte ring buffer, the same head/tail/bufsz
// shape as circbuf.Circbuf_t stripped of its physical-page backing.
type ring struct {
	buf        []byte
	head, tail int
}

func newRing(size int) *ring { return &ring{buf: make([]byte, size)} }

func (r *ring) full() bool  { return r.head-r.tail == len(r.buf) }
func (r *ring) empty() bool { return r.head == r.tail }

func (r *ring) push(b byte) bool {
	if r.full() {
		return false
	}
	r.buf[r.head%len(r.buf)] = b
	r.head++
	return true
}

func (r *ring) pop() (byte, bool) {
	if r.empty() {
		return 0, false
	}
	b := r.buf[r.tail%len(r.buf)]
	r.tail++
	return b, true
}

// Console is one console mount.
type Console struct {
	fdops.Base

	term Terminal

	mu  sync.Mutex
	key *ring
}

// NewConsole returns a console backed by term, buffering up to
// keyBufSize bytes of unread keyboard input.
func NewConsole(term Terminal, keyBufSize int) *Console {
	return &Console{term: term, key: newRing(keyBufSize)}
}

// PushKey is how the keyboard ISR feeds bytes into the console; it
// drops the byte if the buffer is full rather than blocking (an
// interrupt handler cannot suspend).
func (c *Console) PushKey(b byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key.push(b)
}

// Read implements fdops.Ops. It copies out the bytes already buffered,
// up to len(buf), and never blocks: an empty buffer returns (0, 0)
// immediately. The read syscall handler (package kernel) calls it once
// and hands that count to the user program; nothing suspends the caller
// or retries the read while the buffer is empty.
func (c *Console) Read(path string, offset int64, buf []byte) (int, defs.Err_t) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for n < len(buf) {
		b, ok := c.key.pop()
		if !ok {
			break
		}
		buf[n] = b
		n++
	}
	return n, 0
}

// Write implements fdops.Ops: plain bytes go straight to the terminal;
// ESC '[' sequences are parsed as VT-100 CSI (spec §4.H).
func (c *Console) Write(path string, offset int64, buf []byte) (int, defs.Err_t) {
	i := 0
	for i < len(buf) {
		if buf[i] == 0x1b {
			consumed := c.processEscape(buf[i:])
			if consumed == 0 {
				i++ // not a recognized sequence: drop the ESC and move on
				continue
			}
			i += consumed
			continue
		}
		c.term.PutChar(buf[i])
		i++
	}
	return len(buf), 0
}

// Getattr implements fdops.Ops: char-special mode, world read/write
// (spec §4.H / original_source console_getattr).
func (c *Console) Getattr(string) (fdops.Stat, defs.Err_t) {
	return fdops.Stat{Mode: defs.Err_t(defs.S_IFCHR | defs.S_IRWXU | 0077)}, 0
}

// processEscape parses one CSI sequence starting at seq[0]=='\x1b' and
// returns how many bytes (including the ESC itself) it consumed, or 0
// if seq does not begin a recognized "ESC [" sequence.
func (c *Console) processEscape(seq []byte) int {
	if len(seq) < 3 || seq[1] != '[' {
		return 0
	}

	var args [2]int
	argc := 0
	argStart := 2
	haveArg := false

	for i := 2; i < len(seq); i++ {
		ch := seq[i]
		switch {
		case ch >= '0' && ch <= '9':
			haveArg = true
		case ch == ';':
			if argc < 2 {
				args[argc] = atoiOr(seq[argStart:i], 0)
				argc++
			}
			argStart = i + 1
			haveArg = false
		case (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z'):
			if haveArg && argc < 2 {
				args[argc] = atoiOr(seq[argStart:i], 0)
				argc++
			}
			c.runCommand(ch, args, argc)
			return i + 1
		default:
			return 0
		}
	}
	return 0
}

func (c *Console) runCommand(cmd byte, args [2]int, argc int) {
	arg := func(i, def int) int {
		if i < argc {
			return args[i]
		}
		return def
	}

	switch cmd {
	case 'J':
		if arg(0, 0) == 2 {
			c.term.ClearScreen()
		}
	case 'H':
		row, col := arg(0, 1), arg(1, 1)
		c.term.SetCursor(row-1, col-1)
	case 'C':
		n := arg(0, 1)
		if n < 1 {
			n = 1
		}
		c.term.MoveCursor(0, n)
	case 'B':
		n := arg(0, 1)
		if n < 1 {
			n = 1
		}
		c.term.MoveCursor(n, 0)
	case 'n':
		if arg(0, 0) == 6 {
			c.reportCursorPosition()
		}
	default:
		// unsupported final letter: sequence already consumed, silently ignored
	}
}

// reportCursorPosition answers an ESC[6n device-status-request query by
// pushing "ESC[row;colR" (1-based) into the key buffer, as if the
// terminal itself had typed it back (spec §9 supplemental: "the
// cursor-position-report ESC[6n -> ESC[r;cR, emitted by the console
// driver on write, read back on input").
func (c *Console) reportCursorPosition() {
	row, col := c.term.CursorPosition()
	resp := []byte("\x1b[")
	resp = appendInt(resp, row+1)
	resp = append(resp, ';')
	resp = appendInt(resp, col+1)
	resp = append(resp, 'R')

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range resp {
		c.key.push(b)
	}
}

func appendInt(dst []byte, v int) []byte {
	if v == 0 {
		return append(dst, '0')
	}
	var tmp [10]byte
	i := len(tmp)
	for v > 0 {
		i--
		tmp[i] = byte('0' + v%10)
		v /= 10
	}
	return append(dst, tmp[i:]...)
}

func atoiOr(b []byte, def int) int {
	if len(b) == 0 {
		return def
	}
	v := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return def
		}
		v = v*10 + int(c-'0')
	}
	return v
}
