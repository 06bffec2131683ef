// Package bpath resolves "." and ".." components textually, before any
// mount lookup happens. Design note ยง9 calls this out explicitly: resolving
// dot-components after the mount table has matched a prefix would let ".."
// walk across a mount boundary in a way no backend can sensibly interpret,
// so the whole path is canonicalized up front.
package bpath

import "simpleos/ustr"

// Canonicalize resolves "." and ".." components of an absolute path
// textually and returns a fresh absolute path with no trailing slash
// (except for the root itself). It never touches the mount table or any
// backend; it is pure string surgery.
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	parts := p.Split()
	stack := make([]ustr.Ustr, 0, len(parts))
	for _, c := range parts {
		switch {
		case c.Isdot():
			// no-op
		case c.Isdotdot():
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, c)
		}
	}

	out := ustr.Ustr{'/'}
	for i, c := range stack {
		if i > 0 {
			out = append(out, '/')
		}
		out = append(out, c...)
	}
	return out
}
