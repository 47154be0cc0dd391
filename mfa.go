package lumen

import (
	"fmt"
	"strconv"
	"strings"
)

// MFA identifies a callable by module, function and arity. It is the only key
// into the symbol table and the identity recorded as a process's current
// function.
type MFA struct {
	Module   string
	Function string
	Arity    uint8
}

func (m MFA) String() string {
	return m.Module + ":" + m.Function + "/" + strconv.Itoa(int(m.Arity))
}

// ParseMFA parses the "module:function/arity" form produced by String.
func ParseMFA(s string) (MFA, error) {
	colon := strings.IndexByte(s, ':')
	slash := strings.LastIndexByte(s, '/')
	if colon <= 0 || slash <= colon+1 || slash == len(s)-1 {
		return MFA{}, fmt.Errorf("invalid function identity %q: want module:function/arity", s)
	}
	arity, err := strconv.ParseUint(s[slash+1:], 10, 8)
	if err != nil {
		return MFA{}, fmt.Errorf("invalid arity in %q: %w", s, err)
	}
	return MFA{Module: s[:colon], Function: s[colon+1 : slash], Arity: uint8(arity)}, nil
}
