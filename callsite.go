package memtrack

import (
	"runtime"
	"strings"
)

// Site is the source location an allocation is attributed to.
type Site struct {
	File     string
	Function string
	Line     uint32
}

// Here returns the call site of its caller.
func Here() Site {
	return Caller(1)
}

// Caller returns the call site skip frames above its caller, the way
// runtime.Caller counts.
func Caller(skip int) Site {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return Site{File: "???", Function: "???"}
	}
	site := Site{File: file, Line: uint32(line)}
	if fn := runtime.FuncForPC(pc); fn != nil {
		site.Function = shortFuncName(fn.Name())
	}
	return site
}

// shortFuncName drops the import path: "a/b/pkg.(*T).M" becomes "(*T).M".
// The linker escapes dots in the last path element ("yaml%2ev3"); the plain
// gopkg.in form "yaml.v3" is accepted as well.
func shortFuncName(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	_, rest, ok := strings.Cut(name, ".")
	if !ok {
		return name
	}
	if seg, tail, ok := strings.Cut(rest, "."); ok && isMajorVersion(seg) {
		return tail
	}
	return rest
}

// isMajorVersion matches a gopkg.in style version suffix such as "v3".
func isMajorVersion(s string) bool {
	if len(s) < 2 || s[0] != 'v' {
		return false
	}
	for i := 1; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
