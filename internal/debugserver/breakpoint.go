package debugserver

import (
	"fmt"
	"regexp"
	"slices"

	"github.com/dshills/wtldebug/internal/debug/wtl"
)

// breakpoint is an installed breakpoint with compiled expressions.
type breakpoint struct {
	desc wtl.Breakpoint
	path *regexp.Regexp
	body *regexp.Regexp
}

func compileBreakpoint(desc wtl.Breakpoint) (*breakpoint, error) {
	bp := &breakpoint{desc: desc}

	if desc.Path != "" {
		r, err := regexp.Compile(desc.Path)
		if err != nil {
			return nil, fmt.Errorf("path: %w", err)
		}
		bp.path = r
	}

	if desc.Body != "" {
		r, err := regexp.Compile(desc.Body)
		if err != nil {
			return nil, fmt.Errorf("body: %w", err)
		}
		bp.body = r
	}

	return bp, nil
}

// matches reports whether req satisfies every criterion the breakpoint sets.
func (bp *breakpoint) matches(req wtl.RequestInfo) bool {
	if bp.path != nil && !bp.path.MatchString(req.Path) {
		return false
	}
	if bp.body != nil && !bp.body.MatchString(req.Body) {
		return false
	}
	if len(bp.desc.Methods) != 0 && !slices.Contains(bp.desc.Methods, req.Method) {
		return false
	}
	return true
}
