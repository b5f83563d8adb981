package breaker

import "strings"

// daggerFailureTypes are the concrete error type names that count as
// failures for the Dagger-specific breaker variant.
var daggerFailureTypes = map[string]bool{
	"ConnectionError":        true,
	"TimeoutError":           true,
	"InternalError":          true,
	"ResourceExhaustedError": true,
}

// Classified is implemented by errors that want to name their own type for
// the Dagger filter, since Go has no runtime exception-class hierarchy to
// inspect the way the filter's origin language does.
type Classified interface {
	// BreakerType returns the concrete error type name used to match
	// daggerFailureTypes.
	BreakerType() string
}

// ModulePathed is implemented by errors that can report an originating
// module/package path, matching the filter's "module path contains
// 'dagger'" half.
type ModulePathed interface {
	ModulePath() string
}

// DaggerFilter reports whether err counts as a failure against a Dagger
// breaker: its concrete type is in the configured list, or its originating
// module path substring-contains "dagger". Any other error propagates
// without touching the breaker's failure count.
func DaggerFilter(err error) bool {
	if err == nil {
		return false
	}
	if c, ok := err.(Classified); ok && daggerFailureTypes[c.BreakerType()] {
		return true
	}
	if m, ok := err.(ModulePathed); ok && strings.Contains(strings.ToLower(m.ModulePath()), "dagger") {
		return true
	}
	return false
}

// NewDagger builds a Config for the Dagger-specific breaker variant:
// identical defaults to DefaultConfig, but only failures the DaggerFilter
// accepts are counted — everything else propagates to the caller untouched.
func NewDagger(name string) Config {
	cfg := DefaultConfig(name)
	cfg.IsFailure = DaggerFilter
	return cfg
}
