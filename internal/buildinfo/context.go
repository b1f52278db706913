// Package buildinfo holds build-time metadata, kept apart from user configuration.
package buildinfo

import "fmt"

// UnknownValue is reported for metadata the build did not set.
const UnknownValue = "unknown"

// BuildInfo provides access to build-time metadata.
type BuildInfo interface {
	Version() string
	BuildDate() string
}

// Context contains build-time metadata injected at startup through ldflags.
type Context struct {
	version   string
	buildDate string
}

var _ BuildInfo = (*Context)(nil)

// NewContext creates a Context.
func NewContext(version, buildDate string) *Context {
	return &Context{version: version, buildDate: buildDate}
}

// Version returns the release version, or UnknownValue.
func (c *Context) Version() string {
	if c == nil || c.version == "" {
		return UnknownValue
	}
	return c.version
}

// BuildDate returns the build date, or UnknownValue.
func (c *Context) BuildDate() string {
	if c == nil || c.buildDate == "" {
		return UnknownValue
	}
	return c.buildDate
}

// Release is the release name reported with telemetry events.
func (c *Context) Release() string {
	return "safetynet@" + c.Version()
}

func (c *Context) String() string {
	return fmt.Sprintf("%s (built %s)", c.Version(), c.BuildDate())
}
