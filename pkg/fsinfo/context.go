package fsinfo

import (
	"sync"

	"github.com/walteh/portos/pkg/log"
)

// hostCaps records what the running host can answer.
type hostCaps struct {
	// statx is true when statx(2) is available, which also provides the
	// birth time on filesystems that record one.
	statx bool

	// acl is true when POSIX access ACLs can be read as extended
	// attributes.
	acl bool

	// ownership is false on hosts that only expose a read-only flag. In
	// that case permission bits are synthesized.
	ownership bool
}

// Context holds process-wide host state used by resolvers. Host capabilities
// are detected once, on first use, and shared by every resolver
// using the Context.
//
// A Context must not be copied after first use.
type Context struct {
	once sync.Once
	caps hostCaps
}

// NewContext returns a Context that has not inspected the host yet.
func NewContext() *Context {
	return &Context{}
}

var defaultContext = NewContext()

// DefaultContext returns the process-wide Context.
func DefaultContext() *Context {
	return defaultContext
}

func (c *Context) hostCaps() hostCaps {
	c.once.Do(func() {
		c.caps = detectHostCaps()
		log.Debugf("fsinfo: host capabilities: statx=%t acl=%t ownership=%t", c.caps.statx, c.caps.acl, c.caps.ownership)
	})
	return c.caps
}
