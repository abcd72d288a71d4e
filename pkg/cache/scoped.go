package cache

// ScopedKeyer wraps a Keyer with a prefix. Preview servers sharing one Redis
// or Mongo backend use it to keep their artifact slots apart.
//
//	keyer := NewScopedKeyer(NewDefaultKeyer(), "host:studio-2:")
type ScopedKeyer struct {
	inner  Keyer
	prefix string
}

// NewScopedKeyer creates a keyer with a prefix.
// The prefix is prepended to all generated keys.
func NewScopedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = NewDefaultKeyer()
	}
	return &ScopedKeyer{
		inner:  inner,
		prefix: prefix,
	}
}

// ArtifactKey generates a prefixed artifact key.
func (k *ScopedKeyer) ArtifactKey(uri string) string {
	return k.prefix + k.inner.ArtifactKey(uri)
}
