package preview

// MultiSurface fans every push out to several surfaces, e.g. a terminal view
// and connected browsers.
type MultiSurface []Surface

var _ Surface = MultiSurface(nil)

func (m MultiSurface) PushStatus(status Status, message string) {
	for _, s := range m {
		s.PushStatus(status, message)
	}
}

func (m MultiSurface) PushArtifact(update ArtifactUpdate) {
	for _, s := range m {
		s.PushArtifact(update)
	}
}

func (m MultiSurface) PushCursor(update CursorUpdate) {
	for _, s := range m {
		s.PushCursor(update)
	}
}

func (m MultiSurface) PushCursorClear() {
	for _, s := range m {
		s.PushCursorClear()
	}
}

func (m MultiSurface) ShowError(message string) {
	for _, s := range m {
		s.ShowError(message)
	}
}
