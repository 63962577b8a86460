package cache

// Generation names the caches that belong to one deployed version of the app.
// Bumping the version is the only upgrade mechanism: caches of every other
// generation become stale and are swept at activation.
type Generation struct {
	AppID   string
	Version string
}

// StaticName is the name of the precached cache, e.g. "app-v1".
func (g Generation) StaticName() string {
	return g.AppID + "-" + g.Version
}

// DynamicName is the name of the runtime cache, e.g. "app-dynamic-v1".
func (g Generation) DynamicName() string {
	return g.AppID + "-dynamic-" + g.Version
}

func (g Generation) LiveNames() []string {
	return []string{g.StaticName(), g.DynamicName()}
}

func (g Generation) IsLive(name string) bool {
	return name == g.StaticName() || name == g.DynamicName()
}
