package ecs

// DidChange reports whether changeVersion is newer than requiredVersion. A required version of 0
// means "never seen", so everything counts as changed. The comparison is wrap-safe: versions are
// 32-bit and compared by their signed distance.
func DidChange(changeVersion, requiredVersion uint32) bool {
	if requiredVersion == 0 {
		return true
	}
	return int32(changeVersion-requiredVersion) > 0 //nolint:gosec // wrap-around is intended
}

// GlobalSystemVersion returns the world's current version. Writes stamp chunks with it.
func (w *World) GlobalSystemVersion() uint32 {
	return w.globalVersion
}

// IncrementGlobalSystemVersion advances the world's version, typically once per system update,
// and returns the new value. Version 0 is skipped on wrap-around since it means "never".
func (w *World) IncrementGlobalSystemVersion() uint32 {
	w.globalVersion++
	if w.globalVersion == 0 {
		w.globalVersion = 1
	}
	return w.globalVersion
}

// ComponentOrderVersion increases each time an archetype holding t has a structural change.
func (w *World) ComponentOrderVersion(t TypeIndex) uint32 {
	return w.componentOrder[t.bit()]
}

// GetComponentOrderVersion is ComponentOrderVersion for a registered Go type.
func GetComponentOrderVersion[T any](w *World) uint32 {
	t, err := TypeIndexOf[T](w.registry)
	if err != nil {
		return 0
	}
	return w.ComponentOrderVersion(t)
}
