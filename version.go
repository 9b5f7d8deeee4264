package sophia

// Compile-time version constants, surfaced via Version() the way sp.c's
// SPVERSION ctl call returns its compiled major/minor.
const (
	versionMajor = 1
	versionMinor = 0
)

// Version returns the engine's compile-time major and minor version.
func Version() (major, minor uint32) {
	return versionMajor, versionMinor
}
