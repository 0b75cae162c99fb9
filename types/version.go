package types

// Version is the canonical project version.
// The service, the native host and the CLI ship in lockstep and all
// report this value.
const Version = "0.4.0"

// ProtocolVersion is the version of the native message vocabulary.
// It tracks Version under the lockstep policy.
const ProtocolVersion = "0.4.0"

// UniqueName is the reverse-DNS name the host manifest and the Windows
// pipe are registered under.
const UniqueName = "io.github.femshima.edman"
