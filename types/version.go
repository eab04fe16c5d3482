package types

// Version is the canonical project version.
// The CLI, the stream frame contract, and the notification payloads share
// this version (lockstep versioning).
const Version = "0.4.0"

// ContractVersion is the version stamped on stream frames and published
// notifications. It moves in lockstep with Version.
const ContractVersion = Version
