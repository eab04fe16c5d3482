package types //nolint:revive // types is a valid package name

import (
	"regexp"
	"testing"
)

var semver = regexp.MustCompile(`^\d+\.\d+\.\d+(-[0-9A-Za-z.]+)?$`)

func TestVersions(t *testing.T) {
	if !semver.MatchString(Version) {
		t.Errorf("Version %q is not semver", Version)
	}
	if ContractVersion != Version {
		t.Errorf("ContractVersion %q drifted from Version %q", ContractVersion, Version)
	}
}

func TestFrameConstructors(t *testing.T) {
	chunk := NewChunkFrame("m1", 3, "hello")
	if chunk.Type != ChunkFrameType || chunk.ContractVersion != ContractVersion {
		t.Errorf("chunk header = %q/%q", chunk.Type, chunk.ContractVersion)
	}
	if got := chunk.Chunk(); got != (Chunk{MessageID: "m1", Text: "hello"}) {
		t.Errorf("Chunk() = %+v", got)
	}

	end := NewEndFrame("m1")
	if end.Type != EndFrameType || end.MessageID != "m1" || end.ContractVersion != ContractVersion {
		t.Errorf("end = %+v", end)
	}
}
