package shaders

import (
	"path/filepath"
	"strings"
)

// Stage is a pipeline stage and doubles as the file extension used for its sources
type Stage string

const (
	Vertex         Stage = "vert"
	TessControl    Stage = "tesc"
	TessEvaluation Stage = "tese"
	Geometry       Stage = "geom"
	Fragment       Stage = "frag"
	Compute        Stage = "comp"
)

// Stages lists all recognized stages in the order they are compiled
var Stages = []Stage{Vertex, TessControl, TessEvaluation, Geometry, Fragment, Compute}

// ArtifactSuffix is appended to every compiled shader
const ArtifactSuffix = ".spv"

// Ext returns the file extension including the leading dot
func (s Stage) Ext() string {
	return "." + string(s)
}

// StageOf returns the stage for the given path based on its extension
func StageOf(path string) (Stage, bool) {
	ext := filepath.Ext(path)
	for _, stage := range Stages {
		if stage.Ext() == ext {
			return stage, true
		}
	}

	return "", false
}

// ArtifactPath derives the compiled output path for a shader source by replacing the last
// extension separator with an underscore and appending ArtifactSuffix
// (shaders/default.frag -> shaders/default_frag.spv).
func ArtifactPath(src string) string {
	pos := strings.LastIndex(src, ".")
	if pos < 0 {
		return src + ArtifactSuffix
	}

	return src[:pos] + "_" + src[pos+1:] + ArtifactSuffix
}
