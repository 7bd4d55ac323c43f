package shaders

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArtifactPath(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"shader.frag", "shader_frag.spv"},
		{"assets/Shaders/default.vert", "assets/Shaders/default_vert.spv"},
		{"../build.v2/terrain.tese", "../build.v2/terrain_tese.spv"},
		{"a.b.c.comp", "a.b.c_comp.spv"},
		{filepath.Join("x", "y", "sky.geom"), filepath.Join("x", "y", "sky_geom.spv")},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			require.Equal(t, tt.want, ArtifactPath(tt.src))
		})
	}
}

func TestStageOf(t *testing.T) {
	for _, stage := range Stages {
		got, ok := StageOf("dir/shader" + stage.Ext())
		require.True(t, ok)
		require.Equal(t, stage, got)
	}

	for _, name := range []string{"shader.glsl", "shader_frag.spv", "frag", "shader.frag.bak"} {
		_, ok := StageOf(name)
		require.False(t, ok, name)
	}
}
