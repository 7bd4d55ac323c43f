// Package shaders compiles GLSL sources into SPIR-V with an external compiler (glslc) and
// mirrors the result into a build directory.
//
// Staleness is decided by modification time only: a shader that changed within the configured
// window (24 hours by default) is recompiled, everything else is left alone unless a full
// rebuild is forced. There is no dependency tracking for #include'd files.
package shaders
