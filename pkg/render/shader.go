package render

import (
	"fmt"

	"github.com/rs/zerolog"

	"flow-texture/pkg/gles"
)

// Attribute and uniform names the pipeline binds.
const (
	AttrPosition  = "aPosition"
	AttrTexCoord  = "aTextureCoord"
	UniformMVP    = "uMVPMatrix"
	UniformSample = "uSTMatrix"
)

const vertexShaderSrc = `#version 410 core
uniform mat4 uMVPMatrix;
uniform mat4 uSTMatrix;
in vec4 aPosition;
in vec4 aTextureCoord;
out vec2 vTextureCoord;
void main() {
  gl_Position = uMVPMatrix * aPosition;
  vTextureCoord = (uSTMatrix * aTextureCoord).xy;
}
`

const fragmentShaderSrc = `#version 410 core
uniform sampler2D sTexture;
in vec2 vTextureCoord;
out vec4 fragColor;
void main() {
  fragColor = texture(sTexture, vTextureCoord);
}
`

// ShaderProgram is a linked program with its resolved binding slots.
type ShaderProgram struct {
	ID       uint32
	Position uint32
	TexCoord uint32
	MVP      int32
	Sample   int32
}

func shaderKind(kind uint32) string {
	if kind == gles.VERTEX_SHADER {
		return "vertex"
	}
	return "fragment"
}

func loadShader(gl gles.Context, kind uint32, source string, log zerolog.Logger) (uint32, error) {
	shader := gl.CreateShader(kind)
	if shader == 0 {
		return 0, fmt.Errorf("%w: glCreateShader(%s) returned 0", ErrShaderCompile, shaderKind(kind))
	}
	gl.ShaderSource(shader, source)
	gl.CompileShader(shader)
	if !gl.ShaderCompiled(shader) {
		info := gl.ShaderInfoLog(shader)
		log.Error().Str("stage", shaderKind(kind)).Str("info_log", info).Msg("could not compile shader")
		gl.DeleteShader(shader)
		return 0, fmt.Errorf("%w: %s: %s", ErrShaderCompile, shaderKind(kind), info)
	}
	return shader, nil
}

// buildProgram compiles and links the two stages and resolves the pipeline's
// attribute and uniform locations. On any failure nothing is left allocated.
func buildProgram(gl gles.Context, vertexSrc, fragmentSrc string, log zerolog.Logger) (ShaderProgram, error) {
	vs, err := loadShader(gl, gles.VERTEX_SHADER, vertexSrc, log)
	if err != nil {
		return ShaderProgram{}, err
	}
	defer gl.DeleteShader(vs)

	fs, err := loadShader(gl, gles.FRAGMENT_SHADER, fragmentSrc, log)
	if err != nil {
		return ShaderProgram{}, err
	}
	defer gl.DeleteShader(fs)

	id := gl.CreateProgram()
	if id == 0 {
		return ShaderProgram{}, fmt.Errorf("%w: glCreateProgram returned 0", ErrProgramLink)
	}
	gl.AttachShader(id, vs)
	gl.AttachShader(id, fs)
	if err := gles.Check(gl, "glAttachShader"); err != nil {
		gl.DeleteProgram(id)
		return ShaderProgram{}, err
	}
	gl.LinkProgram(id)
	if !gl.ProgramLinked(id) {
		info := gl.ProgramInfoLog(id)
		log.Error().Str("info_log", info).Msg("could not link program")
		gl.DeleteProgram(id)
		return ShaderProgram{}, fmt.Errorf("%w: %s", ErrProgramLink, info)
	}

	prog := ShaderProgram{ID: id}
	attrib := func(name string) (uint32, error) {
		loc := gl.AttribLocation(id, name)
		if err := gles.Check(gl, "glGetAttribLocation "+name); err != nil {
			return 0, err
		}
		if loc < 0 {
			return 0, fmt.Errorf("%w: attribute %s", ErrLocationNotFound, name)
		}
		return uint32(loc), nil
	}
	uniform := func(name string) (int32, error) {
		loc := gl.UniformLocation(id, name)
		if err := gles.Check(gl, "glGetUniformLocation "+name); err != nil {
			return 0, err
		}
		if loc < 0 {
			return 0, fmt.Errorf("%w: uniform %s", ErrLocationNotFound, name)
		}
		return loc, nil
	}

	if prog.Position, err = attrib(AttrPosition); err == nil {
		if prog.TexCoord, err = attrib(AttrTexCoord); err == nil {
			if prog.MVP, err = uniform(UniformMVP); err == nil {
				prog.Sample, err = uniform(UniformSample)
			}
		}
	}
	if err != nil {
		log.Error().Err(err).Msg("could not resolve program locations")
		gl.DeleteProgram(id)
		return ShaderProgram{}, err
	}
	return prog, nil
}
