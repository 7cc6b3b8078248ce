package main

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, outDir string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	content := "log:\n  mode: release\nsegmenter:\n  kind: passthrough\nexport:\n  output_dir: " + outDir + "\n"
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func writeTestImage(t *testing.T, name string, w, h int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w/2; x++ {
			img.SetNRGBA(x, y, color.NRGBA{B: 255, A: 255})
		}
	}
	p := filepath.Join(t.TempDir(), name)
	f, err := os.Create(p)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return p
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return strings.TrimSpace(out.String()), err
}

func TestRemove_Defaults(t *testing.T) {
	outDir := t.TempDir()
	input := writeTestImage(t, "avatar.png", 20, 10)

	out, err := execute(t, "--config", writeTestConfig(t, outDir), "remove", input)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, "avatar-no-bg.png"), out)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 20, 10), img.Bounds())

	_, _, _, a := img.At(15, 5).RGBA()
	assert.Zero(t, a)
}

func TestRemove_LossyOnWhite(t *testing.T) {
	outDir := t.TempDir()
	input := writeTestImage(t, "shoe.png", 32, 16)

	out, err := execute(t, "--config", writeTestConfig(t, t.TempDir()),
		"remove", input, "--bg", "white", "--format", "lossy", "--quality", "0.9", "--out", outDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, "shoe-no-bg.jpg"), out)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)

	r, g, b, _ := img.At(31, 8).RGBA()
	assert.Greater(t, r>>8, uint32(240))
	assert.Greater(t, g>>8, uint32(240))
	assert.Greater(t, b>>8, uint32(240))
}

func TestRemove_BackgroundImage(t *testing.T) {
	outDir := t.TempDir()
	input := writeTestImage(t, "cat.png", 12, 12)
	bg := writeTestImage(t, "beach.png", 30, 10)

	out, err := execute(t, "--config", writeTestConfig(t, outDir), "remove", input, "--bg-image", bg)
	require.NoError(t, err)
	assert.FileExists(t, out)
}

func TestRemove_Errors(t *testing.T) {
	cfg := writeTestConfig(t, t.TempDir())
	input := writeTestImage(t, "a.png", 4, 4)
	text := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(text, []byte("plain text"), 0o644))

	tests := []struct {
		name string
		args []string
	}{
		{name: "缺少参数", args: []string{"--config", cfg, "remove"}},
		{name: "文件不存在", args: []string{"--config", cfg, "remove", filepath.Join(t.TempDir(), "missing.png")}},
		{name: "非图片", args: []string{"--config", cfg, "remove", text}},
		{name: "未知背景", args: []string{"--config", cfg, "remove", input, "--bg", "plaid"}},
		{name: "未知格式", args: []string{"--config", cfg, "remove", input, "--format", "gif"}},
		{name: "质量越界", args: []string{"--config", cfg, "remove", input, "--format", "lossy", "--quality", "5"}},
		{name: "配置不存在", args: []string{"--config", filepath.Join(t.TempDir(), "nope.yaml"), "remove", input}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.Error(t, err)
		})
	}
}
