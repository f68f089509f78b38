package llama

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

// writeGGUF builds a minimal v3 GGUF header with the given metadata.
func writeGGUF(t *testing.T, strs map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	le := binary.LittleEndian
	putString := func(s string) {
		_ = binary.Write(&buf, le, uint64(len(s)))
		buf.WriteString(s)
	}

	count := uint64(len(strs) + 2)
	_ = binary.Write(&buf, le, uint32(ggufMagic))
	_ = binary.Write(&buf, le, uint32(3))
	_ = binary.Write(&buf, le, uint64(12)) // tensors
	_ = binary.Write(&buf, le, count)

	for k, v := range strs {
		putString(k)
		_ = binary.Write(&buf, le, ggufString)
		putString(v)
	}

	// a uint32 context length and a string array, which must be skipped
	putString("gemma3.context_length")
	_ = binary.Write(&buf, le, ggufUint32)
	_ = binary.Write(&buf, le, uint32(2048))

	putString("tokenizer.ggml.tokens")
	_ = binary.Write(&buf, le, ggufArray)
	_ = binary.Write(&buf, le, ggufString)
	_ = binary.Write(&buf, le, uint64(2))
	putString("<s>")
	putString("</s>")

	return buf.Bytes()
}

type fakeRuntime struct {
	prompt string
	params Params
	text   string
	err    error
}

func (f *fakeRuntime) Complete(ctx context.Context, prompt string, p Params) (*Completion, error) {
	f.prompt, f.params = prompt, p
	if f.err != nil {
		return nil, f.err
	}
	return &Completion{Text: f.text, TokensIn: 10, TokensOut: 4}, nil
}

func modelFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.gguf")
	data := writeGGUF(t, map[string]string{
		"general.architecture": "gemma3",
		"general.name":         "safety-advisor",
	})
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadReadsMetadata(t *testing.T) {
	m, err := LoadWithRuntime(Config{ModelPath: modelFile(t), ModelName: "safety-advisor"}, &fakeRuntime{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer m.Close()

	meta := m.Metadata()
	if meta.Architecture != "gemma3" || meta.Name != "safety-advisor" {
		t.Errorf("meta = %+v", meta)
	}
	if meta.ContextSize != 2048 || meta.TensorCount != 12 || meta.Version != 3 {
		t.Errorf("meta = %+v", meta)
	}
}

func TestLoadFailures(t *testing.T) {
	dir := t.TempDir()
	bogus := filepath.Join(dir, "bogus.gguf")
	_ = os.WriteFile(bogus, []byte("definitely not a model"), 0644)

	for _, path := range []string{filepath.Join(dir, "missing.gguf"), bogus} {
		_, err := LoadWithRuntime(Config{ModelPath: path}, &fakeRuntime{})
		var le *ModelLoadError
		if !errors.As(err, &le) {
			t.Fatalf("%s: err = %v, want ModelLoadError", path, err)
		}
		if le.Path != path {
			t.Errorf("Path = %q", le.Path)
		}
	}

	if _, err := LoadWithRuntime(Config{ModelPath: modelFile(t)}, nil); err == nil {
		t.Fatal("expected error without runtime")
	}
}

func TestLoadRejectsOversizedArray(t *testing.T) {
	var buf bytes.Buffer
	le := binary.LittleEndian
	_ = binary.Write(&buf, le, uint32(ggufMagic))
	_ = binary.Write(&buf, le, uint32(3))
	_ = binary.Write(&buf, le, uint64(0))
	_ = binary.Write(&buf, le, uint64(1))

	key := "tokenizer.ggml.scores"
	_ = binary.Write(&buf, le, uint64(len(key)))
	buf.WriteString(key)
	_ = binary.Write(&buf, le, ggufArray)
	_ = binary.Write(&buf, le, ggufFloat32)
	_ = binary.Write(&buf, le, uint64(1)<<63) // size*n wraps negative
	_ = binary.Write(&buf, le, float32(0.5))

	path := filepath.Join(t.TempDir(), "corrupt.gguf")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadWithRuntime(Config{ModelPath: path}, &fakeRuntime{})
	var loadErr *ModelLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("err = %v, want ModelLoadError", err)
	}
}

func TestGenerateAppliesDefaultsAndTrims(t *testing.T) {
	rt := &fakeRuntime{text: "  Likely a minor injury.\n"}
	m, err := LoadWithRuntime(Config{ModelPath: modelFile(t)}, rt)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	c, err := m.Generate(context.Background(), "prompt", Params{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if c.Text != "Likely a minor injury." {
		t.Errorf("Text = %q", c.Text)
	}
	if rt.params.MaxTokens != 256 || !reflect.DeepEqual(rt.params.Stop, []string{"</s>"}) {
		t.Errorf("params = %+v", rt.params)
	}

	if _, err := m.Generate(context.Background(), "p", Params{MaxTokens: 512, Stop: []string{"User:"}}); err != nil {
		t.Fatal(err)
	}
	if rt.params.MaxTokens != 512 || rt.params.Stop[0] != "User:" {
		t.Errorf("explicit params overridden: %+v", rt.params)
	}
}

func TestGenerateAfterClose(t *testing.T) {
	m, err := LoadWithRuntime(Config{ModelPath: modelFile(t)}, &fakeRuntime{})
	if err != nil {
		t.Fatal(err)
	}
	_ = m.Close()
	if _, err := m.Generate(context.Background(), "p", Params{}); err == nil {
		t.Fatal("expected error after Close")
	}
}

func TestServerRuntime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"text_completion","choices":[{"text":" Drive slower. ","index":0,"finish_reason":"stop"}],"usage":{"prompt_tokens":7,"completion_tokens":3,"total_tokens":10}}`))
	}))
	defer srv.Close()

	rt := NewServerRuntime(srv.URL, "safety-advisor")
	c, err := rt.Complete(context.Background(), "p", DefaultParams())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if c.Text != " Drive slower. " || c.TokensIn != 7 || c.TokensOut != 3 {
		t.Errorf("completion = %+v", c)
	}
}

func TestLoadWithAutoDownload(t *testing.T) {
	data := writeGGUF(t, map[string]string{"general.architecture": "llama"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "models", "m.gguf")
	m, err := LoadWithAutoDownload(Config{ModelPath: path, ModelURL: srv.URL, RuntimeURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("LoadWithAutoDownload: %v", err)
	}
	defer m.Close()
	if m.Metadata().Architecture != "llama" {
		t.Errorf("meta = %+v", m.Metadata())
	}
	if _, err := os.Stat(path + ".part"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}
