package usage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scan-io-git/vulnimpact/internal/config"
	"github.com/scan-io-git/vulnimpact/pkg/shared"
	sharederrors "github.com/scan-io-git/vulnimpact/pkg/shared/errors"
)

type fakeSource struct {
	files   map[string]string
	treeErr error
	missing []string
}

func (f *fakeSource) GetManifest(ctx context.Context, ref shared.RepositoryRef, path string) ([]byte, error) {
	return f.GetFileContent(ctx, ref, path)
}

func (f *fakeSource) GetFileTree(context.Context, shared.RepositoryRef) ([]string, error) {
	if f.treeErr != nil {
		return nil, f.treeErr
	}
	out := append([]string{}, f.missing...)
	for p := range f.files {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeSource) GetFileContent(_ context.Context, _ shared.RepositoryRef, path string) ([]byte, error) {
	content, ok := f.files[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, sharederrors.ErrNotFound)
	}
	return []byte(content), nil
}

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestDetector(t *testing.T, source shared.SourceAccess, opts ...Option) *Detector {
	t.Helper()
	opts = append(opts, WithClock(func() time.Time { return fixedNow }), WithConcurrency(3))
	d, err := NewDetector(source, hclog.NewNullLogger(), opts...)
	require.NoError(t, err)
	return d
}

var ref = shared.RepositoryRef{Namespace: "acme", Repository: "web"}

func TestDetectNPM(t *testing.T) {
	source := &fakeSource{
		files: map[string]string{
			"src/api.js":            "import axios from 'axios';\nconst a = require(\"axios\");\n",
			"src/client.ts":         "import { create } from \"axios/lib/core\";\nimport type {\n  Foo,\n  Bar\n} from './types';\n",
			"src/lazy.mjs":          "const m = await import('lodash/merge');\n",
			"src/reexport.js":       "export { default } from 'axios';\nexport * from 'axios-retry';\n",
			"src/notes.md":          "require('axios')",
			"node_modules/x/app.js": "require('axios')",
			"dist/bundle.js":        "require('axios')",
			"src/other.js":          "import axiosMock from 'axios-mock-adapter';\n",
		},
		missing: []string{"src/deleted.js"},
	}
	d := newTestDetector(t, source)

	records, err := d.DetectAll(context.Background(), ref, shared.EcosystemNPM, []string{"axios", "lodash", "react"})
	require.NoError(t, err)

	axios := records["axios"]
	assert.True(t, axios.Imported)
	assert.Equal(t, []string{"src/api.js", "src/client.ts", "src/reexport.js"}, axios.Files)
	assert.Equal(t, 4, axios.ReferenceCount)
	assert.Contains(t, axios.Patterns, "import axios from 'axios'")
	assert.Contains(t, axios.Patterns, `require("axios")`)
	assert.Equal(t, fixedNow, axios.AnalyzedAt)

	lodash := records["lodash"]
	assert.True(t, lodash.Imported, "subpath import counts as usage")
	assert.Equal(t, []string{"src/lazy.mjs"}, lodash.Files)

	react := records["react"]
	assert.False(t, react.Imported)
	assert.Empty(t, react.Files)
	assert.Equal(t, 0, react.ReferenceCount)
	assert.True(t, react.Analyzed())
}

func TestDetectGo(t *testing.T) {
	source := &fakeSource{files: map[string]string{
		"main.go": "package main\n\nimport (\n\t\"fmt\"\n\tgin \"github.com/gin-gonic/gin\"\n\t_ \"github.com/lib/pq\"\n)\n",
		"util.go": "package main\n\nimport \"github.com/gin-gonic/gin/binding\"\n",
		"vendor/github.com/gin-gonic/gin/gin.go": "package gin\nimport \"github.com/gin-gonic/gin/internal\"\n",
		"doc.go": "package main\n// uses github.com/google/uuid\n",
	}}
	d := newTestDetector(t, source)

	gin, err := d.Detect(context.Background(), ref, "github.com/gin-gonic/gin", shared.EcosystemGo)
	require.NoError(t, err)
	assert.True(t, gin.Imported)
	assert.Equal(t, []string{"main.go", "util.go"}, gin.Files)
	assert.Equal(t, 2, gin.ReferenceCount)

	uuid, err := d.Detect(context.Background(), ref, "github.com/google/uuid", shared.EcosystemGo)
	require.NoError(t, err)
	assert.False(t, uuid.Imported)
}

func TestDetectPrefixIsNotSubpath(t *testing.T) {
	source := &fakeSource{files: map[string]string{"a.js": "require('axios-retry')"}}
	d := newTestDetector(t, source)

	rec, err := d.Detect(context.Background(), ref, "axios", shared.EcosystemNPM)
	require.NoError(t, err)
	assert.False(t, rec.Imported)
}

func TestDetectCustomPatternSet(t *testing.T) {
	source := &fakeSource{files: map[string]string{
		"app/main.py": "import requests\nfrom flask import Flask\n",
		"app/web.js":  "require('requests')",
	}}
	d := newTestDetector(t, source, WithPatternSet(PatternSet{
		Ecosystem:  "PyPI",
		Extensions: []string{".py"},
		Patterns: []Pattern{
			{Expr: `(?m)^\s*import\s+([\w.]+)`},
			{Expr: `(?m)^\s*from\s+([\w.]+)\s+import`},
		},
	}))
	assert.Contains(t, d.Ecosystems(), "PyPI")

	records, err := d.DetectAll(context.Background(), ref, "pypi", []string{"requests", "flask"})
	require.NoError(t, err)
	assert.Equal(t, []string{"app/main.py"}, records["requests"].Files)
	assert.True(t, records["flask"].Imported)
}

func TestDetectExtendsExistingEcosystem(t *testing.T) {
	source := &fakeSource{files: map[string]string{"widget.astro": "import axios from 'axios'"}}
	d := newTestDetector(t, source, WithPatternSet(PatternSet{
		Ecosystem:  shared.EcosystemNPM,
		Extensions: []string{".astro"},
	}))

	rec, err := d.Detect(context.Background(), ref, "axios", shared.EcosystemNPM)
	require.NoError(t, err)
	assert.True(t, rec.Imported)
}

func TestDetectExcludeDirs(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		imported bool
	}{
		{name: "configured defaults", imported: false},
		{name: "exclusion disabled", opts: []Option{WithExcludeDirs(nil)}, imported: true},
	}

	for _, dir := range config.DefaultUsageExcludeDirs {
		for _, tt := range tests {
			t.Run(dir+"/"+tt.name, func(t *testing.T) {
				source := &fakeSource{files: map[string]string{dir + "/pkg/app.js": "require('axios')"}}
				records, err := newTestDetector(t, source, tt.opts...).DetectAll(context.Background(), ref, shared.EcosystemNPM, []string{"axios"})
				require.NoError(t, err)
				assert.Equal(t, tt.imported, records["axios"].Imported)
			})
		}
	}
}

func TestDetectErrors(t *testing.T) {
	d := newTestDetector(t, &fakeSource{treeErr: errors.New("rate limited")})
	_, err := d.Detect(context.Background(), ref, "axios", shared.EcosystemNPM)
	assert.Error(t, err)

	_, err = d.Detect(context.Background(), ref, "serde", "cargo")
	assert.ErrorIs(t, err, sharederrors.ErrUnknownEcosystem)

	_, err = NewDetector(&fakeSource{}, hclog.NewNullLogger(), WithPatternSet(PatternSet{
		Ecosystem: "bad",
		Patterns:  []Pattern{{Expr: `import`}},
	}))
	assert.Error(t, err, "patterns need a capture group")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d = newTestDetector(t, &fakeSource{files: map[string]string{"a.js": "require('axios')"}})
	_, err = d.Detect(ctx, ref, "axios", shared.EcosystemNPM)
	assert.ErrorIs(t, err, context.Canceled)
}
