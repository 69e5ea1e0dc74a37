package main

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/google/go-github/v47/github"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scan-io-git/vulnimpact/pkg/shared"
	"github.com/scan-io-git/vulnimpact/pkg/shared/errors"
)

type apiServer struct {
	mux   *http.ServeMux
	mu    sync.Mutex
	calls []string
}

func newVCS(t *testing.T, authenticated bool) (*VCSGithub, *apiServer) {
	t.Helper()
	api := &apiServer{mux: http.NewServeMux()}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		api.calls = append(api.calls, r.Method+" "+r.URL.Path)
		api.mu.Unlock()
		api.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	client := github.NewClient(nil)
	baseURL, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	client.BaseURL = baseURL

	return NewVCSGithub(hclog.NewNullLogger(), client, authenticated), api
}

func (a *apiServer) handle(pattern string, status int, body interface{}) {
	a.mux.HandleFunc(pattern, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, status, body)
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

var notFound = map[string]string{"message": "Not Found"}

func base(branch string) shared.VCSRequestBase {
	return shared.VCSRequestBase{Namespace: "acme", Repository: "web", Branch: branch}
}

func TestGetFile(t *testing.T) {
	vcs, api := newVCS(t, false)
	manifest := `{"dependencies":{"axios":"0.19.0"}}`
	api.mux.HandleFunc("GET /repos/acme/web/contents/package.json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "main", r.URL.Query().Get("ref"))
		writeJSON(w, http.StatusOK, map[string]string{
			"type":     "file",
			"path":     "package.json",
			"encoding": "base64",
			"content":  base64.StdEncoding.EncodeToString([]byte(manifest)),
		})
	})
	api.handle("GET /repos/acme/web/contents/missing.json", http.StatusNotFound, notFound)
	api.handle("GET /repos/acme/web/contents/src", http.StatusOK, []map[string]string{{"type": "file", "path": "src/api.js"}})

	resp, err := vcs.GetFile(shared.VCSGetFileRequest{VCSRequestBase: base("main"), Path: "package.json"})
	require.NoError(t, err)
	assert.True(t, resp.Found)
	assert.Equal(t, manifest, string(resp.Content))

	_, err = vcs.GetFile(shared.VCSGetFileRequest{VCSRequestBase: base("main"), Path: "missing.json"})
	assert.True(t, errors.IsNotFound(err))

	_, err = vcs.GetFile(shared.VCSGetFileRequest{VCSRequestBase: base("main"), Path: "src"})
	assert.True(t, errors.IsNotFound(err))

	_, err = vcs.GetFile(shared.VCSGetFileRequest{VCSRequestBase: base("main")})
	assert.Error(t, err)
}

func TestGetFileTreeUsesDefaultBranch(t *testing.T) {
	vcs, api := newVCS(t, false)
	api.handle("GET /repos/acme/web", http.StatusOK, map[string]string{"default_branch": "trunk"})
	api.mux.HandleFunc("GET /repos/acme/web/git/trees/trunk", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("recursive"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"sha": "abc",
			"tree": []map[string]string{
				{"path": "package.json", "type": "blob"},
				{"path": "src", "type": "tree"},
				{"path": "src/api.js", "type": "blob"},
			},
		})
	})

	files, err := vcs.GetFileTree(shared.VCSGetFileTreeRequest{VCSRequestBase: base("")})
	require.NoError(t, err)
	assert.Equal(t, []string{"package.json", "src/api.js"}, files)
}

func TestGetFileTreeUnknownRepository(t *testing.T) {
	vcs, api := newVCS(t, false)
	api.handle("GET /repos/acme/web", http.StatusNotFound, notFound)

	_, err := vcs.GetFileTree(shared.VCSGetFileTreeRequest{VCSRequestBase: base("")})
	assert.True(t, errors.IsNotFound(err))
}

func remediationRequest() shared.VCSRemediationRequest {
	return shared.VCSRemediationRequest{
		VCSRequestBase: base("main"),
		PackageName:    "axios",
		TargetVersion:  "0.21.1",
		Title:          "Upgrade axios to 0.21.1 (GHSA-4w2v-q235-vp99)",
		Body:           "## GHSA-4w2v-q235-vp99: upgrade axios to 0.21.1",
	}
}

func TestCreateRemediationRequestOpensPullRequest(t *testing.T) {
	vcs, api := newVCS(t, true)
	api.handle("GET /repos/acme/web/git/ref/heads/main", http.StatusOK, map[string]interface{}{
		"ref":    "refs/heads/main",
		"object": map[string]string{"sha": "c0ffee", "type": "commit"},
	})
	api.mux.HandleFunc("POST /repos/acme/web/git/refs", func(w http.ResponseWriter, r *http.Request) {
		var ref map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&ref))
		assert.Equal(t, "refs/heads/vulnimpact/axios-0.21.1", ref["ref"])
		assert.Equal(t, "c0ffee", ref["sha"])
		writeJSON(w, http.StatusCreated, map[string]string{"ref": ref["ref"]})
	})
	api.handle("GET /repos/acme/web/contents/.vulnimpact/axios-0.21.1.md", http.StatusNotFound, notFound)
	api.mux.HandleFunc("PUT /repos/acme/web/contents/.vulnimpact/axios-0.21.1.md", func(w http.ResponseWriter, r *http.Request) {
		var file map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&file))
		assert.Equal(t, "vulnimpact/axios-0.21.1", file["branch"])
		content, err := base64.StdEncoding.DecodeString(file["content"])
		assert.NoError(t, err)
		assert.Contains(t, string(content), "upgrade axios to 0.21.1")
		assert.Empty(t, file["sha"])
		writeJSON(w, http.StatusCreated, map[string]interface{}{})
	})
	api.mux.HandleFunc("POST /repos/acme/web/pulls", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var pr map[string]string
		assert.NoError(t, json.Unmarshal(body, &pr))
		assert.Equal(t, "vulnimpact/axios-0.21.1", pr["head"])
		assert.Equal(t, "main", pr["base"])
		assert.Equal(t, "Upgrade axios to 0.21.1 (GHSA-4w2v-q235-vp99)", pr["title"])
		writeJSON(w, http.StatusCreated, map[string]interface{}{"number": 7, "html_url": "https://github.com/acme/web/pull/7"})
	})

	resp, err := vcs.CreateRemediationRequest(remediationRequest())
	require.NoError(t, err)
	assert.Equal(t, shared.RemediationResponse{ID: "7", URL: "https://github.com/acme/web/pull/7"}, resp)
}

func TestCreateRemediationRequestReturnsOpenPullRequest(t *testing.T) {
	vcs, api := newVCS(t, true)
	api.handle("GET /repos/acme/web/git/ref/heads/main", http.StatusOK, map[string]interface{}{
		"ref":    "refs/heads/main",
		"object": map[string]string{"sha": "c0ffee"},
	})
	api.handle("POST /repos/acme/web/git/refs", http.StatusUnprocessableEntity, map[string]string{"message": "Reference already exists"})
	api.mux.HandleFunc("GET /repos/acme/web/pulls", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "acme:vulnimpact/axios-0.21.1", r.URL.Query().Get("head"))
		assert.Equal(t, "open", r.URL.Query().Get("state"))
		writeJSON(w, http.StatusOK, []map[string]interface{}{{"number": 3, "html_url": "https://github.com/acme/web/pull/3"}})
	})

	resp, err := vcs.CreateRemediationRequest(remediationRequest())
	require.NoError(t, err)
	assert.Equal(t, "3", resp.ID)
	assert.NotContains(t, api.calls, "POST /repos/acme/web/pulls")
}

func TestCreateRemediationRequestUpdatesStaleBranch(t *testing.T) {
	vcs, api := newVCS(t, true)
	api.handle("GET /repos/acme/web/git/ref/heads/main", http.StatusOK, map[string]interface{}{
		"ref":    "refs/heads/main",
		"object": map[string]string{"sha": "c0ffee"},
	})
	api.handle("POST /repos/acme/web/git/refs", http.StatusUnprocessableEntity, map[string]string{"message": "Reference already exists"})
	api.handle("GET /repos/acme/web/pulls", http.StatusOK, []map[string]interface{}{})
	api.handle("GET /repos/acme/web/contents/.vulnimpact/axios-0.21.1.md", http.StatusOK, map[string]string{
		"type": "file", "sha": "old-sha", "encoding": "base64", "content": "",
	})
	api.mux.HandleFunc("PUT /repos/acme/web/contents/.vulnimpact/axios-0.21.1.md", func(w http.ResponseWriter, r *http.Request) {
		var file map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&file))
		assert.Equal(t, "old-sha", file["sha"])
		writeJSON(w, http.StatusOK, map[string]interface{}{})
	})
	api.handle("POST /repos/acme/web/pulls", http.StatusCreated, map[string]interface{}{"number": 8, "html_url": "https://github.com/acme/web/pull/8"})

	resp, err := vcs.CreateRemediationRequest(remediationRequest())
	require.NoError(t, err)
	assert.Equal(t, "8", resp.ID)
}

func TestCreateRemediationRequestRequiresToken(t *testing.T) {
	vcs, api := newVCS(t, false)

	_, err := vcs.CreateRemediationRequest(remediationRequest())
	assert.ErrorContains(t, err, EnvToken)
	assert.Empty(t, api.calls)
}

func TestRemediationNames(t *testing.T) {
	tests := []struct {
		pkg, version string
		branch, file string
	}{
		{pkg: "axios", version: "0.21.1", branch: "vulnimpact/axios-0.21.1", file: ".vulnimpact/axios-0.21.1.md"},
		{pkg: "@babel/core", version: "7.24.0", branch: "vulnimpact/babel-core-7.24.0", file: ".vulnimpact/babel-core-7.24.0.md"},
		{pkg: "golang.org/x/net", version: "v0.23.0", branch: "vulnimpact/golang.org-x-net-v0.23.0", file: ".vulnimpact/golang.org-x-net-v0.23.0.md"},
	}
	for _, tt := range tests {
		t.Run(tt.pkg, func(t *testing.T) {
			assert.Equal(t, tt.branch, remediationBranch(tt.pkg, tt.version))
			assert.Equal(t, tt.file, planFile(tt.pkg, tt.version))
		})
	}
}
