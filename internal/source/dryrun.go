package source

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"

	"github.com/scan-io-git/vulnimpact/pkg/shared"
	"github.com/scan-io-git/vulnimpact/pkg/shared/files"
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// DryRunRemediator writes each remediation request as a markdown file instead
// of opening a change request.
type DryRunRemediator struct {
	fs     afero.Fs
	folder string
	logger hclog.Logger
	now    func() time.Time
}

// NewDryRunRemediator writes plans to folder on fs.
func NewDryRunRemediator(fs afero.Fs, folder string, logger hclog.Logger) *DryRunRemediator {
	return &DryRunRemediator{fs: fs, folder: folder, logger: logger, now: time.Now}
}

// CreateRemediationRequest writes <folder>/<namespace>/<repository>/<package>-<version>.md.
// The returned ID is the path relative to folder.
func (d *DryRunRemediator) CreateRemediationRequest(ctx context.Context, ref shared.RepositoryRef, packageName, targetVersion, title, body string) (shared.RemediationResponse, error) {
	if err := ctx.Err(); err != nil {
		return shared.RemediationResponse{}, err
	}

	name := fmt.Sprintf("%s-%s.md", safeName(packageName), safeName(targetVersion))
	rel := filepath.Join(safeName(ref.Namespace), safeName(ref.Repository), name)
	path := filepath.Join(d.folder, rel)

	content := fmt.Sprintf("# %s\n\n<!-- %s %s -->\n\n%s", title, ref.String(), d.now().UTC().Format(time.RFC3339), body)
	if err := files.WriteFile(d.fs, path, []byte(content)); err != nil {
		return shared.RemediationResponse{}, fmt.Errorf("failed to write remediation plan: %w", err)
	}

	d.logger.Info("remediation plan written", "repository", ref.String(), "package", packageName, "path", path)
	return shared.RemediationResponse{ID: filepath.ToSlash(rel), URL: "file://" + filepath.ToSlash(path)}, nil
}

func safeName(s string) string {
	s = unsafeNameChars.ReplaceAllString(strings.ReplaceAll(s, "/", "_"), "-")
	s = strings.Trim(s, ".-")
	if s == "" {
		return "_"
	}
	return s
}
