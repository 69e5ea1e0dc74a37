package shared

import "context"

// SourceAccess reads repository content from the source-control host or a checkout.
// Absent files are reported with errors.ErrNotFound.
type SourceAccess interface {
	GetManifest(ctx context.Context, ref RepositoryRef, path string) ([]byte, error)
	GetFileTree(ctx context.Context, ref RepositoryRef) ([]string, error)
	GetFileContent(ctx context.Context, ref RepositoryRef, path string) ([]byte, error)
}

// RemediationResponse identifies the change request opened for a remediation.
type RemediationResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Remediator opens a change request (pull request, branch, file) for a remediation plan.
type Remediator interface {
	CreateRemediationRequest(ctx context.Context, ref RepositoryRef, packageName, targetVersion, title, body string) (RemediationResponse, error)
}

// Preparer is implemented by sources that must sync a repository (for example
// a fresh clone) before its content can be read.
type Preparer interface {
	Prepare(ctx context.Context, ref RepositoryRef) error
}
