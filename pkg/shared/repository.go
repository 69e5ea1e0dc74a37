package shared

import (
	"fmt"
	"strings"
	"time"
)

// RepositoryRef addresses a repository on the source-control host.
type RepositoryRef struct {
	Namespace  string `json:"namespace"`
	Repository string `json:"repository"`
	Branch     string `json:"branch,omitempty"`
}

// String returns the "owner/name" form of the reference.
func (r RepositoryRef) String() string {
	return r.Namespace + "/" + r.Repository
}

// ParseRepositoryID splits an "owner/name" identifier. Nested namespaces keep
// everything before the last slash as the namespace.
func ParseRepositoryID(id string) (RepositoryRef, error) {
	id = strings.Trim(strings.TrimSpace(id), "/")
	idx := strings.LastIndex(id, "/")
	if idx <= 0 || idx == len(id)-1 {
		return RepositoryRef{}, fmt.Errorf("repository identifier %q must have the form owner/name", id)
	}
	return RepositoryRef{Namespace: id[:idx], Repository: id[idx+1:]}, nil
}

// RepositoryRegistration is a monitored repository and its last-known scan state.
type RepositoryRegistration struct {
	ID               string        `json:"id"`
	DefaultBranch    string        `json:"default_branch"`
	Ecosystem        string        `json:"ecosystem"`
	ManifestPath     string        `json:"manifest_path"`
	LockfilePath     string        `json:"lockfile_path,omitempty"`
	ScanInterval     time.Duration `json:"scan_interval"`
	Active           bool          `json:"active"`
	CreatedAt        time.Time     `json:"created_at"`
	LastScannedAt    time.Time     `json:"last_scanned_at"`
	CriticalHitCount int           `json:"critical_hit_count"`
	TotalPackages    int           `json:"total_packages"`
}

// Ref converts the registration into a source-control reference.
func (r RepositoryRegistration) Ref() RepositoryRef {
	ref, err := ParseRepositoryID(r.ID)
	if err != nil {
		ref = RepositoryRef{Repository: r.ID}
	}
	ref.Branch = r.DefaultBranch
	return ref
}

// Due reports whether the repository should be scanned at the given time.
func (r RepositoryRegistration) Due(now time.Time) bool {
	if r.ScanInterval <= 0 || r.LastScannedAt.IsZero() {
		return true
	}
	return !now.Before(r.LastScannedAt.Add(r.ScanInterval))
}
