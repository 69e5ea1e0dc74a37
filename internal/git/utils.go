package git

import (
	"github.com/go-git/go-git/v5/plumbing"
)

// determineBranch returns the branch reference, or "" to follow the remote HEAD.
func determineBranch(branch string) plumbing.ReferenceName {
	if branch == "" {
		return ""
	}
	ref := plumbing.ReferenceName(branch)
	if !ref.IsBranch() && !ref.IsRemote() && !ref.IsTag() && !ref.IsNote() {
		return plumbing.NewBranchReferenceName(branch)
	}
	return ref
}
