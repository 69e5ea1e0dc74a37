package main

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/go-github/v47/github"
)

const (
	branchPrefix = "vulnimpact/"
	planFolder   = ".vulnimpact"
)

var unsafeRefChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// safeName turns a package name such as "@scope/pkg" into "scope-pkg".
func safeName(s string) string {
	s = strings.TrimPrefix(s, "@")
	s = unsafeRefChars.ReplaceAllString(strings.ReplaceAll(s, "/", "-"), "-")
	return strings.Trim(s, "-.")
}

// remediationBranch is the branch a remediation for pkg@version is committed to.
func remediationBranch(pkg, version string) string {
	return branchPrefix + safeName(pkg) + "-" + safeName(version)
}

// planFile is the repository path of the committed plan.
func planFile(pkg, version string) string {
	return planFolder + "/" + safeName(pkg) + "-" + safeName(version) + ".md"
}

// isStatus reports whether an API call failed with the given HTTP status.
func isStatus(resp *github.Response, err error, status int) bool {
	if resp != nil && resp.StatusCode == status {
		return true
	}
	var ghErr *github.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == status
}

func isNotFound(resp *github.Response, err error) bool {
	return isStatus(resp, err, http.StatusNotFound)
}

// refExists recognizes the validation error GitHub returns for a duplicate ref.
func refExists(resp *github.Response, err error) bool {
	return isStatus(resp, err, http.StatusUnprocessableEntity) &&
		strings.Contains(strings.ToLower(err.Error()), "already exists")
}
