package main

import (
	"fmt"

	"github.com/scan-io-git/vulnimpact/pkg/shared"
)

// validateRequestBase checks that a request addresses a repository.
func validateRequestBase(req shared.VCSRequestBase) error {
	if req.Namespace == "" {
		return fmt.Errorf("namespace is required")
	}
	if req.Repository == "" {
		return fmt.Errorf("repository is required")
	}
	return nil
}

// validateGetFile checks the necessary fields in VCSGetFileRequest.
func validateGetFile(req shared.VCSGetFileRequest) error {
	if err := validateRequestBase(req.VCSRequestBase); err != nil {
		return err
	}
	if req.Path == "" {
		return fmt.Errorf("path is required")
	}
	return nil
}

// validateRemediation checks the necessary fields in VCSRemediationRequest.
func (g *VCSGithub) validateRemediation(req shared.VCSRemediationRequest) error {
	if err := validateRequestBase(req.VCSRequestBase); err != nil {
		return err
	}
	if req.PackageName == "" || req.TargetVersion == "" {
		return fmt.Errorf("package name and target version are required")
	}
	if !g.authenticated {
		return fmt.Errorf("%s must be set to open pull requests", EnvToken)
	}
	return nil
}
