package scan

import (
	"fmt"
	"net/url"

	"github.com/samber/lo"
)

// validateScanArgs validates the flags provided to the scan command.
func validateScanArgs(options *RunOptionsScan) error {
	if !lo.Contains([]string{FormatJSON, FormatSARIF}, options.Format) {
		return fmt.Errorf("unknown format %q, expected %q or %q", options.Format, FormatJSON, FormatSARIF)
	}
	if options.Plans && options.Format != FormatJSON {
		return fmt.Errorf("the 'plans' flag is only supported with the %q format", FormatJSON)
	}
	if options.History < 0 {
		return fmt.Errorf("the 'history' flag must not be negative")
	}
	if options.Server != "" {
		u, err := url.Parse(options.Server)
		if err != nil || !lo.Contains([]string{"http", "https"}, u.Scheme) || u.Host == "" {
			return fmt.Errorf("the 'server' flag must be an http or https URL, got %q", options.Server)
		}
		if options.Plans || options.History > 0 {
			return fmt.Errorf("the 'server' flag cannot be combined with 'plans' or 'history'")
		}
	}
	return nil
}
