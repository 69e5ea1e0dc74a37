package scan

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/scan-io-git/vulnimpact/pkg/shared"
	"github.com/scan-io-git/vulnimpact/pkg/shared/errors"
)

// scanRemote asks the serve listener at server to scan id.
func scanRemote(ctx context.Context, client *resty.Client, server, id string) (shared.ScanResult, error) {
	var (
		result  shared.ScanResult
		failure struct {
			Error string `json:"error"`
		}
	)
	resp, err := client.R().
		SetContext(ctx).
		SetResult(&result).
		SetError(&failure).
		ForceContentType("application/json").
		Post(strings.TrimRight(server, "/") + "/scan/" + strings.Trim(id, "/"))
	if err != nil {
		return shared.ScanResult{}, fmt.Errorf("scan request to %s failed: %w", server, err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		return result, nil
	case http.StatusConflict:
		return shared.ScanResult{}, errors.ErrCycleInProgress
	case http.StatusNotFound:
		return shared.ScanResult{}, fmt.Errorf("repository %s: %w", id, errors.ErrNotFound)
	default:
		return shared.ScanResult{}, fmt.Errorf("scan server returned status %d: %s", resp.StatusCode(), failure.Error)
	}
}
