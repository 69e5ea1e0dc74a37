package register

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepositoryID(t *testing.T) {
	tests := []struct {
		name    string
		arg     string
		want    string
		wantErr bool
	}{
		{name: "owner and name", arg: "acme/web", want: "acme/web"},
		{name: "surrounding slashes", arg: " /acme/web/ ", want: "acme/web"},
		{name: "https url", arg: "https://github.com/acme/web", want: "acme/web"},
		{name: "https url with suffix", arg: "https://github.com/acme/web.git", want: "acme/web"},
		{name: "bare name", arg: "web", wantErr: true},
		{name: "empty", arg: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repositoryID(tt.arg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
