package shared

import (
	"sync"

	"github.com/hashicorp/go-plugin"
)

const (
	PluginTypeVCS string = "vcs"
)

var HandshakeConfig = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "VULNIMPACT",
	MagicCookieValue: "5d1c0b8f3e7a4c2d9b6e0f18a3c7d4e2b9f1a6c8",
}

var PluginMap = map[string]plugin.Plugin{
	PluginTypeVCS: &VCSPlugin{},
}

// ForEachBounded calls f for every value with at most limit calls running at once.
// It returns after all calls have finished.
func ForEachBounded[T any](limit int, values []T, f func(i int, value T)) {
	if limit < 1 {
		limit = 1
	}
	guard := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i, value := range values {
		guard <- struct{}{} // would block if guard channel is already filled
		wg.Add(1)
		go func(i int, value T) {
			defer wg.Done()
			defer func() { <-guard }()
			f(i, value)
		}(i, value)
	}
	wg.Wait()
}
