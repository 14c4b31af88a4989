// Command oembedctl validates filter configuration, manages stored
// providers and runs the embed filter from the command line.
package main

import (
	"fmt"
	"os"

	// Register built-in plugins so they appear in the plugin list.
	_ "github.com/ferro-labs/oembed-filter/internal/plugins/hostfilter"
	_ "github.com/ferro-labs/oembed-filter/internal/plugins/logger"
	_ "github.com/ferro-labs/oembed-filter/internal/plugins/maxsize"
	_ "github.com/ferro-labs/oembed-filter/internal/plugins/ratelimit"
	_ "github.com/ferro-labs/oembed-filter/internal/plugins/sanitize"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
