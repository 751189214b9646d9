// Package banner prints the startup banner.
package banner

import (
	"fmt"
	"io"
)

// Version is the build version, overridden at link time with
// -ldflags "-X faultline/internal/banner.Version=...".
var Version = "0.1.0"

// Print writes the banner to w.
func Print(w io.Writer) {
	banner := `
    ______            ____  ___
   / ____/___ ___  __/ / /_/ (_)___  ___
  / /_  / __ ` + "`" + `/ / / / / __/ / / __ \/ _ \
 / __/ / /_/ / /_/ / / /_/ / / / / /  __/
/_/    \__,_/\__,_/_/\__/_/_/_/ /_/\___/
            v%s - Error Sentinel
    `
	fmt.Fprintf(w, banner, Version)
	fmt.Fprintln(w, "\n------------------------------------------------")
}
