package version

import (
	"fmt"
	"net/http"
)

// These variables are injected at build time.

// AtlasExplorerVersion hosts the version of the app.
var AtlasExplorerVersion = "development"

// Commit is the commit hash of the build
var Commit string

// BuildDate is the date it was built
var BuildDate string

// GoVersion is the go version that was used to compile this
var GoVersion string

// UserAgent returns the User-Agent header value sent on every request to the
// Atlas Explorer APIs.
func UserAgent() string {
	return fmt.Sprintf("atlasexplorer/%s", AtlasExplorerVersion)
}

// SetUserAgent sets the User-Agent header on the supplied request.
func SetUserAgent(req *http.Request) {
	req.Header.Set("User-Agent", UserAgent())
}
