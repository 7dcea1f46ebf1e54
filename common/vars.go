package common

// Version is overridden at build time with -ldflags "-X github.com/ruteri/attested-http/common.Version=..."
var Version = "dev"

const PackageName = "github.com/ruteri/attested-http"
