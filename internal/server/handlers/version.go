package handlers

import "net/http"

// VersionInfo is the build identity reported by /version.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

var versionInfo = VersionInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}

// SetVersionInfo records the build identity.
func SetVersionInfo(info VersionInfo) {
	versionInfo = info
}

func VersionHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, versionInfo)
}
