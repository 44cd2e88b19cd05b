package domain

// UpdateManifest describes the firmware image offered by the update server.
// Size mirrors the declared content length; SizeUnknown (-1) when the server
// did not report one. The declared length informs progress and capacity but
// is not all-determining: the stream ending decides when the transfer is over.
type UpdateManifest struct {
	Version string `json:"version"`
	Size    int64  `json:"size"`
}
