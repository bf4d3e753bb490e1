// Package routes provides shared API route constants used by the SDK
// and its test servers to prevent path mismatches.
package routes

import "strings"

const (
	// AuthLogin exchanges email/password for a token pair.
	AuthLogin = "/auth/login"

	// AuthRegister creates an account and returns a token pair.
	AuthRegister = "/auth/register"

	// AuthRefresh swaps a refresh token for a new token pair.
	AuthRefresh = "/auth/refresh" // #nosec G101 -- route path, not a credential

	// AuthMe returns the current authenticated user's profile.
	AuthMe = "/auth/me"

	// Datasets lists uploaded datasets.
	Datasets = "/datasets"

	// DatasetsUpload accepts a multipart CSV/XLSX upload.
	DatasetsUpload = "/datasets/upload"

	// Models lists model runs.
	Models = "/models"

	// Workspace returns the caller's workspace.
	Workspace = "/workspace"

	// WorkspaceMembers lists members of the caller's workspace.
	WorkspaceMembers = "/workspace/members"
)

// DatasetByID returns the path for a single dataset.
func DatasetByID(id string) string { return Datasets + "/" + id }

// ModelByID returns the path for a single model run.
func ModelByID(id string) string { return Models + "/" + id }

// IsAuthExempt reports whether path is an authentication endpoint that must
// never trigger token renewal.
func IsAuthExempt(path string) bool {
	switch path {
	case AuthLogin, AuthRegister, AuthRefresh:
		return true
	}
	return false
}

// Template maps a request path to the route it matches, replacing ids with
// "{id}". Unknown paths map to "other" so metric labels stay bounded.
func Template(path string) string {
	switch path {
	case AuthLogin, AuthRegister, AuthRefresh, AuthMe,
		Datasets, DatasetsUpload, Models, Workspace, WorkspaceMembers:
		return path
	}
	for _, collection := range []string{Datasets, Models} {
		id, ok := strings.CutPrefix(path, collection+"/")
		if ok && id != "" && !strings.Contains(id, "/") {
			return collection + "/{id}"
		}
	}
	return "other"
}
