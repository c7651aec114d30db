package api

import "strings"

// RemoteAdminDir is the admin directory name used in release manifests.
const RemoteAdminDir = "admin"

// AdminDir is the local name of the admin directory. Installations rename
// it to hide the back office, so paths below it differ between the server
// and the local tree.
type AdminDir string

// Name returns the local directory name.
func (a AdminDir) Name() string {
	if a == "" {
		return RemoteAdminDir
	}
	return string(a)
}

// Relocated reports whether the local directory differs from the remote one.
func (a AdminDir) Relocated() bool {
	return a.Name() != RemoteAdminDir
}

// ToLocal maps a server path to the local tree.
func (a AdminDir) ToLocal(path string) string {
	return swapPrefix(path, RemoteAdminDir+"/", a.Name()+"/")
}

// ToRemote maps a local path to the server's naming.
func (a AdminDir) ToRemote(path string) string {
	return swapPrefix(path, a.Name()+"/", RemoteAdminDir+"/")
}

func swapPrefix(path, from, to string) string {
	if rest, ok := strings.CutPrefix(path, from); ok {
		return to + rest
	}
	return path
}
