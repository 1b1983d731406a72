// Package namespace maps storage namespace paths to the paths of the
// locally mounted namespace and back, and queries dCache specific
// metadata through the mounted file system.
package namespace

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Resolver translates paths between the namespace and the local mount.
// Zero value maps every path to itself.
type Resolver struct {
	mountPoint string
	dataRoot   string
}

// NewResolver returns Resolver substituting dataRoot prefix of namespace
// paths with mountPoint.
func NewResolver(mountPoint, dataRoot string) (Resolver, error) {
	if !path.IsAbs(mountPoint) {
		return Resolver{}, fmt.Errorf("mount point %q is not absolute", mountPoint)
	}
	if !path.IsAbs(dataRoot) {
		return Resolver{}, fmt.Errorf("data root %q is not absolute", dataRoot)
	}

	return Resolver{
		mountPoint: path.Clean(mountPoint),
		dataRoot:   path.Clean(dataRoot),
	}, nil
}

// MountPoint returns local mount point.
func (r Resolver) MountPoint() string {
	return r.mountPoint
}

// DataRoot returns namespace root.
func (r Resolver) DataRoot() string {
	return r.dataRoot
}

func replacePrefix(p, from, to string) string {
	if from == to {
		return p
	}
	if p == from {
		return to
	}
	if rest, ok := strings.CutPrefix(p, strings.TrimSuffix(from, "/")+"/"); ok {
		return path.Join(to, rest)
	}
	return p
}

// LocalPath returns local path of the namespace path. Paths outside of
// the data root are returned unchanged.
func (r Resolver) LocalPath(nsPath string) string {
	return replacePrefix(nsPath, r.dataRoot, r.mountPoint)
}

// NamespacePath returns namespace path of the local path. Paths outside
// of the mount point are returned unchanged.
func (r Resolver) NamespacePath(localPath string) string {
	return replacePrefix(localPath, r.mountPoint, r.dataRoot)
}

// ErrNoMetadata is returned when the mounted file system does not serve
// dCache dot-file queries.
var ErrNoMetadata = errors.New("namespace metadata is not available")

// dotFile returns path of the dCache magic file ".(tag)(name)" in the
// directory of p.
func dotFile(p, tag string) string {
	return filepath.Join(filepath.Dir(p), ".("+tag+")("+filepath.Base(p)+")")
}

// ID returns the pnfsid of the local file by reading the ".(id)(<name>)"
// magic file next to it.
func ID(localPath string) (string, error) {
	data, err := os.ReadFile(dotFile(localPath, "id"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoMetadata
		}
		return "", fmt.Errorf("read id of %s: %w", localPath, err)
	}

	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", fmt.Errorf("empty id of %s", localPath)
	}

	return id, nil
}
