//go:build unix

package config

import (
	"fmt"
	"os"
)

// checkFilePermissions warns when group or others have any access to path.
func checkFilePermissions(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		return insecureWarning(path,
			fmt.Sprintf("is accessible to other users (%04o)", mode),
			"Run: chmod 600 "+path)
	}
	return ""
}
