//go:build windows

package config

import (
	"os"
	"os/exec"
	"strings"
)

// principals whose presence in an ACL means the file is shared.
var sharedPrincipals = []string{"everyone", "authenticated users", "builtin\\users", "users"}

// checkFilePermissions asks icacls for the ACL of path and warns when a
// shared principal can read it. Any failure skips the check.
func checkFilePermissions(path string) string {
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	out, err := exec.Command("icacls", path).Output()
	if err != nil {
		return ""
	}
	acl := strings.ToLower(string(out))
	for _, p := range sharedPrincipals {
		if strings.Contains(acl, p) {
			return insecureWarning(path, "may be readable by "+p,
				`Run in PowerShell: icacls "`+path+`" /inheritance:r /grant:r "%USERNAME%:F"`)
		}
	}
	return ""
}
