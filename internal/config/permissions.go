package config

import "fmt"

// insecureWarning formats the message printed before loading a config file
// that other users can read.
func insecureWarning(path, detail, fix string) string {
	return fmt.Sprintf("WARNING: Config file '%s' %s\n"+
		"         It may hold store DSNs and the Slack webhook URL.\n"+
		"         %s\n\n", path, detail, fix)
}
