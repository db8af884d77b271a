package manifest

import (
	"path/filepath"
	"strings"
)

// StackName derives the globally stable stack name for a template/account
// pair. It is a pure function of its inputs: re-running against an unchanged
// manifest always names the same stack the same way. Both the template's
// base name and the account id are embedded, so distinct pairs never
// collide.
func StackName(prefix, templateFile, accountID string) string {
	return prefix + "-" + templateBaseName(templateFile) + "-" + accountID
}

func templateBaseName(templateFile string) string {
	base := filepath.Base(templateFile)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
