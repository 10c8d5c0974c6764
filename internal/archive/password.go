package archive

import "strings"

// ExportPassword returns the password protecting a full export: the standard
// backup passphrase with spaces stripped when standard backups are enabled,
// otherwise empty (the archive stays plaintext).
func ExportPassword(backupsEnabled bool, passphrase string) string {
	if !backupsEnabled {
		return ""
	}
	return strings.ReplaceAll(passphrase, " ", "")
}
