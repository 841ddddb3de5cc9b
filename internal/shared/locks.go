package shared

import "fmt"

// ExportLockKey builds the redis key guarding an in-flight export of one document.
func ExportLockKey(subject string) string {
	return fmt.Sprintf("export:%s:lock", subject)
}
