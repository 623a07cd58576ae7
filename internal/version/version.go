package version

import "fmt"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Short возвращает только номер версии.
func Short() string { return version }

// String возвращает полную строку версии, заполняемую через -ldflags.
func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}
