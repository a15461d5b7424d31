package cmdline

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DumpDiagnostic writes a redacted snapshot of a full cmdline, and the
// extraction result, to /tmp/make_<prefix>_<HHMMSSmmm>.<caller>.txt. This
// mirrors the original extractor's always-on temp-file dump, but is gated
// behind the caller's debug level (see internal/memdebug) and redacts the
// cmdline first. It is a diagnostic aid only, not a stable interface.
func DumpDiagnostic(prefix, caller, fullCmdline string, key string, found bool) error {
	now := time.Now()
	stamp := fmt.Sprintf("%02d%02d%02d%03d", now.Hour(), now.Minute(), now.Second(), now.Nanosecond()/1e6)
	path := filepath.Join(os.TempDir(), fmt.Sprintf("make_%s_%s.%s.txt", prefix, stamp, caller))

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if found {
		fmt.Fprintf(f, "FOUND: %s\n", key)
	}
	fmt.Fprintln(f, Redact(fullCmdline))
	return nil
}
