package session

import (
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/jobforge/jobforge/template"
)

// SessionSetupError is fatal to the session: setup failed before any
// environment was entered.
type SessionSetupError struct {
	Message string
	Err     error
}

func (e *SessionSetupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session setup: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("session setup: %s", e.Message)
}

func (e *SessionSetupError) Unwrap() error { return e.Err }

const (
	filePerm     = os.FileMode(0644)
	runnablePerm = os.FileMode(0755)
)

// materializeFiles writes embedded files into dir and returns the absolute
// path of each, keyed by declared name. Runnable files get the executable
// bit.
func materializeFiles(dir string, files []template.EmbeddedFile) (map[string]string, error) {
	paths := make(map[string]string, len(files))
	for _, f := range files {
		filename := f.Filename
		if filename == "" {
			filename = f.Name
		}
		perm := filePerm
		if f.Runnable {
			perm = runnablePerm
		}
		p := filepath.Join(dir, filename)
		if err := os.WriteFile(p, []byte(f.Data), perm); err != nil {
			return nil, &SessionSetupError{Message: fmt.Sprintf("materializing embedded file %q", f.Name), Err: err}
		}
		log.WithFields(log.Fields{
			"file":     f.Name,
			"path":     p,
			"runnable": f.Runnable,
		}).Debug("Materialized embedded file")
		paths[f.Name] = p
	}
	return paths, nil
}
