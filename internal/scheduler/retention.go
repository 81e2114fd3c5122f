package scheduler

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
)

type artifactInfo struct {
	path  string
	mtime int64
}

// enforceRetention keeps the `keep` most recently modified .json artifacts
// in dir and deletes the rest. Individual delete errors are swallowed;
// retention is best effort.
func enforceRetention(dir string, keep int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var artifacts []artifactInfo
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		artifacts = append(artifacts, artifactInfo{
			path:  filepath.Join(dir, e.Name()),
			mtime: info.ModTime().UnixNano(),
		})
	}

	if len(artifacts) <= keep {
		return nil
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].mtime > artifacts[j].mtime
	})

	for _, old := range artifacts[keep:] {
		_ = os.Remove(old.path)
	}
	return nil
}

type auditRecord struct {
	RunID     string `json:"run_id"`
	At        string `json:"at"`
	After     string `json:"after"`
	Before    string `json:"before"`
	Processed int    `json:"processed"`
	Forwarded int    `json:"forwarded"`
}

// appendAudit writes one JSON line per completed window to the channel's
// audit log.
func (s *Scheduler) appendAudit(rec auditRecord) error {
	if err := os.MkdirAll(s.opts.ExportDir, 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(s.opts.ExportDir, "audit.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	defer f.Close()

	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}
