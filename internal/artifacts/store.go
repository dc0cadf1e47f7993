package artifacts

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/protocol-pilot/constants"
	"github.com/joseph-ayodele/protocol-pilot/internal/protocol"
)

// Store manages per-job artifact directories under a data root:
//
//	<root>/artifacts/<job_id>/{pages,doc_flags,sections,extracted,gap_report,status}.json
//	<root>/artifacts/<job_id>/candidates.jsonl
//
// JSON artifacts are replaced atomically (write-temp-then-rename), so
// external readers never observe a partial document. The store assumes
// a single writer per job id; jobs do not share mutable state.
type Store struct {
	root   string
	logger *slog.Logger
}

func NewStore(root string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Join(root, "artifacts"), 0o755); err != nil {
		return nil, fmt.Errorf("create data root: %w", err)
	}
	return &Store{root: root, logger: logger}, nil
}

// NewJobID mints a sortable display id: job_<timestamp>_<hex4>.
func NewJobID() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("job_%s_%s", time.Now().UTC().Format("20060102-150405"), hex.EncodeToString(buf))
}

// JobDir returns the artifact directory for a job id.
func (s *Store) JobDir(jobID string) string {
	return filepath.Join(s.root, "artifacts", jobID)
}

// EnsureJob creates the job's artifact directory.
func (s *Store) EnsureJob(jobID string) error {
	return os.MkdirAll(s.JobDir(jobID), 0o755)
}

// WriteJSON atomically replaces one named JSON artifact.
func (s *Store) WriteJSON(jobID, name string, v any) error {
	if err := s.EnsureJob(jobID); err != nil {
		return err
	}
	path := filepath.Join(s.JobDir(jobID), name)
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(s.JobDir(jobID), name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// ReadJSON reads one named JSON artifact into out.
func (s *Store) ReadJSON(jobID, name string, out any) error {
	b, err := os.ReadFile(filepath.Join(s.JobDir(jobID), name))
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// Exists reports whether a named artifact is present.
func (s *Store) Exists(jobID, name string) bool {
	st, err := os.Stat(filepath.Join(s.JobDir(jobID), name))
	return err == nil && !st.IsDir()
}

// ReadRaw returns the raw bytes of a whitelisted artifact, for serving
// to external readers.
func (s *Store) ReadRaw(jobID, name string) ([]byte, error) {
	if !allowedArtifact(name) {
		return nil, fmt.Errorf("artifact %q: %w", name, os.ErrNotExist)
	}
	return os.ReadFile(filepath.Join(s.JobDir(jobID), name))
}

func allowedArtifact(name string) bool {
	switch name {
	case constants.PagesArtifact, constants.DocFlagsArtifact, constants.SectionsArtifact,
		constants.CandidatesArtifact, constants.WinnersArtifact,
		constants.GapReportArtifact, constants.StatusArtifact:
		return true
	}
	return false
}

// ResetCandidates truncates the candidate log at the start of a pass.
func (s *Store) ResetCandidates(jobID string) error {
	if err := s.EnsureJob(jobID); err != nil {
		return err
	}
	return os.WriteFile(s.candidatesPath(jobID), nil, 0o644)
}

// AppendCandidates appends accepted candidates to the per-job log, one
// JSON document per line.
func (s *Store) AppendCandidates(jobID string, cands []protocol.Candidate) error {
	if len(cands) == 0 {
		return nil
	}
	f, err := os.OpenFile(s.candidatesPath(jobID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			s.logger.Warn("candidate log close error", "job_id", jobID, "error", cerr)
		}
	}()
	w := bufio.NewWriter(f)
	for _, c := range cands {
		b, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshal candidate: %w", err)
		}
		if _, err := w.Write(append(b, '\n')); err != nil {
			return err
		}
	}
	return w.Flush()
}

// ReadCandidates returns the full candidate log. Blank or corrupt lines
// are skipped rather than failing the read.
func (s *Store) ReadCandidates(jobID string) ([]protocol.Candidate, error) {
	f, err := os.Open(s.candidatesPath(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var out []protocol.Candidate
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var c protocol.Candidate
		if err := json.Unmarshal(line, &c); err != nil {
			s.logger.Warn("skipping corrupt candidate line", "job_id", jobID, "error", err)
			continue
		}
		out = append(out, c)
	}
	return out, sc.Err()
}

func (s *Store) candidatesPath(jobID string) string {
	return filepath.Join(s.JobDir(jobID), constants.CandidatesArtifact)
}

// MergeStatus applies a partial update to the job's status record: new
// keys overwrite, unspecified keys persist. The status record is the
// only artifact with cross-pass memory.
func (s *Store) MergeStatus(jobID string, fields map[string]any) error {
	status := map[string]any{}
	if s.Exists(jobID, constants.StatusArtifact) {
		if err := s.ReadJSON(jobID, constants.StatusArtifact, &status); err != nil {
			s.logger.Warn("status read failed, rebuilding", "job_id", jobID, "error", err)
			status = map[string]any{}
		}
	}
	for k, v := range fields {
		status[k] = v
	}
	status["schema_version"] = constants.SchemaVersion
	status["job_id"] = jobID
	status["updated_at"] = time.Now().UTC().Format(time.RFC3339)
	return s.WriteJSON(jobID, constants.StatusArtifact, status)
}

// ReadStatus returns the current status record, or an empty map when
// none exists yet.
func (s *Store) ReadStatus(jobID string) (map[string]any, error) {
	status := map[string]any{}
	if !s.Exists(jobID, constants.StatusArtifact) {
		return status, nil
	}
	err := s.ReadJSON(jobID, constants.StatusArtifact, &status)
	return status, err
}
