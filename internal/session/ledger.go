package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/fyrsmithlabs/issueforge/internal/store"
)

// LedgerPath is where the iteration index is persisted on the session branch.
const LedgerPath = "plans/iterations/ledger.json"

// Record is one persisted quality gate pass.
type Record struct {
	Phase      string    `json:"phase"`
	Index      int       `json:"index"`
	Score      int       `json:"score"`
	Passed     bool      `json:"passed"`
	Degraded   bool      `json:"degraded,omitempty"`
	Generation int       `json:"generation"`
	Path       string    `json:"path"`
	RecordedAt time.Time `json:"recorded_at"`
}

type ledgerFile struct {
	Next    map[string]int `json:"next"`
	Records []Record       `json:"records"`
}

// Ledger hands out monotonically increasing iteration indexes per phase
// and persists every record. Indexes survive restarts because the ledger is
// reloaded from the branch.
type Ledger struct {
	files store.Files
	now   func() time.Time

	mu         sync.Mutex
	loaded     bool
	generation int
	state      ledgerFile
}

// NewLedger returns a ledger persisting through files.
func NewLedger(files store.Files) *Ledger {
	return &Ledger{files: files, now: time.Now}
}

// SetGeneration tags subsequent records with the session restart count.
func (l *Ledger) SetGeneration(g int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.generation = g
}

func (l *Ledger) load(ctx context.Context) error {
	if l.loaded {
		return nil
	}
	l.state = ledgerFile{Next: map[string]int{}}
	f, err := l.files.Read(ctx, LedgerPath)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return fmt.Errorf("reading iteration ledger: %w", err)
	default:
		if err := json.Unmarshal([]byte(f.Content), &l.state); err != nil {
			return fmt.Errorf("decoding iteration ledger: %w", err)
		}
		if l.state.Next == nil {
			l.state.Next = map[string]int{}
		}
	}
	l.loaded = true
	return nil
}

// Record persists candidate and verdict as the next iteration of phase and
// returns its index.
func (l *Ledger) Record(ctx context.Context, phase, candidate string, v Verdict, passed bool) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.load(ctx); err != nil {
		return 0, err
	}

	idx := l.state.Next[phase]
	rec := Record{
		Phase:      phase,
		Index:      idx,
		Score:      v.Score,
		Passed:     passed,
		Degraded:   v.Degraded,
		Generation: l.generation,
		Path:       path.Join("plans/iterations", phase, fmt.Sprintf("%03d.md", idx)),
		RecordedAt: l.now().UTC(),
	}

	body := fmt.Sprintf("<!-- phase=%s iteration=%d score=%d passed=%t -->\n\n%s\n\n---\n\n%s",
		phase, idx, v.Score, passed, candidate, v.Feedback())
	if err := l.files.Save(ctx, rec.Path, body, fmt.Sprintf("%s: iteration %d (score %d)", phase, idx, v.Score)); err != nil {
		return 0, fmt.Errorf("saving iteration record: %w", err)
	}

	l.state.Next[phase] = idx + 1
	l.state.Records = append(l.state.Records, rec)
	data, err := json.MarshalIndent(l.state, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encoding iteration ledger: %w", err)
	}
	if err := l.files.Save(ctx, LedgerPath, string(data), fmt.Sprintf("%s: update iteration ledger", phase)); err != nil {
		return 0, fmt.Errorf("saving iteration ledger: %w", err)
	}
	return idx, nil
}

// Records returns a copy of all records in insertion order.
func (l *Ledger) Records(ctx context.Context) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.load(ctx); err != nil {
		return nil, err
	}
	return append([]Record(nil), l.state.Records...), nil
}
