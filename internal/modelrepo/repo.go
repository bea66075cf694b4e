package modelrepo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"orchestd/internal/common/fsutil"
)

// ErrNotFound is returned for unknown model ids.
var ErrNotFound = errors.New("model not found")

// Options configures a Repo.
type Options struct {
	// Dir is the models directory; relative file paths resolve against it.
	Dir string
	// Ledger, when set, caches sha256 verifications.
	Ledger     *Ledger
	HTTPClient *http.Client
	Log        zerolog.Logger
}

// Repo is the model repository used by the lifecycle manager.
type Repo struct {
	dir    string
	ledger *Ledger
	http   *http.Client
	log    zerolog.Logger
	group  singleflight.Group

	mu     sync.RWMutex
	models map[string]ModelDescriptor
}

// New returns an empty repository rooted at opts.Dir.
func New(opts Options) (*Repo, error) {
	dir, err := fsutil.ExpandHome(opts.Dir)
	if err != nil {
		return nil, err
	}
	if dir != "" {
		if dir, err = filepath.Abs(dir); err != nil {
			return nil, fmt.Errorf("abs path: %w", err)
		}
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Repo{
		dir:    dir,
		ledger: opts.Ledger,
		http:   hc,
		log:    opts.Log,
		models: map[string]ModelDescriptor{},
	}, nil
}

// Add registers descriptors, replacing any with the same id.
func (r *Repo) Add(ds ...ModelDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range ds {
		r.models[d.ID] = d
	}
}

// AddScanned registers *.gguf files from the models directory that are not
// already described by the catalog.
func (r *Repo) AddScanned() (int, error) {
	if r.dir == "" {
		return 0, nil
	}
	ds, err := ScanDir(r.dir)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, d := range ds {
		if _, ok := r.models[d.ID]; ok {
			continue
		}
		r.models[d.ID] = d
		n++
	}
	return n, nil
}

// List returns all known descriptors sorted by id.
func (r *Repo) List() []ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ModelDescriptor, 0, len(r.models))
	for _, d := range r.models {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Describe returns the descriptor for id.
func (r *Repo) Describe(_ context.Context, id string) (ModelDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.models[id]
	if !ok {
		return ModelDescriptor{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return d, nil
}

// LocalPath returns the absolute path of the model's first file.
func (r *Repo) LocalPath(id string) (string, error) {
	d, err := r.Describe(context.Background(), id)
	if err != nil {
		return "", err
	}
	return r.resolve(d.Files[0]), nil
}

// IsAvailable reports whether every file is present with the expected size
// and, where a digest is known, a verified sha256.
func (r *Repo) IsAvailable(ctx context.Context, d ModelDescriptor) (bool, error) {
	for _, f := range d.Files {
		ok, err := r.fileReady(ctx, d.ID, f)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// Verify rehashes every file of id, ignoring the ledger, and records the
// result.
func (r *Repo) Verify(ctx context.Context, id string) error {
	d, err := r.Describe(ctx, id)
	if err != nil {
		return err
	}
	for _, f := range d.Files {
		p := r.resolve(f)
		if err := checkFile(p, f); err != nil {
			if r.ledger != nil {
				_ = r.ledger.Forget(ctx, p)
			}
			return err
		}
		if f.SHA256 != "" {
			r.recordVerified(ctx, id, p, f.SHA256)
		}
	}
	return nil
}

// Acquire downloads and verifies any missing files of d. Concurrent calls
// for the same model share one download.
func (r *Repo) Acquire(ctx context.Context, d ModelDescriptor, progress func(Progress)) error {
	_, err, shared := r.group.Do(d.ID, func() (any, error) {
		start := time.Now()
		for _, f := range d.Files {
			ok, err := r.fileReady(ctx, d.ID, f)
			if err != nil {
				return nil, err
			}
			if ok {
				continue
			}
			r.log.Info().Str("model", d.ID).Str("file", f.Path).Str("url", f.URL).Msg("download_start")
			if err := r.download(ctx, d.ID, f, r.resolve(f), progress); err != nil {
				r.log.Warn().Err(err).Str("model", d.ID).Str("file", f.Path).Msg("download_failed")
				return nil, err
			}
		}
		r.log.Debug().Str("model", d.ID).Dur("took", time.Since(start)).Msg("acquire_done")
		return nil, nil
	})
	if shared {
		r.log.Debug().Str("model", d.ID).Msg("acquire_shared")
	}
	return err
}

func (r *Repo) fileReady(ctx context.Context, modelID string, f File) (bool, error) {
	p := r.resolve(f)
	fi, err := os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", p, err)
	}
	if f.Size > 0 && fi.Size() != f.Size {
		return false, nil
	}
	if f.SHA256 == "" {
		return true, nil
	}
	if r.ledger != nil {
		ok, err := r.ledger.Verified(ctx, p, f.SHA256, fi)
		if err != nil {
			r.log.Warn().Err(err).Str("path", p).Msg("ledger_lookup_failed")
		} else if ok {
			return true, nil
		}
	}
	if err := checkFile(p, f); err != nil {
		r.log.Warn().Err(err).Str("model", modelID).Msg("verify_failed")
		return false, nil
	}
	r.recordVerified(ctx, modelID, p, f.SHA256)
	return true, nil
}

func (r *Repo) recordVerified(ctx context.Context, modelID, path, sha string) {
	if r.ledger == nil {
		return
	}
	fi, err := os.Stat(path)
	if err != nil {
		return
	}
	if err := r.ledger.Record(ctx, modelID, path, sha, fi); err != nil {
		r.log.Warn().Err(err).Str("path", path).Msg("ledger_record_failed")
	}
}

func (r *Repo) resolve(f File) string {
	if filepath.IsAbs(f.Path) || r.dir == "" {
		return f.Path
	}
	return filepath.Join(r.dir, f.Path)
}
