package modelrepo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"orchestd/internal/common/fsutil"
)

// progressEvery throttles progress callbacks.
const progressEvery = 4 << 20

type progressWriter struct {
	p        Progress
	fn       func(Progress)
	lastSent int64
}

func (w *progressWriter) Write(b []byte) (int, error) {
	w.p.Downloaded += int64(len(b))
	if w.fn != nil && w.p.Downloaded-w.lastSent >= progressEvery {
		w.lastSent = w.p.Downloaded
		w.fn(w.p)
	}
	return len(b), nil
}

// download fetches f.URL into dst through a temporary file and verifies it
// before the rename.
func (r *Repo) download(ctx context.Context, modelID string, f File, dst string, progress func(Progress)) error {
	if strings.TrimSpace(f.URL) == "" {
		return fmt.Errorf("%s: missing and no url to fetch it from", f.Path)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", f.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %s", f.URL, resp.Status)
	}
	total := f.Size
	if total <= 0 {
		total = resp.ContentLength
	}

	tmp := dst + ".part"
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	h := sha256.New()
	pw := &progressWriter{p: Progress{ModelID: modelID, File: f.Path, Total: total}, fn: progress}
	start := time.Now()
	n, err := io.Copy(io.MultiWriter(out, h, pw), resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", f.Path, err)
	}
	if progress != nil {
		progress(pw.p)
	}
	if f.Size > 0 && n != f.Size {
		_ = os.Remove(tmp)
		return fmt.Errorf("size mismatch for %s: expected %d got %d", f.Path, f.Size, n)
	}
	sum := hex.EncodeToString(h.Sum(nil))
	if f.SHA256 != "" && !strings.EqualFold(sum, f.SHA256) {
		_ = os.Remove(tmp)
		return fmt.Errorf("sha256 mismatch for %s: expected %s got %s", f.Path, f.SHA256, sum)
	}
	if err := fsutil.ReplaceFile(tmp, dst); err != nil {
		return err
	}
	r.log.Info().Str("model", modelID).Str("file", f.Path).Int64("bytes", n).
		Dur("took", time.Since(start)).Msg("download_done")
	if f.SHA256 != "" {
		r.recordVerified(ctx, modelID, dst, sum)
	}
	return nil
}
