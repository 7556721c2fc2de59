package hosts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/cuemby/hostfix/pkg/log"
	"github.com/cuemby/hostfix/pkg/metrics"
	"github.com/cuemby/hostfix/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// DefaultCleanupKeyword removes any mapping line mentioning it
	DefaultCleanupKeyword = "github"

	backupPrefix     = "hosts_"
	backupSuffix     = ".bak"
	backupTimeLayout = "20060102_150405.000"
)

// DefaultPath returns the hosts file location for the running OS
func DefaultPath() string {
	switch runtime.GOOS {
	case "windows":
		winDir := os.Getenv("WINDIR")
		if winDir == "" {
			winDir = `C:\Windows`
		}
		return filepath.Join(winDir, "System32", "drivers", "etc", "hosts")
	default:
		return "/etc/hosts"
	}
}

// Result is the outcome of Apply
type Result struct {
	Success    bool
	Err        error
	BackupPath string
	Encoding   Encoding
	// Unchanged is set when the file already held the mapping
	Unchanged bool
}

// Config configures a Writer
type Config struct {
	// Path is the hosts file (default: DefaultPath())
	Path string

	// BackupDir receives hosts_<timestamp>.bak copies (default: the
	// directory of Path)
	BackupDir string

	// Hostnames are always owned by hostfix: their lines are removed on
	// every Apply even when the mapping omits them
	Hostnames []string

	// CleanupKeyword additionally removes lines whose hostnames contain it
	CleanupKeyword string
}

// Writer edits the hosts file
type Writer struct {
	cfg        Config
	flusher    Flusher
	privileged func() bool
	clock      clock.Clock
	logger     zerolog.Logger
}

// Option configures a Writer
type Option func(*Writer)

// WithFlusher sets the resolver cache invalidation hook
func WithFlusher(f Flusher) Option {
	return func(w *Writer) {
		w.flusher = f
	}
}

// WithPrivilegeCheck replaces the elevated-privilege check
func WithPrivilegeCheck(check func() bool) Option {
	return func(w *Writer) {
		w.privileged = check
	}
}

// WithClock sets the clock used to name backups
func WithClock(c clock.Clock) Option {
	return func(w *Writer) {
		w.clock = c
	}
}

// NewWriter creates a hosts file writer
func NewWriter(cfg Config, opts ...Option) *Writer {
	if cfg.Path == "" {
		cfg.Path = DefaultPath()
	}
	if cfg.BackupDir == "" {
		cfg.BackupDir = filepath.Dir(cfg.Path)
	}

	w := &Writer{
		cfg:        cfg,
		flusher:    DefaultFlusher(),
		privileged: isElevated,
		clock:      clock.New(),
		logger:     log.WithComponent("hosts"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Path returns the hosts file path
func (w *Writer) Path() string {
	return w.cfg.Path
}

// Apply replaces the managed lines of the hosts file with mapping in one
// write. Without elevated privileges it fails with types.ErrPermission
// before touching anything. A failed backup is logged and does not stop
// the write. The resolver cache is flushed after a successful write.
func (w *Writer) Apply(ctx context.Context, mapping map[string]string, backup bool) Result {
	if !w.privileged() {
		metrics.HostsWritesTotal.WithLabelValues("permission").Inc()
		return Result{Err: fmt.Errorf("write %s: %w", w.cfg.Path, types.ErrPermission)}
	}

	raw, err := os.ReadFile(w.cfg.Path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return w.fail(Result{}, fmt.Errorf("read %s: %w", w.cfg.Path, wrapPermission(err)))
	}

	text, enc := Decode(raw)
	res := Result{Encoding: enc}
	if enc == EncodingUTF8Lossy {
		w.logger.Warn().Str("path", w.cfg.Path).Msg("Hosts file encoding not recognized, rewriting as UTF-8")
	}

	if backup && len(raw) > 0 {
		path, err := w.backup(raw)
		if err != nil {
			w.logger.Warn().Err(err).Msg("Failed to back up hosts file")
		} else {
			res.BackupPath = path
		}
	}

	managed := append(append([]string(nil), w.cfg.Hostnames...), keys(mapping)...)
	updated := rewrite(text, mapping, newMatcher(managed, w.cfg.CleanupKeyword))

	out, err := Encode(updated, enc)
	if err != nil {
		return w.fail(res, err)
	}

	if err := os.WriteFile(w.cfg.Path, out, fileMode(w.cfg.Path)); err != nil {
		return w.fail(res, fmt.Errorf("write %s: %w", w.cfg.Path, wrapPermission(err)))
	}

	metrics.HostsWritesTotal.WithLabelValues("success").Inc()
	w.logger.Info().
		Str("path", w.cfg.Path).
		Str("encoding", string(enc)).
		Interface("mapping", mapping).
		Msg("Hosts file updated")

	w.flusher.Flush(context.WithoutCancel(ctx))

	res.Success = true
	return res
}

// Current returns the address each managed hostname resolves to in the
// hosts file. Hostnames without a line are absent from the map.
func (w *Writer) Current() (map[string]string, error) {
	raw, err := os.ReadFile(w.cfg.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	text, _ := Decode(raw)
	return lookup(text, w.cfg.Hostnames), nil
}

// Backups lists backup files, newest first
func (w *Writer) Backups() ([]string, error) {
	entries, err := os.ReadDir(w.cfg.BackupDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.Type().IsRegular() && strings.HasPrefix(name, backupPrefix) && strings.HasSuffix(name, backupSuffix) {
			names = append(names, name)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(w.cfg.BackupDir, name)
	}
	return paths, nil
}

// Restore writes a backup back over the hosts file. An empty backupPath
// restores the newest backup. It returns the backup that was used.
func (w *Writer) Restore(ctx context.Context, backupPath string) (string, error) {
	if !w.privileged() {
		return "", fmt.Errorf("restore %s: %w", w.cfg.Path, types.ErrPermission)
	}

	if backupPath == "" {
		backups, err := w.Backups()
		if err != nil {
			return "", err
		}
		if len(backups) == 0 {
			return "", fmt.Errorf("no backups in %s: %w", w.cfg.BackupDir, types.ErrNotFound)
		}
		backupPath = backups[0]
	}

	data, err := os.ReadFile(backupPath)
	if err != nil {
		return "", fmt.Errorf("read backup: %w", err)
	}
	if err := os.WriteFile(w.cfg.Path, data, fileMode(w.cfg.Path)); err != nil {
		return "", fmt.Errorf("write %s: %w", w.cfg.Path, wrapPermission(err))
	}

	w.logger.Info().Str("backup", backupPath).Str("path", w.cfg.Path).Msg("Hosts file restored")
	w.flusher.Flush(context.WithoutCancel(ctx))
	return backupPath, nil
}

func (w *Writer) backup(raw []byte) (string, error) {
	if err := os.MkdirAll(w.cfg.BackupDir, 0755); err != nil {
		return "", err
	}
	name := backupPrefix + w.clock.Now().Format(backupTimeLayout) + backupSuffix
	path := filepath.Join(w.cfg.BackupDir, name)
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return "", err
	}
	w.logger.Debug().Str("backup", path).Msg("Hosts file backed up")
	return path, nil
}

func (w *Writer) fail(res Result, err error) Result {
	label := "error"
	if errors.Is(err, types.ErrPermission) {
		label = "permission"
	}
	metrics.HostsWritesTotal.WithLabelValues(label).Inc()
	w.logger.Error().Err(err).Str("path", w.cfg.Path).Msg("Hosts file update failed")

	res.Success = false
	res.Err = err
	return res
}

func wrapPermission(err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %v", types.ErrPermission, err)
	}
	return err
}

func fileMode(path string) os.FileMode {
	if st, err := os.Stat(path); err == nil {
		return st.Mode().Perm()
	}
	return 0644
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
