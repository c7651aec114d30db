// Package updater converges an installation to a target release.
//
// An update is a process: files to download are fetched, unpacked and
// verified in chunks inside a staging directory, locally edited files are
// backed up, and a generated shell script moves everything into place in
// one go. The script runs outside the process; the steps after it record
// the new version, migrate the database and clean up.
package updater

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jamesainslie/coreupdater/pkg/coreupdater/api"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/archive"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/install"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/logging"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/manifest"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/process"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/tuner"
)

// ProcessName identifies update processes in storage.
const ProcessName = "update"

// ActionRunScript is the external action requested once the update
// script has been written. Args carry the process id and response path.
const ActionRunScript = "run-script"

// Downloader fetches release archives.
type Downloader interface {
	DownloadArchive(ctx context.Context, revision string, paths []string, target string) error
}

// Migrator brings the database schema in line with the new code and
// returns the number of fixes applied.
type Migrator interface {
	Migrate(ctx context.Context) (int, error)
}

// Initializer runs application specific setup after the files changed.
type Initializer interface {
	Initialize(ctx context.Context, root string) error
}

// Options configures an Updater.
type Options struct {
	Downloader  Downloader
	Migrator    Migrator
	Initializer Initializer

	// ChunkSize is the number of files per download. Defaults to
	// tuner.DefaultChunkSize.
	ChunkSize int

	// CacheFiles are removed by the update script, CacheDirs emptied after
	// the update. Both are relative to the root.
	CacheFiles []string
	CacheDirs  []string

	Limits archive.Limits
	Now    func() time.Time
}

// Settings start an update.
type Settings struct {
	Root           string             `json:"root"`
	AdminDir       string             `json:"admin_dir,omitempty"`
	TargetVersion  string             `json:"target_version"`
	TargetRevision string             `json:"target_revision"`
	VersionType    string             `json:"version_type"`
	VersionName    string             `json:"version_name"`
	ChangeSet      manifest.ChangeSet `json:"change_set"`
	TargetFiles    manifest.Manifest  `json:"target_files"`
}

// Result is the outcome of a completed update.
type Result struct {
	VersionType    string          `json:"version_type" yaml:"version_type"`
	VersionName    string          `json:"version_name" yaml:"version_name"`
	BackupDir      string          `json:"backup_dir,omitempty" yaml:"backup_dir,omitempty"`
	BackupFailures []BackupFailure `json:"backup_failures,omitempty" yaml:"backup_failures,omitempty"`
}

const dataBackupFailures = "backup_failures"

// StagingDir is where the files of update id are unpacked.
func StagingDir(root, id string) string {
	return filepath.Join(root, "cache", "coreupdater", id)
}

// BackupDir is where edited files are copied before an update at t.
func BackupDir(root, adminDir string, t time.Time) string {
	return filepath.Join(root, adminDir, "backups", "coreupdater", t.Format("20060102150405"))
}

// ScriptPath is the update script location for update id.
func ScriptPath(root, id string) string {
	return filepath.Join(root, install.Dir, "update-"+id+".sh")
}

// ResponsePath is where the update script records its response.
func ResponsePath(root, id string) string {
	return filepath.Join(root, install.Dir, "update-"+id+".json")
}

// Updater is the process handler applying a change set.
type Updater struct {
	opts   Options
	logger *logging.Logger
}

// New creates an update handler.
func New(opts Options) *Updater {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = tuner.DefaultChunkSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Updater{opts: opts, logger: logging.Get("updater")}
}

// Name implements process.Handler.
func (u *Updater) Name() string { return ProcessName }

// StepTypes implements process.Handler.
func (u *Updater) StepTypes() []process.Step {
	return []process.Step{
		Download{}, Extract{}, Verify{}, RenameDir{}, Backup{},
		CreateScript{}, RunScript{}, PostProcess{}, MigrateDB{},
		InitializeCodebase{}, Cleanup{}, PrepareResult{},
	}
}

// Plan implements process.Handler. It recreates the staging directory.
func (u *Updater) Plan(_ context.Context, id string, s Settings) ([]process.Step, error) {
	if s.Root == "" {
		return nil, errors.New("installation root is required")
	}
	admin := api.AdminDir(s.AdminDir)

	downloads := s.ChangeSet.Downloads()
	for _, p := range downloads {
		if _, ok := s.TargetFiles[p]; !ok {
			return nil, fmt.Errorf("file %s not found in target file list", p)
		}
	}

	staging := StagingDir(s.Root, id)
	if err := os.RemoveAll(staging); err != nil {
		return nil, fmt.Errorf("clearing staging directory: %w", err)
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	backupDir := BackupDir(s.Root, admin.Name(), u.opts.Now())

	var (
		steps []process.Step
		moves []Move
	)
	chunks := split(downloads, u.opts.ChunkSize)
	for i, files := range chunks {
		n, total := i+1, len(chunks)
		name := fmt.Sprintf("chunk-%04d", n)
		arch := filepath.Join(staging, name+".tar.gz")
		dir := filepath.Join(staging, name)

		expected := make(map[string]string, len(files))
		relocate := false
		for _, p := range files {
			remote := admin.ToRemote(p)
			expected[remote] = s.TargetFiles[p]
			relocate = relocate || remote != p
			moves = append(moves, Move{
				From: filepath.Join(dir, filepath.FromSlash(p)),
				To:   filepath.Join(s.Root, filepath.FromSlash(p)),
			})
		}

		steps = append(steps,
			Download{Chunk: n, Total: total, Revision: s.TargetRevision, Files: files, Archive: arch},
			Extract{Chunk: n, Total: total, Archive: arch, Dir: dir},
			Verify{Chunk: n, Total: total, Dir: dir, Files: expected},
		)
		if relocate {
			steps = append(steps, RenameDir{
				From: filepath.Join(dir, api.RemoteAdminDir),
				To:   filepath.Join(dir, admin.Name()),
			})
		}
	}

	backups := split(s.ChangeSet.ManualEdits(), u.opts.ChunkSize)
	for i, files := range backups {
		steps = append(steps, Backup{Chunk: i + 1, Total: len(backups), Files: files, To: backupDir})
	}

	script := NewScript(id, s.Root, ScriptPath(s.Root, id), ResponsePath(s.Root, id),
		moves, s.ChangeSet.Removals(), u.opts.CacheFiles)

	steps = append(steps,
		CreateScript{Script: script},
		RunScript{Script: script.Path, Response: script.Response},
		PostProcess{Version: s.TargetVersion, Revision: s.TargetRevision, Type: s.VersionType},
		MigrateDB{},
		InitializeCodebase{},
		Cleanup{Dirs: []string{staging}, Response: script.Response},
		PrepareResult{VersionType: s.VersionType, VersionName: s.VersionName, BackupDir: backupDir},
	)

	u.logger.Info("update planned", "id", id,
		"download", len(downloads), "chunks", len(chunks),
		"remove", len(s.ChangeSet.Remove), "backup", len(s.ChangeSet.ManualEdits()))
	return steps, nil
}

func split(paths []string, size int) [][]string {
	var out [][]string
	for len(paths) > 0 {
		n := min(size, len(paths))
		out = append(out, paths[:n:n])
		paths = paths[n:]
	}
	return out
}

// Execute implements process.Handler.
func (u *Updater) Execute(ctx context.Context, run *process.StepRun[Settings], step process.Step) process.Result {
	switch s := step.(type) {
	case Download:
		return u.download(ctx, s)
	case Extract:
		return u.extract(s)
	case Verify:
		return u.verify(s)
	case RenameDir:
		return u.renameDir(s)
	case Backup:
		return u.backup(run, s)
	case CreateScript:
		return u.createScript(s)
	case RunScript:
		return u.runScript(run.ID, s)
	case PostProcess:
		return u.postProcess(run.Settings.Root, s)
	case MigrateDB:
		return u.migrate(ctx)
	case InitializeCodebase:
		return u.initialize(ctx, run.Settings.Root)
	case Cleanup:
		return u.cleanup(run.Settings.Root, s)
	case PrepareResult:
		return u.prepareResult(run, s)
	default:
		return process.Failedf("unexpected step %s", step.Kind())
	}
}

// Describe implements process.Handler.
func (u *Updater) Describe(step process.Step) string {
	switch s := step.(type) {
	case Download:
		return fmt.Sprintf("Downloading files, chunk %d out of %d", s.Chunk, s.Total)
	case Extract:
		return fmt.Sprintf("Extracting files, chunk %d out of %d", s.Chunk, s.Total)
	case Verify:
		return fmt.Sprintf("Verifying downloaded files, chunk %d out of %d", s.Chunk, s.Total)
	case RenameDir:
		return fmt.Sprintf("Renaming directory %s to %s", s.From, s.To)
	case Backup:
		return fmt.Sprintf("Backing up files, chunk %d out of %d", s.Chunk, s.Total)
	case CreateScript:
		return "Generating update script"
	case RunScript:
		return "Executing update script"
	case PostProcess:
		return "Update post processing"
	case MigrateDB:
		return "Migrating database"
	case InitializeCodebase:
		return "Initializing codebase"
	case Cleanup:
		return "Cleaning up"
	case PrepareResult:
		return "Finalizing update process"
	default:
		return step.Kind()
	}
}

var _ process.Handler[Settings] = (*Updater)(nil)
