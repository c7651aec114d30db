package updater

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jamesainslie/coreupdater/pkg/coreupdater/archive"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/install"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/process"
)

// Download fetches one chunk of files as an archive.
type Download struct {
	Chunk    int      `json:"chunk"`
	Total    int      `json:"total"`
	Revision string   `json:"revision"`
	Files    []string `json:"files"`
	Archive  string   `json:"archive"`
}

func (Download) Kind() string { return "download" }

// Extract unpacks a downloaded chunk and removes the archive.
type Extract struct {
	Chunk   int    `json:"chunk"`
	Total   int    `json:"total"`
	Archive string `json:"archive"`
	Dir     string `json:"dir"`
}

func (Extract) Kind() string { return "extract" }

// Verify checks an unpacked chunk against the target manifest. Files maps
// archive paths to expected hashes.
type Verify struct {
	Chunk int               `json:"chunk"`
	Total int               `json:"total"`
	Dir   string            `json:"dir"`
	Files map[string]string `json:"files"`
}

func (Verify) Kind() string { return "verify" }

// RenameDir moves the admin directory of a chunk to its local name.
type RenameDir struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (RenameDir) Kind() string { return "rename_dir" }

// Backup copies locally edited files before they are replaced.
type Backup struct {
	Chunk int      `json:"chunk"`
	Total int      `json:"total"`
	Files []string `json:"files"`
	To    string   `json:"to"`
}

func (Backup) Kind() string { return "backup" }

// CreateScript writes the update script.
type CreateScript struct {
	Script Script `json:"script"`
}

func (CreateScript) Kind() string { return "create_script" }

// RunScript waits for the update script to have run.
type RunScript struct {
	Script   string `json:"script"`
	Response string `json:"response"`
}

func (RunScript) Kind() string { return "run_script" }

// PostProcess records the installed release and clears caches.
type PostProcess struct {
	Version  string `json:"version"`
	Revision string `json:"revision"`
	Type     string `json:"type,omitempty"`
}

func (PostProcess) Kind() string { return "post_process" }

// MigrateDB applies the automatic schema fixes.
type MigrateDB struct{}

func (MigrateDB) Kind() string { return "migrate_db" }

// InitializeCodebase runs the configured initialization hook.
type InitializeCodebase struct{}

func (InitializeCodebase) Kind() string { return "initialize_codebase" }

// Cleanup removes staging directories.
type Cleanup struct {
	Dirs     []string `json:"dirs"`
	Response string   `json:"response,omitempty"`
}

func (Cleanup) Kind() string { return "cleanup" }

// PrepareResult stores the update result.
type PrepareResult struct {
	VersionType string `json:"version_type"`
	VersionName string `json:"version_name"`
	BackupDir   string `json:"backup_dir"`
}

func (PrepareResult) Kind() string { return "prepare_result" }

// failure converts err into a failed result, using its details when it
// carries any.
func failure(message string, err error) process.Result {
	var d detailer
	if errors.As(err, &d) {
		return process.Failed(message, d.Details())
	}
	return process.Failed(message, err.Error())
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return !errors.Is(err, fs.ErrNotExist)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (u *Updater) download(ctx context.Context, s Download) process.Result {
	if u.opts.Downloader == nil {
		return process.Failed("No release source configured", "")
	}
	if err := u.opts.Downloader.DownloadArchive(ctx, s.Revision, s.Files, s.Archive); err != nil {
		return failure(fmt.Sprintf("Failed to download files, chunk %d", s.Chunk), err)
	}
	return process.Done()
}

func (u *Updater) extract(s Extract) process.Result {
	// A previous run extracted and removed the archive before its outcome
	// was saved; the verify step still checks the extracted files.
	if !exists(s.Archive) && isDir(s.Dir) {
		u.logger.Debug("chunk already extracted", "chunk", s.Chunk)
		return process.Done()
	}
	defer os.Remove(s.Archive)

	files, err := archive.Extract(s.Archive, s.Dir, u.opts.Limits)
	if err != nil {
		return process.Failed(fmt.Sprintf("Downloaded archive %s is invalid", filepath.Base(s.Archive)), err.Error())
	}
	u.logger.Debug("chunk extracted", "chunk", s.Chunk, "files", len(files))
	return process.Done()
}

func (u *Updater) verify(s Verify) process.Result {
	if err := VerifyChunk(s.Dir, s.Files); err != nil {
		return failure(capitalize(err.Error()), err)
	}
	return process.Done()
}

func (u *Updater) renameDir(s RenameDir) process.Result {
	if !exists(s.From) && isDir(s.To) {
		return process.Done()
	}
	info, err := os.Stat(s.From)
	if err != nil || !info.IsDir() {
		return process.Failed("Not a directory: "+s.From, fmt.Sprint(err))
	}
	if err := os.Rename(s.From, s.To); err != nil {
		return process.Failed(fmt.Sprintf("Failed to rename directory %s to %s", s.From, s.To), err.Error())
	}
	return process.Done()
}

func (u *Updater) backup(run *process.StepRun[Settings], s Backup) process.Result {
	failures := backupFiles(run.Settings.Root, s.To, s.Files)
	if len(failures) == 0 {
		return process.Done()
	}

	for _, f := range failures {
		u.logger.Warn("backup failed", "path", f.Path, "error", f.Error)
	}
	var all []BackupFailure
	if _, err := run.Get(dataBackupFailures, &all); err != nil {
		return process.FailedErr(err, "")
	}
	if err := run.Set(dataBackupFailures, append(all, failures...)); err != nil {
		return process.FailedErr(err, "")
	}
	return process.Done()
}

func (u *Updater) createScript(s CreateScript) process.Result {
	body, err := s.Script.Write()
	if err != nil {
		return process.Failed("Failed to create update script",
			fmt.Sprintf("Update script: %s\n\n\n%s", s.Script.Path, body))
	}
	u.logger.Info("update script written", "path", s.Script.Path,
		"moves", len(s.Script.Moves), "removals", len(s.Script.Remove))
	return process.DoneThen(scriptAction(s.Script.ProcessID, s.Script.Path, s.Script.Response))
}

func scriptAction(id, script, response string) process.External {
	return process.External{
		Action: ActionRunScript,
		Target: script,
		Args:   map[string]string{"process_id": id, "response": response},
	}
}

func (u *Updater) runScript(id string, s RunScript) process.Result {
	pending := scriptAction(id, s.Script, s.Response)
	if _, err := os.Stat(s.Script); err == nil {
		return process.Await(pending)
	}
	body, err := os.ReadFile(s.Response)
	if errors.Is(err, fs.ErrNotExist) {
		return process.Await(pending)
	}
	if err != nil {
		return process.Failed("Could not read update script response", err.Error())
	}

	resp, err := ParseResponse(body)
	if err != nil {
		return process.Failed("Update script returned unexpected response", string(body))
	}
	if !resp.Success {
		if resp.Error != nil {
			return process.Failed(resp.Error.Message, resp.Error.Details)
		}
		return process.Failed("Update script failed", string(body))
	}
	return process.Done()
}

func (u *Updater) postProcess(root string, s PostProcess) process.Result {
	info := install.Info{Version: s.Version, Revision: s.Revision, Type: s.Type}
	if err := install.Write(root, info); err != nil {
		return process.Failed("Could not write version file", "file = "+install.Path(root)+"\n"+err.Error())
	}
	u.clearCaches(root)
	return process.Done()
}

func (u *Updater) clearCaches(root string) {
	for _, rel := range u.opts.CacheDirs {
		dir := filepath.Join(root, filepath.FromSlash(rel))
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				u.logger.Warn("clearing cache failed", "dir", dir, "error", err)
			}
			continue
		}
		for _, e := range entries {
			if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
				u.logger.Warn("clearing cache failed", "path", filepath.Join(dir, e.Name()), "error", err)
			}
		}
	}
}

func (u *Updater) migrate(ctx context.Context) process.Result {
	if u.opts.Migrator == nil {
		u.logger.Info("no database configured, skipping migration")
		return process.Done()
	}
	n, err := u.opts.Migrator.Migrate(ctx)
	if err != nil {
		return process.Failed("Database migration failed", err.Error())
	}
	u.logger.Info("database migrated", "fixes", n)
	return process.Done()
}

func (u *Updater) initialize(ctx context.Context, root string) process.Result {
	if u.opts.Initializer == nil {
		return process.Done()
	}
	if err := u.opts.Initializer.Initialize(ctx, root); err != nil {
		return process.Failed("Codebase initialization failed", err.Error())
	}
	return process.Done()
}

func (u *Updater) cleanup(root string, s Cleanup) process.Result {
	for _, dir := range s.Dirs {
		if err := os.RemoveAll(dir); err != nil {
			u.logger.Warn("cleanup failed", "dir", dir, "error", err)
		}
	}
	if s.Response != "" {
		_ = os.Remove(s.Response)
	}
	u.clearCaches(root)
	return process.Done()
}

func (u *Updater) prepareResult(run *process.StepRun[Settings], s PrepareResult) process.Result {
	res := Result{VersionType: s.VersionType, VersionName: s.VersionName}
	if _, err := os.Stat(s.BackupDir); err == nil {
		res.BackupDir = s.BackupDir
	}
	if _, err := run.Get(dataBackupFailures, &res.BackupFailures); err != nil {
		return process.FailedErr(err, "")
	}
	if err := run.SetResult(res); err != nil {
		return process.FailedErr(err, "")
	}
	return process.Done()
}
