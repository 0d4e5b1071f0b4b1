// Package savegame handles the cluster directories the server reads: the
// structure check, migration from an upload dir, generated token and admin
// files, and timestamped backups.
package savegame

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
)

const (
	ClusterTokenFile = "cluster_token.txt"
	AdminlistFile    = "adminlist.txt"

	// BackupTimeLayout is the suffix format of backup directory names.
	BackupTimeLayout = "20060102_150405"

	fileMode = 0o644
	dirMode  = 0o755
)

var (
	// RequiredDirs are the shard directories every cluster must have.
	RequiredDirs = []string{"Master", "Caves"}
	// RequiredFiles must exist for the server to register the cluster.
	RequiredFiles = []string{ClusterTokenFile}
	// OptionalFiles only produce a warning when missing.
	OptionalFiles = []string{AdminlistFile}
)

var (
	// ErrSaveNotFound is returned when the cluster directory does not exist.
	ErrSaveNotFound = errors.New("save not found")
	// ErrInvalidStructure is returned when required entries are missing.
	ErrInvalidStructure = errors.New("invalid save structure")
)

// Report is the result of a structure check.
type Report struct {
	Path            string
	Missing         []string
	MissingOptional []string
}

// OK reports whether all required entries are present.
func (r Report) OK() bool {
	return len(r.Missing) == 0
}

// Err returns nil when the structure is valid, else an error wrapping
// ErrInvalidStructure that lists what is missing.
func (r Report) Err() error {
	if r.OK() {
		return nil
	}
	return fmt.Errorf("%w in %s: missing %s", ErrInvalidStructure, r.Path, strings.Join(r.Missing, ", "))
}

// CheckStructure inspects the cluster at path. A missing path returns
// ErrSaveNotFound; missing entries are reported, not returned as errors.
func CheckStructure(path string) (Report, error) {
	r := Report{Path: path}

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return r, fmt.Errorf("%w: %s", ErrSaveNotFound, path)
	}
	if err != nil {
		return r, fmt.Errorf("stat save: %w", err)
	}
	if !info.IsDir() {
		return r, fmt.Errorf("save %s is not a directory", path)
	}

	for _, d := range RequiredDirs {
		if !isDir(filepath.Join(path, d)) {
			r.Missing = append(r.Missing, d)
		}
	}
	for _, f := range RequiredFiles {
		if !exists(filepath.Join(path, f)) {
			r.Missing = append(r.Missing, f)
		}
	}
	for _, f := range OptionalFiles {
		if !exists(filepath.Join(path, f)) {
			r.MissingOptional = append(r.MissingOptional, f)
		}
	}
	return r, nil
}

// Files holds the contents used to fill in generated cluster files.
type Files struct {
	ClusterToken string
	Adminlist    []string
}

// GenerateMissingFiles writes cluster_token.txt and adminlist.txt into the
// cluster at path when they are absent. Existing files are left alone. An
// empty token is not written, so the structure check still catches it.
// It returns the files it created.
func GenerateMissingFiles(path string, files Files) ([]string, error) {
	var created []string

	tokenPath := filepath.Join(path, ClusterTokenFile)
	if !exists(tokenPath) && files.ClusterToken != "" {
		if err := renameio.WriteFile(tokenPath, []byte(files.ClusterToken), fileMode); err != nil {
			return created, fmt.Errorf("write cluster token: %w", err)
		}
		created = append(created, tokenPath)
	}

	adminPath := filepath.Join(path, AdminlistFile)
	if !exists(adminPath) {
		var b strings.Builder
		for _, admin := range files.Adminlist {
			b.WriteString(admin)
			b.WriteByte('\n')
		}
		if err := renameio.WriteFile(adminPath, []byte(b.String()), fileMode); err != nil {
			return created, fmt.Errorf("write adminlist: %w", err)
		}
		created = append(created, adminPath)
	}

	return created, nil
}

// MigrateResult describes what Migrate did.
type MigrateResult struct {
	Skipped   bool // source did not exist
	Replaced  bool // an existing destination was removed
	Generated []string
	Report    Report
}

// Migrate copies the cluster at src to dst. Missing token and admin files
// are generated in src first, then the structure is checked. An existing
// dst is removed before the copy. A missing src is not an error: the
// result is marked Skipped. Symlinks in src are copied as their targets.
func Migrate(src, dst string, files Files, logger *slog.Logger) (MigrateResult, error) {
	var res MigrateResult
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if !isDir(src) {
		logger.Warn("migrate_source_missing", "src", src)
		res.Skipped = true
		return res, nil
	}

	generated, err := GenerateMissingFiles(src, files)
	res.Generated = generated
	for _, p := range generated {
		logger.Info("generated_file", "path", p)
	}
	if err != nil {
		return res, err
	}

	report, err := CheckStructure(src)
	res.Report = report
	if err != nil {
		return res, err
	}
	if err := report.Err(); err != nil {
		return res, err
	}
	if len(report.MissingOptional) > 0 {
		logger.Warn("save_optional_files_missing", "path", src, "files", report.MissingOptional)
	}

	if exists(dst) {
		logger.Warn("migrate_replacing_destination", "dst", dst)
		if err := os.RemoveAll(dst); err != nil {
			return res, fmt.Errorf("remove existing save: %w", err)
		}
		res.Replaced = true
	}

	logger.Info("migrating_save", "src", src, "dst", dst)
	if err := copyTree(src, dst); err != nil {
		return res, err
	}
	return res, nil
}

// BackupPath is where a backup of save taken at t is written.
func BackupPath(backupDir, save string, t time.Time) string {
	return filepath.Join(backupDir, save+"_"+t.Format(BackupTimeLayout))
}

// Backup copies the cluster at src into backupDir under a timestamped name
// and returns the new path. A missing src returns ErrSaveNotFound.
// Symlinks are followed, so the backup holds real files.
func Backup(src, backupDir, save string, now time.Time) (string, error) {
	if !isDir(src) {
		return "", fmt.Errorf("%w: %s", ErrSaveNotFound, src)
	}
	if err := os.MkdirAll(backupDir, dirMode); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	dst := BackupPath(backupDir, save, now)
	if exists(dst) {
		return "", fmt.Errorf("backup %s already exists", dst)
	}
	if err := copyTree(src, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// copyTree copies src to dst. Symlinks are followed and their targets
// copied as regular files and dirs; a dangling link fails the copy.
func copyTree(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), dirMode); err != nil {
		return fmt.Errorf("create parent of %s: %w", dst, err)
	}
	if err := copyDir(src, dst); err != nil {
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	return nil
}

func copyDir(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, dirMode); err != nil {
		return err
	}
	for _, e := range entries {
		from := filepath.Join(src, e.Name())
		to := filepath.Join(dst, e.Name())

		info, err := os.Stat(from)
		if err != nil {
			return err
		}
		switch {
		case info.IsDir():
			err = copyDir(from, to)
		case info.Mode().IsRegular():
			err = copyFile(from, to, info.Mode().Perm())
		default:
			return fmt.Errorf("%s: unsupported file type %v", from, info.Mode().Type())
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
