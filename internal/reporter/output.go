package reporter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"tax-reconciliation-service/pkg/errors"
	"tax-reconciliation-service/pkg/logger"
)

// Output is a report destination. An empty path writes to stdout.
type Output struct {
	io.Writer
	Path   string
	closer io.Closer
}

// OpenOutput opens path for writing, creating missing parent directories.
// When the path cannot be created the report is redirected to a sibling
// "<name>_backup<ext>" file in the working directory.
func OpenOutput(path string, log logger.Logger) (*Output, error) {
	if path == "" || path == "-" {
		return &Output{Writer: os.Stdout}, nil
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	log = log.WithComponent("reporter")

	file, err := create(path)
	if err == nil {
		return &Output{Writer: file, Path: path, closer: file}, nil
	}
	if !isFileError(err) {
		return nil, errors.Wrap(err, errors.CategoryInternal, errors.CodeUnexpectedError, "failed to open report output").
			WithContext("path", path)
	}

	backupPath := backupPath(path)
	backup, berr := create(backupPath)
	if berr != nil {
		return nil, errors.Wrap(err, errors.CategoryConfiguration, errors.CodeInvalidConfig, "cannot write report output").
			WithContext("path", path).
			WithContext("backup_path", backupPath).
			WithSuggestion("check the output path and its permissions")
	}

	log.WithFields(logger.Fields{
		"path":        path,
		"backup_path": backupPath,
	}).WithError(err).Warn("Report output redirected to backup file")
	fmt.Fprintf(os.Stderr, "Warning: Could not write to %s, report saved to %s\n", path, backupPath)

	return &Output{Writer: backup, Path: backupPath, closer: backup}, nil
}

// Close closes the underlying file, if any
func (o *Output) Close() error {
	if o.closer == nil {
		return nil
	}
	return o.closer.Close()
}

func create(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.Create(path)
}

func isFileError(err error) bool {
	return os.IsPermission(err) || os.IsNotExist(err) || os.IsExist(err)
}

func backupPath(originalPath string) string {
	base := filepath.Base(originalPath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	return fmt.Sprintf("%s_backup%s", name, ext)
}
