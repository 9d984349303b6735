package fsx

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

func WriteFileAtomic(path string, content []byte, mode os.FileMode) error {
	parent := filepath.Dir(path)
	tempPath, err := writeTemp(path, content, mode)
	if err != nil {
		return err
	}
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempPath)
		}
	}()

	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS != "windows" {
			return fmt.Errorf("rename temp file: %w", err)
		}
		if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
			return fmt.Errorf("remove destination before rename: %w", removeErr)
		}
		if renameErr := os.Rename(tempPath, path); renameErr != nil {
			return fmt.Errorf("rename temp file after remove: %w", renameErr)
		}
	}
	cleanup = false
	syncDirectory(parent)
	return nil
}

// WriteFileOnce publishes content at path only if nothing exists there yet.
// The first writer wins; later writers get written=false and no error. The
// content becomes visible fully written because it is hard-linked from a synced
// temp file.
func WriteFileOnce(path string, content []byte, mode os.FileMode) (bool, error) {
	parent := filepath.Dir(path)
	tempPath, err := writeTemp(path, content, mode)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = os.Remove(tempPath)
	}()

	if err := os.Link(tempPath, path); err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("link temp file: %w", err)
	}
	syncDirectory(parent)
	return true, nil
}

func writeTemp(path string, content []byte, mode os.FileMode) (string, error) {
	parent := filepath.Dir(path)
	base := filepath.Base(path)

	tempFile, err := os.CreateTemp(parent, "."+base+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	fail := func(err error) (string, error) {
		_ = tempFile.Close()
		_ = os.Remove(tempPath)
		return "", err
	}

	if _, err := tempFile.Write(content); err != nil {
		return fail(fmt.Errorf("write temp file: %w", err))
	}
	if err := tempFile.Sync(); err != nil {
		return fail(fmt.Errorf("sync temp file: %w", err))
	}
	if err := tempFile.Chmod(mode); err != nil {
		return fail(fmt.Errorf("chmod temp file: %w", err))
	}
	if err := tempFile.Close(); err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return tempPath, nil
}

func syncDirectory(dir string) {
	// #nosec G304 -- directory path is derived from explicit caller-provided destination path.
	if dirHandle, err := os.Open(dir); err == nil {
		_ = dirHandle.Sync()
		_ = dirHandle.Close()
	}
}
