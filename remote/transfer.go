package remote

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CopyToRemote uploads localPath to remotePath on target, creating the
// remote directory. The whole file travels compressed in one command, so
// files whose encoding still exceeds the runner's command-line limit fail
// with ErrPayloadTooLarge.
func (c *Channel) CopyToRemote(ctx context.Context, target Target, localPath, remotePath string) error {
	if err := validatePaths(localPath, remotePath); err != nil {
		return err
	}
	content, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", ErrTransfer, localPath, err)
	}

	req, err := CopyToRequest(content, remotePath)
	if err != nil {
		return err
	}
	res := c.Run(ctx, target, req)
	if res.Err != nil {
		return fmt.Errorf("%w: upload to %s: %w", ErrTransfer, remotePath, res.Err)
	}
	if !CopyToSucceeded(res) {
		return fmt.Errorf("%w: upload to %s: exit %d: %s",
			ErrTransfer, remotePath, res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	c.logger.Info("file uploaded", "target", target, "local", localPath, "remote", remotePath, "bytes", len(content))
	return nil
}

// CopyFromRemote downloads remotePath from target into localPath, creating
// local parent directories.
func (c *Channel) CopyFromRemote(ctx context.Context, target Target, remotePath, localPath string) error {
	if err := validatePaths(localPath, remotePath); err != nil {
		return err
	}
	res := c.Run(ctx, target, CopyFromRequest(remotePath))
	content, err := DecodeCopyFrom(res)
	if err != nil {
		return fmt.Errorf("download %s: %w", remotePath, err)
	}

	if dir := filepath.Dir(localPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: create %s: %w", ErrTransfer, dir, err)
		}
	}
	if err := os.WriteFile(localPath, content, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrTransfer, localPath, err)
	}

	c.logger.Info("file downloaded", "target", target, "remote", remotePath, "local", localPath, "bytes", len(content))
	return nil
}

// validatePaths rejects empty paths, relative remote paths and traversal.
func validatePaths(localPath, remotePath string) error {
	if localPath == "" {
		return fmt.Errorf("%w: local path cannot be empty", ErrTransfer)
	}
	if strings.Contains(localPath, "..") && filepath.Clean(localPath) != localPath {
		return fmt.Errorf("%w: local path contains invalid traversal: %s", ErrTransfer, localPath)
	}
	if remotePath == "" {
		return fmt.Errorf("%w: remote path cannot be empty", ErrTransfer)
	}
	if !strings.Contains(remotePath, ":") && !strings.HasPrefix(remotePath, `\\`) {
		return fmt.Errorf("%w: remote path must be absolute (C:\\path or \\\\server\\share): %s", ErrTransfer, remotePath)
	}
	if strings.Contains(remotePath, `\..\`) || strings.Contains(remotePath, "/../") {
		return fmt.Errorf("%w: remote path contains invalid traversal: %s", ErrTransfer, remotePath)
	}
	return nil
}
