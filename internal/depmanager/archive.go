package depmanager

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
)

var (
	errUnsupportedArchive = errors.New("unsupported archive format")
	errTargetsNotFound    = errors.New("no target files found in archive")
)

type archiveKind int

const (
	archiveNone archiveKind = iota
	archiveZip
	archiveTarXZ
	archiveTarGZ
)

func archiveKindOf(url string) archiveKind {
	switch {
	case strings.HasSuffix(url, ".zip"):
		return archiveZip
	case strings.HasSuffix(url, ".tar.xz"):
		return archiveTarXZ
	case strings.HasSuffix(url, ".tar.gz"), strings.HasSuffix(url, ".tgz"):
		return archiveTarGZ
	}

	return archiveNone
}

// targetsOf lists the files an archive must provide for name.
func targetsOf(name BinaryName) map[string]struct{} {
	if name == BinaryFFmpeg || name == BinaryFFprobe {
		return map[string]struct{}{string(BinaryFFmpeg): {}, string(BinaryFFprobe): {}}
	}

	return map[string]struct{}{string(name): {}}
}

// downloadDependency fetches url into BinsDir and returns the installed paths.
// Plain binaries are renamed into place; archives have only the targets extracted.
func (m *Manager) downloadDependency(ctx context.Context, url string, name BinaryName) ([]string, error) {
	binPath := m.GetBinaryPath(name)
	destDir := filepath.Dir(binPath)

	resp, err := m.open(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp(destDir, "download-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	_, err = io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}

	kind := archiveKindOf(url)
	if kind == archiveNone {
		if err := os.Rename(tmpPath, binPath); err != nil {
			return nil, fmt.Errorf("rename: %w", err)
		}

		return []string{binPath}, nil
	}

	targets := targetsOf(name)

	extracted, err := extractArchive(kind, tmpPath, destDir, targets)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	return extracted, nil
}

func extractArchive(kind archiveKind, archivePath, destDir string, targets map[string]struct{}) ([]string, error) {
	if kind == archiveZip {
		return extractZip(archivePath, destDir, targets)
	}

	file, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	var stream io.Reader

	switch kind {
	case archiveTarXZ:
		if stream, err = xz.NewReader(file); err != nil {
			return nil, fmt.Errorf("create xz reader: %w", err)
		}
	case archiveTarGZ:
		gz, err := gzip.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		defer gz.Close()

		stream = gz
	default:
		return nil, errUnsupportedArchive
	}

	return extractTar(stream, destDir, targets)
}

func extractZip(zipPath, destDir string, targets map[string]struct{}) ([]string, error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	defer reader.Close()

	var extracted []string

	for _, file := range reader.File {
		name := filepath.Base(file.Name)
		if _, ok := targets[name]; !ok || file.FileInfo().IsDir() {
			continue
		}

		src, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s in zip: %w", name, err)
		}

		path, err := writeExecutable(destDir, name, src)
		src.Close()

		if err != nil {
			return nil, err
		}

		extracted = append(extracted, path)
		if len(extracted) == len(targets) {
			break
		}
	}

	if len(extracted) == 0 {
		return nil, errTargetsNotFound
	}

	return extracted, nil
}

func extractTar(stream io.Reader, destDir string, targets map[string]struct{}) ([]string, error) {
	tr := tar.NewReader(stream)

	var extracted []string

	for len(extracted) < len(targets) {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("read tar header: %w", err)
		}

		name := filepath.Base(header.Name)
		if _, ok := targets[name]; !ok || header.Typeflag != tar.TypeReg {
			continue
		}

		path, err := writeExecutable(destDir, name, tr)
		if err != nil {
			return nil, err
		}

		extracted = append(extracted, path)
	}

	if len(extracted) == 0 {
		return nil, errTargetsNotFound
	}

	return extracted, nil
}

func writeExecutable(destDir, name string, src io.Reader) (string, error) {
	path := filepath.Join(destDir, name)

	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermExecutable)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", name, err)
	}

	_, err = io.Copy(out, src)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		return "", fmt.Errorf("extract %s: %w", name, err)
	}

	return path, nil
}
