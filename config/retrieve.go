package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"sigs.k8s.io/yaml"
)

const remoteConfigDir = "configs/"

var (
	ErrNoDataSection = errors.New("config has no such data section")
	ErrMissingDir    = errors.New("source or destination directory not found")
)

// RetrieveGit fetches a single configuration file out of the configs/
// directory of a remote git repository into destDir, without cloning:
//
//	git archive --remote=<remote> HEAD:configs/ <name> | tar -x
//
// Returns the local path of the retrieved file.
func RetrieveGit(ctx context.Context, remote, name, destDir string) (path string, err error) {
	archive := exec.CommandContext(ctx, "git", "archive", "--remote="+remote, "HEAD:"+remoteConfigDir, name)
	untar := exec.CommandContext(ctx, "tar", "-x", "-C", destDir)
	if untar.Stdin, err = archive.StdoutPipe(); err != nil {
		return
	}
	untar.Stderr = os.Stderr
	archive.Stderr = os.Stderr
	if err = untar.Start(); err != nil {
		return
	}
	if err = archive.Run(); err != nil {
		untar.Process.Kill()
		untar.Wait()
		return
	}
	if err = untar.Wait(); err != nil {
		return
	}
	path = filepath.Join(destDir, name)
	if _, err = os.Stat(path); err != nil {
		path = ""
	}
	return
}

// DataGroup is one source-to-destination copy group of a data manifest.
type DataGroup struct {
	SourceDir string       `json:"source_dir"`
	DestDir   string       `json:"dest_dir"`
	Sources   []DataSource `json:"sources"`
}

// DataSource selects files (glob patterns allowed) under one subdirectory
// of the group source.
type DataSource struct {
	Dir   string   `json:"dir"`
	Files []string `json:"files"`
}

// RetrieveData copies the files of the named data section of a manifest
// yaml into their destination directories. Files already present at the
// destination are left alone.
func RetrieveData(manifestPath, dataType string) error {
	if !checkPath(manifestPath) {
		return ErrNotYaml
	}
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return err
	}
	sections := map[string][]DataGroup{}
	if err = yaml.Unmarshal(raw, &sections); err != nil {
		return err
	}
	groups, ok := sections[dataType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoDataSection, dataType)
	}
	for _, g := range groups {
		if err = retrieveGroup(g); err != nil {
			return err
		}
	}
	return nil
}

func retrieveGroup(g DataGroup) error {
	if !isDir(g.SourceDir) || !isDir(g.DestDir) {
		return fmt.Errorf("%w: %s -> %s", ErrMissingDir, g.SourceDir, g.DestDir)
	}
	for _, src := range g.Sources {
		srcDir := filepath.Join(g.SourceDir, src.Dir)
		if !isDir(srcDir) {
			continue
		}
		for _, pattern := range src.Files {
			matches, err := filepath.Glob(filepath.Join(srcDir, pattern))
			if err != nil {
				return err
			}
			for _, m := range matches {
				dst := filepath.Join(g.DestDir, filepath.Base(m))
				if _, err = os.Stat(dst); err == nil {
					continue
				}
				if err = copyFile(m, dst); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return
	}
	defer func() {
		if e := out.Close(); err == nil {
			err = e
		}
	}()
	_, err = io.Copy(out, in)
	return
}
