// Package git inspects a working directory's repository metadata
// without shelling out.
package git

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// Info describes the repository a working directory belongs to.
type Info struct {
	GitDir string `json:"git_dir"`
	Branch string `json:"branch,omitempty"`
	Origin string `json:"origin,omitempty"`
}

// Inspect resolves the repository metadata for workDir. ok is false
// when workDir is not inside a git checkout.
func Inspect(workDir string) (Info, bool) {
	gitDir := resolveGitDir(workDir)
	if gitDir == "" {
		return Info{}, false
	}
	return Info{
		GitDir: gitDir,
		Branch: readBranch(filepath.Join(gitDir, "HEAD")),
		Origin: readOrigin(filepath.Join(gitDir, "config")),
	}, true
}

// IsRepository reports whether workDir has a resolvable .git directory.
func IsRepository(workDir string) bool {
	return resolveGitDir(workDir) != ""
}

// resolveGitDir handles both plain .git directories and the gitdir
// pointer files that worktrees use.
func resolveGitDir(workDir string) string {
	gitPath := filepath.Join(workDir, ".git")
	info, err := os.Stat(gitPath)
	if err != nil {
		return ""
	}
	if info.IsDir() {
		return gitPath
	}
	if !info.Mode().IsRegular() {
		return ""
	}
	contents, err := os.ReadFile(gitPath)
	if err != nil {
		return ""
	}
	line := strings.TrimSpace(string(contents))
	const prefix = "gitdir:"
	if !strings.HasPrefix(line, prefix) {
		return ""
	}
	gitDir := strings.TrimSpace(strings.TrimPrefix(line, prefix))
	if gitDir == "" {
		return ""
	}
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(workDir, gitDir)
	}
	return gitDir
}

// readBranch returns the branch name, or the commit hash when HEAD is
// detached.
func readBranch(headPath string) string {
	contents, err := os.ReadFile(headPath)
	if err != nil {
		return ""
	}
	line := strings.TrimSpace(string(contents))
	if line == "" {
		return ""
	}
	const prefix = "ref: "
	if strings.HasPrefix(line, prefix) {
		ref := strings.TrimSpace(strings.TrimPrefix(line, prefix))
		return strings.TrimPrefix(ref, "refs/heads/")
	}
	return line
}

func readOrigin(configPath string) string {
	file, err := os.Open(configPath)
	if err != nil {
		return ""
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	section := ""
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSpace(line[1 : len(line)-1])
			continue
		}
		if section != `remote "origin"` {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		if strings.TrimSpace(parts[0]) != "url" {
			continue
		}
		return strings.TrimSpace(parts[1])
	}
	return ""
}
