package pty

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
)

// ShellIntegration installs the startup hooks that make a shell report its
// working directory. The hooks live in a per-user scratch directory that
// only the current user can read or write.
type ShellIntegration struct {
	dir string
	uid int
	mu  sync.Mutex
}

// NewShellIntegration places the scratch directory under base, or under
// the system temp directory when base is empty.
func NewShellIntegration(base string) *ShellIntegration {
	if base == "" {
		base = os.TempDir()
	}
	uid := os.Getuid()
	return &ShellIntegration{
		dir: filepath.Join(base, fmt.Sprintf("ptyhost-%d", uid)),
		uid: uid,
	}
}

// Dir returns the scratch directory path.
func (s *ShellIntegration) Dir() string {
	return s.dir
}

// Prepare creates or re-verifies the scratch directory and rewrites the
// hook files. It runs before every spawn so a directory swapped out from
// under the host is caught before a shell sources anything from it.
func (s *ShellIntegration) Prepare() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ensurePrivateDir(s.dir, s.uid); err != nil {
		return err
	}
	zdot := filepath.Join(s.dir, "zsh")
	if err := ensurePrivateDir(zdot, s.uid); err != nil {
		return err
	}

	files := map[string]string{
		filepath.Join(s.dir, "bashrc"):   bashHook,
		filepath.Join(zdot, ".zshenv"):   zshSource(".zshenv"),
		filepath.Join(zdot, ".zprofile"): zshSource(".zprofile"),
		filepath.Join(zdot, ".zlogin"):   zshSource(".zlogin"),
		filepath.Join(zdot, ".zshrc"):    zshSource(".zshrc") + zshHook,
	}
	for path, content := range files {
		if err := writePrivateFile(path, content); err != nil {
			return err
		}
	}
	return nil
}

// Command returns the argv and extra environment that start shell with the
// hooks installed. Shells without a hook start unchanged.
func (s *ShellIntegration) Command(shell string, login bool) ([]string, []string) {
	switch filepath.Base(shell) {
	case "bash":
		env := []string{}
		if login {
			env = append(env, "PTYHOST_LOGIN=1")
		}
		return []string{shell, "--rcfile", filepath.Join(s.dir, "bashrc"), "-i"}, env
	case "zsh":
		orig := os.Getenv("ZDOTDIR")
		if orig == "" {
			orig, _ = os.UserHomeDir()
		}
		env := []string{
			"ZDOTDIR=" + filepath.Join(s.dir, "zsh"),
			"PTYHOST_ORIG_ZDOTDIR=" + orig,
		}
		return plainCommand(shell, login), env
	default:
		return plainCommand(shell, login), nil
	}
}

func plainCommand(shell string, login bool) []string {
	if login {
		return []string{shell, "-l"}
	}
	return []string{shell}
}

// ensurePrivateDir creates dir with mode 0700, or verifies an existing one
// is a real directory owned by uid and tightens its mode.
func ensurePrivateDir(dir string, uid int) error {
	if err := os.Mkdir(dir, 0o700); err != nil && !os.IsExist(err) {
		return fmt.Errorf("create scratch dir: %w", err)
	}

	info, err := os.Lstat(dir)
	if err != nil {
		return fmt.Errorf("stat scratch dir: %w", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("scratch dir %s is a symlink", dir)
	}
	if !info.IsDir() {
		return fmt.Errorf("scratch dir %s is not a directory", dir)
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok && int(st.Uid) != uid {
		return fmt.Errorf("scratch dir %s is owned by uid %d", dir, st.Uid)
	}
	if info.Mode().Perm() != 0o700 {
		if err := os.Chmod(dir, 0o700); err != nil {
			return fmt.Errorf("restrict scratch dir: %w", err)
		}
	}
	return nil
}

// writePrivateFile replaces path atomically with a 0600 file. Renaming over
// an existing entry replaces the entry itself, never a symlink target.
func writePrivateFile(path, content string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".hook-*")
	if err != nil {
		return fmt.Errorf("write hook: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("write hook: %w", err)
	}
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("write hook: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write hook: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write hook: %w", err)
	}
	return nil
}

// The hooks report the directory with OSC 7. Only '%' is escaped, which is
// enough for the reader to percent-decode unambiguously.
const bashHook = `if [ -n "$PTYHOST_LOGIN" ]; then
  unset PTYHOST_LOGIN
  [ -f /etc/profile ] && . /etc/profile
  for __ptyhost_f in "$HOME/.bash_profile" "$HOME/.bash_login" "$HOME/.profile"; do
    if [ -f "$__ptyhost_f" ]; then . "$__ptyhost_f"; break; fi
  done
  unset __ptyhost_f
else
  [ -f "$HOME/.bashrc" ] && . "$HOME/.bashrc"
fi

__ptyhost_osc7() {
  printf '\033]7;file://%s%s\007' "${HOSTNAME:-localhost}" "${PWD//\%/%25}"
}

case ";${PROMPT_COMMAND:-};" in
  *";__ptyhost_osc7;"*) ;;
  *) PROMPT_COMMAND="__ptyhost_osc7${PROMPT_COMMAND:+;$PROMPT_COMMAND}" ;;
esac
`

const zshHook = `
autoload -Uz add-zsh-hook
__ptyhost_osc7() {
  printf '\033]7;file://%s%s\007' "${HOST:-localhost}" "${PWD//\%/%25}"
}
add-zsh-hook precmd __ptyhost_osc7
`

func zshSource(name string) string {
	return fmt.Sprintf(`[ -f "${PTYHOST_ORIG_ZDOTDIR:-$HOME}/%[1]s" ] && . "${PTYHOST_ORIG_ZDOTDIR:-$HOME}/%[1]s"
`, name)
}
