package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

type owner struct {
	uid int
	gid int
	ok  bool
}

func ownerOf(info os.FileInfo) owner {
	if info == nil {
		return owner{}
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok || st == nil {
		return owner{}
	}
	return owner{uid: int(st.Uid), gid: int(st.Gid), ok: true}
}

// writeReadOnly writes a snapshot file and drops its write bits.
func writeReadOnly(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	if err := os.Chmod(path, 0o400); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	return nil
}

// replaceFile swaps data into path through a sibling temp file. When path
// already exists and we run as root its owner carries over.
func replaceFile(path string, data []byte, perm os.FileMode) (err error) {
	if perm &= os.ModePerm | os.ModeSetuid | os.ModeSetgid | os.ModeSticky; perm == 0 {
		perm = 0o644
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("prepare %s: %w", dir, err)
	}
	var prev owner
	if info, serr := os.Stat(path); serr == nil {
		if info.IsDir() {
			return fmt.Errorf("%s is a directory", path)
		}
		prev = ownerOf(info)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".routeguard-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	_, err = tmp.Write(data)
	if err == nil && prev.ok && os.Geteuid() == 0 {
		err = tmp.Chown(prev.uid, prev.gid)
	}
	if err == nil {
		err = tmp.Chmod(perm)
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
