// Package atomicwrite reemplaza archivos sin dejar nunca uno a medio escribir:
// tmp en el mismo directorio, fsync, rename. Lo usan el storage de
// certificados y el keystore del backend.
package atomicwrite

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// WriteFile crea el directorio (dirPerm) si falta y deja data en path con perm.
// El tmp nace 0600, así que una clave nunca queda legible mientras se escribe.
func WriteFile(path string, data []byte, perm, dirPerm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmpPath, err := writeTemp(dir, data, perm)
	if err != nil {
		return err
	}
	defer os.Remove(tmpPath) // no-op tras un rename exitoso

	if err := os.Rename(tmpPath, path); err != nil {
		// Windows: destino bloqueado. Lo viejo solo se borra si hay con qué reemplazarlo.
		_ = os.Remove(path)
		if err2 := os.Rename(tmpPath, path); err2 != nil {
			return fmt.Errorf("rename %s: %v (after remove: %v)", path, err, err2)
		}
	}
	syncDir(dir)
	return nil
}

func writeTemp(dir string, data []byte, perm fs.FileMode) (string, error) {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	name := tmp.Name()
	fail := func(step string, err error) (string, error) {
		_ = tmp.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("%s temp: %w", step, err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fail("write", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("fsync", err)
	}
	if err := tmp.Close(); err != nil {
		return fail("close", err)
	}
	if err := os.Chmod(name, perm); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("chmod temp: %w", err)
	}
	return name, nil
}

// syncDir persiste la entrada del rename. Best-effort: no todos los SO lo soportan.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
