// Package fsx はアーカイブ公開に使うファイルシステム操作をまとめる
//
// 公開手段はrenameのみとし、読み手は途中状態のファイルを見ない。
package fsx

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// テストからEXDEVなどを再現できるように差し替え可能にしている
var renameFunc = os.Rename

// CrossDeviceError は別ファイルシステム間のrename失敗（EXDEV）を表す
// copy+deleteへのフォールバックはしない
type CrossDeviceError struct {
	Src string
	Dst string
	Err error
}

func (e *CrossDeviceError) Error() string {
	return fmt.Sprintf("別ファイルシステムへの移動に失敗 (EXDEV): %q -> %q: %v", e.Src, e.Dst, e.Err)
}

func (e *CrossDeviceError) Unwrap() error { return e.Err }

// IsCrossDevice はerrがCrossDeviceErrorかどうかを判定する
func IsCrossDevice(err error) bool {
	var e *CrossDeviceError
	return errors.As(err, &e)
}

// Rename はos.Renameを包み、EXDEVをCrossDeviceErrorとして返す
func Rename(src, dst string) error {
	if err := renameFunc(src, dst); err != nil {
		if isEXDEV(err) {
			return &CrossDeviceError{Src: src, Dst: dst, Err: err}
		}
		return err
	}
	return nil
}

// ResetDir はディレクトリを削除して空の状態で作り直す
func ResetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("ディレクトリの削除に失敗 (%s): %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ディレクトリの作成に失敗 (%s): %w", dir, err)
	}
	return nil
}

// IsEmptyDir はディレクトリが存在し、中身が空かどうかを返す
func IsEmptyDir(dir string) (bool, error) {
	f, err := os.Open(dir)
	if err != nil {
		return false, err
	}
	defer f.Close()

	_, err = f.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	return false, err
}

// WriteFileAtomic はdir配下にnameを一時ファイル+renameで書き込む
// 同名ファイルがあれば置き換える
func WriteFileAtomic(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	// 一時ファイルは同じディレクトリに作る（renameの原子性のため）
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := Rename(tmpName, filepath.Join(dir, name)); err != nil {
		return err
	}

	// ディレクトリのfsyncはbest-effort
	_ = syncDir(dir)
	return nil
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
