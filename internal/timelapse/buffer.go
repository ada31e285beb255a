package timelapse

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"kitchen-timelapse/internal/fsx"
)

// BufferID はA/Bどちらのバッファかを表す
type BufferID int

// BufferID の定数定義
const (
	BufferA BufferID = iota
	BufferB
)

// Other はもう一方のバッファを返す
func (b BufferID) Other() BufferID {
	if b == BufferA {
		return BufferB
	}
	return BufferA
}

func (b BufferID) String() string {
	if b == BufferA {
		return "a"
	}
	return "b"
}

// BufferState はバッファの状態
type BufferState int

// BufferState の定数定義
const (
	BufferEmpty    BufferState = iota // 空（撮影開始可能）
	BufferFilling                     // 撮影中
	BufferFull                        // 撮影完了・エンコード待ち
	BufferEncoding                    // エンコード中
)

func (s BufferState) String() string {
	switch s {
	case BufferEmpty:
		return "empty"
	case BufferFilling:
		return "filling"
	case BufferFull:
		return "full"
	case BufferEncoding:
		return "encoding"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// nextState は遷移元と遷移先が許可された組み合わせかを判定する
// empty -> filling -> full -> encoding -> empty の順のみ許可する
func nextState(from, to BufferState) (BufferState, bool) {
	switch {
	case from == BufferEmpty && to == BufferFilling,
		from == BufferFilling && to == BufferFull,
		from == BufferFull && to == BufferEncoding,
		from == BufferEncoding && to == BufferEmpty:
		return to, true
	default:
		return from, false
	}
}

// BufferSet はA/Bバッファのディレクトリと状態を管理する
type BufferSet struct {
	root   string
	mu     sync.Mutex
	states [2]BufferState
}

// NewBufferSet は新しいBufferSetを作成する
func NewBufferSet(root string) *BufferSet {
	return &BufferSet{root: root}
}

// Path はバッファのディレクトリを返す
func (bs *BufferSet) Path(id BufferID) string {
	return filepath.Join(bs.root, id.String())
}

// FramePath はバッファ内のフレームのパスを返す
func (bs *BufferSet) FramePath(id BufferID, index int) string {
	return filepath.Join(bs.Path(id), FrameName(index))
}

// FrameName はフレームのファイル名 (00000.jpg) を返す
func FrameName(index int) string {
	return fmt.Sprintf("%05d.jpg", index)
}

// FramePattern はffmpegに渡す連番パターンを返す
func (bs *BufferSet) FramePattern(id BufferID) string {
	return filepath.Join(bs.Path(id), "%05d.jpg")
}

// Init はバッファの親ディレクトリを削除し、両方のバッファを空で作り直す
func (bs *BufferSet) Init() error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if err := os.RemoveAll(bs.root); err != nil {
		return fmt.Errorf("バッファディレクトリの削除に失敗 (%s): %w", bs.root, err)
	}
	for _, id := range []BufferID{BufferA, BufferB} {
		if err := fsx.ResetDir(bs.Path(id)); err != nil {
			return err
		}
		bs.states[id] = BufferEmpty
	}
	return nil
}

// BeginFill はバッファを撮影中にする
// もう一方が撮影中の場合もエラーとする
func (bs *BufferSet) BeginFill(id BufferID) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.states[id.Other()] == BufferFilling {
		return fmt.Errorf("%w: バッファ%sが撮影中のためバッファ%sの撮影を開始できません", ErrInvalidBufferTransition, id.Other(), id)
	}
	return bs.transition(id, BufferFilling)
}

// MarkFull はバッファを撮影完了にする
func (bs *BufferSet) MarkFull(id BufferID) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.transition(id, BufferFull)
}

// BeginEncode はバッファをエンコード中にする
func (bs *BufferSet) BeginEncode(id BufferID) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.transition(id, BufferEncoding)
}

// Reset はエンコード済みのバッファを削除して空で作り直す
func (bs *BufferSet) Reset(id BufferID) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if _, ok := nextState(bs.states[id], BufferEmpty); !ok {
		return bs.transitionError(id, BufferEmpty)
	}
	if err := fsx.ResetDir(bs.Path(id)); err != nil {
		return err
	}
	return bs.transition(id, BufferEmpty)
}

// State はバッファの現在の状態を返す
func (bs *BufferSet) State(id BufferID) BufferState {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.states[id]
}

// States は両方のバッファの状態を返す
func (bs *BufferSet) States() map[BufferID]BufferState {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return map[BufferID]BufferState{
		BufferA: bs.states[BufferA],
		BufferB: bs.states[BufferB],
	}
}

func (bs *BufferSet) transition(id BufferID, to BufferState) error {
	next, ok := nextState(bs.states[id], to)
	if !ok {
		return bs.transitionError(id, to)
	}
	bs.states[id] = next
	return nil
}

func (bs *BufferSet) transitionError(id BufferID, to BufferState) error {
	return fmt.Errorf("%w: バッファ%s %s -> %s", ErrInvalidBufferTransition, id, bs.states[id], to)
}
