package camera

import (
	"context"
	"image"

	"go.uber.org/multierr"
)

// DeviceKind はメディアデバイスの種類
type DeviceKind string

const (
	KindVideoInput DeviceKind = "videoinput"
	KindAudioInput DeviceKind = "audioinput"
)

// DeviceInfo は列挙されたメディアデバイスの情報
type DeviceInfo struct {
	ID    string
	Label string
	Kind  DeviceKind
	// Facing はプラットフォームが向きを報告できる場合のみ設定される
	Facing Facing
	// Resolutions はデバイスが公開している解像度。空の場合は不明
	Resolutions []Resolution
}

// MediaDevices はプラットフォームのメディアデバイスAPI
type MediaDevices interface {
	// EnumerateDevices は入力デバイスを列挙する。初回は権限確認が発生する場合がある
	EnumerateDevices(ctx context.Context) ([]DeviceInfo, error)

	// GetUserMedia は制約に合うストリームを取得する
	GetUserMedia(ctx context.Context, constraints StreamConstraints) (Stream, error)
}

// Stream は取得済みのメディアストリーム
type Stream interface {
	ID() string
	VideoTracks() []Track
}

// Track は映像トラック
type Track interface {
	ID() string
	Capabilities() TrackCapabilities
	Settings() TrackSettings

	// ApplyConstraints は実行中のトラックに制約を適用する
	// 対応していない制約は ErrUnsupported を返す
	ApplyConstraints(ctx context.Context, c TrackConstraints) error

	// Stop はトラックを停止してデバイスを解放する
	Stop() error
}

// Surface はストリームを描画する出力先
type Surface interface {
	// Attach はストリームを結び付け、再生可能になるまで待つ
	Attach(ctx context.Context, stream Stream) error

	// Detach はストリームとの結び付けを解除する
	Detach()

	// Pause はプレビューを固定する。デバイスは解放しない
	Pause()

	// Resume はプレビューを再開する
	Resume() error

	// Frame は現在表示されているフレームをネイティブ解像度で返す
	Frame() (image.Image, error)

	// SetMirrored はプレビューを左右反転表示するか設定する
	SetMirrored(mirrored bool)

	// Mirrored はプレビューが左右反転表示されているか
	Mirrored() bool
}

// stopStream はストリームの全トラックを停止する
func stopStream(stream Stream) error {
	if stream == nil {
		return nil
	}
	var err error
	for _, t := range stream.VideoTracks() {
		err = multierr.Append(err, t.Stop())
	}
	return err
}
